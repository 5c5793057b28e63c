/*
 *	Copyright 2025 The metalearn Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package experiment tracks a single training run: it owns the run
// directory, the hyperparameters used, the per-iteration metrics and the
// final summary ("logger") written when the run finishes.
//
// A run directory is named "<algorithm>_<environment>_<short id>" and holds:
//
//   - params.json: hyperparameters the run was started with.
//   - metrics.csv: one row per logged iteration.
//   - metrics.svg: training curves rendered from metrics.csv.
//   - logger.json: summary values (elapsed time, test metric, etc.).
//
// Model weights are checkpointed separately (see ml/context/checkpoints in
// GoMLX); Experiment.Dir is meant to be used as the checkpoint base
// directory, so everything about a run lives under one root.
package experiment

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Experiment tracks one experiment run.
type Experiment struct {
	// Algorithm and Environment name the run, e.g. "maml" and "omni".
	Algorithm, Environment string

	// ID is a short unique id for this run, part of the directory name.
	ID string

	// Dir is the run directory. Created by New.
	Dir string

	// Params holds the hyperparameters the run started with.
	Params map[string]any

	start time.Time

	metricNames []string
	metricRows  []map[string]float64

	// Logger holds free-form summary values saved to logger.json.
	Logger map[string]any

	interrupt chan os.Signal
}

// New creates the run directory under baseDir and saves params.json in it.
func New(algorithm, environment string, params map[string]any, baseDir string) (*Experiment, error) {
	id := uuid.NewString()[:8]
	dir := filepath.Join(baseDir, fmt.Sprintf("%s_%s_%s", algorithm, environment, id))
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, errors.Wrapf(err, "creating run directory %q", dir)
	}
	e := &Experiment{
		Algorithm:   algorithm,
		Environment: environment,
		ID:          id,
		Dir:         dir,
		Params:      params,
		start:       time.Now(),
		Logger:      make(map[string]any),
	}
	if err := e.saveJSON("params.json", params); err != nil {
		return nil, err
	}
	return e, nil
}

// ParamsOf converts a configuration struct into a params map via its
// JSON encoding, for runs configured by flags instead of a context.
func ParamsOf(config any) map[string]any {
	encoded, err := json.Marshal(config)
	if err != nil {
		return map[string]any{"config": fmt.Sprintf("%+v", config)}
	}
	params := make(map[string]any)
	if err := json.Unmarshal(encoded, &params); err != nil {
		return map[string]any{"config": fmt.Sprintf("%+v", config)}
	}
	return params
}

// TrapInterrupt makes Interrupted() report whether the user hit Ctrl+C.
// The signal is consumed: training is expected to stop its iteration loop,
// evaluate and save, instead of being killed.
func (e *Experiment) TrapInterrupt() {
	e.interrupt = make(chan os.Signal, 1)
	signal.Notify(e.interrupt, os.Interrupt)
}

// Interrupted reports whether an interrupt signal was received since
// TrapInterrupt. Once it returns true it keeps returning true.
func (e *Experiment) Interrupted() bool {
	if e.interrupt == nil {
		return false
	}
	select {
	case <-e.interrupt:
		signal.Stop(e.interrupt)
		e.interrupt = nil
		e.Logger["manually_stopped"] = true
		return true
	default:
		return e.Logger["manually_stopped"] == true
	}
}

// LogMetrics appends one row of metrics, usually once per meta-iteration.
// Metric names seen for the first time extend the set of columns.
func (e *Experiment) LogMetrics(row map[string]float64) {
	for name := range row {
		if !contains(e.metricNames, name) {
			e.metricNames = append(e.metricNames, name)
		}
	}
	copied := make(map[string]float64, len(row))
	for k, v := range row {
		copied[k] = v
	}
	e.metricRows = append(e.metricRows, copied)
}

// NumLogged returns the number of metric rows logged so far.
func (e *Experiment) NumLogged() int { return len(e.metricRows) }

// Elapsed returns the time since the experiment was created.
func (e *Experiment) Elapsed() time.Duration { return time.Since(e.start) }

// SaveLogs writes metrics.csv, metrics.svg and logger.json to the run
// directory. It can be called more than once; later calls overwrite.
func (e *Experiment) SaveLogs() error {
	e.Logger["elapsed_time"] = e.Elapsed().Round(time.Second).String()
	if err := e.saveJSON("logger.json", e.Logger); err != nil {
		return err
	}
	if len(e.metricRows) == 0 {
		return nil
	}
	if err := e.saveMetricsCSV(); err != nil {
		return err
	}
	return e.saveMetricsPlot()
}

func (e *Experiment) saveMetricsCSV() error {
	names := append([]string(nil), e.metricNames...)
	sort.Strings(names)
	records := make([][]string, 0, len(e.metricRows)+1)
	records = append(records, append([]string{"iteration"}, names...))
	for i, row := range e.metricRows {
		rec := make([]string, 0, len(names)+1)
		rec = append(rec, strconv.Itoa(i))
		for _, name := range names {
			rec = append(rec, strconv.FormatFloat(row[name], 'g', -1, 64))
		}
		records = append(records, rec)
	}
	df := dataframe.LoadRecords(records)
	if df.Err != nil {
		return errors.Wrap(df.Err, "building metrics dataframe")
	}
	f, err := os.Create(filepath.Join(e.Dir, "metrics.csv"))
	if err != nil {
		return errors.Wrap(err, "creating metrics.csv")
	}
	defer func() { _ = f.Close() }()
	if err := df.WriteCSV(f); err != nil {
		return errors.Wrap(err, "writing metrics.csv")
	}
	return nil
}

func (e *Experiment) saveJSON(name string, value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding %s", name)
	}
	path := filepath.Join(e.Dir, name)
	if err := os.WriteFile(path, encoded, 0666); err != nil {
		return errors.Wrapf(err, "writing %q", path)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, elem := range list {
		if elem == v {
			return true
		}
	}
	return false
}
