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

package rl

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// ContinualResult is the reward matrix of a continual-learning probe:
// Rewards[i][j] is the mean episode reward on task j after the policy
// has been adapted through tasks 0..i in sequence.
type ContinualResult struct {
	Rewards [][]float64
}

// EvaluateContinual adapts the meta-trained policy through a sequence of
// numTasks fresh tasks, carrying the adapted parameters from one task to
// the next, and measures the reward on every task after each adaptation.
// The diagonal shows plasticity, the lower triangle forgetting.
func (ml *MetaLearner) EvaluateContinual(numTasks, evalEpisodes int) (*ContinualResult, error) {
	env := ml.runner.Env()
	tasks := env.SampleTasks(ml.rng, numTasks)
	result := &ContinualResult{Rewards: make([][]float64, numTasks)}
	params := ml.CurrentParams()
	for i, task := range tasks {
		params = ml.adaptSequential(params, task)
		row := make([]float64, numTasks)
		for j, evalTask := range tasks {
			row[j] = ml.EvaluateTask(params, evalTask, evalEpisodes)
		}
		result.Rewards[i] = row
	}
	return result, nil
}

// adaptSequential runs the inner loop starting from the given parameters
// instead of the meta-parameters.
func (ml *MetaLearner) adaptSequential(params []*tensors.Tensor, task Task) []*tensors.Tensor {
	ml.runner.Env().SetTask(task)
	for k := 0; k < ml.cfg.AdaptSteps; k++ {
		episodes := ml.runner.Collect(params, ml.cfg.AdaptBatchSize)
		batch, err := BuildBatch(episodes, ml.baseline, float32(ml.cfg.Gamma), float32(ml.cfg.Tau))
		if err != nil {
			// A degenerate baseline fit leaves the parameters as they are.
			return params
		}
		params = ml.AdaptStep(params, batch)
	}
	return params
}

// SaveCSV writes the reward matrix, one row per adaptation stage.
func (r *ContinualResult) SaveCSV(dir string) error {
	f, err := os.Create(filepath.Join(dir, "cl_rewards.csv"))
	if err != nil {
		return errors.Wrap(err, "creating continual-learning rewards file")
	}
	defer f.Close()
	w := csv.NewWriter(f)
	header := make([]string, len(r.Rewards)+1)
	header[0] = "adapted_through"
	for j := range r.Rewards {
		header[j+1] = fmt.Sprintf("task_%d", j)
	}
	if err := w.Write(header); err != nil {
		return errors.Wrap(err, "writing continual-learning rewards")
	}
	for i, row := range r.Rewards {
		record := make([]string, len(row)+1)
		record[0] = fmt.Sprintf("%d", i)
		for j, v := range row {
			record[j+1] = fmt.Sprintf("%.6f", v)
		}
		if err := w.Write(record); err != nil {
			return errors.Wrap(err, "writing continual-learning rewards")
		}
	}
	w.Flush()
	return errors.Wrap(w.Error(), "writing continual-learning rewards")
}
