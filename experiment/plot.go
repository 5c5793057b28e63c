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

package experiment

import (
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// saveMetricsPlot renders all logged metrics as line plots over iterations,
// one line per metric, into metrics.svg in the run directory.
func (e *Experiment) saveMetricsPlot() error {
	p := plot.New()
	p.Title.Text = e.Algorithm + " on " + e.Environment
	p.X.Label.Text = "iteration"
	p.Legend.Top = true

	names := append([]string(nil), e.metricNames...)
	sort.Strings(names)
	args := make([]any, 0, 2*len(names))
	for _, name := range names {
		xys := make(plotter.XYs, len(e.metricRows))
		for i, row := range e.metricRows {
			xys[i].X = float64(i)
			xys[i].Y = row[name]
		}
		args = append(args, name, xys)
	}
	if err := plotutil.AddLinePoints(p, args...); err != nil {
		return errors.Wrap(err, "plotting metrics")
	}
	path := filepath.Join(e.Dir, "metrics.svg")
	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving %q", path)
	}
	return nil
}
