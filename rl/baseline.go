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
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// LinearValue is a value-function baseline linear in hand-crafted
// features of the state and the normalized time step:
//
//	φ(s, t) = [s, s², t/100, (t/100)², (t/100)³, 1]
//
// fit to discounted returns by regularized least squares. Fitting is per
// batch of episodes: the baseline carries no state between iterations
// beyond the last solve.
type LinearValue struct {
	obsDim int
	reg    float64
	coef   *mat.VecDense
}

// NewLinearValue returns an unfit baseline for states of the given
// dimension.
func NewLinearValue(obsDim int) *LinearValue {
	return &LinearValue{obsDim: obsDim, reg: 1e-5}
}

func (lv *LinearValue) numFeatures() int { return 2*lv.obsDim + 4 }

// features fills one row per step of the episode.
func (lv *LinearValue) features(ep *Episode, dst *mat.Dense, rowOffset int) {
	steps := ep.Len()
	for t := 0; t < steps; t++ {
		row := dst.RawRowView(rowOffset + t)
		for d := 0; d < lv.obsDim; d++ {
			s := float64(ep.Obs[t*lv.obsDim+d])
			row[d] = s
			row[lv.obsDim+d] = s * s
		}
		al := float64(t) / 100
		row[2*lv.obsDim] = al
		row[2*lv.obsDim+1] = al * al
		row[2*lv.obsDim+2] = al * al * al
		row[2*lv.obsDim+3] = 1
	}
}

// Fit solves the ridge regression of discounted returns on the episode
// features. The regularizer is scaled up tenfold on a singular system,
// up to a few retries.
func (lv *LinearValue) Fit(episodes []*Episode, gamma float32) error {
	totalSteps := 0
	for _, ep := range episodes {
		totalSteps += ep.Len()
	}
	numFeatures := lv.numFeatures()
	features := mat.NewDense(totalSteps, numFeatures, nil)
	returns := mat.NewVecDense(totalSteps, nil)
	row := 0
	for _, ep := range episodes {
		lv.features(ep, features, row)
		for t, r := range DiscountedReturns(ep.Rewards, ep.Dones, gamma) {
			returns.SetVec(row+t, float64(r))
		}
		row += ep.Len()
	}

	var gram, rhs mat.Dense
	gram.Mul(features.T(), features)
	rhs.Mul(features.T(), returns)
	reg := lv.reg
	for attempt := 0; attempt < 5; attempt++ {
		regularized := mat.NewDense(numFeatures, numFeatures, nil)
		regularized.Copy(&gram)
		for i := 0; i < numFeatures; i++ {
			regularized.Set(i, i, regularized.At(i, i)+reg)
		}
		coef := mat.NewVecDense(numFeatures, nil)
		if err := coef.SolveVec(regularized, rhs.ColView(0)); err == nil {
			lv.coef = coef
			return nil
		}
		reg *= 10
	}
	return errors.Errorf("linear value baseline: least-squares solve failed up to regularization %g", reg)
}

// Predict returns the fitted values V(s_t) for each step of the episode.
// Before the first Fit all values are zero.
func (lv *LinearValue) Predict(ep *Episode) []float32 {
	values := make([]float32, ep.Len())
	if lv.coef == nil {
		return values
	}
	features := mat.NewDense(ep.Len(), lv.numFeatures(), nil)
	lv.features(ep, features, 0)
	var predictions mat.VecDense
	predictions.MulVec(features, lv.coef)
	for t := range values {
		values[t] = float32(predictions.AtVec(t))
	}
	return values
}
