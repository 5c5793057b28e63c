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

// Package metalearn holds the inner-loop ("fast") adaptation used by
// gradient-based meta-learning: MAML adapts all parameters of a model to a
// task with a few SGD steps, ANIL adapts only the classifier head.
//
// Adaptation is unrolled inside the computation graph: the adapted
// parameters are ordinary graph nodes derived from the meta-parameters, so
// differentiating a loss evaluated at the adapted parameters yields the
// meta-gradient, and any GoMLX optimizer can apply the outer update.
package metalearn

import (
	. "github.com/gomlx/gomlx/graph"
)

// TaskLossFn evaluates the task ("support set") loss at the given
// parameters. It is called once per adaptation step, with the parameters
// of that step.
type TaskLossFn func(params []*Node) *Node

// Adapt unrolls `steps` gradient-descent steps of lossFn starting from
// params, with learning rate lr, and returns the adapted parameters.
//
// With firstOrder the inner gradients are detached (StopGradient), so the
// meta-gradient treats the adapted parameters as a plain offset of the
// meta-parameters (first-order MAML). Otherwise the meta-gradient flows
// through the unrolled steps (second order).
func Adapt(params []*Node, lossFn TaskLossFn, steps int, lr float64, firstOrder bool) []*Node {
	return AdaptPartial(params, nil, lossFn, steps, lr, firstOrder)
}

// AdaptPartial is Adapt restricted to the parameters selected by keep:
// unselected parameters stay frozen at their meta-values during the inner
// loop (the ANIL inner loop freezes the feature extractor this way).
// A nil keep adapts everything. keep must otherwise match params in length.
func AdaptPartial(params []*Node, keep []bool, lossFn TaskLossFn, steps int, lr float64, firstOrder bool) []*Node {
	for step := 0; step < steps; step++ {
		loss := lossFn(params)
		params = GradientStep(params, keep, loss, lr, firstOrder)
	}
	return params
}

// GradientStep returns params - lr * dLoss/dParams for the parameters
// selected by keep (nil selects all); the rest are returned unchanged.
func GradientStep(params []*Node, keep []bool, loss *Node, lr float64, firstOrder bool) []*Node {
	selected := make([]*Node, 0, len(params))
	for i, p := range params {
		if keep == nil || keep[i] {
			selected = append(selected, p)
		}
	}
	grads := Gradient(loss, selected...)
	updated := make([]*Node, len(params))
	gradIdx := 0
	for i, p := range params {
		if keep != nil && !keep[i] {
			updated[i] = p
			continue
		}
		g := grads[gradIdx]
		gradIdx++
		if firstOrder {
			g = StopGradient(g)
		}
		updated[i] = Sub(p, MulScalar(g, lr))
	}
	return updated
}
