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
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/tensors"
	"k8s.io/klog/v2"
)

// TRPOConfig tunes the trust-region outer step.
type TRPOConfig struct {
	// MaxKL bounds the mean KL between the behavior policy and the
	// candidate's adapted policy on the query states.
	MaxKL float64

	// LSMaxSteps is the number of backtracking line-search attempts.
	LSMaxSteps int

	// BacktrackFactor shrinks the step size between attempts.
	BacktrackFactor float64
}

// DefaultTRPOConfig matches the usual meta-TRPO settings.
func DefaultTRPOConfig() TRPOConfig {
	return TRPOConfig{
		MaxKL:           0.01,
		LSMaxSteps:      15,
		BacktrackFactor: 0.8,
	}
}

// TRPOOuter applies the meta-update as a trust-region step: the gradient
// of the meta-objective gives the direction, and a backtracking line
// search accepts the largest step that improves the surrogate while
// keeping the mean KL within the trust region. Parameters are treated as
// plain tensors here, so candidate points can be evaluated without
// touching the context variables until a step is accepted.
type TRPOOuter struct {
	ml       *MetaLearner
	cfg      TRPOConfig
	lossExec *Exec
}

// NewTRPOOuter compiles the meta-objective execution. It returns the
// loss, the KL and the gradients with respect to the meta-parameters,
// which enter the graph as inputs rather than variables.
func NewTRPOOuter(ml *MetaLearner, cfg TRPOConfig) *TRPOOuter {
	numParams := ml.policy.NumParams()
	lossExec := NewExec(ml.backend, func(inputs []*Node) []*Node {
		params := inputs[:numParams]
		loss, kl := ml.metaObjective(params, inputs[numParams:])
		grads := Gradient(loss, params...)
		return append([]*Node{loss, kl}, grads...)
	})
	return &TRPOOuter{ml: ml, cfg: cfg, lossExec: lossExec}
}

func (t *TRPOOuter) evaluate(params []*tensors.Tensor, taskArgs []any) (loss, kl float64, grads []*tensors.Tensor) {
	args := make([]any, 0, len(params)+len(taskArgs))
	for _, p := range params {
		args = append(args, p)
	}
	args = append(args, taskArgs...)
	outputs := t.lossExec.Call(args...)
	return float64(tensors.ToScalar[float32](outputs[0])),
		float64(tensors.ToScalar[float32](outputs[1])),
		outputs[2:]
}

// Step runs the backtracking line search and writes the accepted
// parameters back into the context. When no step satisfies the trust
// region the parameters are left unchanged.
func (t *TRPOOuter) Step(taskArgs []any, params []*tensors.Tensor) (float64, error) {
	oldLoss, _, grads := t.evaluate(params, taskArgs)
	stepSize := t.ml.cfg.OuterLR
	for attempt := 0; attempt < t.cfg.LSMaxSteps; attempt++ {
		candidate := axpy(params, grads, -float32(stepSize))
		newLoss, kl, _ := t.evaluate(candidate, taskArgs)
		if newLoss < oldLoss && kl < t.cfg.MaxKL {
			t.ml.SetParams(candidate)
			return newLoss, nil
		}
		stepSize *= t.cfg.BacktrackFactor
	}
	klog.V(1).Info("trust-region line search found no acceptable step, keeping parameters")
	return oldLoss, nil
}

// axpy returns params + scale*deltas, element-wise over the parameter
// list.
func axpy(params, deltas []*tensors.Tensor, scale float32) []*tensors.Tensor {
	results := make([]*tensors.Tensor, len(params))
	for i, p := range params {
		data := tensors.CopyFlatData[float32](p)
		delta := tensors.CopyFlatData[float32](deltas[i])
		for j := range data {
			data[j] += scale * delta[j]
		}
		results[i] = tensors.FromFlatDataAndDimensions(data, p.Shape().Dimensions...)
	}
	return results
}
