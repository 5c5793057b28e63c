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
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
)

// zeroParams builds all-zero parameter tensors for the policy: zero
// means and unit standard deviations everywhere.
func zeroParams(p *DiagNormalPolicy) []*tensors.Tensor {
	zeros := func(dims ...int) *tensors.Tensor {
		n := 1
		for _, d := range dims {
			n *= d
		}
		return tensors.FromFlatDataAndDimensions(make([]float32, n), dims...)
	}
	return []*tensors.Tensor{
		zeros(p.ObsDim, p.Hidden), zeros(p.Hidden),
		zeros(p.Hidden, p.Hidden), zeros(p.Hidden),
		zeros(p.Hidden, p.ActDim), zeros(p.ActDim),
		zeros(p.ActDim),
	}
}

func paramsArgs(params []*tensors.Tensor, rest ...any) []any {
	args := make([]any, 0, len(params)+len(rest))
	for _, p := range params {
		args = append(args, p)
	}
	return append(args, rest...)
}

func TestLogProb(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	policy := NewDiagNormalPolicy(2, 2)
	exec := NewExec(backend, func(inputs []*Node) *Node {
		n := policy.NumParams()
		return policy.LogProb(inputs[:n], inputs[n], inputs[n+1])
	})
	params := zeroParams(policy)
	obs := tensors.FromFlatDataAndDimensions([]float32{0.5, -0.5, 1, 1}, 2, 2)
	actions := tensors.FromFlatDataAndDimensions([]float32{0, 0, 1, 1}, 2, 2)

	got := tensors.CopyFlatData[float32](exec.Call(paramsArgs(params, obs, actions)...)[0])
	// Standard normal: actions at the mean give -log(2π), unit offsets
	// add ½ per dimension.
	assert.InDelta(t, -log2Pi, got[0], 1e-5)
	assert.InDelta(t, -log2Pi-1, got[1], 1e-5)
}

func TestMeanKL(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	exec := NewExec(backend, func(meanP, logStdP, meanQ, logStdQ *Node) *Node {
		return MeanKL(meanP, logStdP, meanQ, logStdQ)
	})
	zeros := tensors.FromFlatDataAndDimensions(make([]float32, 2), 1, 2)
	sameKL := exec.Call(zeros, zeros, zeros, zeros)[0]
	assert.InDelta(t, 0, tensors.ToScalar[float32](sameKL), 1e-6)

	logTwo := tensors.FromFlatDataAndDimensions([]float32{0.6931472, 0.6931472}, 1, 2)
	kl := exec.Call(zeros, zeros, zeros, logTwo)[0]
	// Per dimension: log2 + 1/8 - 1/2.
	assert.InDelta(t, 2*(0.6931472+0.125-0.5), tensors.ToScalar[float32](kl), 1e-5)
}

func TestSurrogateAndClipLoss(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	policy := NewDiagNormalPolicy(2, 2)
	params := zeroParams(policy)
	obs := tensors.FromFlatDataAndDimensions(make([]float32, 4), 2, 2)
	actions := tensors.FromFlatDataAndDimensions(make([]float32, 4), 2, 2)
	advantages := tensors.FromFlatDataAndDimensions([]float32{1, 3}, 2)
	// Behavior log-probs equal the policy's own, so the ratios are one.
	behavior := tensors.FromFlatDataAndDimensions([]float32{-log2Pi, -log2Pi}, 2)

	surrogateExec := NewExec(backend, func(inputs []*Node) *Node {
		n := policy.NumParams()
		return policy.SurrogateLoss(inputs[:n], inputs[n], inputs[n+1], inputs[n+2], inputs[n+3])
	})
	loss := surrogateExec.Call(paramsArgs(params, obs, actions, advantages, behavior)...)[0]
	assert.InDelta(t, -2, tensors.ToScalar[float32](loss), 1e-5)

	clipExec := NewExec(backend, func(inputs []*Node) *Node {
		n := policy.NumParams()
		return policy.ClipLoss(inputs[:n], inputs[n], inputs[n+1], inputs[n+2], inputs[n+3], 0.2)
	})
	loss = clipExec.Call(paramsArgs(params, obs, actions, advantages, behavior)...)[0]
	assert.InDelta(t, -2, tensors.ToScalar[float32](loss), 1e-5)
}

func TestKeepMask(t *testing.T) {
	policy := NewDiagNormalPolicy(2, 2)
	assert.Nil(t, policy.KeepMask(false))
	keep := policy.KeepMask(true)
	assert.Equal(t, []bool{false, false, false, false, true, true, true}, keep)
}
