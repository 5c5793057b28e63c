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

package metalearn

import (
	"testing"

	_ "github.com/gomlx/gomlx/backends/simplego"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
)

// quadratic is the inner loss (θ - 3)², whose gradient is 2(θ - 3).
func quadratic(params []*Node) *Node {
	return Square(AddScalar(params[0], -3))
}

func TestAdapt(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, test := range []struct {
		name  string
		steps int
		want  float32
	}{
		// θ' = θ + 0.2·(3 - θ), starting at 0.
		{"one step", 1, 0.6},
		{"two steps", 2, 1.08},
	} {
		t.Run(test.name, func(t *testing.T) {
			exec := NewExec(backend, func(theta *Node) *Node {
				return Adapt([]*Node{theta}, quadratic, test.steps, 0.1, false)[0]
			})
			got := exec.Call(float32(0))[0]
			assert.InDelta(t, test.want, tensors.ToScalar[float32](got), 1e-5)
		})
	}
}

// TestMetaGradient checks the gradient of an outer loss evaluated at the
// adapted parameter. With one inner step θ' = θ(1-2α) + 2α·3 and outer
// loss θ'², the meta-gradient is 2θ'(1-2α); the first-order variant drops
// the inner jacobian and gives 2θ'.
func TestMetaGradient(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, test := range []struct {
		name       string
		firstOrder bool
		want       float32
	}{
		{"second order", false, 2 * 0.6 * 0.8},
		{"first order", true, 2 * 0.6},
	} {
		t.Run(test.name, func(t *testing.T) {
			exec := NewExec(backend, func(theta *Node) *Node {
				adapted := Adapt([]*Node{theta}, quadratic, 1, 0.1, test.firstOrder)
				outer := Square(adapted[0])
				return Gradient(outer, theta)[0]
			})
			got := exec.Call(float32(0))[0]
			assert.InDelta(t, test.want, tensors.ToScalar[float32](got), 1e-5)
		})
	}
}

func TestGradientStepKeep(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	exec := NewExec(backend, func(a, b *Node) (newA, newB *Node) {
		loss := Mul(a, b)
		updated := GradientStep([]*Node{a, b}, []bool{false, true}, loss, 0.5, false)
		return updated[0], updated[1]
	})
	results := exec.Call(float32(2), float32(5))
	// a is frozen, b moves by -0.5·∂(ab)/∂b = -0.5·a.
	assert.Equal(t, float32(2), tensors.ToScalar[float32](results[0]))
	assert.InDelta(t, 4.0, tensors.ToScalar[float32](results[1]), 1e-5)
}
