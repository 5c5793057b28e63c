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

	"github.com/stretchr/testify/assert"
)

func TestDiscountedReturns(t *testing.T) {
	rewards := []float32{1, 1, 1}
	dones := []float32{0, 0, 0}
	assert.Equal(t, []float32{1.75, 1.5, 1}, DiscountedReturns(rewards, dones, 0.5))

	// A done step excludes the tail from the return.
	rewards = []float32{1, 2, 3}
	dones = []float32{0, 1, 0}
	assert.Equal(t, []float32{2, 2, 3}, DiscountedReturns(rewards, dones, 0.5))
}

func TestGAE(t *testing.T) {
	rewards := []float32{1, 2, 3}
	dones := []float32{0, 1, 0}
	values := []float32{0, 0, 0}
	// With zero values the deltas equal the rewards, discounted by γτ and
	// cut at the done step.
	got := GAE(rewards, dones, values, 0.5, 0.5)
	assert.InDeltaSlice(t, []float32{1.5, 2, 3}, got, 1e-6)

	// Non-zero values enter through the temporal differences.
	values = []float32{1, 1, 1}
	got = GAE(rewards, dones, values, 1, 1)
	// δ = [1+1-1, 2+0-1, 3+0-1] with the done step cutting bootstrap and
	// accumulation: A2 = 2, A1 = 1 (reset), A0 = 1 + A1 = 2.
	assert.InDeltaSlice(t, []float32{2, 1, 2}, got, 1e-6)
}

func TestNormalize(t *testing.T) {
	got := Normalize([]float32{1, 2, 3, 4})
	var mean, sqSum float32
	for _, v := range got {
		mean += v / float32(len(got))
	}
	for _, v := range got {
		sqSum += (v - mean) * (v - mean)
	}
	assert.InDelta(t, 0, mean, 1e-6)
	assert.InDelta(t, 1, sqSum/float32(len(got)), 1e-5)
	assert.Nil(t, Normalize(nil))
}
