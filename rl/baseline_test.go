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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomEpisode builds an episode with the given rewards and random
// observations.
func randomEpisode(rng *rand.Rand, obsDim int, rewards []float32) *Episode {
	ep := &Episode{
		ObsDim:  obsDim,
		ActDim:  1,
		Rewards: rewards,
		Dones:   make([]float32, len(rewards)),
	}
	for range rewards {
		for d := 0; d < obsDim; d++ {
			ep.Obs = append(ep.Obs, float32(rng.NormFloat64()))
		}
	}
	return ep
}

func TestLinearValueConstantReturns(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	rewards := make([]float32, 50)
	for i := range rewards {
		rewards[i] = 1
	}
	episodes := []*Episode{
		randomEpisode(rng, 2, rewards),
		randomEpisode(rng, 2, rewards),
	}
	lv := NewLinearValue(2)

	// Unfit baseline predicts zero.
	for _, v := range lv.Predict(episodes[0]) {
		assert.Zero(t, v)
	}

	// With γ=0 the returns equal the rewards; a constant is exactly
	// representable by the bias feature.
	require.NoError(t, lv.Fit(episodes, 0))
	for _, ep := range episodes {
		for _, v := range lv.Predict(ep) {
			assert.InDelta(t, 1, v, 1e-2)
		}
	}
}

func TestLinearValueTimeTrend(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	rewards := make([]float32, 100)
	for i := range rewards {
		// Returns grow linearly in t, matched by the t/100 feature.
		rewards[i] = float32(i) / 100
	}
	episodes := []*Episode{randomEpisode(rng, 2, rewards)}
	lv := NewLinearValue(2)
	require.NoError(t, lv.Fit(episodes, 0))
	values := lv.Predict(episodes[0])
	assert.InDelta(t, 0.10, values[10], 0.05)
	assert.InDelta(t, 0.90, values[90], 0.05)
}
