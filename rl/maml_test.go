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

	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLearner builds a small meta-learner on Particles2D.
func testLearner(t *testing.T) *MetaLearner {
	t.Helper()
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.RngStateReset()
	cfg := DefaultMetaConfig()
	cfg.MetaBatchSize = 2
	cfg.AdaptBatchSize = 2
	cfg.AdaptSteps = 1
	cfg.NumIterations = 1
	return NewMetaLearner(backend, ctx, NewParticles2D(), cfg)
}

func TestMetaLearnerParams(t *testing.T) {
	learner := testLearner(t)
	params := learner.CurrentParams()
	require.Len(t, params, learner.Policy().NumParams())
	assert.Equal(t, []int{2, 100}, params[0].Shape().Dimensions)
	assert.Equal(t, []int{2}, params[6].Shape().Dimensions)

	// Round-trip through SetParams.
	shifted := axpy(params, params, 1) // doubles every value
	learner.SetParams(shifted)
	reread := learner.CurrentParams()
	a := tensors.CopyFlatData[float32](params[0])
	b := tensors.CopyFlatData[float32](reread[0])
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.InDelta(t, 2*a[i], b[i], 1e-6)
	}
}

func TestCollectAndAdapt(t *testing.T) {
	learner := testLearner(t)
	env := learner.Runner().Env()
	env.SetTask(Particles2DGoal{X: 0.2, Y: 0.2})

	params := learner.CurrentParams()
	episodes := learner.Runner().Collect(params, 2)
	require.Len(t, episodes, 2)
	for _, ep := range episodes {
		assert.Equal(t, ParticlesHorizon, ep.Len())
		assert.Len(t, ep.Obs, ParticlesHorizon*2)
		assert.Len(t, ep.LogProbs, ParticlesHorizon)
		// Rewards are negative distances.
		for _, r := range ep.Rewards {
			assert.LessOrEqual(t, r, float32(0))
		}
	}

	batch, err := BuildBatch(episodes, NewLinearValue(2), 0.99, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 2*ParticlesHorizon, batch.Steps)
	assert.Equal(t, []int{batch.Steps, 2}, batch.Obs.Shape().Dimensions)
	assert.Equal(t, []int{batch.Steps}, batch.Advantages.Shape().Dimensions)
	assert.Less(t, batch.MeanReward, 0.0)

	adapted := learner.AdaptStep(params, batch)
	require.Len(t, adapted, len(params))
	assert.Equal(t, params[0].Shape().Dimensions, adapted[0].Shape().Dimensions)
}

func TestAdamOuterStep(t *testing.T) {
	learner := testLearner(t)
	params := learner.CurrentParams()
	taskArgs, stats, err := learner.collectIteration(params)
	require.NoError(t, err)
	require.Len(t, taskArgs, learner.cfg.MetaBatchSize*learner.cfg.inputsPerTask())
	assert.Less(t, stats.PostAdaptReward, 0.0)

	outer := NewAdamOuter(learner)
	_, err = outer.Step(taskArgs, params)
	require.NoError(t, err)
}

func TestTRPOOuterStep(t *testing.T) {
	learner := testLearner(t)
	params := learner.CurrentParams()
	taskArgs, _, err := learner.collectIteration(params)
	require.NoError(t, err)

	outer := NewTRPOOuter(learner, DefaultTRPOConfig())
	_, err = outer.Step(taskArgs, params)
	require.NoError(t, err)
}

func TestEvaluateContinual(t *testing.T) {
	learner := testLearner(t)
	result, err := learner.EvaluateContinual(2, 1)
	require.NoError(t, err)
	require.Len(t, result.Rewards, 2)
	for _, row := range result.Rewards {
		require.Len(t, row, 2)
		for _, reward := range row {
			assert.Less(t, reward, 0.0)
		}
	}

	dir := t.TempDir()
	require.NoError(t, result.SaveCSV(dir))
}
