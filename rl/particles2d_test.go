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
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParticles2D(t *testing.T) {
	env := NewParticles2D()
	env.SetTask(Particles2DGoal{X: 0.3, Y: -0.4})

	obs := env.Reset()
	assert.Equal(t, []float32{0, 0}, obs)

	// Actions are clipped to the maximum step.
	obs, reward, done := env.Step([]float32{1, -1})
	assert.InDelta(t, ParticlesMaxStep, obs[0], 1e-6)
	assert.InDelta(t, -ParticlesMaxStep, obs[1], 1e-6)
	assert.False(t, done)

	// Reward is the negative distance to the goal.
	dx, dy := obs[0]-0.3, obs[1]+0.4
	assert.InDelta(t, -math.Sqrt(float64(dx*dx+dy*dy)), float64(reward), 1e-6)

	// Walking to the goal terminates.
	env.Reset()
	for i := 0; i < 10; i++ {
		_, _, done = env.Step([]float32{0.03, -0.04})
	}
	assert.True(t, done)
}

func TestParticles2DSampleTasks(t *testing.T) {
	env := NewParticles2D()
	rng := rand.New(rand.NewSource(17))
	tasks := env.SampleTasks(rng, 100)
	require.Len(t, tasks, 100)
	for _, task := range tasks {
		goal := task.(Particles2DGoal)
		assert.LessOrEqual(t, float64(goal.X), ParticlesGoalRange)
		assert.GreaterOrEqual(t, float64(goal.X), -ParticlesGoalRange)
		assert.LessOrEqual(t, float64(goal.Y), ParticlesGoalRange)
		assert.GreaterOrEqual(t, float64(goal.Y), -ParticlesGoalRange)
	}
}

func TestMakeEnv(t *testing.T) {
	env, err := MakeEnv("Particles2D-v1")
	require.NoError(t, err)
	assert.Equal(t, 2, env.ObservationSize())
	assert.Equal(t, 2, env.ActionSize())
	assert.Equal(t, ParticlesHorizon, env.Horizon())

	_, err = MakeEnv("AntDirection-v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MuJoCo")

	_, err = MakeEnv("NoSuchEnv-v0")
	assert.Error(t, err)
}
