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

// Package rl implements meta reinforcement-learning experiments: task
// distributions over goal-conditioned environments, a diagonal Gaussian
// policy, episode collection, advantage estimation and the MAML / TRPO /
// PPO optimization drivers.
package rl

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Task is one element of an environment's task distribution. Its concrete
// type is environment specific (for Particles2D it is the goal position).
type Task any

// Env is a goal-conditioned environment with continuous observations and
// actions. Episodes run for a fixed horizon; Step reports the done flag so
// advantage estimation can cut bootstrapping, but it is up to the caller
// to reset.
type Env interface {
	// Name identifies the environment, e.g. "Particles2D-v1".
	Name() string

	// ObservationSize and ActionSize are the flat dimensions of the
	// observation and action vectors.
	ObservationSize() int
	ActionSize() int

	// Horizon is the fixed episode length.
	Horizon() int

	// SampleTasks draws n tasks from the task distribution.
	SampleTasks(rng *rand.Rand, n int) []Task

	// SetTask fixes the active task for subsequent episodes.
	SetTask(task Task)

	// Reset starts a new episode and returns the initial observation.
	Reset() []float32

	// Step applies one (already clipped or clippable) action and returns
	// the next observation, the reward and whether the goal was reached.
	Step(action []float32) (obs []float32, reward float32, done bool)
}

// mujocoEnvs are benchmark names from the original experiment suite that
// need the separately licensed MuJoCo physics engine (or Meta-World on
// top of it). They are listed so the error for them is precise.
var mujocoEnvs = map[string]bool{
	"AntForwardBackward-v1":         true,
	"AntDirection-v1":               true,
	"HalfCheetahForwardBackward-v1": true,
	"HumanoidForwardBackward-v1":    true,
	"HumanoidDirection-v1":          true,
	"ML1_reach-v1":                  true,
	"ML1_pick-place-v1":             true,
	"ML1_push-v1":                   true,
	"ML10":                          true,
	"ML45":                          true,
}

// MakeEnv builds a registered environment by name.
func MakeEnv(name string) (Env, error) {
	switch {
	case name == "Particles2D-v1":
		return NewParticles2D(), nil
	case mujocoEnvs[name]:
		return nil, errors.Errorf(
			"environment %q requires the MuJoCo physics engine, which is licensed separately and not bundled; "+
				"use Particles2D-v1", name)
	}
	return nil, errors.Errorf("unknown environment %q", name)
}
