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
)

// Particles2D parameters. A point mass starts at the origin and moves by
// clipped velocity commands towards a goal drawn uniformly from
// [-GoalRange, GoalRange]². The episode is solved when the particle is
// within DoneDistance of the goal.
const (
	ParticlesHorizon      = 100
	ParticlesMaxStep      = 0.1
	ParticlesGoalRange    = 0.5
	ParticlesDoneDistance = 0.01
)

// Particles2DGoal is the task descriptor: the goal position.
type Particles2DGoal struct {
	X, Y float32
}

// Particles2D is the goal-conditioned point-mass environment. The
// observation is the particle position; the reward is the negative
// Euclidean distance to the goal.
type Particles2D struct {
	goal Particles2DGoal
	x, y float32
}

// NewParticles2D returns the environment with the zero goal. Call SetTask
// before collecting episodes.
func NewParticles2D() *Particles2D {
	return &Particles2D{}
}

func (e *Particles2D) Name() string         { return "Particles2D-v1" }
func (e *Particles2D) ObservationSize() int { return 2 }
func (e *Particles2D) ActionSize() int      { return 2 }
func (e *Particles2D) Horizon() int         { return ParticlesHorizon }

func (e *Particles2D) SampleTasks(rng *rand.Rand, n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = Particles2DGoal{
			X: float32(rng.Float64()*2-1) * ParticlesGoalRange,
			Y: float32(rng.Float64()*2-1) * ParticlesGoalRange,
		}
	}
	return tasks
}

func (e *Particles2D) SetTask(task Task) {
	e.goal = task.(Particles2DGoal)
}

func (e *Particles2D) Reset() []float32 {
	e.x, e.y = 0, 0
	return []float32{e.x, e.y}
}

func (e *Particles2D) Step(action []float32) (obs []float32, reward float32, done bool) {
	e.x += clip(action[0], -ParticlesMaxStep, ParticlesMaxStep)
	e.y += clip(action[1], -ParticlesMaxStep, ParticlesMaxStep)
	dx, dy := e.x-e.goal.X, e.y-e.goal.Y
	dist := float32(math.Sqrt(float64(dx*dx + dy*dy)))
	return []float32{e.x, e.y}, -dist, dist < ParticlesDoneDistance
}

func clip(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
