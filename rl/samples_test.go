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

func TestCalculateSamplesSeen(t *testing.T) {
	s := CalculateSamplesSeen(150, 10, 1, 20, 1000)
	assert.Equal(t, 150, s.Rollout)
	assert.Equal(t, 1500, s.TaskBatch)
	assert.Equal(t, 1500, s.TaskSupport)
	assert.Equal(t, 3000, s.TaskTotal)
	assert.Equal(t, 60000, s.PerIteration)
	assert.Equal(t, 60000000, s.Total)

	rendered := s.String()
	assert.Contains(t, rendered, "60,000,000")
	assert.Contains(t, rendered, "per iteration: 60,000 steps")
}

func TestCalculateSamplesSeenMultiStep(t *testing.T) {
	s := CalculateSamplesSeen(100, 10, 3, 20, 500)
	assert.Equal(t, 1000, s.TaskBatch)
	assert.Equal(t, 3000, s.TaskSupport)
	assert.Equal(t, 4000, s.TaskTotal)
	assert.Equal(t, 80000, s.PerIteration)
	assert.Equal(t, 40000000, s.Total)
}
