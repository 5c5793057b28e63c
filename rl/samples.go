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
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// SamplesSeen is the accounting of environment steps a meta-training run
// consumes, per level of aggregation.
type SamplesSeen struct {
	Rollout      int // steps in one episode
	TaskBatch    int // steps in one batch of episodes for one task
	TaskSupport  int // support steps per task (one batch per adaptation step)
	TaskTotal    int // support plus query steps per task
	PerIteration int // steps over the whole task batch of one iteration
	Total        int // steps over the full run
}

// CalculateSamplesSeen reports how many environment steps a run with the
// given settings consumes.
func CalculateSamplesSeen(rolloutLength, episodesPerBatch, adaptSteps, metaBatchSize, numIterations int) SamplesSeen {
	s := SamplesSeen{
		Rollout:   rolloutLength,
		TaskBatch: rolloutLength * episodesPerBatch,
	}
	s.TaskSupport = s.TaskBatch * adaptSteps
	s.TaskTotal = s.TaskSupport + s.TaskBatch
	s.PerIteration = s.TaskTotal * metaBatchSize
	s.Total = s.PerIteration * numIterations
	return s
}

// String renders the accounting with humanized counts.
func (s SamplesSeen) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rollout: %s steps\n", humanize.Comma(int64(s.Rollout)))
	fmt.Fprintf(&b, "task batch: %s steps\n", humanize.Comma(int64(s.TaskBatch)))
	fmt.Fprintf(&b, "task support: %s steps\n", humanize.Comma(int64(s.TaskSupport)))
	fmt.Fprintf(&b, "task total: %s steps\n", humanize.Comma(int64(s.TaskTotal)))
	fmt.Fprintf(&b, "per iteration: %s steps\n", humanize.Comma(int64(s.PerIteration)))
	fmt.Fprintf(&b, "total: %s steps\n", humanize.Comma(int64(s.Total)))
	return b.String()
}
