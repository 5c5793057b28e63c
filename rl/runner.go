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

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/tensors"
)

// Episode is one fixed-horizon rollout. Steps past a reached goal are
// kept (the environment keeps running to the horizon) with the done flag
// marking the boundary for advantage bootstrapping.
type Episode struct {
	ObsDim, ActDim int

	Obs     []float32 // [steps * ObsDim]
	Actions []float32 // [steps * ActDim]
	Means   []float32 // behavior action means, [steps * ActDim]
	LogStds []float32 // behavior log-stds, [steps * ActDim]

	Rewards  []float32
	Dones    []float32
	LogProbs []float32 // behavior log-probabilities of the taken actions
}

// Len is the number of steps.
func (ep *Episode) Len() int { return len(ep.Rewards) }

// TotalReward sums the undiscounted rewards.
func (ep *Episode) TotalReward() float64 {
	var total float64
	for _, r := range ep.Rewards {
		total += float64(r)
	}
	return total
}

// Batch is a task's episodes concatenated into fixed-shape tensors ready
// to feed graph executions: observations [steps, obsDim], actions, means
// and log-stds [steps, actDim], advantages and behavior log-probs
// [steps].
type Batch struct {
	Obs, Actions, Advantages, LogProbs *tensors.Tensor
	Means, LogStds                     *tensors.Tensor

	Steps      int
	MeanReward float64
}

// Runner collects episodes for the current task of its environment. The
// policy mean is computed on the accelerator from explicitly passed
// parameter tensors, so the same runner serves the pre- and post
// adaptation policies; Gaussian sampling happens host-side.
type Runner struct {
	env    Env
	policy *DiagNormalPolicy
	rng    *rand.Rand

	meanExec *Exec
}

// NewRunner builds a runner for the environment. The rng drives both
// task sampling by callers and action noise.
func NewRunner(backend backends.Backend, policy *DiagNormalPolicy, env Env, rng *rand.Rand) *Runner {
	return &Runner{
		env:    env,
		policy: policy,
		rng:    rng,
		meanExec: NewExec(backend, func(inputs []*Node) *Node {
			return policy.Mean(inputs[1:], inputs[0])
		}),
	}
}

// Env returns the wrapped environment.
func (r *Runner) Env() Env { return r.env }

// Collect runs numEpisodes fixed-horizon episodes of the environment's
// current task with the policy given by params.
func (r *Runner) Collect(params []*tensors.Tensor, numEpisodes int) []*Episode {
	logStd := tensors.CopyFlatData[float32](params[len(params)-1])
	episodes := make([]*Episode, numEpisodes)
	for i := range episodes {
		episodes[i] = r.collectEpisode(params, logStd)
	}
	return episodes
}

func (r *Runner) collectEpisode(params []*tensors.Tensor, logStd []float32) *Episode {
	obsDim, actDim := r.env.ObservationSize(), r.env.ActionSize()
	horizon := r.env.Horizon()
	ep := &Episode{
		ObsDim:   obsDim,
		ActDim:   actDim,
		Obs:      make([]float32, 0, horizon*obsDim),
		Actions:  make([]float32, 0, horizon*actDim),
		Means:    make([]float32, 0, horizon*actDim),
		LogStds:  make([]float32, 0, horizon*actDim),
		Rewards:  make([]float32, 0, horizon),
		Dones:    make([]float32, 0, horizon),
		LogProbs: make([]float32, 0, horizon),
	}
	obs := r.env.Reset()
	action := make([]float32, actDim)
	for t := 0; t < horizon; t++ {
		obsTensor := tensors.FromFlatDataAndDimensions(append([]float32(nil), obs...), 1, obsDim)
		args := make([]any, 0, 1+len(params))
		args = append(args, obsTensor)
		for _, p := range params {
			args = append(args, p)
		}
		mean := tensors.CopyFlatData[float32](r.meanExec.Call(args...)[0])

		logProb := float32(-0.5 * log2Pi * float64(actDim))
		for d := 0; d < actDim; d++ {
			std := float32(math.Exp(float64(logStd[d])))
			action[d] = mean[d] + std*float32(r.rng.NormFloat64())
			z := (action[d] - mean[d]) / std
			logProb += -0.5*z*z - logStd[d]
		}

		ep.Obs = append(ep.Obs, obs...)
		ep.Actions = append(ep.Actions, action...)
		ep.Means = append(ep.Means, mean...)
		ep.LogStds = append(ep.LogStds, logStd...)
		ep.LogProbs = append(ep.LogProbs, logProb)

		next, reward, done := r.env.Step(action)
		ep.Rewards = append(ep.Rewards, reward)
		if done {
			ep.Dones = append(ep.Dones, 1)
		} else {
			ep.Dones = append(ep.Dones, 0)
		}
		obs = next
	}
	return ep
}

// BuildBatch fits the baseline to the episodes, computes normalized GAE
// advantages and packs everything into tensors.
func BuildBatch(episodes []*Episode, baseline *LinearValue, gamma, tau float32) (*Batch, error) {
	if err := baseline.Fit(episodes, gamma); err != nil {
		return nil, err
	}
	obsDim, actDim := episodes[0].ObsDim, episodes[0].ActDim
	var obs, actions, means, logStds, advantages, logProbs []float32
	var totalReward float64
	for _, ep := range episodes {
		obs = append(obs, ep.Obs...)
		actions = append(actions, ep.Actions...)
		means = append(means, ep.Means...)
		logStds = append(logStds, ep.LogStds...)
		advantages = append(advantages, GAE(ep.Rewards, ep.Dones, baseline.Predict(ep), gamma, tau)...)
		logProbs = append(logProbs, ep.LogProbs...)
		totalReward += ep.TotalReward()
	}
	advantages = Normalize(advantages)
	steps := len(advantages)
	return &Batch{
		Obs:        tensors.FromFlatDataAndDimensions(obs, steps, obsDim),
		Actions:    tensors.FromFlatDataAndDimensions(actions, steps, actDim),
		Means:      tensors.FromFlatDataAndDimensions(means, steps, actDim),
		LogStds:    tensors.FromFlatDataAndDimensions(logStds, steps, actDim),
		Advantages: tensors.FromFlatDataAndDimensions(advantages, steps),
		LogProbs:   tensors.FromFlatDataAndDimensions(logProbs, steps),
		Steps:      steps,
		MeanReward: totalReward / float64(len(episodes)),
	}, nil
}
