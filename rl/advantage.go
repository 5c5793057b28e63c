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

import "math"

// DiscountedReturns computes R_t = Σ_{k≥t} γ^(k-t) r_k over one episode.
// A done flag cuts the recursion: the step after a reached goal starts a
// fresh return.
func DiscountedReturns(rewards, dones []float32, gamma float32) []float32 {
	returns := make([]float32, len(rewards))
	var running float32
	for t := len(rewards) - 1; t >= 0; t-- {
		if dones[t] != 0 {
			running = 0
		}
		running = rewards[t] + gamma*running
		returns[t] = running
	}
	return returns
}

// GAE computes generalized advantage estimates A_t = Σ (γτ)^k δ_{t+k}
// with δ_t = r_t + γV(s_{t+1}) - V(s_t), bootstrapping zero past the end
// of the episode and past done steps.
func GAE(rewards, dones, values []float32, gamma, tau float32) []float32 {
	advantages := make([]float32, len(rewards))
	var running float32
	for t := len(rewards) - 1; t >= 0; t-- {
		nextValue := float32(0)
		if t+1 < len(values) && dones[t] == 0 {
			nextValue = values[t+1]
		}
		if dones[t] != 0 {
			running = 0
		}
		delta := rewards[t] + gamma*nextValue - values[t]
		running = delta + gamma*tau*running
		advantages[t] = running
	}
	return advantages
}

// Normalize returns (x - mean) / (std + 1e-8), the usual advantage
// whitening before the policy-gradient loss.
func Normalize(xs []float32) []float32 {
	if len(xs) == 0 {
		return nil
	}
	var sum float64
	for _, x := range xs {
		sum += float64(x)
	}
	mean := sum / float64(len(xs))
	var sqSum float64
	for _, x := range xs {
		d := float64(x) - mean
		sqSum += d * d
	}
	std := math.Sqrt(sqSum / float64(len(xs)))
	normalized := make([]float32, len(xs))
	for i, x := range xs {
		normalized[i] = float32((float64(x) - mean) / (std + 1e-8))
	}
	return normalized
}
