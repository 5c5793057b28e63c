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

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// DType of all policy parameters and rollout tensors.
var DType = dtypes.Float32

const log2Pi = 1.8378770664093453 // log(2π)

// DiagNormalPolicy is a Gaussian policy with a diagonal covariance: a
// two-hidden-layer tanh MLP produces the action mean, and a state
// independent learnable vector holds the log standard deviations.
//
// Parameters are explicit graph nodes, ordered
//
//	[w1, b1, w2, b2, wMean, bMean, logStd]
//
// so the adaptation inner loop can rebind them to updated nodes.
type DiagNormalPolicy struct {
	ObsDim, ActDim, Hidden int
}

// NewDiagNormalPolicy returns a policy with the default 100-unit hidden
// layers.
func NewDiagNormalPolicy(obsDim, actDim int) *DiagNormalPolicy {
	return &DiagNormalPolicy{ObsDim: obsDim, ActDim: actDim, Hidden: 100}
}

// NumParams is the length of the parameter slice.
func (p *DiagNormalPolicy) NumParams() int { return 7 }

// HeadParamsStart is the index of the first head (mean layer + log-std)
// parameter, the part adapted by the ANIL variant.
func (p *DiagNormalPolicy) HeadParamsStart() int { return 4 }

// KeepMask returns which parameters the inner loop adapts. With headOnly
// the MLP body is frozen and only the mean layer and the log-std adapt.
func (p *DiagNormalPolicy) KeepMask(headOnly bool) []bool {
	if !headOnly {
		return nil
	}
	keep := make([]bool, p.NumParams())
	for i := p.HeadParamsStart(); i < p.NumParams(); i++ {
		keep[i] = true
	}
	return keep
}

// Variables creates (or reuses) the policy variables on the context, in
// parameter order.
func (p *DiagNormalPolicy) Variables(ctx *context.Context) []*context.Variable {
	ctx = ctx.In("policy")
	vars := make([]*context.Variable, 0, p.NumParams())
	vars = append(vars, denseVars(ctx.In("layer0"), p.ObsDim, p.Hidden)...)
	vars = append(vars, denseVars(ctx.In("layer1"), p.Hidden, p.Hidden)...)
	vars = append(vars, denseVars(ctx.In("mean"), p.Hidden, p.ActDim)...)
	logStd := ctx.In("std").WithInitializer(initializers.Zero).
		VariableWithShape("log_std", shapes.Make(DType, p.ActDim))
	return append(vars, logStd)
}

// Params returns the policy variables as graph nodes.
func (p *DiagNormalPolicy) Params(ctx *context.Context, g *Graph) []*Node {
	vars := p.Variables(ctx)
	params := make([]*Node, len(vars))
	for i, v := range vars {
		params[i] = v.ValueGraph(g)
	}
	return params
}

// denseVars creates weights and biases of one linear layer.
func denseVars(ctx *context.Context, fanIn, fanOut int) []*context.Variable {
	stddev := math.Sqrt(2.0 / float64(fanIn+fanOut))
	weights := ctx.WithInitializer(initializers.RandomNormalFn(ctx, stddev)).
		VariableWithShape("weights", shapes.Make(DType, fanIn, fanOut))
	biases := ctx.WithInitializer(initializers.Zero).
		VariableWithShape("biases", shapes.Make(DType, fanOut))
	return []*context.Variable{weights, biases}
}

// Mean applies the MLP body and mean head to a batch of observations
// [batch, obsDim], returning action means [batch, actDim].
func (p *DiagNormalPolicy) Mean(params []*Node, obs *Node) *Node {
	hidden := Tanh(dense(obs, params[0], params[1]))
	hidden = Tanh(dense(hidden, params[2], params[3]))
	return dense(hidden, params[4], params[5])
}

// Distribution returns the Gaussian over actions for each observation:
// means [batch, actDim] and the log standard deviations broadcast to
// [1, actDim].
func (p *DiagNormalPolicy) Distribution(params []*Node, obs *Node) (mean, logStd *Node) {
	return p.Mean(params, obs), InsertAxes(params[6], 0)
}

// LogProb returns the log density of actions [batch, actDim] under the
// policy, one value per row.
func (p *DiagNormalPolicy) LogProb(params []*Node, obs, actions *Node) *Node {
	mean, logStd := p.Distribution(params, obs)
	z := Mul(Sub(actions, mean), Exp(Neg(logStd)))
	perDim := Sub(MulScalar(Square(z), -0.5), AddScalar(logStd, 0.5*log2Pi))
	return ReduceSum(perDim, -1)
}

// MeanKL is the mean over the batch of KL(p‖q) between two diagonal
// Gaussians given as (means [batch, actDim], log-stds [1 or batch,
// actDim]).
func MeanKL(meanP, logStdP, meanQ, logStdQ *Node) *Node {
	varP := Exp(MulScalar(logStdP, 2))
	varQ := Exp(MulScalar(logStdQ, 2))
	perDim := Add(
		Sub(logStdQ, logStdP),
		AddScalar(Div(Add(varP, Square(Sub(meanP, meanQ))), MulScalar(varQ, 2)), -0.5))
	return ReduceAllMean(ReduceSum(perDim, -1))
}

func dense(x, weights, biases *Node) *Node {
	return Add(Dot(x, weights), InsertAxes(biases, 0))
}

// A2CLoss is the policy-gradient loss -E[logπ(a|s)·A], the inner-loop
// adaptation objective.
func (p *DiagNormalPolicy) A2CLoss(params []*Node, obs, actions, advantages *Node) *Node {
	logProbs := p.LogProb(params, obs, actions)
	return Neg(ReduceAllMean(Mul(logProbs, advantages)))
}

// SurrogateLoss is the importance-weighted policy-gradient loss
// -E[exp(logπ(a|s) - logμ(a|s))·A] against the behavior policy that
// collected the episodes.
func (p *DiagNormalPolicy) SurrogateLoss(params []*Node, obs, actions, advantages, behaviorLogProbs *Node) *Node {
	ratios := Exp(Sub(p.LogProb(params, obs, actions), behaviorLogProbs))
	return Neg(ReduceAllMean(Mul(ratios, advantages)))
}

// ClipLoss is the PPO clipped surrogate: -E[min(r·A, clip(r, 1±ε)·A)].
func (p *DiagNormalPolicy) ClipLoss(params []*Node, obs, actions, advantages, behaviorLogProbs *Node, epsilon float64) *Node {
	ratios := Exp(Sub(p.LogProb(params, obs, actions), behaviorLogProbs))
	clipped := ClipScalar(ratios, 1-epsilon, 1+epsilon)
	return Neg(ReduceAllMean(Min(Mul(ratios, advantages), Mul(clipped, advantages))))
}
