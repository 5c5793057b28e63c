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

package vision

// Few-shot classification models. Unlike regular GoMLX models, the
// parameters are handled as explicit graph nodes (created as context
// variables, then passed around as a slice): the meta-learning inner loop
// needs to evaluate the same model at adapted parameter values, which are
// derived nodes and no longer variables.

import (
	"math"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// DType used by all models and datasets in this package.
var DType = dtypes.Float32

// Model is a few-shot classifier split into a feature extractor ("body")
// and a linear classifier head, the split ANIL relies on. Parameters are
// explicit nodes; the slices returned by FeatureParams and HeadParams feed
// ApplyFeatures and ApplyHead positionally.
type Model interface {
	// FeatureParams creates (or reuses) the feature-extractor variables in
	// ctx and returns their value nodes in g.
	FeatureParams(ctx *context.Context, g *Graph) []*Node

	// HeadParams is like FeatureParams for the classifier head.
	HeadParams(ctx *context.Context, g *Graph) []*Node

	// ApplyFeatures maps images [n, height, width, channels] to feature
	// vectors [n, features].
	ApplyFeatures(params []*Node, images *Node) *Node

	// ApplyHead maps features [n, features] to logits [n, classes].
	ApplyHead(params []*Node, features *Node) *Node

	// NumFeatureParams returns the length of the FeatureParams slice, the
	// split point of a concatenated parameter list.
	NumFeatureParams() int
}

// Apply runs the full model: features followed by head. params is the
// concatenation of FeatureParams and HeadParams, split at numFeatureParams.
func Apply(m Model, params []*Node, numFeatureParams int, images *Node) *Node {
	features := m.ApplyFeatures(params[:numFeatureParams], images)
	return m.ApplyHead(params[numFeatureParams:], features)
}

// ConvNet is the 4-layer convolutional architecture used across the
// few-shot literature (Finn et al. 2017):
//
//   - Omniglot flavor: hidden=64, single channel, stride-2 convolutions,
//     global spatial mean pooling.
//   - Mini-ImageNet flavor: hidden=32 (64 when used as an ANIL feature
//     extractor), stride-1 convolutions followed by 2x2 max pooling,
//     flattened output.
//
// Each block is convolution, batch-statistics normalization (no running
// averages, the inner loop adapts through the statistics), relu and
// optionally max pooling.
type ConvNet struct {
	NumClasses int
	Hidden     int
	Layers     int
	Channels   int
	Size       int // input height == width
	MaxPool    bool
}

// OmniglotCNN returns the Omniglot flavor for inputs [n, 28, 28, 1].
func OmniglotCNN(ways int) *ConvNet {
	return &ConvNet{NumClasses: ways, Hidden: 64, Layers: 4, Channels: 1, Size: 28}
}

// MiniImageNetCNN returns the Mini-ImageNet flavor for inputs [n, 84, 84, 3].
func MiniImageNetCNN(ways, hidden int) *ConvNet {
	return &ConvNet{NumClasses: ways, Hidden: hidden, Layers: 4, Channels: 3, Size: 84, MaxPool: true}
}

// NumFeatureParams returns the length of the FeatureParams slice.
func (m *ConvNet) NumFeatureParams() int { return 4 * m.Layers }

// NumFeatures returns the dimension of the feature vectors.
func (m *ConvNet) NumFeatures() int {
	if !m.MaxPool {
		return m.Hidden
	}
	size := m.Size
	for range m.Layers {
		size /= 2
	}
	return size * size * m.Hidden
}

// FeatureParams implements Model. Convolution kernels use Xavier-style
// normal initialization, biases and normalization offsets start at zero,
// normalization scales at one.
func (m *ConvNet) FeatureParams(ctx *context.Context, g *Graph) []*Node {
	params := make([]*Node, 0, m.NumFeatureParams())
	inChannels := m.Channels
	for layer := range m.Layers {
		layerCtx := ctx.Inf("conv_%d", layer)
		stddev := xavierStdDev(3*3*inChannels, 3*3*m.Hidden)
		kernel := layerCtx.
			WithInitializer(initializers.RandomNormalFn(layerCtx, stddev)).
			VariableWithShape("kernel", shapes.Make(DType, 3, 3, inChannels, m.Hidden))
		bias := layerCtx.WithInitializer(initializers.Zero).
			VariableWithShape("bias", shapes.Make(DType, m.Hidden))
		scale := layerCtx.WithInitializer(initializers.One).
			VariableWithShape("scale", shapes.Make(DType, m.Hidden))
		offset := layerCtx.WithInitializer(initializers.Zero).
			VariableWithShape("offset", shapes.Make(DType, m.Hidden))
		params = append(params,
			kernel.ValueGraph(g), bias.ValueGraph(g),
			scale.ValueGraph(g), offset.ValueGraph(g))
		inChannels = m.Hidden
	}
	return params
}

// HeadParams implements Model.
func (m *ConvNet) HeadParams(ctx *context.Context, g *Graph) []*Node {
	return linearParams(ctx.In("head"), g, m.NumFeatures(), m.NumClasses)
}

// ApplyFeatures implements Model.
func (m *ConvNet) ApplyFeatures(params []*Node, images *Node) *Node {
	x := images
	for layer := range m.Layers {
		kernel, bias := params[4*layer], params[4*layer+1]
		scale, offset := params[4*layer+2], params[4*layer+3]
		stride := 2
		if m.MaxPool {
			stride = 1
		}
		x = Convolve(x, kernel).Strides(stride).PadSame().Done()
		x = Add(x, InsertAxes(bias, 0, 0, 0))
		x = normalizeBatchStats(x, scale, offset)
		x = activations.Relu(x)
		if m.MaxPool {
			x = MaxPool(x).Window(2).Done()
		}
	}
	batchSize := x.Shape().Dimensions[0]
	if m.MaxPool {
		return Reshape(x, batchSize, -1)
	}
	// Global spatial mean pooling.
	return ReduceMean(x, 1, 2)
}

// ApplyHead implements Model.
func (m *ConvNet) ApplyHead(params []*Node, features *Node) *Node {
	return applyLinear(params, features)
}

// FCNet is the fully-connected Omniglot alternative: the flattened image
// through a stack of dense+relu layers, then a linear head.
type FCNet struct {
	NumClasses int
	InputDim   int
	Sizes      []int
}

// OmniglotFC returns the fully-connected Omniglot model.
func OmniglotFC(ways int) *FCNet {
	return &FCNet{NumClasses: ways, InputDim: 28 * 28, Sizes: []int{256, 128, 64, 64}}
}

// NumFeatureParams returns the length of the FeatureParams slice.
func (m *FCNet) NumFeatureParams() int { return 2 * len(m.Sizes) }

// FeatureParams implements Model.
func (m *FCNet) FeatureParams(ctx *context.Context, g *Graph) []*Node {
	params := make([]*Node, 0, m.NumFeatureParams())
	inDim := m.InputDim
	for layer, outDim := range m.Sizes {
		params = append(params, linearParams(ctx.Inf("dense_%d", layer), g, inDim, outDim)...)
		inDim = outDim
	}
	return params
}

// HeadParams implements Model.
func (m *FCNet) HeadParams(ctx *context.Context, g *Graph) []*Node {
	return linearParams(ctx.In("head"), g, m.Sizes[len(m.Sizes)-1], m.NumClasses)
}

// ApplyFeatures implements Model.
func (m *FCNet) ApplyFeatures(params []*Node, images *Node) *Node {
	batchSize := images.Shape().Dimensions[0]
	x := Reshape(images, batchSize, -1)
	for layer := range m.Sizes {
		x = applyLinear(params[2*layer:2*layer+2], x)
		x = activations.Relu(x)
	}
	return x
}

// ApplyHead implements Model.
func (m *FCNet) ApplyHead(params []*Node, features *Node) *Node {
	return applyLinear(params, features)
}

// linearParams creates weight [inDim, outDim] and bias [outDim] variables.
func linearParams(ctx *context.Context, g *Graph, inDim, outDim int) []*Node {
	weights := ctx.
		WithInitializer(initializers.RandomNormalFn(ctx, xavierStdDev(inDim, outDim))).
		VariableWithShape("weights", shapes.Make(DType, inDim, outDim))
	bias := ctx.WithInitializer(initializers.Zero).
		VariableWithShape("bias", shapes.Make(DType, outDim))
	return []*Node{weights.ValueGraph(g), bias.ValueGraph(g)}
}

func applyLinear(params []*Node, x *Node) *Node {
	weights, bias := params[0], params[1]
	return Add(Dot(x, weights), InsertAxes(bias, 0))
}

// normalizeBatchStats normalizes x [n, h, w, c] by the mean and variance of
// the current batch, per channel, then applies the learned scale and
// offset. No moving averages are kept: every forward pass, including at
// meta-test time, adapts to its batch, which is what MAML's inner loop
// expects to differentiate through.
func normalizeBatchStats(x, scale, offset *Node) *Node {
	mean := ReduceAndKeep(x, ReduceMean, 0, 1, 2)
	centered := Sub(x, mean)
	variance := ReduceAndKeep(Square(centered), ReduceMean, 0, 1, 2)
	normalized := Div(centered, Sqrt(AddScalar(variance, 1e-3)))
	return Add(Mul(normalized, InsertAxes(scale, 0, 0, 0)), InsertAxes(offset, 0, 0, 0))
}

func xavierStdDev(fanIn, fanOut int) float64 {
	return math.Sqrt(2.0 / float64(fanIn+fanOut))
}
