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

import (
	"testing"

	_ "github.com/gomlx/gomlx/backends/simplego"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetaModelFnShapes(t *testing.T) {
	const (
		ways      = 3
		shots     = 1
		metaBatch = 2
		side      = OmniglotSize
	)
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.RngStateReset()

	classes := syntheticClasses(6, 2*shots, side*side)
	sampler, err := NewTaskSampler("test", classes, side, side, 1, ways, shots, metaBatch, 3)
	require.NoError(t, err)
	_, inputs, labels, err := sampler.Yield()
	require.NoError(t, err)

	model := OmniglotFC(ways)
	cfg := MetaConfig{AdaptSteps: 1, InnerLR: 0.4}
	modelFn := MetaModelFn(model, cfg)
	exec := context.NewExec(backend, ctx,
		func(ctx *context.Context, inputs []*Node) *Node {
			return modelFn(ctx, nil, inputs)[0]
		})
	logits := exec.Call(inputs[0], inputs[1], inputs[2])[0]
	assert.Equal(t, []int{metaBatch * ways * shots, ways}, logits.Shape().Dimensions)

	accFn := MetaAccuracyGraph(model, cfg)
	accExec := context.NewExec(backend, ctx.Reuse(),
		func(ctx *context.Context, inputs []*Node) *Node {
			return accFn(ctx, inputs)
		})
	accuracy := tensors.ToScalar[float32](
		accExec.Call(inputs[0], inputs[1], inputs[2], labels[0])[0])
	assert.GreaterOrEqual(t, accuracy, float32(0))
	assert.LessOrEqual(t, accuracy, float32(1))
}

func TestConvNetShapes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, test := range []struct {
		name          string
		model         Model
		side, channel int
		ways          int
	}{
		{"omniglot cnn", OmniglotCNN(5), OmniglotSize, 1, 5},
		{"mini-imagenet cnn", MiniImageNetCNN(5, 32), MiniImageNetSize, 3, 5},
	} {
		t.Run(test.name, func(t *testing.T) {
			ctx := context.New()
			ctx.RngStateReset()
			exec := context.NewExec(backend, ctx,
				func(ctx *context.Context, images *Node) *Node {
					g := images.Graph()
					ctx = ctx.In("model")
					params := append(test.model.FeatureParams(ctx, g), test.model.HeadParams(ctx, g)...)
					return Apply(test.model, params, test.model.NumFeatureParams(), images)
				})
			images := tensors.FromFlatDataAndDimensions(
				make([]float32, 2*test.side*test.side*test.channel),
				2, test.side, test.side, test.channel)
			logits := exec.Call(images)[0]
			assert.Equal(t, []int{2, test.ways}, logits.Shape().Dimensions)
		})
	}
}

func TestMiniImageNetCNNNumFeatures(t *testing.T) {
	// 84 halves four times to 5, so the flattened features are 5·5·32.
	assert.Equal(t, 800, MiniImageNetCNN(5, 32).NumFeatures())
	assert.Equal(t, 64, OmniglotCNN(5).NumFeatures())
}
