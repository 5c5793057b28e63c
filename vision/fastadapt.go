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
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/metaexp/metalearn/metalearn"
)

// MetaConfig configures the fast-adaptation model graph.
type MetaConfig struct {
	// AdaptSteps is the number of inner-loop gradient steps per task.
	AdaptSteps int

	// InnerLR is the inner-loop ("fast") learning rate.
	InnerLR float64

	// FirstOrder drops the second-order terms of the meta-gradient.
	FirstOrder bool

	// Anil freezes the feature extractor in the inner loop, adapting only
	// the head.
	Anil bool
}

// MetaModelFn returns a train.ModelFn whose forward pass is the full
// meta-learning episode: for each task of the meta-batch, adapt the model
// parameters on the support set (inner loop unrolled in-graph) and compute
// the query-set logits at the adapted parameters. The trainer's loss on
// those logits is the meta-objective, so the regular outer optimizer
// performs the meta-update.
//
// Inputs are the three tensors of TaskSampler.Yield; the returned logits
// are [metaBatch*ways*shots, ways], aligned with the sampler's query
// labels.
func MetaModelFn(model Model, cfg MetaConfig) train.ModelFn {
	return func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		_ = spec
		support, supportLabels, query := inputs[0], inputs[1], inputs[2]
		g := support.Graph()
		ctx = ctx.In("model")

		params := append(model.FeatureParams(ctx, g), model.HeadParams(ctx, g)...)
		numFeature := model.NumFeatureParams()
		var keep []bool
		if cfg.Anil {
			keep = make([]bool, len(params))
			for i := numFeature; i < len(params); i++ {
				keep[i] = true
			}
		}

		metaBatch := support.Shape().Dimensions[0]
		taskLogits := make([]*Node, 0, metaBatch)
		for task := 0; task < metaBatch; task++ {
			taskSupport := taskSlice(support, task)
			taskLabels := taskSlice(supportLabels, task)
			taskQuery := taskSlice(query, task)

			supportLoss := func(p []*Node) *Node {
				logits := Apply(model, p, numFeature, taskSupport)
				return losses.SparseCategoricalCrossEntropyLogits(
					[]*Node{taskLabels}, []*Node{logits})
			}
			adapted := metalearn.AdaptPartial(params, keep, supportLoss,
				cfg.AdaptSteps, cfg.InnerLR, cfg.FirstOrder)
			taskLogits = append(taskLogits, Apply(model, adapted, numFeature, taskQuery))
		}
		return []*Node{Concatenate(taskLogits, 0)}
	}
}

// MetaAccuracyGraph builds the mean query accuracy for one meta-batch, for
// evaluation outside the trainer. inputs follow TaskSampler.Yield order:
// support images, support labels, query images, query labels.
func MetaAccuracyGraph(model Model, cfg MetaConfig) func(ctx *context.Context, inputs []*Node) *Node {
	modelFn := MetaModelFn(model, cfg)
	return func(ctx *context.Context, inputs []*Node) *Node {
		logits := modelFn(ctx, nil, inputs[:3])[0]
		labels := inputs[3]
		predictions := ArgMax(logits, -1, dtypes.Int32)
		correct := ConvertDType(Equal(predictions, Squeeze(labels, -1)), DType)
		return ReduceAllMean(correct)
	}
}

// taskSlice takes element `task` from the leading meta-batch axis.
func taskSlice(x *Node, task int) *Node {
	return Squeeze(Slice(x, AxisElem(task)), 0)
}
