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
	"fmt"
	"path/filepath"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/metrics"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/metaexp/metalearn/experiment"
)

// Hyperparameter names shared by the vision runners, set on the context.
const (
	ParamWays          = "ways"
	ParamShots         = "shots"
	ParamMetaBatchSize = "meta_batch_size"
	ParamAdaptSteps    = "adapt_steps"
	ParamInnerLR       = "inner_lr"
	ParamFirstOrder    = "first_order"
	ParamNumIterations = "num_iterations"
	ParamEvalBatches   = "eval_batches"
	ParamSeed          = "seed"
	ParamOmniModel     = "omni_model" // "cnn" or "fc"
	ParamHidden        = "hidden"     // Mini-ImageNet feature channels
)

// CreateDefaultContext returns a context with the default hyperparameters
// of the vision meta-learning runners. The outer optimizer is Adam with
// the "meta" learning rate; the inner loop is plain SGD with ParamInnerLR.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.RngStateReset()
	ctx.SetParams(map[string]any{
		ParamWays:          5,
		ParamShots:         5,
		ParamMetaBatchSize: 32,
		ParamAdaptSteps:    5,
		ParamInnerLR:       0.1,
		ParamFirstOrder:    false,
		ParamNumIterations: 1000,
		ParamEvalBatches:   20,
		ParamSeed:          42,
		ParamOmniModel:     "cnn",
		ParamHidden:        32,
		"num_checkpoints":  3,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.001,
	})
	return ctx
}

// TrainConfig names one vision run.
type TrainConfig struct {
	// Algorithm is "maml" or "anil".
	Algorithm string

	// Dataset is "omni" (Omniglot) or "min" (Mini-ImageNet).
	Dataset string

	// DataDir caches downloaded datasets.
	DataDir string

	// ResultsDir is the base directory for run artifacts.
	ResultsDir string
}

var errInterrupted = errors.New("training manually interrupted")

// TrainMeta meta-trains on few-shot classification tasks according to the
// context hyperparameters, evaluates on meta-test tasks and stores all
// artifacts (params, metrics, curves, checkpoints) under a fresh run
// directory.
func TrainMeta(ctx *context.Context, backend backends.Backend, config TrainConfig) error {
	ways := context.GetParamOr(ctx, ParamWays, 5)
	shots := context.GetParamOr(ctx, ParamShots, 5)
	metaBatch := context.GetParamOr(ctx, ParamMetaBatchSize, 32)
	numIterations := context.GetParamOr(ctx, ParamNumIterations, 1000)
	evalBatches := context.GetParamOr(ctx, ParamEvalBatches, 20)
	seed := int64(context.GetParamOr(ctx, ParamSeed, 42))
	metaCfg := MetaConfig{
		AdaptSteps: context.GetParamOr(ctx, ParamAdaptSteps, 5),
		InnerLR:    context.GetParamOr(ctx, ParamInnerLR, 0.1),
		FirstOrder: context.GetParamOr(ctx, ParamFirstOrder, false),
		Anil:       config.Algorithm == "anil",
	}

	model, size, channels, err := buildModel(ctx, config.Dataset, ways)
	if err != nil {
		return err
	}
	trainClasses, validClasses, testClasses, err := loadDataset(config.Dataset, config.DataDir)
	if err != nil {
		return err
	}
	trainDS, err := NewTaskSampler("meta-train", trainClasses, size, size, channels, ways, shots, metaBatch, seed)
	if err != nil {
		return err
	}
	validDS, err := NewTaskSampler("meta-valid", validClasses, size, size, channels, ways, shots, metaBatch, seed+1)
	if err != nil {
		return err
	}
	testDS, err := NewTaskSampler("meta-test", testClasses, size, size, channels, ways, shots, metaBatch, seed+2)
	if err != nil {
		return err
	}
	validDS.WithLimit(evalBatches)
	testDS.WithLimit(evalBatches)

	exp, err := experiment.New(config.Algorithm, config.Dataset, contextParamsMap(ctx), config.ResultsDir)
	if err != nil {
		return err
	}
	exp.TrapInterrupt()
	klog.Infof("Run directory: %s", exp.Dir)

	trainer := train.NewTrainer(backend, ctx,
		MetaModelFn(model, metaCfg),
		losses.SparseCategoricalCrossEntropyLogits,
		optimizers.FromContext(ctx),
		[]metrics.Interface{metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)},
		[]metrics.Interface{metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "#acc")})

	loop := train.NewLoop(trainer)
	commandline.AttachProgressBar(loop)

	numCheckpoints := context.GetParamOr(ctx, "num_checkpoints", 3)
	checkpoint := must.M1(checkpoints.Build(ctx).
		Dir(filepath.Join(exp.Dir, "checkpoints")).
		Keep(numCheckpoints).
		Done())

	train.EveryNSteps(loop, 10, "run tracking", 100,
		func(loop *train.Loop, stepMetrics []*tensors.Tensor) error {
			row := map[string]float64{
				"train_loss": float64(tensors.ToScalar[float32](stepMetrics[0])),
			}
			if len(stepMetrics) > 1 {
				row["train_acc"] = float64(tensors.ToScalar[float32](stepMetrics[len(stepMetrics)-1]))
			}
			exp.LogMetrics(row)
			if exp.Interrupted() {
				return errInterrupted
			}
			return nil
		})

	globalStep := int(optimizers.GetGlobalStep(ctx))
	if globalStep > 0 {
		trainer.SetContext(ctx.Reuse())
	}
	if _, err := loop.RunSteps(trainDS, numIterations-globalStep); err != nil {
		if !errors.Is(err, errInterrupted) {
			return errors.WithMessage(err, "meta-training")
		}
		klog.Info("Manually stopped training, evaluating and saving.")
	}
	must.M(checkpoint.Save())

	// Meta-validation / meta-test metrics through the standard reporting.
	fmt.Println()
	must.M(commandline.ReportEval(trainer, validDS, testDS))

	testAcc, err := EvaluateMeta(ctx, backend, model, metaCfg, testDS)
	if err != nil {
		return err
	}
	fmt.Printf("Meta-test accuracy: %.4f\n", testAcc)
	exp.Logger["test_acc"] = testAcc
	return exp.SaveLogs()
}

// EvaluateMeta runs fast adaptation on meta-test tasks and returns the
// mean query accuracy over the sampler's batches.
func EvaluateMeta(ctx *context.Context, backend backends.Backend, model Model, cfg MetaConfig, testDS *TaskSampler) (float64, error) {
	evalGraph := MetaAccuracyGraph(model, cfg)
	evalExec := context.NewExec(backend, ctx.Reuse(),
		func(ctx *context.Context, support, supportLabels, query, queryLabels *Node) *Node {
			return evalGraph(ctx, []*Node{support, supportLabels, query, queryLabels})
		})
	testDS.Reset()
	total, batches := 0.0, 0
	for {
		_, inputs, labels, err := testDS.Yield()
		if err != nil {
			break
		}
		accuracy := evalExec.Call(inputs[0], inputs[1], inputs[2], labels[0])[0]
		total += float64(tensors.ToScalar[float32](accuracy))
		batches++
	}
	if batches == 0 {
		return 0, errors.New("meta-test sampler yielded no batches")
	}
	return total / float64(batches), nil
}

// buildModel selects the architecture for the dataset.
func buildModel(ctx *context.Context, dataset string, ways int) (model Model, size, channels int, err error) {
	switch dataset {
	case "omni":
		if context.GetParamOr(ctx, ParamOmniModel, "cnn") == "fc" {
			return OmniglotFC(ways), OmniglotSize, 1, nil
		}
		return OmniglotCNN(ways), OmniglotSize, 1, nil
	case "min":
		hidden := context.GetParamOr(ctx, ParamHidden, 32)
		return MiniImageNetCNN(ways, hidden), MiniImageNetSize, 3, nil
	}
	return nil, 0, 0, errors.Errorf("dataset %q not supported, pick \"omni\" or \"min\"", dataset)
}

func loadDataset(dataset, dataDir string) (trainClasses, validClasses, testClasses []Class, err error) {
	switch dataset {
	case "omni":
		if err = DownloadOmniglot(dataDir); err != nil {
			return
		}
		return LoadOmniglot(dataDir)
	case "min":
		return LoadMiniImageNet(dataDir)
	}
	err = errors.Errorf("dataset %q not supported, pick \"omni\" or \"min\"", dataset)
	return
}

// contextParamsMap snapshots the context hyperparameters in the root
// scope, for the run's params.json.
func contextParamsMap(ctx *context.Context) map[string]any {
	params := make(map[string]any)
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope == context.RootScope {
			params[key] = value
		}
	})
	return params
}
