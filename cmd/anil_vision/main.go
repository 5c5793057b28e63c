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

// anil_vision meta-trains an ANIL few-shot classifier: the convolutional
// features are meta-learned but only the classifier head adapts per task.
//
// Example:
//
//	anil_vision --dataset=min --ways=5 --shots=5 --set="hidden=64"
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/metaexp/metalearn/vision"

	_ "github.com/gomlx/gomlx/backends/xla"
)

var (
	flagDataDir    = flag.String("data", "~/work/metalearn", "Directory to cache downloaded dataset files.")
	flagResultsDir = flag.String("results", "./results", "Base directory for run artifacts.")
	flagDataset    = flag.String("dataset", "omni", "Dataset: \"omni\" (Omniglot) or \"min\" (Mini-ImageNet).")

	flagWays       = flag.Int("ways", 5, "Number of classes per task.")
	flagShots      = flag.Int("shots", 5, "Number of support examples per class.")
	flagOuterLR    = flag.Float64("outer_lr", 0.001, "Meta-optimizer (Adam) learning rate.")
	flagInnerLR    = flag.Float64("inner_lr", 0.1, "Adaptation (inner SGD) learning rate.")
	flagAdaptSteps = flag.Int("adapt_steps", 5, "Adaptation steps per task.")
)

func main() {
	ctx := vision.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()

	ctx.SetParam(vision.ParamWays, *flagWays)
	ctx.SetParam(vision.ParamShots, *flagShots)
	ctx.SetParam(vision.ParamInnerLR, *flagInnerLR)
	ctx.SetParam(vision.ParamAdaptSteps, *flagAdaptSteps)
	ctx.SetParam(optimizers.ParamLearningRate, *flagOuterLR)
	_ = must.M1(commandline.ParseContextSettings(ctx, *settings))

	dataDir := data.ReplaceTildeInDir(*flagDataDir)
	if !data.FileExists(dataDir) {
		must.M(os.MkdirAll(dataDir, 0777))
	}

	backend := backends.New()
	fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())

	err := exceptions.TryCatch[error](func() {
		must.M(vision.TrainMeta(ctx, backend, vision.TrainConfig{
			Algorithm:  "anil",
			Dataset:    *flagDataset,
			DataDir:    dataDir,
			ResultsDir: *flagResultsDir,
		}))
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}
