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

// maml_rl meta-trains a MAML policy with an Adam outer step on a
// goal-conditioned environment.
//
// Example:
//
//	maml_rl --env=Particles2D-v1 --outer_lr=0.01 --adapt_steps=1
package main

import (
	"flag"
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/metaexp/metalearn/experiment"
	"github.com/metaexp/metalearn/rl"

	_ "github.com/gomlx/gomlx/backends/xla"
)

var (
	flagEnv        = flag.String("env", "Particles2D-v1", "Environment name.")
	flagResultsDir = flag.String("results", "./results", "Base directory for run artifacts.")

	flagOuterLR        = flag.Float64("outer_lr", 0.01, "Meta-optimizer learning rate.")
	flagInnerLR        = flag.Float64("inner_lr", 0.1, "Adaptation (inner SGD) learning rate.")
	flagAdaptSteps     = flag.Int("adapt_steps", 1, "Adaptation steps per task, each on fresh episodes.")
	flagMetaBatchSize  = flag.Int("meta_batch_size", 20, "Tasks per meta-iteration.")
	flagAdaptBatchSize = flag.Int("adapt_batch_size", 10, "Episodes per adaptation step and query set.")
	flagNumIterations  = flag.Int("num_iterations", 500, "Meta-training iterations.")
	flagSaveEvery      = flag.Int("save_every", 25, "Checkpoint period in iterations.")
	flagSeed           = flag.Int64("seed", 42, "Random seed for tasks and action noise.")

	flagCLTasks = flag.Int("cl_tasks", 0, "If > 0, run the continual-learning probe over this many tasks after training.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	cfg := rl.DefaultMetaConfig()
	cfg.OuterLR = *flagOuterLR
	cfg.InnerLR = *flagInnerLR
	cfg.AdaptSteps = *flagAdaptSteps
	cfg.MetaBatchSize = *flagMetaBatchSize
	cfg.AdaptBatchSize = *flagAdaptBatchSize
	cfg.NumIterations = *flagNumIterations
	cfg.SaveEvery = *flagSaveEvery
	cfg.Seed = *flagSeed

	env := must.M1(rl.MakeEnv(*flagEnv))
	backend := backends.New()
	fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	fmt.Println(rl.CalculateSamplesSeen(
		env.Horizon(), cfg.AdaptBatchSize, cfg.AdaptSteps, cfg.MetaBatchSize, cfg.NumIterations))

	err := exceptions.TryCatch[error](func() { must.M(run(backend, env, cfg)) })
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

func run(backend backends.Backend, env rl.Env, cfg rl.MetaConfig) error {
	ctx := context.New()
	ctx.RngStateReset()
	learner := rl.NewMetaLearner(backend, ctx, env, cfg)

	exp, err := experiment.New("maml", env.Name(), experiment.ParamsOf(cfg), *flagResultsDir)
	if err != nil {
		return err
	}
	exp.TrapInterrupt()
	klog.Infof("Run directory: %s", exp.Dir)

	if err := learner.Train(exp, rl.NewAdamOuter(learner)); err != nil {
		return err
	}
	if *flagCLTasks > 0 {
		result, err := learner.EvaluateContinual(*flagCLTasks, cfg.AdaptBatchSize)
		if err != nil {
			return err
		}
		if err := result.SaveCSV(exp.Dir); err != nil {
			return err
		}
	}
	return exp.SaveLogs()
}
