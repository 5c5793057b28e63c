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

// maml_trpo meta-trains a MAML policy with a trust-region outer step on
// a goal-conditioned environment.
//
// Example:
//
//	maml_trpo --env=Particles2D-v1 --outer_lr=0.1 --adapt_steps=3
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

	flagOuterLR        = flag.Float64("outer_lr", 0.1, "Initial line-search step size.")
	flagInnerLR        = flag.Float64("inner_lr", 0.1, "Adaptation (inner SGD) learning rate.")
	flagAdaptSteps     = flag.Int("adapt_steps", 1, "Adaptation steps per task, each on fresh episodes.")
	flagMetaBatchSize  = flag.Int("meta_batch_size", 20, "Tasks per meta-iteration.")
	flagAdaptBatchSize = flag.Int("adapt_batch_size", 10, "Episodes per adaptation step and query set.")
	flagNumIterations  = flag.Int("num_iterations", 500, "Meta-training iterations.")
	flagSaveEvery      = flag.Int("save_every", 25, "Checkpoint period in iterations.")
	flagSeed           = flag.Int64("seed", 42, "Random seed for tasks and action noise.")

	flagMaxKL           = flag.Float64("max_kl", 0.01, "Trust-region bound on the mean KL to the behavior policy.")
	flagLSMaxSteps      = flag.Int("ls_max_steps", 15, "Backtracking line-search attempts.")
	flagBacktrackFactor = flag.Float64("backtrack_factor", 0.8, "Step-size shrink factor between attempts.")
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
	trpoCfg := rl.TRPOConfig{
		MaxKL:           *flagMaxKL,
		LSMaxSteps:      *flagLSMaxSteps,
		BacktrackFactor: *flagBacktrackFactor,
	}

	env := must.M1(rl.MakeEnv(*flagEnv))
	backend := backends.New()
	fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	fmt.Println(rl.CalculateSamplesSeen(
		env.Horizon(), cfg.AdaptBatchSize, cfg.AdaptSteps, cfg.MetaBatchSize, cfg.NumIterations))

	err := exceptions.TryCatch[error](func() { must.M(run(backend, env, cfg, trpoCfg)) })
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

func run(backend backends.Backend, env rl.Env, cfg rl.MetaConfig, trpoCfg rl.TRPOConfig) error {
	ctx := context.New()
	ctx.RngStateReset()
	learner := rl.NewMetaLearner(backend, ctx, env, cfg)

	params := experiment.ParamsOf(cfg)
	for k, v := range experiment.ParamsOf(trpoCfg) {
		params[k] = v
	}
	exp, err := experiment.New("maml_trpo", env.Name(), params, *flagResultsDir)
	if err != nil {
		return err
	}
	exp.TrapInterrupt()
	klog.Infof("Run directory: %s", exp.Dir)

	if err := learner.Train(exp, rl.NewTRPOOuter(learner, trpoCfg)); err != nil {
		return err
	}
	return exp.SaveLogs()
}
