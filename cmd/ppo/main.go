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

// ppo trains a single policy with clipped-surrogate PPO over the task
// distribution, the non-meta baseline for the MAML runs.
//
// Example:
//
//	ppo --env=Particles2D-v1 --lr=0.001 --epochs=10
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

	flagLR            = flag.Float64("lr", 0.001, "Adam learning rate.")
	flagClipRatio     = flag.Float64("clip_ratio", 0.1, "PPO clipping range.")
	flagEpochs        = flag.Int("epochs", 10, "Optimization epochs per collected batch.")
	flagEpisodes      = flag.Int("episodes", 10, "Episodes per batch.")
	flagNumIterations = flag.Int("num_iterations", 500, "Training iterations.")
	flagSaveEvery     = flag.Int("save_every", 25, "Checkpoint period in iterations.")
	flagSeed          = flag.Int64("seed", 42, "Random seed for tasks and action noise.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	cfg := rl.DefaultPPOConfig()
	cfg.LearningRate = *flagLR
	cfg.ClipRatio = *flagClipRatio
	cfg.Epochs = *flagEpochs
	cfg.EpisodesPerBatch = *flagEpisodes
	cfg.NumIterations = *flagNumIterations
	cfg.SaveEvery = *flagSaveEvery
	cfg.Seed = *flagSeed

	env := must.M1(rl.MakeEnv(*flagEnv))
	backend := backends.New()
	fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())

	err := exceptions.TryCatch[error](func() { must.M(run(backend, env, cfg)) })
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

func run(backend backends.Backend, env rl.Env, cfg rl.PPOConfig) error {
	ctx := context.New()
	ctx.RngStateReset()
	trainer := rl.NewPPO(backend, ctx, env, cfg)

	exp, err := experiment.New("ppo", env.Name(), experiment.ParamsOf(cfg), *flagResultsDir)
	if err != nil {
		return err
	}
	exp.TrapInterrupt()
	klog.Infof("Run directory: %s", exp.Dir)

	if err := trainer.Train(exp); err != nil {
		return err
	}
	return exp.SaveLogs()
}
