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
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/metaexp/metalearn/experiment"
)

// PPOConfig holds the hyperparameters of the non-meta PPO baseline.
type PPOConfig struct {
	EpisodesPerBatch int
	Epochs           int // optimization epochs per collected batch
	ClipRatio        float64
	LearningRate     float64
	Gamma, Tau       float64

	NumIterations int
	SaveEvery     int
	Seed          int64
}

// DefaultPPOConfig mirrors the baseline's usual Particles2D settings.
func DefaultPPOConfig() PPOConfig {
	return PPOConfig{
		EpisodesPerBatch: 10,
		Epochs:           10,
		ClipRatio:        0.1,
		LearningRate:     0.001,
		Gamma:            0.99,
		Tau:              1.0,
		NumIterations:    500,
		SaveEvery:        25,
		Seed:             42,
	}
}

// PPO trains a single policy with the clipped surrogate objective over
// the environment's task distribution, no adaptation. It serves as the
// non-meta baseline for the MAML runs.
type PPO struct {
	ctx *context.Context
	cfg PPOConfig

	policy   *DiagNormalPolicy
	runner   *Runner
	baseline *LinearValue
	rng      *rand.Rand

	paramsExec *context.Exec
	updateExec *context.Exec
}

// NewPPO builds the trainer and compiles its update execution.
func NewPPO(backend backends.Backend, ctx *context.Context, env Env, cfg PPOConfig) *PPO {
	policy := NewDiagNormalPolicy(env.ObservationSize(), env.ActionSize())
	rng := rand.New(rand.NewSource(cfg.Seed))
	p := &PPO{
		ctx:      ctx,
		cfg:      cfg,
		policy:   policy,
		runner:   NewRunner(backend, policy, env, rng),
		baseline: NewLinearValue(env.ObservationSize()),
		rng:      rng,
	}
	p.paramsExec = context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		return policy.Params(ctx, g)
	})
	optimizer := optimizers.Adam().LearningRate(cfg.LearningRate).Done()
	p.updateExec = context.NewExec(backend, ctx,
		func(ctx *context.Context, obs, actions, advantages, logProbs *Node) *Node {
			g := obs.Graph()
			params := policy.Params(ctx, g)
			loss := policy.ClipLoss(params, obs, actions, advantages, logProbs, cfg.ClipRatio)
			optimizer.UpdateGraph(ctx, g, loss)
			return loss
		})
	return p
}

// Train runs the PPO loop: a fresh task and episode batch per iteration,
// several clipped-surrogate epochs on it.
func (p *PPO) Train(exp *experiment.Experiment) error {
	cfg := p.cfg
	env := p.runner.Env()
	checkpoint := must.M1(checkpoints.Build(p.ctx).
		Dir(filepath.Join(exp.Dir, "checkpoints")).
		Keep(3).
		Done())
	bar := progressbar.NewOptions(cfg.NumIterations,
		progressbar.OptionSetDescription("ppo"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("iter"))
	for iteration := 0; iteration < cfg.NumIterations; iteration++ {
		env.SetTask(env.SampleTasks(p.rng, 1)[0])
		params := p.paramsExec.Call()
		episodes := p.runner.Collect(params, cfg.EpisodesPerBatch)
		batch, err := BuildBatch(episodes, p.baseline, float32(cfg.Gamma), float32(cfg.Tau))
		if err != nil {
			return err
		}
		var loss float64
		for epoch := 0; epoch < cfg.Epochs; epoch++ {
			lossT := p.updateExec.Call(batch.Obs, batch.Actions, batch.Advantages, batch.LogProbs)[0]
			loss = float64(tensors.ToScalar[float32](lossT))
		}
		exp.LogMetrics(map[string]float64{
			"reward": batch.MeanReward,
			"loss":   loss,
		})
		_ = bar.Add(1)
		if cfg.SaveEvery > 0 && (iteration+1)%cfg.SaveEvery == 0 {
			must.M(checkpoint.Save())
		}
		if exp.Interrupted() {
			klog.Info("Manually stopped training, saving.")
			break
		}
	}
	_ = bar.Finish()
	fmt.Println()
	return errors.WithMessage(checkpoint.Save(), "saving final checkpoint")
}
