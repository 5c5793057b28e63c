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
	"github.com/metaexp/metalearn/metalearn"
)

// MetaConfig holds the hyperparameters of the meta reinforcement-learning
// runs.
type MetaConfig struct {
	MetaBatchSize  int // tasks per meta-iteration
	AdaptBatchSize int // episodes per adaptation step and per query set
	AdaptSteps     int
	InnerLR        float64
	OuterLR        float64
	Gamma, Tau     float64

	NumIterations int
	SaveEvery     int
	Seed          int64

	// AnilHead restricts adaptation to the policy head.
	AnilHead bool
}

// DefaultMetaConfig mirrors the usual Particles2D settings.
func DefaultMetaConfig() MetaConfig {
	return MetaConfig{
		MetaBatchSize:  20,
		AdaptBatchSize: 10,
		AdaptSteps:     1,
		InnerLR:        0.1,
		OuterLR:        0.01,
		Gamma:          0.99,
		Tau:            1.0,
		NumIterations:  500,
		SaveEvery:      25,
		Seed:           42,
	}
}

// inputsPerTask is the flat tensor count one task contributes to the
// meta-objective executions: (obs, actions, advantages) per adaptation
// step, then the query set's (obs, actions, advantages, logProbs, means,
// logStds).
func (cfg MetaConfig) inputsPerTask() int { return 3*cfg.AdaptSteps + 6 }

// OuterOptimizer applies one meta-update from the collected task batches.
// taskArgs is the flat tensor list laid out per MetaConfig.inputsPerTask,
// params the parameter values the batches were collected from.
type OuterOptimizer interface {
	Step(taskArgs []any, params []*tensors.Tensor) (loss float64, err error)
}

// MetaLearner runs MAML on a goal-conditioned environment: for each
// sampled task it adapts the policy with eager policy-gradient steps,
// collects query episodes with the adapted policy and hands the stored
// batches to an outer optimizer whose objective re-derives the adaptation
// in-graph.
type MetaLearner struct {
	backend backends.Backend
	ctx     *context.Context
	cfg     MetaConfig

	policy   *DiagNormalPolicy
	runner   *Runner
	baseline *LinearValue
	rng      *rand.Rand

	paramsExec *context.Exec
	adaptExec  *Exec
}

// NewMetaLearner builds the learner and its compiled executions for the
// environment.
func NewMetaLearner(backend backends.Backend, ctx *context.Context, env Env, cfg MetaConfig) *MetaLearner {
	policy := NewDiagNormalPolicy(env.ObservationSize(), env.ActionSize())
	rng := rand.New(rand.NewSource(cfg.Seed))
	ml := &MetaLearner{
		backend:  backend,
		ctx:      ctx,
		cfg:      cfg,
		policy:   policy,
		runner:   NewRunner(backend, policy, env, rng),
		baseline: NewLinearValue(env.ObservationSize()),
		rng:      rng,
	}
	ml.paramsExec = context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		return policy.Params(ctx, g)
	})
	keep := policy.KeepMask(cfg.AnilHead)
	numParams := policy.NumParams()
	ml.adaptExec = NewExec(backend, func(inputs []*Node) []*Node {
		params := inputs[:numParams]
		obs, actions, advantages := inputs[numParams], inputs[numParams+1], inputs[numParams+2]
		loss := policy.A2CLoss(params, obs, actions, advantages)
		return metalearn.GradientStep(params, keep, loss, cfg.InnerLR, true)
	})
	return ml
}

// Policy returns the learner's policy definition.
func (ml *MetaLearner) Policy() *DiagNormalPolicy { return ml.policy }

// Runner returns the episode collector.
func (ml *MetaLearner) Runner() *Runner { return ml.runner }

// CurrentParams reads the current meta-parameter values (initializing
// them on first use).
func (ml *MetaLearner) CurrentParams() []*tensors.Tensor {
	return ml.paramsExec.Call()
}

// SetParams writes parameter values back into the context variables.
func (ml *MetaLearner) SetParams(values []*tensors.Tensor) {
	for i, v := range ml.policy.Variables(ml.ctx) {
		v.SetValue(values[i])
	}
}

// AdaptStep performs one eager inner-loop gradient step on the batch and
// returns the adapted parameter values.
func (ml *MetaLearner) AdaptStep(params []*tensors.Tensor, batch *Batch) []*tensors.Tensor {
	args := make([]any, 0, len(params)+3)
	for _, p := range params {
		args = append(args, p)
	}
	args = append(args, batch.Obs, batch.Actions, batch.Advantages)
	return ml.adaptExec.Call(args...)
}

// AdaptToTask adapts the meta-parameters to one task, collecting fresh
// support episodes for every adaptation step. It returns the adapted
// parameters and the mean episode reward before adaptation.
func (ml *MetaLearner) AdaptToTask(task Task) (adapted []*tensors.Tensor, preReward float64, err error) {
	ml.runner.Env().SetTask(task)
	params := ml.CurrentParams()
	for k := 0; k < ml.cfg.AdaptSteps; k++ {
		episodes := ml.runner.Collect(params, ml.cfg.AdaptBatchSize)
		batch, err := BuildBatch(episodes, ml.baseline, float32(ml.cfg.Gamma), float32(ml.cfg.Tau))
		if err != nil {
			return nil, 0, err
		}
		if k == 0 {
			preReward = batch.MeanReward
		}
		params = ml.AdaptStep(params, batch)
	}
	return params, preReward, nil
}

// EvaluateTask collects episodes for the task with the given parameters
// and returns the mean episode reward.
func (ml *MetaLearner) EvaluateTask(params []*tensors.Tensor, task Task, numEpisodes int) float64 {
	ml.runner.Env().SetTask(task)
	episodes := ml.runner.Collect(params, numEpisodes)
	var total float64
	for _, ep := range episodes {
		total += ep.TotalReward()
	}
	return total / float64(len(episodes))
}

// IterationStats reports one meta-iteration for run tracking.
type IterationStats struct {
	PreAdaptReward  float64
	PostAdaptReward float64
	MetaLoss        float64
}

// collectIteration samples a task batch, runs the eager adaptation and
// packs the flat tensor arguments for the outer objective.
func (ml *MetaLearner) collectIteration(params []*tensors.Tensor) (taskArgs []any, stats IterationStats, err error) {
	cfg := ml.cfg
	gamma, tau := float32(cfg.Gamma), float32(cfg.Tau)
	env := ml.runner.Env()
	taskArgs = make([]any, 0, cfg.MetaBatchSize*cfg.inputsPerTask())
	tasks := env.SampleTasks(ml.rng, cfg.MetaBatchSize)
	for _, task := range tasks {
		env.SetTask(task)
		taskParams := params
		for k := 0; k < cfg.AdaptSteps; k++ {
			episodes := ml.runner.Collect(taskParams, cfg.AdaptBatchSize)
			batch, berr := BuildBatch(episodes, ml.baseline, gamma, tau)
			if berr != nil {
				return nil, stats, berr
			}
			if k == 0 {
				stats.PreAdaptReward += batch.MeanReward
			}
			taskArgs = append(taskArgs, batch.Obs, batch.Actions, batch.Advantages)
			taskParams = ml.AdaptStep(taskParams, batch)
		}
		queryEpisodes := ml.runner.Collect(taskParams, cfg.AdaptBatchSize)
		query, berr := BuildBatch(queryEpisodes, ml.baseline, gamma, tau)
		if berr != nil {
			return nil, stats, berr
		}
		stats.PostAdaptReward += query.MeanReward
		taskArgs = append(taskArgs,
			query.Obs, query.Actions, query.Advantages, query.LogProbs, query.Means, query.LogStds)
	}
	stats.PreAdaptReward /= float64(cfg.MetaBatchSize)
	stats.PostAdaptReward /= float64(cfg.MetaBatchSize)
	return taskArgs, stats, nil
}

// metaObjective re-derives the in-graph adaptation from the stored
// support batches and returns the mean query surrogate loss at the
// adapted parameters, plus the mean KL between the adapted policy and
// the behavior policy on the query states.
func (ml *MetaLearner) metaObjective(params []*Node, taskInputs []*Node) (loss, kl *Node) {
	cfg := ml.cfg
	keep := ml.policy.KeepMask(cfg.AnilHead)
	var lossSum, klSum *Node
	offset := 0
	for task := 0; task < cfg.MetaBatchSize; task++ {
		adapted := params
		for k := 0; k < cfg.AdaptSteps; k++ {
			supportLoss := ml.policy.A2CLoss(adapted,
				taskInputs[offset], taskInputs[offset+1], taskInputs[offset+2])
			offset += 3
			adapted = metalearn.GradientStep(adapted, keep, supportLoss, cfg.InnerLR, false)
		}
		obs, actions, advantages := taskInputs[offset], taskInputs[offset+1], taskInputs[offset+2]
		logProbs, behaviorMeans, behaviorLogStds := taskInputs[offset+3], taskInputs[offset+4], taskInputs[offset+5]
		offset += 6
		taskLoss := ml.policy.SurrogateLoss(adapted, obs, actions, advantages, logProbs)
		adaptedMean, adaptedLogStd := ml.policy.Distribution(adapted, obs)
		taskKL := MeanKL(behaviorMeans, behaviorLogStds, adaptedMean, adaptedLogStd)
		if task == 0 {
			lossSum, klSum = taskLoss, taskKL
		} else {
			lossSum, klSum = Add(lossSum, taskLoss), Add(klSum, taskKL)
		}
	}
	n := 1.0 / float64(cfg.MetaBatchSize)
	return MulScalar(lossSum, n), MulScalar(klSum, n)
}

// AdamOuter applies the meta-update with Adam on the meta-objective, the
// maml_rl outer optimizer.
type AdamOuter struct {
	exec *context.Exec
}

// NewAdamOuter compiles the meta-step execution: it unrolls the full
// meta-objective and lets Adam update the policy variables.
func NewAdamOuter(ml *MetaLearner) *AdamOuter {
	optimizer := optimizers.Adam().LearningRate(ml.cfg.OuterLR).Done()
	exec := context.NewExec(ml.backend, ml.ctx, func(ctx *context.Context, inputs []*Node) *Node {
		g := inputs[0].Graph()
		params := ml.policy.Params(ctx, g)
		loss, _ := ml.metaObjective(params, inputs)
		optimizer.UpdateGraph(ctx, g, loss)
		return loss
	})
	return &AdamOuter{exec: exec}
}

func (a *AdamOuter) Step(taskArgs []any, _ []*tensors.Tensor) (float64, error) {
	loss := a.exec.Call(taskArgs...)[0]
	return float64(tensors.ToScalar[float32](loss)), nil
}

// Train runs the meta-training loop: collect, meta-update, track, with
// periodic checkpoints under the experiment directory.
func (ml *MetaLearner) Train(exp *experiment.Experiment, outer OuterOptimizer) error {
	cfg := ml.cfg
	checkpoint := must.M1(checkpoints.Build(ml.ctx).
		Dir(filepath.Join(exp.Dir, "checkpoints")).
		Keep(3).
		Done())
	bar := progressbar.NewOptions(cfg.NumIterations,
		progressbar.OptionSetDescription(fmt.Sprintf("meta-training (%s)", exp.Algorithm)),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("iter"))
	for iteration := 0; iteration < cfg.NumIterations; iteration++ {
		params := ml.CurrentParams()
		taskArgs, stats, err := ml.collectIteration(params)
		if err != nil {
			return err
		}
		loss, err := outer.Step(taskArgs, params)
		if err != nil {
			return err
		}
		stats.MetaLoss = loss
		exp.LogMetrics(map[string]float64{
			"pre_adapt_reward":  stats.PreAdaptReward,
			"post_adapt_reward": stats.PostAdaptReward,
			"meta_loss":         stats.MetaLoss,
		})
		_ = bar.Add(1)
		if cfg.SaveEvery > 0 && (iteration+1)%cfg.SaveEvery == 0 {
			must.M(checkpoint.Save())
		}
		if exp.Interrupted() {
			klog.Info("Manually stopped meta-training, saving.")
			break
		}
	}
	_ = bar.Finish()
	fmt.Println()
	return errors.WithMessage(checkpoint.Save(), "saving final checkpoint")
}
