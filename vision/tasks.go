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
	"io"
	"math/rand"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Class holds all images of one character/category, each flattened to
// height*width*channels float32 values in [0, 1].
type Class struct {
	Images [][]float32
}

// TaskSampler samples N-way K-shot episodes and implements train.Dataset,
// so the standard GoMLX training loop drives meta-training directly.
//
// Each Yield returns one meta-batch of tasks:
//
//	inputs[0]: support images [metaBatch, ways*shots, h, w, c]
//	inputs[1]: support labels [metaBatch, ways*shots, 1] (int32)
//	inputs[2]: query images   [metaBatch, ways*shots, h, w, c]
//	labels[0]: query labels   [metaBatch*ways*shots, 1] (int32)
//
// Labels are the position of the class within the task (0..ways-1). For
// each selected class 2*shots images are drawn without replacement and
// interleaved into support and query halves.
type TaskSampler struct {
	name             string
	classes          []Class
	height, width    int
	channels         int
	Ways, Shots      int
	MetaBatch        int
	rng              *rand.Rand
	limit, remaining int
}

// NewTaskSampler creates a sampler over the given classes. It validates
// that every class has at least 2*shots images.
func NewTaskSampler(name string, classes []Class, height, width, channels, ways, shots, metaBatch int, seed int64) (*TaskSampler, error) {
	if len(classes) < ways {
		return nil, errors.Errorf("sampler %q: %d classes available, need at least ways=%d", name, len(classes), ways)
	}
	for i, class := range classes {
		if len(class.Images) < 2*shots {
			return nil, errors.Errorf("sampler %q: class %d has %d images, need 2*shots=%d",
				name, i, len(class.Images), 2*shots)
		}
	}
	return &TaskSampler{
		name:    name,
		classes: classes,
		height:  height, width: width, channels: channels,
		Ways: ways, Shots: shots, MetaBatch: metaBatch,
		rng: rand.New(rand.NewSource(seed)),
	}, nil
}

// WithLimit returns the sampler configured to yield at most n meta-batches
// before io.EOF, for evaluation passes. n <= 0 means unlimited.
func (s *TaskSampler) WithLimit(n int) *TaskSampler {
	s.limit = n
	s.remaining = n
	return s
}

// Name implements train.Dataset.
func (s *TaskSampler) Name() string { return s.name }

// Reset implements train.Dataset.
func (s *TaskSampler) Reset() { s.remaining = s.limit }

// Yield implements train.Dataset.
func (s *TaskSampler) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if s.limit > 0 {
		if s.remaining == 0 {
			return nil, nil, nil, io.EOF
		}
		s.remaining--
	}
	perTask := s.Ways * s.Shots
	imageLen := s.height * s.width * s.channels
	supportImages := make([]float32, 0, s.MetaBatch*perTask*imageLen)
	queryImages := make([]float32, 0, s.MetaBatch*perTask*imageLen)
	supportLabels := make([]int32, 0, s.MetaBatch*perTask)
	queryLabels := make([]int32, 0, s.MetaBatch*perTask)

	for range s.MetaBatch {
		ways := s.rng.Perm(len(s.classes))[:s.Ways]
		for wayIdx, classIdx := range ways {
			class := s.classes[classIdx]
			picks := s.rng.Perm(len(class.Images))[:2*s.Shots]
			// Even picks adapt, odd picks evaluate.
			for shot := 0; shot < s.Shots; shot++ {
				supportImages = append(supportImages, class.Images[picks[2*shot]]...)
				queryImages = append(queryImages, class.Images[picks[2*shot+1]]...)
				supportLabels = append(supportLabels, int32(wayIdx))
				queryLabels = append(queryLabels, int32(wayIdx))
			}
		}
	}

	inputs = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(supportImages, s.MetaBatch, perTask, s.height, s.width, s.channels),
		tensors.FromFlatDataAndDimensions(supportLabels, s.MetaBatch, perTask, 1),
		tensors.FromFlatDataAndDimensions(queryImages, s.MetaBatch, perTask, s.height, s.width, s.channels),
	}
	labels = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(queryLabels, s.MetaBatch*perTask, 1),
	}
	return s, inputs, labels, nil
}

// IsOwnershipTransferred tells the training loop it may finalize the
// yielded tensors after use: they are rebuilt every batch.
func (s *TaskSampler) IsOwnershipTransferred() bool { return true }

// Select returns the items of `items` at the given indices.
func Select[T any, I constraints.Integer](items []T, indices []I) []T {
	selected := make([]T, 0, len(indices))
	for _, i := range indices {
		selected = append(selected, items[i])
	}
	return selected
}
