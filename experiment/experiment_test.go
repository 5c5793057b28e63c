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

package experiment

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExperimentLifecycle(t *testing.T) {
	base := t.TempDir()
	exp, err := New("maml", "omni", map[string]any{"ways": 5, "inner_lr": 0.1}, base)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(filepath.Base(exp.Dir), "maml_omni_"))
	assert.Len(t, exp.ID, 8)

	encoded, err := os.ReadFile(filepath.Join(exp.Dir, "params.json"))
	require.NoError(t, err)
	var params map[string]any
	require.NoError(t, json.Unmarshal(encoded, &params))
	assert.Equal(t, float64(5), params["ways"])

	for i := 0; i < 3; i++ {
		exp.LogMetrics(map[string]float64{
			"loss":   float64(3 - i),
			"reward": float64(i),
		})
	}
	assert.Equal(t, 3, exp.NumLogged())
	exp.Logger["test_acc"] = 0.97
	require.NoError(t, exp.SaveLogs())

	for _, name := range []string{"metrics.csv", "metrics.svg", "logger.json"} {
		_, err := os.Stat(filepath.Join(exp.Dir, name))
		assert.NoError(t, err, name)
	}

	encoded, err = os.ReadFile(filepath.Join(exp.Dir, "logger.json"))
	require.NoError(t, err)
	var logger map[string]any
	require.NoError(t, json.Unmarshal(encoded, &logger))
	assert.Equal(t, 0.97, logger["test_acc"])
	assert.NotEmpty(t, logger["elapsed_time"])

	encoded, err = os.ReadFile(filepath.Join(exp.Dir, "metrics.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(encoded)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "iteration,loss,reward", lines[0])
}

func TestInterruptedWithoutTrap(t *testing.T) {
	exp, err := New("ppo", "Particles2D-v1", nil, t.TempDir())
	require.NoError(t, err)
	assert.False(t, exp.Interrupted())
}

func TestParamsOf(t *testing.T) {
	type config struct {
		Ways    int
		InnerLR float64
	}
	params := ParamsOf(config{Ways: 5, InnerLR: 0.5})
	assert.Equal(t, float64(5), params["Ways"])
	assert.Equal(t, 0.5, params["InnerLR"])
}
