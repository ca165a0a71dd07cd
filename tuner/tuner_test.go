// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

package tuner

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denseflow/denseflow/sequential"
)

// fakeBackend satisfies backends.Backend without a device; the seams below keep
// the search from ever calling it.
type fakeBackend struct{ backends.Backend }

func searchConfig(t *testing.T) *Config {
	t.Helper()
	x := [][]float64{{1, 2}, {3, 4}}
	y := [][]float64{{1}, {0}}
	return New(fakeBackend{}).
		Data(x, y).
		Validation(x, y).
		Layers(
			SearchLayer{Units: []int{32, 64}, Activation: "relu", InputShape: []int{2}},
			SearchLayer{Units: []int{1}, Activation: "linear"},
		).
		LearningRates(0.01, 0.001).
		Loss(sequential.LossByName("mse")).
		Metrics(sequential.MetricByName("mae")).
		Verbosity(0).
		WriteTo(io.Discard)
}

func TestSearchPicksBestCandidate(t *testing.T) {
	c := searchConfig(t)

	// The objective (minimized) rewards wide first layers and the small
	// learning rate; best candidate is therefore units=[64,1], lr=0.001.
	c.runTrial = func(cand candidate, epochs int) (float64, error) {
		return 1.0/float64(cand.units[0]) + cand.learningRate, nil
	}
	var compiled *candidate
	c.compile = func(cand candidate) (*sequential.Model, error) {
		compiled = &cand
		return &sequential.Model{}, nil
	}

	model, err := c.Search()
	require.NoError(t, err)
	assert.NotNil(t, model)
	require.NotNil(t, compiled)
	assert.Equal(t, []int{64, 1}, compiled.units)
	assert.Equal(t, 0.001, compiled.learningRate)
}

func TestSearchMaximizesAccuracy(t *testing.T) {
	c := searchConfig(t).Metrics(sequential.MetricByName("accuracy"))

	assert.Equal(t, "val_accuracy", c.objectiveKey())

	c.runTrial = func(cand candidate, epochs int) (float64, error) {
		return float64(cand.units[0]), nil
	}
	var compiled *candidate
	c.compile = func(cand candidate) (*sequential.Model, error) {
		compiled = &cand
		return &sequential.Model{}, nil
	}

	_, err := c.Search()
	require.NoError(t, err)
	require.NotNil(t, compiled)
	assert.Equal(t, 64, compiled.units[0])
}

func TestSearchObjectiveFallsBackToTrainSplit(t *testing.T) {
	c := searchConfig(t)
	c.xVal, c.yVal = nil, nil
	assert.Equal(t, "mae", c.objectiveKey())
}

func TestSearchExhaustion(t *testing.T) {
	c := searchConfig(t)
	c.runTrial = func(cand candidate, epochs int) (float64, error) {
		return 0, errors.New("diverged")
	}
	c.compile = func(cand candidate) (*sequential.Model, error) {
		t.Fatal("compile must not be called when every trial failed")
		return nil, nil
	}

	_, err := c.Search()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted")
}

func TestSearchWritesTrialRecords(t *testing.T) {
	dir := t.TempDir()
	c := searchConfig(t).Dir(dir).RunName("unit_test_run")
	trials := 0
	c.runTrial = func(cand candidate, epochs int) (float64, error) {
		trials++
		return float64(trials), nil
	}
	c.compile = func(cand candidate) (*sequential.Model, error) {
		return &sequential.Model{}, nil
	}

	_, err := c.Search()
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(dir, "unit_test_run", "trial_*.json"))
	require.NoError(t, err)
	assert.Len(t, files, trials)
}

func TestSearchDefaultRunNameUsesClock(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	c := searchConfig(t).Dir(dir).Clock(func() time.Time { return at })
	c.runTrial = func(cand candidate, epochs int) (float64, error) { return 1, nil }
	c.compile = func(cand candidate) (*sequential.Model, error) { return &sequential.Model{}, nil }

	_, err := c.Search()
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "hyperband_20260831100000"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSearchValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config) *Config
		want   string
	}{
		{"missing data", func(c *Config) *Config { c.x = nil; return c }, "training data"},
		{"no layers", func(c *Config) *Config { return c.Layers() }, "search layer"},
		{"empty unit candidates", func(c *Config) *Config {
			return c.Layers(SearchLayer{Activation: "relu"})
		}, "no unit candidates"},
		{"no learning rates", func(c *Config) *Config { return c.LearningRates() }, "learning rate"},
		{"missing loss", func(c *Config) *Config { c.loss = sequential.Loss{}; return c }, "loss is required"},
		{"missing metrics", func(c *Config) *Config { return c.Metrics() }, "metric is required"},
		{"bad factor", func(c *Config) *Config { return c.Factor(1) }, "factor"},
		{"bad max epochs", func(c *Config) *Config { return c.MaxEpochs(0) }, "max epochs"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := test.mutate(searchConfig(t)).Search()
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.want)
		})
	}
}
