// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

package denseflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denseflow/denseflow/sequential"
)

func TestLinearLayerSpecs(t *testing.T) {
	specs := LinearLayerSpecs([]int{64, 32}, 10)
	assert.Equal(t, []sequential.LayerSpec{
		{Units: 64, Activation: "relu", InputShape: []int{10}},
		{Units: 32, Activation: "relu"},
		{Units: 1, Activation: "linear"},
	}, specs)
}

func TestLinearLayerSpecsNoHiddenLayers(t *testing.T) {
	specs := LinearLayerSpecs(nil, 3)
	require.Len(t, specs, 1)
	assert.Equal(t, sequential.LayerSpec{Units: 1, Activation: "linear"}, specs[0])
}

func TestLinearRegressionDefaults(t *testing.T) {
	c := New(nil).LinearRegression([]int{16}, 4)
	assert.Len(t, c.layers, 2)
	assert.Equal(t, sequential.LossByName("mse"), c.loss)
	assert.Equal(t, []sequential.Metric{sequential.MetricByName("mae")}, c.metrics)

	// Explicit choices are kept.
	c = New(nil).
		Loss(sequential.LossByName("mae")).
		Metrics(sequential.MetricByName("rmse")).
		LinearRegression([]int{16}, 4)
	assert.Equal(t, sequential.LossByName("mae"), c.loss)
	assert.Equal(t, []sequential.Metric{sequential.MetricByName("rmse")}, c.metrics)
}

func TestSetterValidationAbortsRun(t *testing.T) {
	x := [][]float64{{1, 2}}
	y := [][]float64{{1}}
	tests := []struct {
		name   string
		mutate func(*Config) *Config
		want   string
	}{
		{"bad learning rate", func(c *Config) *Config { return c.LearningRate(-0.1) }, "learning rate"},
		{"bad epochs", func(c *Config) *Config { return c.Epochs(0) }, "epochs"},
		{"bad batch size", func(c *Config) *Config { return c.BatchSize(-4) }, "batch size"},
		{"bad figure size", func(c *Config) *Config { return c.FigSize(0, 100) }, "figure size"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := New(nil).LinearRegression([]int{8}, 2).Data(x, y)
			_, _, err := test.mutate(c).Run()
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.want)
		})
	}
}

func TestFirstSetterErrorWins(t *testing.T) {
	_, _, err := New(nil).Epochs(0).BatchSize(0).Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "epochs")
}

func TestRunRequiresBackend(t *testing.T) {
	_, _, err := New(nil).
		LinearRegression([]int{8}, 2).
		Data([][]float64{{1, 2}}, [][]float64{{1}}).
		Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend is required")
}
