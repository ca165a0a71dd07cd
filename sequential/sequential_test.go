// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

package sequential

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPlan(t *testing.T) {
	specs := []LayerSpec{
		{Units: 64, InputShape: []int{10}, Activation: "relu"},
		{Units: 32, Activation: "relu"},
		{Units: 1, Activation: "linear"},
	}
	plan, err := buildPlan(specs)
	require.NoError(t, err)
	require.Len(t, plan, len(specs))
	assert.Equal(t, layerPlan{units: 64, activation: activations.TypeRelu}, plan[0])
	assert.Equal(t, layerPlan{units: 32, activation: activations.TypeRelu}, plan[1])
	assert.Equal(t, layerPlan{units: 1, activation: activations.TypeNone}, plan[2])
}

func TestBuildPlanErrors(t *testing.T) {
	tests := []struct {
		name  string
		specs []LayerSpec
		want  string
	}{
		{"empty", nil, "at least one layer"},
		{"zero units", []LayerSpec{{Units: 0}}, "must be > 0"},
		{"negative units", []LayerSpec{{Units: -3, Activation: "relu"}}, "must be > 0"},
		{"input shape not first", []LayerSpec{
			{Units: 8, Activation: "relu"},
			{Units: 4, InputShape: []int{8}, Activation: "relu"},
		}, "only the first layer"},
		{"unknown activation", []LayerSpec{{Units: 8, Activation: "softmax9000"}}, "unknown activation"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := buildPlan(test.specs)
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.want)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	layers := []LayerSpec{{Units: 4, Activation: "relu"}, {Units: 1}}

	t.Run("missing loss", func(t *testing.T) {
		_, err := New(nil).Layers(layers...).Metrics(MetricByName("mae")).validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "loss is required")
	})

	t.Run("missing metrics", func(t *testing.T) {
		_, err := New(nil).Layers(layers...).Loss(LossByName("mse")).validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "metric is required")
	})

	t.Run("missing layers", func(t *testing.T) {
		_, err := New(nil).Loss(LossByName("mse")).Metrics(MetricByName("mae")).validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "layer specification is required")
	})

	t.Run("bad learning rate sticks", func(t *testing.T) {
		_, err := New(nil).
			Layers(layers...).
			Loss(LossByName("mse")).
			Metrics(MetricByName("mae")).
			LearningRate(-0.5).
			validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "learning rate")
	})

	t.Run("complete", func(t *testing.T) {
		plan, err := New(nil).
			Layers(layers...).
			Loss(LossByName("mse")).
			Metrics(MetricByName("mae")).
			validate()
		require.NoError(t, err)
		assert.Len(t, plan, 2)
	})
}

func TestLossRegistry(t *testing.T) {
	for _, name := range []string{
		"mse", "mae",
		"binary_crossentropy", "binary_crossentropy_logits",
		"categorical_crossentropy", "categorical_crossentropy_logits",
	} {
		fn, err := LossByName(name).build()
		require.NoError(t, err, name)
		assert.NotNil(t, fn, name)
	}

	_, err := LossByName("huber").build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown loss "huber"`)

	assert.True(t, Loss{}.IsZero())
	assert.False(t, LossByName("mse").IsZero())
}

func TestMetricRegistry(t *testing.T) {
	for _, id := range []string{"mae", "mse", "rmse", "accuracy", "binary_accuracy", "categorical_accuracy"} {
		m, err := MetricByName(id).build()
		require.NoError(t, err, id)
		assert.NotNil(t, m, id)
	}

	_, err := MetricByName("f1").build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown metric "f1"`)

	assert.Equal(t, "rmse", MetricByName("rmse").ID())
}

func TestMaximizeMetric(t *testing.T) {
	assert.True(t, MaximizeMetric("accuracy"))
	assert.True(t, MaximizeMetric("binary_accuracy"))
	assert.True(t, MaximizeMetric("categorical_accuracy"))
	assert.False(t, MaximizeMetric("mae"))
	assert.False(t, MaximizeMetric("loss"))
}

func TestActivationByName(t *testing.T) {
	for name, want := range map[string]activations.Type{
		"":       activations.TypeNone,
		"linear": activations.TypeNone,
		"relu":   activations.TypeRelu,
		"gelu":   activations.TypeGelu,
	} {
		got, err := ActivationByName(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestOptimizerRegistry(t *testing.T) {
	assert.True(t, OptimizerByName("adam").valid())
	assert.True(t, OptimizerByName("sgd").valid())
	assert.False(t, Optimizer{}.valid())
}
