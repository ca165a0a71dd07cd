// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

package sequential

import (
	"slices"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// Optimizer is a closed tagged variant: either a named optimizer resolved through
// the GoMLX registry, or a pre-built optimizers.Interface escape hatch.
type Optimizer struct {
	name   string
	custom optimizers.Interface
}

// OptimizerByName selects an optimizer by identifier: "sgd", "adam", "adamw" or
// "adamax". Resolution against the GoMLX registry happens at compile time, so an
// unknown name surfaces as a configuration error from Config.Done.
func OptimizerByName(name string) Optimizer {
	return Optimizer{name: name}
}

// CustomOptimizer wraps a pre-built GoMLX optimizer. Models compiled with a custom
// optimizer cannot be reloaded through FromCheckpoint; use a named optimizer for
// models that need persistence.
func CustomOptimizer(opt optimizers.Interface) Optimizer {
	return Optimizer{name: "custom", custom: opt}
}

func (o Optimizer) valid() bool { return o.custom != nil || o.name != "" }

func (o Optimizer) build(ctx *context.Context) (optimizers.Interface, error) {
	if o.custom != nil {
		return o.custom, nil
	}
	builder, found := optimizers.KnownOptimizers[o.name]
	if !found {
		known := maps.Keys(optimizers.KnownOptimizers)
		slices.Sort(known)
		return nil, errors.Errorf("sequential: unknown optimizer %q, valid names are %v", o.name, known)
	}
	return builder(ctx), nil
}

// Loss is a closed tagged variant for the training loss: a named loss or a custom
// graph-building function.
type Loss struct {
	name string
	fn   train.LossFn
}

var knownLosses = map[string]train.LossFn{
	"mse":                             losses.MeanSquaredError,
	"mae":                             losses.MeanAbsoluteError,
	"binary_crossentropy":             losses.BinaryCrossentropy,
	"binary_crossentropy_logits":      losses.BinaryCrossentropyLogits,
	"categorical_crossentropy":        losses.CategoricalCrossEntropy,
	"categorical_crossentropy_logits": losses.CategoricalCrossEntropyLogits,
}

// LossByName selects a loss by identifier. See knownLossNames in the error message
// of Config.Done for the valid set ("mse", "mae", "binary_crossentropy", ...).
func LossByName(name string) Loss {
	return Loss{name: name}
}

// CustomLoss wraps an arbitrary loss graph function.
func CustomLoss(fn train.LossFn) Loss {
	return Loss{name: "custom", fn: fn}
}

func (l Loss) valid() bool { return l.fn != nil || l.name != "" }

// IsZero reports whether the loss was never set.
func (l Loss) IsZero() bool { return !l.valid() }

func (l Loss) build() (train.LossFn, error) {
	if l.fn != nil {
		return l.fn, nil
	}
	fn, found := knownLosses[l.name]
	if !found {
		known := maps.Keys(knownLosses)
		slices.Sort(known)
		return nil, errors.Errorf("sequential: unknown loss %q, valid names are %v", l.name, known)
	}
	return fn, nil
}

// Metric is a closed tagged variant for an evaluation metric. The id doubles as
// the metric key in training histories ("mae" pairs with "val_mae").
type Metric struct {
	id     string
	custom metrics.Interface
}

// MetricByName selects a metric by identifier: "mae", "mse", "rmse", "accuracy"
// (binary, on logits), "binary_accuracy" (on probabilities) or
// "categorical_accuracy".
func MetricByName(id string) Metric {
	return Metric{id: id}
}

// CustomMetric wraps a pre-built GoMLX metric. The id is used as the metric's key
// in training histories.
func CustomMetric(id string, m metrics.Interface) Metric {
	return Metric{id: id, custom: m}
}

func meanGraph(fn train.LossFn) metrics.BaseMetricGraph {
	return func(_ *context.Context, labels, predictions []*Node) *Node {
		return fn(labels, predictions)
	}
}

func rmseGraph(_ *context.Context, labels, predictions []*Node) *Node {
	return Sqrt(losses.MeanSquaredError(labels, predictions))
}

var knownMetrics = map[string]func() metrics.Interface{
	"mae": func() metrics.Interface {
		return metrics.NewMeanMetric("Mean Absolute Error", "mae", "mae", meanGraph(losses.MeanAbsoluteError), nil)
	},
	"mse": func() metrics.Interface {
		return metrics.NewMeanMetric("Mean Squared Error", "mse", "mse", meanGraph(losses.MeanSquaredError), nil)
	},
	"rmse": func() metrics.Interface {
		return metrics.NewMeanMetric("Root Mean Squared Error", "rmse", "rmse", rmseGraph, nil)
	},
	"accuracy": func() metrics.Interface {
		return metrics.NewMeanBinaryLogitsAccuracy("Accuracy", "acc")
	},
	"binary_accuracy": func() metrics.Interface {
		return metrics.NewMeanBinaryAccuracy("Binary Accuracy", "acc")
	},
	"categorical_accuracy": func() metrics.Interface {
		return metrics.NewSparseCategoricalAccuracy("Categorical Accuracy", "acc")
	},
}

// ID returns the metric identifier, the metric's key in training histories.
func (m Metric) ID() string { return m.id }

func (m Metric) valid() bool { return m.custom != nil || m.id != "" }

func (m Metric) build() (metrics.Interface, error) {
	if m.custom != nil {
		return m.custom, nil
	}
	builder, found := knownMetrics[m.id]
	if !found {
		known := maps.Keys(knownMetrics)
		slices.Sort(known)
		return nil, errors.Errorf("sequential: unknown metric %q, valid names are %v", m.id, known)
	}
	return builder(), nil
}

// MaximizeMetric reports whether larger values of the metric are better. It
// drives the objective direction of hyperparameter search.
func MaximizeMetric(id string) bool {
	switch id {
	case "accuracy", "binary_accuracy", "categorical_accuracy":
		return true
	}
	return false
}

var knownActivations = map[string]activations.Type{
	"":           activations.TypeNone,
	"linear":     activations.TypeNone,
	"relu":       activations.TypeRelu,
	"sigmoid":    activations.TypeSigmoid,
	"tanh":       activations.TypeTanh,
	"swish":      activations.TypeSwish,
	"silu":       activations.TypeSilu,
	"selu":       activations.TypeSelu,
	"gelu":       activations.TypeGelu,
	"leaky_relu": activations.TypeLeakyRelu,
	"hard_swish": activations.TypeHardSwish,
}

// ActivationByName resolves an activation identifier. "linear" and "" mean no
// activation.
func ActivationByName(name string) (activations.Type, error) {
	t, found := knownActivations[name]
	if !found {
		known := maps.Keys(knownActivations)
		slices.Sort(known)
		return activations.TypeNone, errors.Errorf("unknown activation %q, valid names are %v", name, known)
	}
	return t, nil
}
