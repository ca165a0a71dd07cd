// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

package sequential

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// Model is a compiled sequential dense network: the GoMLX context holding the
// weights, the graph-building function for the layer stack, and the trainer wired
// with the configured optimizer, loss and metrics.
//
// Models are built with Config.Done or loaded with FromCheckpoint. They are not
// safe for concurrent use.
type Model struct {
	backend     backends.Backend
	ctx         *context.Context
	trainer     *train.Trainer
	layerSpecs  []LayerSpec
	plan        []layerPlan
	lossName    string
	metricIDs   []string
	seed        int64
	evalMetrics []metrics.Interface
}

// modelGraph builds the layer stack: one dense transform per LayerSpec, each
// followed by its activation.
func (m *Model) modelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	x := inputs[0]
	for i, layer := range m.plan {
		layerCtx := ctx.Inf("dense_%d", i)
		x = layers.Dense(layerCtx, x, true, layer.units)
		x = activations.Apply(layer.activation, x)
	}
	return []*Node{x}
}

// Backend the model was compiled for.
func (m *Model) Backend() backends.Backend { return m.backend }

// Context holds the model variables and hyperparameters.
func (m *Model) Context() *context.Context { return m.ctx }

// Trainer runs training steps and evaluation for this model.
func (m *Model) Trainer() *train.Trainer { return m.trainer }

// LayerSpecs returns a copy of the layer specifications the model was built from.
func (m *Model) LayerSpecs() []LayerSpec {
	return append([]LayerSpec(nil), m.layerSpecs...)
}

// NumLayers of the network.
func (m *Model) NumLayers() int { return len(m.plan) }

// LossName identifier of the compiled loss.
func (m *Model) LossName() string { return m.lossName }

// MetricIDs identifiers of the compiled evaluation metrics, in order.
func (m *Model) MetricIDs() []string {
	return append([]string(nil), m.metricIDs...)
}

// Seed the weight initialization was derived from.
func (m *Model) Seed() int64 { return m.seed }

// InputWidth returns the declared feature width from the first layer's
// InputShape, or -1 when none was declared.
func (m *Model) InputWidth() int {
	if len(m.layerSpecs) == 0 || len(m.layerSpecs[0].InputShape) == 0 {
		return -1
	}
	return m.layerSpecs[0].InputShape[0]
}

// HistoryKeys returns the metric keys a fit of this model produces for one split:
// "loss" followed by the metric identifiers, matching the trainer's eval metrics.
func (m *Model) HistoryKeys() []string {
	keys := make([]string, 0, 1+len(m.metricIDs))
	keys = append(keys, "loss")
	keys = append(keys, m.metricIDs...)
	return keys
}

// Evaluate runs the model's evaluation metrics over the dataset and returns one
// value per HistoryKeys entry: the mean loss followed by each configured metric.
func (m *Model) Evaluate(ds train.Dataset) ([]float64, error) {
	results, err := m.trainer.Eval(ds)
	if err != nil {
		return nil, err
	}
	ds.Reset()
	values := make([]float64, 0, 1+len(m.metricIDs))
	for i, desc := range m.trainer.EvalMetrics() {
		v := shapes.ConvertTo[float64](results[i].Value())
		if desc.MetricType() == metrics.LossMetricType {
			// The trainer prepends its mean-loss metric; it maps to the "loss" key.
			values = append([]float64{v}, values...)
			continue
		}
		values = append(values, v)
	}
	return values, nil
}

// LearningRate returns the current learning rate: the live optimizer variable if
// one was created already, otherwise the configured context parameter.
func (m *Model) LearningRate() float64 {
	lr := context.GetParamOr(m.ctx, optimizers.ParamLearningRate, DefaultLearningRate)
	m.ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Name() != optimizers.ParamLearningRate {
			return
		}
		if value, err := v.Value(); err == nil {
			lr = shapes.ConvertTo[float64](value.Value())
		}
	})
	return lr
}

// SetLearningRate overrides the learning rate, updating both the context
// parameter and, when present, the live optimizer variable.
func (m *Model) SetLearningRate(lr float64) error {
	if lr <= 0 {
		return errors.Errorf("sequential: learning rate must be > 0, got %g", lr)
	}
	m.ctx.SetParam(optimizers.ParamLearningRate, lr)
	var firstErr error
	m.ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Name() != optimizers.ParamLearningRate {
			return
		}
		current, err := v.Value()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		newValue := tensors.FromAnyValue(shapes.CastAsDType(lr, current.Shape().DType))
		if err := v.SetValue(newValue); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// SnapshotWeights clones the current values of all trainable variables, keyed by
// scope and name. Used by early stopping to restore the best weights.
func (m *Model) SnapshotWeights() (map[string]*tensors.Tensor, error) {
	snapshot := make(map[string]*tensors.Tensor)
	var firstErr error
	m.ctx.EnumerateVariables(func(v *context.Variable) {
		if !v.Trainable || firstErr != nil {
			return
		}
		value, err := v.Value()
		if err != nil {
			firstErr = errors.WithMessagef(err, "reading variable %s/%s", v.Scope(), v.Name())
			return
		}
		clone, err := value.Clone()
		if err != nil {
			firstErr = errors.WithMessagef(err, "cloning variable %s/%s", v.Scope(), v.Name())
			return
		}
		snapshot[v.Scope()+"/"+v.Name()] = clone
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return snapshot, nil
}

// RestoreWeights writes back a snapshot taken with SnapshotWeights. Variables
// created after the snapshot are left untouched.
func (m *Model) RestoreWeights(snapshot map[string]*tensors.Tensor) error {
	var firstErr error
	m.ctx.EnumerateVariables(func(v *context.Variable) {
		saved, found := snapshot[v.Scope()+"/"+v.Name()]
		if !found || firstErr != nil {
			return
		}
		if err := v.SetValue(saved); err != nil {
			firstErr = errors.WithMessagef(err, "restoring variable %s/%s", v.Scope(), v.Name())
		}
	})
	return firstErr
}

// Save persists the model (architecture, compilation state and weights) to the
// directory, in the GoMLX checkpoint format. FromCheckpoint loads it back.
func (m *Model) Save(dir string) error {
	handler, err := checkpoints.Build(m.ctx).Dir(dir).Keep(1).Done()
	if err != nil {
		return errors.WithMessagef(err, "sequential: creating checkpoint in %q", dir)
	}
	return handler.Save()
}

// FromCheckpoint loads a model persisted with Save, bypassing layer construction:
// architecture and compilation state come from the checkpoint parameters, weights
// from the checkpoint variables.
func FromCheckpoint(backend backends.Backend, dir string) (*Model, error) {
	ctx := context.New()
	_, err := checkpoints.Load(ctx).Dir(dir).Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "sequential: loading checkpoint from %q", dir)
	}

	archJSON := context.GetParamOr(ctx, ParamArchitecture, "")
	if archJSON == "" {
		return nil, errors.Errorf("sequential: checkpoint in %q carries no architecture -- was it saved with Model.Save?", dir)
	}
	var specs []LayerSpec
	if err := json.Unmarshal([]byte(archJSON), &specs); err != nil {
		return nil, errors.Wrapf(err, "sequential: invalid architecture record in checkpoint %q", dir)
	}
	var metricIDs []string
	if idsJSON := context.GetParamOr(ctx, ParamMetrics, ""); idsJSON != "" {
		if err := json.Unmarshal([]byte(idsJSON), &metricIDs); err != nil {
			return nil, errors.Wrapf(err, "sequential: invalid metrics record in checkpoint %q", dir)
		}
	}
	lossName := context.GetParamOr(ctx, ParamLoss, "")
	optimizerName := context.GetParamOr(ctx, ParamOptimizer, "")
	seed := context.GetParamOr(ctx, ParamSeed, DefaultSeed)

	plan, err := buildPlan(specs)
	if err != nil {
		return nil, errors.WithMessagef(err, "sequential: checkpoint %q", dir)
	}
	lossFn, err := LossByName(lossName).build()
	if err != nil {
		return nil, errors.WithMessagef(err, "sequential: checkpoint %q", dir)
	}
	optimizer, err := OptimizerByName(optimizerName).build(ctx)
	if err != nil {
		return nil, errors.WithMessagef(err, "sequential: checkpoint %q", dir)
	}
	evalMetrics := make([]metrics.Interface, 0, len(metricIDs))
	for _, id := range metricIDs {
		built, err := MetricByName(id).build()
		if err != nil {
			return nil, errors.WithMessagef(err, "sequential: checkpoint %q", dir)
		}
		evalMetrics = append(evalMetrics, built)
	}

	m := &Model{
		backend:     backend,
		ctx:         ctx,
		layerSpecs:  specs,
		plan:        plan,
		lossName:    lossName,
		metricIDs:   metricIDs,
		seed:        seed,
		evalMetrics: evalMetrics,
	}
	m.trainer = train.NewTrainer(backend, ctx, m.modelGraph, lossFn, optimizer, nil, evalMetrics)
	// Variables already exist, mark the context for reuse on the first graph build.
	m.trainer.SetContext(ctx.Reuse())
	return m, nil
}

// Summary renders the layer stack as a table.
func (m *Model) Summary() string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("#", "Units", "Activation", "Input Shape")
	for i, spec := range m.layerSpecs {
		activation := spec.Activation
		if activation == "" {
			activation = "linear"
		}
		inputShape := ""
		if len(spec.InputShape) > 0 {
			dims := make([]string, 0, len(spec.InputShape))
			for _, d := range spec.InputShape {
				dims = append(dims, strconv.Itoa(d))
			}
			inputShape = "(" + strings.Join(dims, ", ") + ")"
		}
		table.Row(fmt.Sprintf("%d", i), strconv.Itoa(spec.Units), activation, inputShape)
	}
	return table.String()
}
