// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

// Package sequential assembles dense ("fully-connected") sequential networks on top
// of GoMLX and compiles them into trainable models.
//
// A network is described by an ordered list of LayerSpec values, translated one to
// one into dense layers. The builder follows the usual configuration pattern:
//
//	model, err := sequential.New(backend).
//		Layers(
//			sequential.LayerSpec{Units: 64, InputShape: []int{10}, Activation: "relu"},
//			sequential.LayerSpec{Units: 32, Activation: "relu"},
//			sequential.LayerSpec{Units: 1, Activation: "linear"},
//		).
//		Loss(sequential.LossByName("mse")).
//		Metrics(sequential.MetricByName("mae")).
//		Done()
//
// Weight initialization is Glorot uniform, seeded from the explicit Seed
// configuration value, so two models built with the same seed start identical.
package sequential

import (
	"encoding/json"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/initializer"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/random"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// DefaultSeed used for weight initialization when Config.Seed is not called.
const DefaultSeed int64 = 42

// DefaultLearningRate used when Config.LearningRate is not called.
const DefaultLearningRate = 0.001

// Context parameter names under which the model architecture and compilation
// state are stored. They piggyback on the GoMLX checkpoints serialization, so a
// saved checkpoint carries everything needed to rebuild the model.
const (
	ParamArchitecture = "denseflow_architecture"
	ParamLoss         = "denseflow_loss"
	ParamMetrics      = "denseflow_metrics"
	ParamOptimizer    = "denseflow_optimizer"
	ParamSeed         = "denseflow_seed"
)

// LayerSpec describes one dense layer of the network.
type LayerSpec struct {
	// Units is the number of output units of the layer. Must be > 0.
	Units int `json:"units"`

	// Activation applied to the layer output. One of "linear" (or ""), "relu",
	// "sigmoid", "tanh", "swish", "silu", "selu", "gelu", "leaky_relu" or
	// "hard_swish".
	Activation string `json:"activation"`

	// InputShape of the examples fed to the network, without the batch axis.
	// It may only be set on the first layer, and is checked against the training
	// data at fit time.
	InputShape []int `json:"input_shape,omitempty"`
}

// layerPlan is a LayerSpec with its activation resolved, ready for graph building.
type layerPlan struct {
	units      int
	activation activations.Type
}

// buildPlan validates the layer specifications and resolves their activations.
// A nil error guarantees the specs satisfy every structural invariant: non-empty,
// positive unit counts, at most one InputShape and only on the first layer.
func buildPlan(specs []LayerSpec) ([]layerPlan, error) {
	if len(specs) == 0 {
		return nil, errors.New("sequential: at least one layer specification is required")
	}
	plan := make([]layerPlan, 0, len(specs))
	for i, spec := range specs {
		if spec.Units <= 0 {
			return nil, errors.Errorf("sequential: layer #%d has %d units, must be > 0", i, spec.Units)
		}
		if i > 0 && spec.InputShape != nil {
			return nil, errors.Errorf("sequential: layer #%d carries an input shape, only the first layer may", i)
		}
		activation, err := ActivationByName(spec.Activation)
		if err != nil {
			return nil, errors.WithMessagef(err, "sequential: layer #%d", i)
		}
		plan = append(plan, layerPlan{units: spec.Units, activation: activation})
	}
	return plan, nil
}

// Config for a sequential model, created with New and finalized with Done.
type Config struct {
	backend      backends.Backend
	layerSpecs   []LayerSpec
	optimizer    Optimizer
	loss         Loss
	metricSpecs  []Metric
	learningRate float64
	seed         int64

	err error
}

// New creates the configuration for a sequential dense model on the given backend.
// Call the configuration methods and finally Done to compile the model.
func New(backend backends.Backend) *Config {
	return &Config{
		backend:      backend,
		optimizer:    OptimizerByName("adam"),
		learningRate: DefaultLearningRate,
		seed:         DefaultSeed,
	}
}

// Layers sets the ordered layer specifications defining the network topology.
// Required.
func (c *Config) Layers(specs ...LayerSpec) *Config {
	c.layerSpecs = specs
	return c
}

// Optimizer sets the optimizer. Defaults to OptimizerByName("adam").
func (c *Config) Optimizer(opt Optimizer) *Config {
	c.optimizer = opt
	return c
}

// LearningRate sets the initial learning rate. Defaults to DefaultLearningRate.
func (c *Config) LearningRate(lr float64) *Config {
	if lr <= 0 {
		c.setError(errors.Errorf("sequential: learning rate must be > 0, got %g", lr))
		return c
	}
	c.learningRate = lr
	return c
}

// Loss sets the loss to optimize. Required.
func (c *Config) Loss(loss Loss) *Config {
	c.loss = loss
	return c
}

// Metrics sets the evaluation metrics. At least one is required.
func (c *Config) Metrics(ms ...Metric) *Config {
	c.metricSpecs = ms
	return c
}

// Seed sets the seed for the deterministic weight initialization.
// Defaults to DefaultSeed.
func (c *Config) Seed(seed int64) *Config {
	c.seed = seed
	return c
}

func (c *Config) setError(err error) {
	if c.err == nil {
		c.err = err
	}
}

// validate checks the configuration without touching the backend, so
// configuration errors surface before any framework call.
func (c *Config) validate() ([]layerPlan, error) {
	if c.err != nil {
		return nil, c.err
	}
	plan, err := buildPlan(c.layerSpecs)
	if err != nil {
		return nil, err
	}
	if !c.loss.valid() {
		return nil, errors.New("sequential: a loss is required -- see LossByName and CustomLoss")
	}
	if len(c.metricSpecs) == 0 {
		return nil, errors.New("sequential: at least one metric is required -- see MetricByName and CustomMetric")
	}
	if !c.optimizer.valid() {
		return nil, errors.New("sequential: an optimizer is required -- see OptimizerByName and CustomOptimizer")
	}
	return plan, nil
}

// Done validates the configuration and compiles the model: it creates the GoMLX
// context with the seeded Glorot initializer, resolves the optimizer, loss and
// metrics, and builds the trainer. The first error along the way aborts.
func (c *Config) Done() (*Model, error) {
	plan, err := c.validate()
	if err != nil {
		return nil, err
	}

	ctx := context.New()
	ctx.SetParam(optimizers.ParamLearningRate, c.learningRate)
	rng := random.NewWithSeed(c.seed)
	ctx = ctx.WithInitializer(initializer.GlorotUniform(rng))

	// Architecture and compilation state ride along in the context parameters, so
	// checkpoints rebuild the model verbatim (see FromCheckpoint).
	archJSON, err := json.Marshal(c.layerSpecs)
	if err != nil {
		return nil, errors.Wrap(err, "sequential: failed to serialize layer specifications")
	}
	ctx.SetParam(ParamArchitecture, string(archJSON))
	ctx.SetParam(ParamLoss, c.loss.name)
	ctx.SetParam(ParamMetrics, metricNamesOf(c.metricSpecs))
	ctx.SetParam(ParamOptimizer, c.optimizer.name)
	ctx.SetParam(ParamSeed, c.seed)

	lossFn, err := c.loss.build()
	if err != nil {
		return nil, err
	}
	evalMetrics := make([]metrics.Interface, 0, len(c.metricSpecs))
	for _, m := range c.metricSpecs {
		built, err := m.build()
		if err != nil {
			return nil, err
		}
		evalMetrics = append(evalMetrics, built)
	}
	optimizer, err := c.optimizer.build(ctx)
	if err != nil {
		return nil, err
	}

	m := &Model{
		backend:     c.backend,
		ctx:         ctx,
		layerSpecs:  append([]LayerSpec(nil), c.layerSpecs...),
		plan:        plan,
		lossName:    c.loss.name,
		metricIDs:   metricIDsOf(c.metricSpecs),
		seed:        c.seed,
		evalMetrics: evalMetrics,
	}
	m.trainer = train.NewTrainer(c.backend, ctx, m.modelGraph, lossFn, optimizer,
		nil, // trainMetrics: the trainer's built-in loss metrics suffice.
		evalMetrics)
	return m, nil
}

func metricNamesOf(ms []Metric) string {
	names, _ := json.Marshal(metricIDsOf(ms))
	return string(names)
}

func metricIDsOf(ms []Metric) []string {
	ids := make([]string, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.id)
	}
	return ids
}
