// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

// Package denseflow chains the model builder, the trainer and the reporter
// into a single call: compile a dense network (or load a saved one), fit it,
// render the training curves and hand back the trained model.
//
// The sub-packages remain usable on their own; this package only sequences
// them. See sequential for model construction, training for the fit loop and
// its callbacks, tuner for hyperparameter search and report for plotting.
package denseflow

import (
	"io"
	"os"

	"github.com/gomlx/gomlx/backends"
	"github.com/pkg/errors"

	"github.com/denseflow/denseflow/report"
	"github.com/denseflow/denseflow/sequential"
	"github.com/denseflow/denseflow/training"
)

// Config for one build-train-report run, created with New and executed with
// Run.
type Config struct {
	backend backends.Backend

	layers       []sequential.LayerSpec
	optimizer    sequential.Optimizer
	loss         sequential.Loss
	metrics      []sequential.Metric
	learningRate float64
	seed         int64
	modelPath    string

	x, y       any
	xVal, yVal any

	epochs            int
	batchSize         int
	earlyStopping     bool
	reduceLROnPlateau bool
	checkpointDir     string
	metricsLogDir     string

	reportPath   string
	figWidth     int
	figHeight    int
	historyTable bool

	verbosity int
	out       io.Writer

	err error
}

// New creates the configuration for a full run on the given backend. Call the
// configuration methods and finally Run.
func New(backend backends.Backend) *Config {
	return &Config{
		backend:           backend,
		optimizer:         sequential.OptimizerByName("adam"),
		learningRate:      sequential.DefaultLearningRate,
		seed:              sequential.DefaultSeed,
		epochs:            training.DefaultEpochs,
		batchSize:         training.DefaultBatchSize,
		earlyStopping:     true,
		reduceLROnPlateau: true,
		figWidth:          report.DefaultWidth,
		figHeight:         report.DefaultHeight,
		verbosity:         1,
		out:               os.Stdout,
	}
}

// Layers sets the ordered layer specifications. Required unless ModelPath is
// given.
func (c *Config) Layers(specs ...sequential.LayerSpec) *Config {
	c.layers = specs
	return c
}

// ModelPath loads a previously saved model from the given checkpoint directory
// instead of building one. Layers, Loss and Metrics are ignored when set.
func (c *Config) ModelPath(dir string) *Config {
	c.modelPath = dir
	return c
}

// Optimizer sets the optimizer. Defaults to sequential.OptimizerByName("adam").
func (c *Config) Optimizer(opt sequential.Optimizer) *Config {
	c.optimizer = opt
	return c
}

// LearningRate sets the initial learning rate.
func (c *Config) LearningRate(lr float64) *Config {
	if lr <= 0 {
		c.setError(errors.Errorf("denseflow: learning rate must be > 0, got %g", lr))
		return c
	}
	c.learningRate = lr
	return c
}

// Loss sets the loss to optimize. Required unless ModelPath is given.
func (c *Config) Loss(loss sequential.Loss) *Config {
	c.loss = loss
	return c
}

// Metrics sets the evaluation metrics. Required unless ModelPath is given.
func (c *Config) Metrics(ms ...sequential.Metric) *Config {
	c.metrics = ms
	return c
}

// Seed sets the weight-initialization seed.
func (c *Config) Seed(seed int64) *Config {
	c.seed = seed
	return c
}

// Data sets the training inputs and labels. Required.
func (c *Config) Data(x, y any) *Config {
	c.x, c.y = x, y
	return c
}

// Validation sets the held-out inputs and labels.
func (c *Config) Validation(x, y any) *Config {
	c.xVal, c.yVal = x, y
	return c
}

// Epochs sets the number of training epochs.
func (c *Config) Epochs(n int) *Config {
	if n < 1 {
		c.setError(errors.Errorf("denseflow: epochs must be >= 1, got %d", n))
		return c
	}
	c.epochs = n
	return c
}

// BatchSize sets the training batch size.
func (c *Config) BatchSize(n int) *Config {
	if n < 1 {
		c.setError(errors.Errorf("denseflow: batch size must be >= 1, got %d", n))
		return c
	}
	c.batchSize = n
	return c
}

// EarlyStopping toggles the early-stopping callback. Defaults to enabled.
func (c *Config) EarlyStopping(enabled bool) *Config {
	c.earlyStopping = enabled
	return c
}

// ReduceLROnPlateau toggles the plateau learning-rate decay callback.
// Defaults to enabled.
func (c *Config) ReduceLROnPlateau(enabled bool) *Config {
	c.reduceLROnPlateau = enabled
	return c
}

// CheckpointDir enables best-weights checkpointing into the given directory.
func (c *Config) CheckpointDir(dir string) *Config {
	c.checkpointDir = dir
	return c
}

// MetricsLogDir enables the per-epoch metrics log in the given directory.
func (c *Config) MetricsLogDir(dir string) *Config {
	c.metricsLogDir = dir
	return c
}

// ReportHTML writes the training-curve report to the given file after the fit.
// Empty skips the report.
func (c *Config) ReportHTML(path string) *Config {
	c.reportPath = path
	return c
}

// FigSize sets the per-subplot size of the report, in pixels.
func (c *Config) FigSize(width, height int) *Config {
	if width <= 0 || height <= 0 {
		c.setError(errors.Errorf("denseflow: figure size must be positive, got %dx%d", width, height))
		return c
	}
	c.figWidth, c.figHeight = width, height
	return c
}

// HistoryTable includes the full per-epoch table in the report.
func (c *Config) HistoryTable(enabled bool) *Config {
	c.historyTable = enabled
	return c
}

// Verbosity controls console output, 0 silences it. Defaults to 1.
func (c *Config) Verbosity(v int) *Config {
	c.verbosity = v
	return c
}

// WriteTo redirects console output. Defaults to os.Stdout.
func (c *Config) WriteTo(w io.Writer) *Config {
	c.out = w
	return c
}

func (c *Config) setError(err error) {
	if c.err == nil {
		c.err = err
	}
}

// build either loads the model from ModelPath or compiles it from the layer
// specifications.
func (c *Config) build() (*sequential.Model, error) {
	if c.modelPath != "" {
		return sequential.FromCheckpoint(c.backend, c.modelPath)
	}
	return sequential.New(c.backend).
		Layers(c.layers...).
		Optimizer(c.optimizer).
		LearningRate(c.learningRate).
		Loss(c.loss).
		Metrics(c.metrics...).
		Seed(c.seed).
		Done()
}

// Run builds the model, fits it, optionally renders the report and returns the
// trained model together with its training history.
func (c *Config) Run() (*sequential.Model, *training.History, error) {
	if c.err != nil {
		return nil, nil, c.err
	}
	if c.backend == nil {
		return nil, nil, errors.New("denseflow: backend is required")
	}

	model, err := c.build()
	if err != nil {
		return nil, nil, err
	}

	fit := training.New(model).
		Data(c.x, c.y).
		Epochs(c.epochs).
		BatchSize(c.batchSize).
		EarlyStopping(c.earlyStopping).
		ReduceLROnPlateau(c.reduceLROnPlateau).
		CheckpointDir(c.checkpointDir).
		MetricsLogDir(c.metricsLogDir).
		Verbosity(c.verbosity).
		WriteTo(c.out)
	if c.xVal != nil {
		fit = fit.Validation(c.xVal, c.yVal)
	}
	history, err := fit.Run()
	if err != nil {
		return nil, nil, err
	}

	if c.reportPath != "" {
		err = report.New(history).
			FigSize(c.figWidth, c.figHeight).
			HistoryTable(c.historyTable).
			SaveHTML(c.reportPath)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "denseflow: report failed")
		}
	}
	return model, history, nil
}

// LinearLayerSpecs derives the layer sequence of a dense regression network
// from the hidden-layer widths: every hidden layer uses relu, the first also
// declares the input width, and a single linear output unit is appended.
func LinearLayerSpecs(denseUnits []int, numFeatures int) []sequential.LayerSpec {
	specs := make([]sequential.LayerSpec, 0, len(denseUnits)+1)
	for i, units := range denseUnits {
		spec := sequential.LayerSpec{Units: units, Activation: "relu"}
		if i == 0 {
			spec.InputShape = []int{numFeatures}
		}
		specs = append(specs, spec)
	}
	return append(specs, sequential.LayerSpec{Units: 1, Activation: "linear"})
}

// LinearRegression configures the layers with LinearLayerSpecs and, when still
// unset, defaults the loss to mean squared error and the metrics to mean
// absolute error. Everything else behaves as in the generic Run.
func (c *Config) LinearRegression(denseUnits []int, numFeatures int) *Config {
	c.layers = LinearLayerSpecs(denseUnits, numFeatures)
	if c.loss.IsZero() {
		c.loss = sequential.LossByName("mse")
	}
	if len(c.metrics) == 0 {
		c.metrics = []sequential.Metric{sequential.MetricByName("mae")}
	}
	return c
}
