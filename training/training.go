// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

// Package training runs the fit loop for sequential models: it wraps the data in
// GoMLX in-memory datasets, drives the training loop one epoch at a time, applies
// the configured callbacks (early stopping, learning-rate plateau reduction,
// best-only checkpointing, metrics logging) and records the per-epoch History.
//
//	history, err := training.New(model).
//		Data(xTrain, yTrain).
//		Validation(xTest, yTest).
//		Epochs(500).
//		BatchSize(32).
//		Run()
//
// Early stopping and plateau reduction are enabled by default, mirroring the
// behavior most fits want; checkpointing and metrics logging are enabled by
// giving them a directory.
package training

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/denseflow/denseflow/sequential"
)

// Defaults for the fit loop.
const (
	DefaultEpochs    = 500
	DefaultBatchSize = 32
)

// Config of a fit, created with New and executed with Run.
type Config struct {
	model *sequential.Model

	xTrain, yTrain any
	xVal, yVal     any
	hasValidation  bool

	epochs    int
	batchSize int

	earlyStopping bool
	reduceLR      bool
	checkpointDir string
	metricsLogDir string

	verbosity int
	out       io.Writer

	err error
}

// New creates a fit configuration for the model.
func New(model *sequential.Model) *Config {
	return &Config{
		model:         model,
		epochs:        DefaultEpochs,
		batchSize:     DefaultBatchSize,
		earlyStopping: true,
		reduceLR:      true,
		out:           os.Stdout,
	}
}

// Data sets the training split. The values can be tensors or (multi-dimensional)
// Go slices; the leading axis is the example axis. Required.
func (c *Config) Data(x, y any) *Config {
	c.xTrain, c.yTrain = x, y
	return c
}

// Validation sets the optional test split, monitored by the callbacks and
// evaluated alongside the training split.
func (c *Config) Validation(x, y any) *Config {
	c.xVal, c.yVal = x, y
	c.hasValidation = x != nil && y != nil
	return c
}

// Epochs to fit for. Defaults to DefaultEpochs.
func (c *Config) Epochs(n int) *Config {
	c.epochs = n
	return c
}

// BatchSize for training and evaluation. Defaults to DefaultBatchSize.
func (c *Config) BatchSize(n int) *Config {
	c.batchSize = n
	return c
}

// EarlyStopping toggles the early-stopping callback (patience
// EarlyStoppingPatience on the validation loss, best weights restored on stop).
// Enabled by default.
func (c *Config) EarlyStopping(enabled bool) *Config {
	c.earlyStopping = enabled
	return c
}

// ReduceLROnPlateau toggles the plateau learning-rate reduction callback
// (factor ReduceLROnPlateauFactor, patience ReduceLROnPlateauPatience).
// Enabled by default.
func (c *Config) ReduceLROnPlateau(enabled bool) *Config {
	c.reduceLR = enabled
	return c
}

// CheckpointDir enables best-only, weights-only checkpointing into dir.
func (c *Config) CheckpointDir(dir string) *Config {
	c.checkpointDir = dir
	return c
}

// MetricsLogDir enables per-epoch metric event logging into dir.
func (c *Config) MetricsLogDir(dir string) *Config {
	c.metricsLogDir = dir
	return c
}

// Verbosity controls console output: 0 is quiet (only the final metrics table),
// 1 attaches a progress bar to the training loop.
func (c *Config) Verbosity(v int) *Config {
	c.verbosity = v
	return c
}

// WriteTo redirects console output (the final metrics table). Defaults to
// os.Stdout.
func (c *Config) WriteTo(w io.Writer) *Config {
	c.out = w
	return c
}

// monitorKey is the history key the callbacks watch: the validation loss when a
// validation split is present, the training loss otherwise.
func (c *Config) monitorKey() string {
	if c.hasValidation {
		return "val_loss"
	}
	return "loss"
}

// buildCallbacks assembles the callback set from the independent flags. All
// flags off yields an empty set and the fit runs bare.
func (c *Config) buildCallbacks() ([]Callback, *MetricsLog, error) {
	var cbs []Callback
	monitor := c.monitorKey()
	if c.earlyStopping {
		cbs = append(cbs, NewEarlyStopping(c.model, monitor))
	}
	if c.reduceLR {
		cbs = append(cbs, NewReduceLROnPlateau(c.model, monitor))
	}
	if c.checkpointDir != "" {
		cp, err := NewCheckpoint(c.model, c.checkpointDir, monitor)
		if err != nil {
			return nil, nil, err
		}
		cbs = append(cbs, cp)
	}
	var log *MetricsLog
	if c.metricsLogDir != "" {
		var err error
		log, err = NewMetricsLog(c.metricsLogDir)
		if err != nil {
			return nil, nil, err
		}
		cbs = append(cbs, log)
	}
	return cbs, log, nil
}

func (c *Config) validate() error {
	if c.err != nil {
		return c.err
	}
	if c.model == nil {
		return errors.New("training: a model is required")
	}
	if c.xTrain == nil || c.yTrain == nil {
		return errors.New("training: training data is required -- call Data")
	}
	if c.epochs <= 0 {
		return errors.Errorf("training: epochs must be > 0, got %d", c.epochs)
	}
	if c.batchSize <= 0 {
		return errors.Errorf("training: batch size must be > 0, got %d", c.batchSize)
	}
	return nil
}

// checkInputWidth verifies the training features against the model's declared
// input shape, when one was declared.
func (c *Config) checkInputWidth(x *tensors.Tensor) error {
	shape := x.Shape()
	if shape.DType != dtypes.Float32 && shape.DType != dtypes.Float64 {
		return errors.Errorf("training: features must be Float32 or Float64, got %s", shape.DType)
	}
	want := c.model.InputWidth()
	if want < 0 {
		return nil
	}
	if shape.Rank() < 2 || shape.Dimensions[1] != want {
		return errors.Errorf("training: model declares input shape (%d,), training data has shape %s",
			want, shape)
	}
	return nil
}

// Run executes the fit: one training-loop epoch at a time, evaluating the
// present splits after each epoch into the History and applying the callbacks.
// After the loop it evaluates each split once more and prints the metrics table.
// Returns the raw per-epoch History.
func (c *Config) Run() (*History, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	backend := c.model.Backend()

	xTrain := tensors.FromAnyValue(c.xTrain)
	if err := c.checkInputWidth(xTrain); err != nil {
		return nil, err
	}

	trainDS, err := datasets.InMemoryFromData(backend, "train", []any{xTrain}, []any{c.yTrain})
	if err != nil {
		return nil, errors.WithMessage(err, "training: preparing training dataset")
	}
	trainEvalDS := trainDS.Copy().BatchSize(c.batchSize, false)
	trainDS = trainDS.BatchSize(c.batchSize, false).Shuffle()

	var valEvalDS *datasets.InMemoryDataset
	if c.hasValidation {
		valEvalDS, err = datasets.InMemoryFromData(backend, "test", []any{c.xVal}, []any{c.yVal})
		if err != nil {
			return nil, errors.WithMessage(err, "training: preparing validation dataset")
		}
		valEvalDS = valEvalDS.BatchSize(c.batchSize, false)
	}

	callbacks, metricsLog, err := c.buildCallbacks()
	if err != nil {
		return nil, err
	}
	defer func() {
		if metricsLog != nil {
			if closeErr := metricsLog.Close(); closeErr != nil {
				klog.Errorf("training: %+v", closeErr)
			}
		}
	}()

	loop := train.NewLoop(c.model.Trainer())
	if c.verbosity > 0 {
		commandline.AttachProgressBar(loop)
	}

	history := NewHistory()
	for epoch := 0; epoch < c.epochs; epoch++ {
		if _, err := loop.RunEpochs(trainDS, 1); err != nil {
			return nil, errors.WithMessagef(err, "training: epoch %d", epoch+1)
		}
		if err := c.recordEpoch(history, trainEvalDS, valEvalDS); err != nil {
			return nil, errors.WithMessagef(err, "training: evaluating epoch %d", epoch+1)
		}

		stop := false
		for _, cb := range callbacks {
			cbStop, err := cb.OnEpochEnd(epoch, history)
			if err != nil {
				return nil, errors.WithMessagef(err, "training: callback %q at epoch %d", cb.Name(), epoch+1)
			}
			stop = stop || cbStop
		}
		if stop {
			break
		}
	}
	for _, cb := range callbacks {
		if end, ok := cb.(TrainEndCallback); ok {
			if err := end.OnTrainEnd(history); err != nil {
				return nil, errors.WithMessagef(err, "training: callback %q at end of fit", cb.Name())
			}
		}
	}

	if err := c.printEvalTable(trainEvalDS, valEvalDS); err != nil {
		return nil, err
	}
	return history, nil
}

// recordEpoch appends one epoch of metrics to the history: the training split
// under the plain keys, the validation split under the "val_" prefixed ones.
func (c *Config) recordEpoch(history *History, trainDS, valDS train.Dataset) error {
	keys := c.model.HistoryKeys()
	values, err := c.model.Evaluate(trainDS)
	if err != nil {
		return err
	}
	for i, key := range keys {
		history.Append(key, values[i])
	}
	if valDS == nil {
		return nil
	}
	values, err = c.model.Evaluate(valDS)
	if err != nil {
		return err
	}
	for i, key := range keys {
		history.Append("val_"+key, values[i])
	}
	return nil
}

// printEvalTable evaluates each present split and prints one row per split.
func (c *Config) printEvalTable(trainDS, valDS train.Dataset) error {
	type split struct {
		name string
		ds   train.Dataset
	}
	splits := []split{{"train", trainDS}}
	if valDS != nil {
		splits = append(splits, split{"test", valDS})
	}
	var rows [][]string
	for _, split := range splits {
		values, err := c.model.Evaluate(split.ds)
		if err != nil {
			return errors.WithMessagef(err, "training: evaluating %s split", split.name)
		}
		row := []string{split.name}
		for _, v := range values {
			row = append(row, fmt.Sprintf("%f", v))
		}
		rows = append(rows, row)
	}

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(append([]string{"split"}, c.model.HistoryKeys()...)...)
	for _, row := range rows {
		table.Row(row...)
	}
	_, err := fmt.Fprintln(c.out, table.String())
	return err
}
