// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

// Package tuner searches dense-network hyperparameters with a hyperband-style
// successive-halving policy.
//
// The search space is the cross product of per-layer unit candidates and
// learning-rate candidates. Each hyperband bracket samples a batch of
// candidates, trains them briefly, and lets only the best fraction continue to
// longer trainings. The winner is rebuilt as a freshly compiled model.
package tuner

import (
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/denseflow/denseflow/sequential"
	"github.com/denseflow/denseflow/training"
)

const (
	// DefaultMaxEpochs is the largest training budget any single trial receives.
	DefaultMaxEpochs = 10

	// DefaultFactor is the hyperband downsampling factor: the fraction of
	// candidates kept per rung and the epoch multiplier between rungs.
	DefaultFactor = 3
)

// SearchLayer mirrors sequential.LayerSpec, except Units holds the candidate
// unit counts to search over instead of one fixed value.
type SearchLayer struct {
	Units      []int  `json:"units"`
	Activation string `json:"activation"`
	InputShape []int  `json:"input_shape,omitempty"`
}

// Config for a hyperparameter search, created with New and run with Search.
type Config struct {
	backend backends.Backend

	x, y       any
	xVal, yVal any

	layers        []SearchLayer
	learningRates []float64
	optimizer     sequential.Optimizer
	loss          sequential.Loss
	metrics       []sequential.Metric

	maxEpochs int
	factor    int
	batchSize int
	seed      int64

	dir     string
	runName string

	verbosity int
	out       io.Writer
	now       func() time.Time

	// runTrial trains one candidate for the given number of epochs and returns
	// the objective value. compile builds the model for the winning candidate.
	// Both replaceable in tests.
	runTrial func(cand candidate, epochs int) (float64, error)
	compile  func(cand candidate) (*sequential.Model, error)

	err error
}

// New creates the configuration for a hyperparameter search on the given
// backend. Call the configuration methods and finally Search to run it.
func New(backend backends.Backend) *Config {
	c := &Config{
		backend:   backend,
		optimizer: sequential.OptimizerByName("adam"),
		maxEpochs: DefaultMaxEpochs,
		factor:    DefaultFactor,
		batchSize: training.DefaultBatchSize,
		seed:      sequential.DefaultSeed,
		verbosity: 1,
		out:       os.Stdout,
		now:       time.Now,
	}
	c.runTrial = c.trainTrial
	c.compile = c.build
	return c
}

// Data sets the training inputs and labels. Required.
func (c *Config) Data(x, y any) *Config {
	c.x, c.y = x, y
	return c
}

// Validation sets the inputs and labels the search objective is measured on.
// Without it the objective falls back to the training-split value.
func (c *Config) Validation(x, y any) *Config {
	c.xVal, c.yVal = x, y
	return c
}

// Layers sets the ordered layer search specifications. Required.
func (c *Config) Layers(specs ...SearchLayer) *Config {
	c.layers = specs
	return c
}

// LearningRates sets the candidate learning rates. Required.
func (c *Config) LearningRates(rates ...float64) *Config {
	c.learningRates = rates
	return c
}

// Optimizer sets the optimizer used by every trial. Defaults to
// sequential.OptimizerByName("adam").
func (c *Config) Optimizer(opt sequential.Optimizer) *Config {
	c.optimizer = opt
	return c
}

// Loss sets the loss every trial optimizes. Required.
func (c *Config) Loss(loss sequential.Loss) *Config {
	c.loss = loss
	return c
}

// Metrics sets the evaluation metrics. The first one defines the search
// objective. At least one is required.
func (c *Config) Metrics(ms ...sequential.Metric) *Config {
	c.metrics = ms
	return c
}

// MaxEpochs sets the largest per-trial training budget. Defaults to
// DefaultMaxEpochs.
func (c *Config) MaxEpochs(n int) *Config {
	if n < 1 {
		c.setError(errors.Errorf("tuner: max epochs must be >= 1, got %d", n))
		return c
	}
	c.maxEpochs = n
	return c
}

// Factor sets the hyperband downsampling factor. Defaults to DefaultFactor.
func (c *Config) Factor(eta int) *Config {
	if eta < 2 {
		c.setError(errors.Errorf("tuner: downsampling factor must be >= 2, got %d", eta))
		return c
	}
	c.factor = eta
	return c
}

// BatchSize sets the per-trial training batch size. Defaults to
// training.DefaultBatchSize.
func (c *Config) BatchSize(n int) *Config {
	if n < 1 {
		c.setError(errors.Errorf("tuner: batch size must be >= 1, got %d", n))
		return c
	}
	c.batchSize = n
	return c
}

// Seed sets the seed for candidate sampling and for the weight initialization
// of every trial. Defaults to sequential.DefaultSeed.
func (c *Config) Seed(seed int64) *Config {
	c.seed = seed
	return c
}

// Dir sets the directory under which per-trial bookkeeping is written, in a
// sub-directory named after the run. Empty disables bookkeeping.
func (c *Config) Dir(dir string) *Config {
	c.dir = dir
	return c
}

// RunName names this search run. Defaults to a timestamp-derived identifier.
func (c *Config) RunName(name string) *Config {
	c.runName = name
	return c
}

// Verbosity controls console output: 0 silences the progress bar and summary.
// Defaults to 1.
func (c *Config) Verbosity(v int) *Config {
	c.verbosity = v
	return c
}

// WriteTo redirects console output. Defaults to os.Stdout.
func (c *Config) WriteTo(w io.Writer) *Config {
	c.out = w
	return c
}

// Clock sets the time source used to derive the default run name.
func (c *Config) Clock(now func() time.Time) *Config {
	c.now = now
	return c
}

func (c *Config) setError(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *Config) validate() error {
	if c.err != nil {
		return c.err
	}
	if c.backend == nil {
		return errors.New("tuner: backend is required")
	}
	if c.x == nil || c.y == nil {
		return errors.New("tuner: training data is required, set it with Data")
	}
	if len(c.layers) == 0 {
		return errors.New("tuner: at least one search layer is required")
	}
	for i, layer := range c.layers {
		if len(layer.Units) == 0 {
			return errors.Errorf("tuner: layer #%d has no unit candidates", i)
		}
		for _, units := range layer.Units {
			if units < 1 {
				return errors.Errorf("tuner: layer #%d has invalid unit candidate %d", i, units)
			}
		}
	}
	if len(c.learningRates) == 0 {
		return errors.New("tuner: at least one candidate learning rate is required")
	}
	for _, lr := range c.learningRates {
		if lr <= 0 {
			return errors.Errorf("tuner: learning rate candidates must be > 0, got %g", lr)
		}
	}
	if c.loss.IsZero() {
		return errors.New("tuner: loss is required")
	}
	if len(c.metrics) == 0 {
		return errors.New("tuner: at least one metric is required")
	}
	return nil
}

// objectiveKey is the history key the search optimizes: the validation value of
// the first metric when validation data is present, the training value
// otherwise.
func (c *Config) objectiveKey() string {
	key := c.metrics[0].ID()
	if c.xVal != nil {
		return "val_" + key
	}
	return key
}

// better reports whether objective value a beats b for the first metric's
// optimization direction.
func (c *Config) better(a, b float64) bool {
	if sequential.MaximizeMetric(c.metrics[0].ID()) {
		return a > b
	}
	return a < b
}

// build compiles the model for one candidate.
func (c *Config) build(cand candidate) (*sequential.Model, error) {
	specs := make([]sequential.LayerSpec, len(c.layers))
	for i, layer := range c.layers {
		specs[i] = sequential.LayerSpec{
			Units:      cand.units[i],
			Activation: layer.Activation,
			InputShape: layer.InputShape,
		}
	}
	return sequential.New(c.backend).
		Layers(specs...).
		Optimizer(c.optimizer).
		LearningRate(cand.learningRate).
		Loss(c.loss).
		Metrics(c.metrics...).
		Seed(c.seed).
		Done()
}

// trainTrial is the default runTrial: compile the candidate, fit it for the
// given number of epochs, and read the objective from the history.
func (c *Config) trainTrial(cand candidate, epochs int) (value float64, err error) {
	trapped := exceptions.TryCatch[error](func() {
		var model *sequential.Model
		model, err = c.build(cand)
		if err != nil {
			return
		}
		fit := training.New(model).
			Data(c.x, c.y).
			Epochs(epochs).
			BatchSize(c.batchSize).
			EarlyStopping(false).
			ReduceLROnPlateau(false).
			Verbosity(0).
			WriteTo(io.Discard)
		if c.xVal != nil {
			fit = fit.Validation(c.xVal, c.yVal)
		}
		var history *training.History
		history, err = fit.Run()
		if err != nil {
			return
		}
		var ok bool
		value, ok = history.Last(c.objectiveKey())
		if !ok {
			err = errors.Errorf("tuner: objective %q missing from training history", c.objectiveKey())
			return
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			err = errors.Errorf("tuner: objective %q diverged to %g", c.objectiveKey(), value)
		}
	})
	if trapped != nil {
		return 0, errors.WithMessagef(trapped, "tuner: trial with units=%v lr=%g panicked", cand.units, cand.learningRate)
	}
	return value, err
}

// trialRecord is the per-trial bookkeeping written under Dir/RunName.
type trialRecord struct {
	ID           string    `json:"id"`
	Bracket      int       `json:"bracket"`
	Rung         int       `json:"rung"`
	Units        []int     `json:"units"`
	LearningRate float64   `json:"learning_rate"`
	Epochs       int       `json:"epochs"`
	Objective    float64   `json:"objective,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	Time         time.Time `json:"time"`
}

func (c *Config) writeTrial(runDir string, rec trialRecord) {
	if runDir == "" {
		return
	}
	data, err := json.MarshalIndent(rec, "", "\t")
	if err == nil {
		err = os.WriteFile(filepath.Join(runDir, "trial_"+rec.ID+".json"), data, 0644)
	}
	if err != nil {
		klog.Errorf("tuner: failed to record trial %s: %+v", rec.ID, err)
	}
}

// scored pairs a candidate with its latest objective value.
type scored struct {
	cand  candidate
	value float64
}

// Search explores the hyperparameter space and returns a freshly compiled
// model built from the best-found candidate. It fails when the space is empty
// or every trial errored.
func (c *Config) Search() (*sequential.Model, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	runName := c.runName
	if runName == "" {
		runName = defaultRunName(c.now())
	}
	runDir := ""
	if c.dir != "" {
		runDir = filepath.Join(c.dir, runName)
		if err := os.MkdirAll(runDir, 0755); err != nil {
			return nil, errors.Wrapf(err, "tuner: failed to create run directory %q", runDir)
		}
	}

	unitChoices := make([][]int, len(c.layers))
	for i, layer := range c.layers {
		unitChoices[i] = layer.Units
	}
	space := enumerateSpace(unitChoices, c.learningRates)
	if len(space) == 0 {
		return nil, errors.New("tuner: hyperparameter space is empty")
	}

	brackets := hyperbandBrackets(c.maxEpochs, c.factor)
	var bar *progressbar.ProgressBar
	if c.verbosity > 0 {
		bar = progressbar.NewOptions(numTrials(brackets),
			progressbar.OptionSetWriter(c.out),
			progressbar.OptionSetDescription(runName),
			progressbar.OptionClearOnFinish())
	}

	rng := rand.New(rand.NewSource(c.seed))
	var best *scored
	completed, failed := 0, 0

	for _, b := range brackets {
		survivors := sampleSpace(space, b.n, rng)
		for rungIdx, r := range b.rungs {
			if len(survivors) > r.keep {
				survivors = survivors[:r.keep]
			}
			results := make([]scored, 0, len(survivors))
			for _, cand := range survivors {
				value, err := c.runTrial(cand, r.epochs)
				if bar != nil {
					_ = bar.Add(1)
				}
				rec := trialRecord{
					ID:           uuid.NewString(),
					Bracket:      b.s,
					Rung:         rungIdx,
					Units:        cand.units,
					LearningRate: cand.learningRate,
					Epochs:       r.epochs,
					Time:         c.now(),
				}
				if err != nil {
					failed++
					rec.Status = "failed"
					rec.Error = err.Error()
					c.writeTrial(runDir, rec)
					klog.Warningf("tuner: trial units=%v lr=%g failed: %+v", cand.units, cand.learningRate, err)
					continue
				}
				completed++
				rec.Status = "completed"
				rec.Objective = value
				c.writeTrial(runDir, rec)
				results = append(results, scored{cand: cand, value: value})
				if best == nil || c.better(value, best.value) {
					best = &scored{cand: cand, value: value}
				}
			}
			sort.SliceStable(results, func(i, j int) bool {
				return c.better(results[i].value, results[j].value)
			})
			survivors = survivors[:0]
			for _, s := range results {
				survivors = append(survivors, s.cand)
			}
			if len(survivors) == 0 {
				break
			}
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if best == nil {
		return nil, errors.Errorf("tuner: search %q exhausted without a viable candidate, %s trials failed",
			runName, humanize.Comma(int64(failed)))
	}
	if c.verbosity > 0 {
		_, _ = io.WriteString(c.out, "search "+runName+": "+
			humanize.Comma(int64(completed))+" trials completed, "+
			humanize.Comma(int64(failed))+" failed, best "+c.objectiveKey()+
			" with units="+unitsString(best.cand.units)+"\n")
	}
	return c.compile(best.cand)
}

func unitsString(units []int) string {
	data, _ := json.Marshal(units)
	return string(data)
}
