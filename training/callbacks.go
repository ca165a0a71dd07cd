// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/pkg/errors"

	"github.com/denseflow/denseflow/sequential"
)

// Fixed callback policy constants. These are owned by this layer, independent of
// any framework defaults.
const (
	EarlyStoppingPatience     = 10
	ReduceLROnPlateauFactor   = 0.1
	ReduceLROnPlateauPatience = 5
)

// Callback is invoked after every epoch of a fit. Returning stop ends the fit
// early; an error aborts it. Callbacks hold no shared state between each other,
// so their composition order only affects logging order.
type Callback interface {
	// Name of the callback, for error messages.
	Name() string

	// OnEpochEnd is called after the epoch's metrics were appended to the history.
	OnEpochEnd(epoch int, history *History) (stop bool, err error)
}

// TrainEndCallback is optionally implemented by callbacks that act once the fit
// finishes (normally or early-stopped).
type TrainEndCallback interface {
	OnTrainEnd(history *History) error
}

// WeightStore is the model surface early stopping needs: snapshot and restore of
// the trainable variables. *sequential.Model implements it.
type WeightStore interface {
	SnapshotWeights() (map[string]*tensors.Tensor, error)
	RestoreWeights(map[string]*tensors.Tensor) error
}

// LearningRateController is the model surface plateau reduction needs.
// *sequential.Model implements it.
type LearningRateController interface {
	LearningRate() float64
	SetLearningRate(lr float64) error
}

// EarlyStopping halts the fit once the monitored metric stops improving for
// EarlyStoppingPatience epochs, and restores the best-seen weights when it stops.
type EarlyStopping struct {
	store    WeightStore
	monitor  string
	patience int

	best      float64
	bestSeen  bool
	wait      int
	stopped   bool
	bestEpoch int
	snapshot  map[string]*tensors.Tensor
}

// NewEarlyStopping monitors the given history key (typically "val_loss",
// falling back to "loss" when there is no validation split).
func NewEarlyStopping(store WeightStore, monitor string) *EarlyStopping {
	return &EarlyStopping{
		store:    store,
		monitor:  monitor,
		patience: EarlyStoppingPatience,
	}
}

func (es *EarlyStopping) Name() string { return "early stopping" }

// Stopped reports whether the callback ended the fit early.
func (es *EarlyStopping) Stopped() bool { return es.stopped }

// BestEpoch is the 0-based epoch of the best monitored value seen so far.
func (es *EarlyStopping) BestEpoch() int { return es.bestEpoch }

func (es *EarlyStopping) OnEpochEnd(epoch int, history *History) (bool, error) {
	value, found := history.Last(es.monitor)
	if !found || math.IsNaN(value) {
		return false, nil
	}
	if !es.bestSeen || value < es.best {
		es.best = value
		es.bestSeen = true
		es.bestEpoch = epoch
		es.wait = 0
		snapshot, err := es.store.SnapshotWeights()
		if err != nil {
			return false, errors.WithMessage(err, "early stopping: snapshotting best weights")
		}
		es.snapshot = snapshot
		return false, nil
	}
	es.wait++
	if es.wait >= es.patience {
		es.stopped = true
		return true, nil
	}
	return false, nil
}

func (es *EarlyStopping) OnTrainEnd(history *History) error {
	if !es.stopped || es.snapshot == nil {
		// The fit ran to completion, keep the final weights.
		return nil
	}
	return errors.WithMessage(es.store.RestoreWeights(es.snapshot),
		"early stopping: restoring best weights")
}

// ReduceLROnPlateau multiplies the learning rate by ReduceLROnPlateauFactor when
// the monitored metric stalls for ReduceLROnPlateauPatience epochs.
type ReduceLROnPlateau struct {
	controller LearningRateController
	monitor    string
	factor     float64
	patience   int

	best       float64
	bestSeen   bool
	wait       int
	reductions int
}

// NewReduceLROnPlateau monitors the given history key, typically "val_loss".
func NewReduceLROnPlateau(controller LearningRateController, monitor string) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		controller: controller,
		monitor:    monitor,
		factor:     ReduceLROnPlateauFactor,
		patience:   ReduceLROnPlateauPatience,
	}
}

func (rl *ReduceLROnPlateau) Name() string { return "reduce LR on plateau" }

// Reductions counts how many times the learning rate was shrunk.
func (rl *ReduceLROnPlateau) Reductions() int { return rl.reductions }

func (rl *ReduceLROnPlateau) OnEpochEnd(epoch int, history *History) (bool, error) {
	value, found := history.Last(rl.monitor)
	if !found || math.IsNaN(value) {
		return false, nil
	}
	if !rl.bestSeen || value < rl.best {
		rl.best = value
		rl.bestSeen = true
		rl.wait = 0
		return false, nil
	}
	rl.wait++
	if rl.wait < rl.patience {
		return false, nil
	}
	rl.wait = 0
	newLR := rl.controller.LearningRate() * rl.factor
	if err := rl.controller.SetLearningRate(newLR); err != nil {
		return false, errors.WithMessage(err, "reduce LR on plateau")
	}
	rl.reductions++
	return false, nil
}

// Checkpoint saves the model weights whenever the monitored validation metric
// improves. It saves weights only: context hyperparameters are excluded, so the
// snapshots are not standalone models (use sequential.Model.Save for that).
type Checkpoint struct {
	handler *checkpoints.Handler
	monitor string

	best     float64
	bestSeen bool
	saves    int
}

// NewCheckpoint creates the checkpoint callback writing into dir. It is an
// explicitly declared dependency of the trainer: construction fails eagerly if
// the directory cannot be prepared.
func NewCheckpoint(model *sequential.Model, dir, monitor string) (*Checkpoint, error) {
	handler, err := checkpoints.Build(model.Context()).
		Dir(dir).
		ExcludeAllParams().
		Keep(1).
		Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "checkpoint callback: preparing %q", dir)
	}
	return &Checkpoint{handler: handler, monitor: monitor}, nil
}

func (cp *Checkpoint) Name() string { return "checkpoint" }

// Saves counts how many checkpoints were written.
func (cp *Checkpoint) Saves() int { return cp.saves }

func (cp *Checkpoint) OnEpochEnd(epoch int, history *History) (bool, error) {
	value, found := history.Last(cp.monitor)
	if !found || math.IsNaN(value) {
		return false, nil
	}
	if cp.bestSeen && value >= cp.best {
		return false, nil
	}
	cp.best = value
	cp.bestSeen = true
	if err := cp.handler.Save(); err != nil {
		return false, errors.WithMessage(err, "checkpoint callback")
	}
	cp.saves++
	return false, nil
}
