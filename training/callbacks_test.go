// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"fmt"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWeightStore tags snapshots with a counter so tests can tell which epoch's
// weights were restored.
type fakeWeightStore struct {
	snapshots int
	restored  []string
}

func (f *fakeWeightStore) SnapshotWeights() (map[string]*tensors.Tensor, error) {
	f.snapshots++
	return map[string]*tensors.Tensor{fmt.Sprintf("snapshot_%d", f.snapshots): nil}, nil
}

func (f *fakeWeightStore) RestoreWeights(snapshot map[string]*tensors.Tensor) error {
	for key := range snapshot {
		f.restored = append(f.restored, key)
	}
	return nil
}

type fakeLRController struct {
	lr float64
}

func (f *fakeLRController) LearningRate() float64 { return f.lr }

func (f *fakeLRController) SetLearningRate(lr float64) error {
	f.lr = lr
	return nil
}

// runMonitored drives a callback through the given monitored values, one epoch
// each, and returns the epoch at which it requested a stop (-1 if never).
func runMonitored(t *testing.T, cb Callback, monitor string, values []float64) int {
	t.Helper()
	h := NewHistory()
	for epoch, v := range values {
		h.Append(monitor, v)
		stop, err := cb.OnEpochEnd(epoch, h)
		require.NoError(t, err)
		if stop {
			return epoch
		}
	}
	return -1
}

func TestEarlyStoppingStopsAfterPatience(t *testing.T) {
	store := &fakeWeightStore{}
	es := NewEarlyStopping(store, "val_loss")

	// Improves twice, then stalls: stop after EarlyStoppingPatience flat epochs.
	values := []float64{1.0, 0.5}
	for i := 0; i < EarlyStoppingPatience+3; i++ {
		values = append(values, 0.5)
	}
	stoppedAt := runMonitored(t, es, "val_loss", values)

	assert.Equal(t, 1+EarlyStoppingPatience, stoppedAt)
	assert.True(t, es.Stopped())
	assert.Equal(t, 1, es.BestEpoch())

	// On stop, the weights of the best epoch (the second snapshot) are restored.
	h := NewHistory()
	require.NoError(t, es.OnTrainEnd(h))
	assert.Equal(t, []string{"snapshot_2"}, store.restored)
}

func TestEarlyStoppingKeepsFinalWeightsWithoutStop(t *testing.T) {
	store := &fakeWeightStore{}
	es := NewEarlyStopping(store, "loss")

	stoppedAt := runMonitored(t, es, "loss", []float64{3, 2, 1})
	assert.Equal(t, -1, stoppedAt)
	assert.False(t, es.Stopped())

	require.NoError(t, es.OnTrainEnd(NewHistory()))
	assert.Empty(t, store.restored)
}

func TestEarlyStoppingIgnoresMissingMonitor(t *testing.T) {
	store := &fakeWeightStore{}
	es := NewEarlyStopping(store, "val_loss")

	h := NewHistory()
	h.Append("loss", 1.0)
	stop, err := es.OnEpochEnd(0, h)
	require.NoError(t, err)
	assert.False(t, stop)
	assert.Zero(t, store.snapshots)
}

func TestReduceLROnPlateau(t *testing.T) {
	controller := &fakeLRController{lr: 0.01}
	rl := NewReduceLROnPlateau(controller, "val_loss")

	values := []float64{1.0}
	for i := 0; i < ReduceLROnPlateauPatience; i++ {
		values = append(values, 1.0)
	}
	stoppedAt := runMonitored(t, rl, "val_loss", values)

	assert.Equal(t, -1, stoppedAt, "plateau reduction never stops the fit")
	assert.Equal(t, 1, rl.Reductions())
	assert.InDelta(t, 0.01*ReduceLROnPlateauFactor, controller.lr, 1e-12)
}

func TestReduceLROnPlateauResetsOnImprovement(t *testing.T) {
	controller := &fakeLRController{lr: 0.01}
	rl := NewReduceLROnPlateau(controller, "loss")

	// Stalls just short of the patience window, then improves: no reduction.
	values := []float64{1.0}
	for i := 0; i < ReduceLROnPlateauPatience-1; i++ {
		values = append(values, 1.0)
	}
	values = append(values, 0.5)
	runMonitored(t, rl, "loss", values)

	assert.Zero(t, rl.Reductions())
	assert.Equal(t, 0.01, controller.lr)
}

func TestBuildCallbacksAllFlagsOffIsEmpty(t *testing.T) {
	c := &Config{}
	cbs, log, err := c.buildCallbacks()
	require.NoError(t, err)
	assert.Empty(t, cbs)
	assert.Nil(t, log)
}

func TestMonitorKey(t *testing.T) {
	c := &Config{}
	assert.Equal(t, "loss", c.monitorKey())
	c.hasValidation = true
	assert.Equal(t, "val_loss", c.monitorKey())
}
