// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryAppendKeepsInsertionOrder(t *testing.T) {
	h := NewHistory()
	for epoch := 0; epoch < 3; epoch++ {
		h.Append("loss", float64(10-epoch))
		h.Append("val_loss", float64(11-epoch))
		h.Append("mae", float64(epoch))
	}
	assert.Equal(t, []string{"loss", "val_loss", "mae"}, h.Keys())
	assert.Equal(t, 3, h.Epochs())
	assert.Equal(t, []float64{10, 9, 8}, h.Values("loss"))

	last, found := h.Last("val_loss")
	require.True(t, found)
	assert.Equal(t, 9.0, last)

	_, found = h.Last("accuracy")
	assert.False(t, found)
}

func TestHistoryValuesAreCopies(t *testing.T) {
	h := NewHistory()
	h.Append("loss", 1.0)
	vs := h.Values("loss")
	vs[0] = -1.0
	assert.Equal(t, []float64{1.0}, h.Values("loss"))
}

func TestHistoryDataFrame(t *testing.T) {
	h := NewHistory()
	h.Append("loss", 0.5)
	h.Append("mae", 0.3)
	h.Append("loss", 0.4)
	h.Append("mae", 0.2)

	df := h.DataFrame()
	require.NoError(t, df.Error())
	assert.Equal(t, []string{EpochsKey, "loss", "mae"}, df.Names())
	r, c := df.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, []int{1, 2}, mustInts(t, df.Col(EpochsKey).Int()))
	assert.Equal(t, []float64{0.5, 0.4}, df.Col("loss").Float())
}

func mustInts(t *testing.T, ints []int, err error) []int {
	t.Helper()
	require.NoError(t, err)
	return ints
}

func TestHistoryTableHasOneRowPerEpoch(t *testing.T) {
	h := NewHistory()
	h.Append("loss", 1.25)
	h.Append("loss", 0.75)
	rendered := h.Table()
	assert.Contains(t, rendered, EpochsKey)
	assert.Contains(t, rendered, "1.250000")
	assert.Contains(t, rendered, "0.750000")
}
