// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// EpochsKey is the derived 1-based epoch index column of a History. It is not a
// metric and is excluded from metric grouping and plotting.
const EpochsKey = "epochs"

// History is the per-epoch record of metric values produced by a training run:
// an ordered mapping from metric key ("loss", "val_loss", "mae", ...) to one
// float per epoch. Key order follows first insertion, which a fit keeps stable
// across epochs, so paired keys ("mae" / "val_mae") always have equal lengths.
type History struct {
	keys   []string
	values map[string][]float64
}

// NewHistory returns an empty History.
func NewHistory() *History {
	return &History{values: make(map[string][]float64)}
}

// Append records the value of a metric for the next epoch. The key is created on
// first use, keeping insertion order.
func (h *History) Append(key string, value float64) {
	if _, found := h.values[key]; !found {
		h.keys = append(h.keys, key)
	}
	h.values[key] = append(h.values[key], value)
}

// Keys returns the metric keys in insertion order.
func (h *History) Keys() []string {
	return append([]string(nil), h.keys...)
}

// Values returns the per-epoch values of a metric, or nil if the key is unknown.
func (h *History) Values(key string) []float64 {
	return append([]float64(nil), h.values[key]...)
}

// Last returns the most recent value of a metric.
func (h *History) Last(key string) (float64, bool) {
	vs := h.values[key]
	if len(vs) == 0 {
		return 0, false
	}
	return vs[len(vs)-1], true
}

// Epochs is the number of recorded epochs: the length of the longest series.
func (h *History) Epochs() int {
	n := 0
	for _, vs := range h.values {
		if len(vs) > n {
			n = len(vs)
		}
	}
	return n
}

// DataFrame returns a gota dataframe view of the history: one "epochs" column
// (1-based) followed by one column per metric key, in order.
func (h *History) DataFrame() dataframe.DataFrame {
	n := h.Epochs()
	epochs := make([]int, n)
	for i := range epochs {
		epochs[i] = i + 1
	}
	cols := make([]series.Series, 0, 1+len(h.keys))
	cols = append(cols, series.New(epochs, series.Int, EpochsKey))
	for _, key := range h.keys {
		cols = append(cols, series.New(h.values[key], series.Float, key))
	}
	return dataframe.New(cols...)
}

// Table renders the full per-epoch history as a table, one row per epoch.
func (h *History) Table() string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return headerStyle
			}
			return cellStyle
		})

	headers := append([]string{EpochsKey}, h.keys...)
	table.Headers(headers...)
	for epoch := 0; epoch < h.Epochs(); epoch++ {
		row := make([]string, 0, len(headers))
		row = append(row, strconv.Itoa(epoch+1))
		for _, key := range h.keys {
			vs := h.values[key]
			if epoch < len(vs) {
				row = append(row, fmt.Sprintf("%f", vs[epoch]))
			} else {
				row = append(row, "")
			}
		}
		table.Row(row...)
	}
	return table.String()
}
