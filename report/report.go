// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

// Package report renders training histories: metric curves as SVG subplots (one
// per train/validation metric pair) and the per-epoch values as a table.
//
//	err := report.New(history).
//		FigSize(700, 500).
//		HistoryTable(true).
//		SaveHTML("training_report.html")
//
// Grouping follows the history key order: a metric and its "val_"-prefixed
// counterpart share a subplot; metrics without a counterpart get their own.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	mg "github.com/erkkah/margaid"
	"github.com/pkg/errors"

	"github.com/denseflow/denseflow/training"
)

// Default per-subplot figure size, in pixels at Scale 1.0.
const (
	DefaultWidth  = 700
	DefaultHeight = 500
)

// Config of a report, created with New.
type Config struct {
	history *training.History

	width, height int
	scale         float64
	historyTable  bool
	out           io.Writer
}

// New creates a report configuration for the history.
func New(history *training.History) *Config {
	return &Config{
		history: history,
		width:   DefaultWidth,
		height:  DefaultHeight,
		scale:   1.0,
		out:     os.Stdout,
	}
}

// FigSize sets the per-subplot size in pixels. Defaults to DefaultWidth x
// DefaultHeight.
func (c *Config) FigSize(width, height int) *Config {
	c.width, c.height = width, height
	return c
}

// Scale multiplies the subplot size, the resolution knob of the report.
// Defaults to 1.0.
func (c *Config) Scale(scale float64) *Config {
	c.scale = scale
	return c
}

// HistoryTable also prints the full per-epoch history table to the configured
// writer when rendering. Off by default.
func (c *Config) HistoryTable(enabled bool) *Config {
	c.historyTable = enabled
	return c
}

// WriteTo sets where the optional history table is printed. Defaults to
// os.Stdout.
func (c *Config) WriteTo(w io.Writer) *Config {
	c.out = w
	return c
}

// MetricGroups partitions history keys into plot groups, preserving key order:
// a key and its "val_"-prefixed counterpart appearing later form a pair; keys
// without a counterpart are singletons. The derived epoch index is skipped.
func MetricGroups(keys []string) [][]string {
	grouped := make(map[string]bool, len(keys))
	var groups [][]string
	for i, key := range keys {
		if key == training.EpochsKey || grouped[key] {
			continue
		}
		grouped[key] = true
		counterpart := "val_" + key
		group := []string{key}
		if !strings.HasPrefix(key, "val_") {
			for _, later := range keys[i+1:] {
				if later == counterpart {
					group = append(group, counterpart)
					grouped[counterpart] = true
					break
				}
			}
		}
		groups = append(groups, group)
	}
	return groups
}

func (c *Config) validate() error {
	if c.history == nil {
		return errors.New("report: a history is required")
	}
	if c.width <= 0 || c.height <= 0 {
		return errors.Errorf("report: figure size must be positive, got %dx%d", c.width, c.height)
	}
	if c.scale <= 0 {
		return errors.Errorf("report: scale must be > 0, got %g", c.scale)
	}
	return nil
}

// subplotSVG renders one metric group as an SVG line chart, x-axis the 1-based
// epoch.
func (c *Config) subplotSVG(group []string) (string, error) {
	width := int(float64(c.width) * c.scale)
	height := int(float64(c.height) * c.scale)

	allSeries := make([]*mg.Series, 0, len(group))
	allPoints := mg.NewSeries()
	for _, key := range group {
		s := mg.NewSeries(mg.Titled(key))
		for i, v := range c.history.Values(key) {
			value := mg.MakeValue(float64(i+1), v)
			s.Add(value)
			allPoints.Add(value)
		}
		allSeries = append(allSeries, s)
	}

	diagram := mg.New(width, height,
		mg.WithAutorange(mg.XAxis, allSeries...),
		mg.WithAutorange(mg.YAxis, allSeries...),
		mg.WithInset(70),
		mg.WithPadding(2),
		mg.WithColorScheme(90),
		mg.WithBackgroundColor("#f8f8f8"),
	)
	for _, s := range allSeries {
		diagram.Line(s, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingStrokeWidth(2))
	}
	diagram.Axis(allPoints, mg.XAxis, diagram.ValueTicker('f', 0, 10), false, training.EpochsKey)
	diagram.Axis(allPoints, mg.YAxis, diagram.ValueTicker('f', 3, 10), true, "")
	diagram.Frame()
	diagram.Title(strings.Join(group, " / "))
	diagram.Legend(mg.BottomLeft)

	var buf bytes.Buffer
	if err := diagram.Render(&buf); err != nil {
		return "", errors.Wrapf(err, "report: rendering subplot for %v", group)
	}
	return buf.String(), nil
}

// WriteHTML renders the full figure, one subplot per metric group side by side,
// to the writer. It also prints the history table when configured.
func (c *Config) WriteHTML(w io.Writer) error {
	if err := c.validate(); err != nil {
		return err
	}
	groups := MetricGroups(c.history.Keys())
	var sb strings.Builder
	sb.WriteString(`<div style="display: flex; flex-direction: row;">` + "\n")
	for _, group := range groups {
		svg, err := c.subplotSVG(group)
		if err != nil {
			return err
		}
		sb.WriteString("<div>" + svg + "</div>\n")
	}
	sb.WriteString("</div>\n")
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return errors.Wrap(err, "report: writing figure")
	}

	if c.historyTable {
		if _, err := fmt.Fprintln(c.out, c.history.Table()); err != nil {
			return errors.Wrap(err, "report: writing history table")
		}
	}
	return nil
}

// SaveHTML renders the figure into a file. The file is closed before returning;
// nothing is retained.
func (c *Config) SaveHTML(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "report: creating %q", path)
	}
	if err := c.WriteHTML(f); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "report: closing %q", path)
}
