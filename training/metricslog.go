// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"encoding/json"
	"io"
	"os"
	"path"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MetricsLogFileName is the file created inside a metrics-log directory.
const MetricsLogFileName = "training_plot_points.json"

// Point is one logged metric value at one epoch. Points are appended to the log
// file as a stream of JSON objects, one per line.
type Point struct {
	MetricName string
	Epoch      float64
	Value      float64
}

// MetricsLog appends every history metric to a JSON event log after each epoch,
// the equivalent of framework-native training event files. Writes happen on a
// background goroutine so they never block the fit; write failures are logged
// and reported when the fit closes the callback.
type MetricsLog struct {
	points chan<- Point
	errc   <-chan error
}

// NewMetricsLog creates the log directory (if needed) and opens the event file
// for appending.
func NewMetricsLog(dir string) (*MetricsLog, error) {
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, errors.Wrapf(err, "metrics log: creating directory %q", dir)
	}
	filePath := path.Join(dir, MetricsLogFileName)
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
	if err != nil {
		return nil, errors.Wrapf(err, "metrics log: opening %q for append", filePath)
	}

	pointChan := make(chan Point, 100)
	errChan := make(chan error, 1)
	go func() {
		var firstErr error
		enc := json.NewEncoder(f)
		for point := range pointChan {
			if firstErr != nil {
				continue
			}
			if err := enc.Encode(point); err != nil {
				firstErr = errors.Wrapf(err, "metrics log: writing to %q", filePath)
				klog.Errorf("%+v", firstErr)
			}
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "metrics log: closing %q", filePath)
		}
		errChan <- firstErr
	}()
	return &MetricsLog{points: pointChan, errc: errChan}, nil
}

func (ml *MetricsLog) Name() string { return "metrics log" }

func (ml *MetricsLog) OnEpochEnd(epoch int, history *History) (bool, error) {
	for _, key := range history.Keys() {
		if value, found := history.Last(key); found {
			ml.points <- Point{MetricName: key, Epoch: float64(epoch + 1), Value: value}
		}
	}
	return false, nil
}

// Close flushes the log and reports any asynchronous write error. The fit calls
// it when the run finishes.
func (ml *MetricsLog) Close() error {
	if ml.points == nil {
		return nil
	}
	close(ml.points)
	ml.points = nil
	return <-ml.errc
}

// LoadPoints reads back all points from a metrics-log directory.
func LoadPoints(dir string) ([]Point, error) {
	filePath := path.Join(dir, MetricsLogFileName)
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "metrics log: reading %q", filePath)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	var points []Point
	for {
		var point Point
		err := dec.Decode(&point)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "metrics log: decoding %q", filePath)
		}
		points = append(points, point)
	}
	return points, nil
}
