// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

// Command denseflow trains a small dense regression network on synthetic
// linear data and writes a training-curve report. With -tune it first searches
// the layer widths and the learning rate with hyperband.
package main

import (
	"flag"
	"fmt"
	"math/rand"

	"github.com/gomlx/gomlx/backends"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/denseflow/denseflow"
	"github.com/denseflow/denseflow/sequential"
	"github.com/denseflow/denseflow/tuner"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagNumExamples  = flag.Int("num_examples", 2000, "Number of synthetic examples to generate")
	flagNumFeatures  = flag.Int("num_features", 10, "Number of features per example")
	flagNoise        = flag.Float64("noise", 0.2, "Noise added to the synthetic labels")
	flagValFraction  = flag.Float64("val_fraction", 0.2, "Fraction of examples held out for validation")
	flagEpochs       = flag.Int("epochs", 100, "Number of training epochs")
	flagBatchSize    = flag.Int("batch_size", 32, "Training batch size")
	flagLearningRate = flag.Float64("learning_rate", 0.001, "Initial learning rate")
	flagSeed         = flag.Int64("seed", 42, "Seed for data generation and weight initialization")
	flagReport       = flag.String("report", "training_report.html", "Path of the HTML training-curve report, empty disables it")
	flagCheckpoint   = flag.String("checkpoint", "", "Directory for best-weights checkpoints, empty disables them")
	flagTune         = flag.Bool("tune", false, "Search layer widths and learning rate with hyperband before training")
)

// buildExamples generates inputs drawn from a unit normal and labels from a
// random linear model plus gaussian noise, labels shaped (numExamples, 1).
func buildExamples(rng *rand.Rand, numExamples, numFeatures int, noise float64) (inputs, labels [][]float64) {
	coefficients := make([]float64, numFeatures)
	for i := range coefficients {
		coefficients[i] = rng.NormFloat64() * 5.0
	}
	bias := rng.NormFloat64()*10.0 + 1.0

	inputs = make([][]float64, numExamples)
	labels = make([][]float64, numExamples)
	for i := range inputs {
		row := make([]float64, numFeatures)
		label := bias
		for j := range row {
			row[j] = rng.NormFloat64()
			label += row[j] * coefficients[j]
		}
		inputs[i] = row
		labels[i] = []float64{label + rng.NormFloat64()*noise}
	}
	return
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	backend := backends.MustNew()
	fmt.Printf("Backend: %s, %s\n", backend.Name(), backend.Description())

	rng := rand.New(rand.NewSource(*flagSeed))
	inputs, labels := buildExamples(rng, *flagNumExamples, *flagNumFeatures, *flagNoise)
	split := *flagNumExamples - int(float64(*flagNumExamples)**flagValFraction)
	trainX, trainY := inputs[:split], labels[:split]
	valX, valY := inputs[split:], labels[split:]
	fmt.Printf("Training on %d examples, validating on %d\n\n", len(trainX), len(valX))

	run := denseflow.New(backend).
		LinearRegression([]int{64, 32}, *flagNumFeatures).
		LearningRate(*flagLearningRate).
		Seed(*flagSeed).
		Data(trainX, trainY).
		Validation(valX, valY).
		Epochs(*flagEpochs).
		BatchSize(*flagBatchSize).
		CheckpointDir(*flagCheckpoint).
		ReportHTML(*flagReport)

	if *flagTune {
		best := must.M1(tuner.New(backend).
			Data(trainX, trainY).
			Validation(valX, valY).
			Layers(
				tuner.SearchLayer{Units: []int{32, 64, 128}, Activation: "relu", InputShape: []int{*flagNumFeatures}},
				tuner.SearchLayer{Units: []int{16, 32, 64}, Activation: "relu"},
				tuner.SearchLayer{Units: []int{1}, Activation: "linear"},
			).
			LearningRates(0.01, 0.001, 0.0001).
			Loss(sequential.LossByName("mse")).
			Metrics(sequential.MetricByName("mae")).
			BatchSize(*flagBatchSize).
			Seed(*flagSeed).
			Search())
		fmt.Println(best.Summary())
		run.Layers(best.LayerSpecs()...).LearningRate(best.LearningRate())
	}

	model, history := must.M2(run.Run())
	fmt.Printf("\nTrained for %d epochs.\n", history.Epochs())
	fmt.Println(model.Summary())
	if *flagReport != "" {
		fmt.Printf("Report written to %s\n", *flagReport)
	}
}
