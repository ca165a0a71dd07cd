// Copyright 2026 The Denseflow Authors. SPDX-License-Identifier: Apache-2.0

package tuner

import (
	"math"
	"math/rand"
	"time"
)

// bracket is one hyperband bracket: a number of sampled configurations and the
// successive-halving rungs they go through.
type bracket struct {
	s     int
	n     int
	rungs []rung
}

// rung is one round of a bracket: keep configurations train for epochs, then
// only the best keep/eta survive to the next rung.
type rung struct {
	keep   int
	epochs int
}

// hyperbandBrackets computes the full hyperband schedule for the given maximum
// epoch budget and downsampling factor eta: brackets s = sMax..0, where bracket
// s starts with n = ceil(B/maxEpochs * eta^s/(s+1)) configurations at
// r = maxEpochs * eta^-s epochs, multiplying epochs by eta and dividing
// survivors by eta at each rung.
func hyperbandBrackets(maxEpochs, eta int) []bracket {
	sMax := int(math.Floor(math.Log(float64(maxEpochs)) / math.Log(float64(eta))))
	budget := (sMax + 1) * maxEpochs

	brackets := make([]bracket, 0, sMax+1)
	for s := sMax; s >= 0; s-- {
		n := int(math.Ceil(float64(budget) / float64(maxEpochs) *
			math.Pow(float64(eta), float64(s)) / float64(s+1)))
		r := float64(maxEpochs) * math.Pow(float64(eta), float64(-s))

		b := bracket{s: s, n: n}
		for i := 0; i <= s; i++ {
			keep := int(math.Floor(float64(n) * math.Pow(float64(eta), float64(-i))))
			epochs := int(math.Round(r * math.Pow(float64(eta), float64(i))))
			if keep < 1 {
				keep = 1
			}
			if epochs < 1 {
				epochs = 1
			}
			if epochs > maxEpochs {
				epochs = maxEpochs
			}
			b.rungs = append(b.rungs, rung{keep: keep, epochs: epochs})
		}
		brackets = append(brackets, b)
	}
	return brackets
}

// numTrials is the total number of candidate fits the schedule will run, used to
// size the progress bar.
func numTrials(brackets []bracket) int {
	total := 0
	for _, b := range brackets {
		for _, r := range b.rungs {
			if r.keep > b.n {
				total += b.n
			} else {
				total += r.keep
			}
		}
	}
	return total
}

// candidate is one point of the search space: one unit count per layer plus a
// learning rate.
type candidate struct {
	units        []int
	learningRate float64
}

// enumerateSpace builds the cross product of the per-layer unit choices and the
// learning-rate choices, in deterministic order.
func enumerateSpace(unitChoices [][]int, learningRates []float64) []candidate {
	combos := [][]int{{}}
	for _, choices := range unitChoices {
		next := make([][]int, 0, len(combos)*len(choices))
		for _, combo := range combos {
			for _, units := range choices {
				grown := make([]int, len(combo), len(combo)+1)
				copy(grown, combo)
				next = append(next, append(grown, units))
			}
		}
		combos = next
	}

	space := make([]candidate, 0, len(combos)*len(learningRates))
	for _, combo := range combos {
		for _, lr := range learningRates {
			space = append(space, candidate{units: combo, learningRate: lr})
		}
	}
	return space
}

// sampleSpace picks n candidates without replacement (or the whole space when it
// is smaller), deterministically for a given rng state.
func sampleSpace(space []candidate, n int, rng *rand.Rand) []candidate {
	if n >= len(space) {
		sampled := make([]candidate, len(space))
		copy(sampled, space)
		rng.Shuffle(len(sampled), func(i, j int) { sampled[i], sampled[j] = sampled[j], sampled[i] })
		return sampled
	}
	perm := rng.Perm(len(space))
	sampled := make([]candidate, 0, n)
	for _, idx := range perm[:n] {
		sampled = append(sampled, space[idx])
	}
	return sampled
}

// defaultRunName derives the run identifier from the clock, mirroring the
// "hyperband_YYYYMMDDhhmmss" convention.
func defaultRunName(now time.Time) string {
	return "hyperband_" + now.Format("20060102150405")
}
