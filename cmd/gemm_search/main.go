// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// gemm_search searches for a fast matrix multiplication algorithm (like Strassen's) for m×m matrices using
// only "ops" scalar multiplications, by training three coefficient matrices whose entries are pushed towards
// {-1, 0, 1}:
//
//	C = ((A·Wa) ⊙ (B·Wb))·Wc
//
// Each iteration trains with a sharper alpha, see Alpha. At the end the coefficients found are printed.
package main

import (
	"flag"
	"fmt"
	"os"

	"k8s.io/klog/v2"
)

var (
	defaults = DefaultConfig()

	flagM               = flag.Int("m", defaults.M, "Size of the square matrices being multiplied.")
	flagOps             = flag.Int("ops", defaults.Ops, "Number of scalar multiplications allowed.")
	flagScale           = flag.Int("scale", defaults.Scale, "Inner dimension of the factorization of the coefficients.")
	flagEpochs          = flag.Int("epochs", defaults.Epochs, "Number of training steps per iteration.")
	flagTrainingSamples = flag.Int("training_samples", defaults.TrainingSamples, "Number of random matrices pairs to train on.")
	flagIterations      = flag.Int("iterations", defaults.Iterations, "Number of iterations, each one with a sharper alpha.")
	flagLearningRate    = flag.Float64("learning_rate", defaults.LearningRate, "Initial learning rate, decayed linearly over the iterations.")
	flagSeed            = flag.Uint64("seed", defaults.Seed, "Random seed for the data and the initial values.")
	flagStopThreshold   = flag.Float64("stop_threshold", defaults.StopThreshold, "Loss below which an iteration stops early.")
	flagProgress        = flag.Bool("progress", false, "Display a progress bar for each iteration.")
)

func main() {
	klog.InitFlags(nil)
	flag.IntVar(flagScale, "s", *flagScale, "Shorthand for -scale.")
	flag.Parse()

	config := DefaultConfig()
	config.M = *flagM
	config.Ops = *flagOps
	config.Scale = *flagScale
	config.Epochs = *flagEpochs
	config.TrainingSamples = *flagTrainingSamples
	config.Iterations = *flagIterations
	config.LearningRate = *flagLearningRate
	config.Seed = *flagSeed
	config.StopThreshold = *flagStopThreshold
	config.Progress = *flagProgress

	if err := run(config); err != nil {
		klog.Fatalf("Failed: %+v", err)
	}
}

func run(config Config) error {
	search, err := NewSearch(config)
	if err != nil {
		return err
	}
	klog.Infof("Running gemm search with m=%d, ops=%d, epochs=%d, training_samples=%d, iterations=%d and learning_rate=%g",
		config.M, config.Ops, config.Epochs, config.TrainingSamples, config.Iterations, config.LearningRate)
	found, err := search.Run(os.Stdout)
	if err != nil {
		return err
	}
	if found {
		fmt.Println("Loss below the stop threshold, stopping the iterations.")
	}
	finalLoss, err := search.Finalize()
	if err != nil {
		return err
	}
	return search.Report(os.Stdout, finalLoss)
}
