// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"math"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/autograph/pkg/core/graph"
	"github.com/gomlx/autograph/pkg/core/shapes"
	"github.com/gomlx/autograph/pkg/core/tensors"
	"github.com/gomlx/autograph/pkg/ml/initializer"
	"github.com/gomlx/autograph/pkg/ml/random"
	"github.com/gomlx/autograph/pkg/ml/train"
	"github.com/gomlx/autograph/pkg/ml/train/commandline"
	"github.com/gomlx/autograph/pkg/ml/train/losses"
	"github.com/gomlx/autograph/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config of the search.
type Config struct {
	M, Ops, Scale                 int
	Epochs, TrainingSamples       int
	Iterations, FinalIterations   int
	LearningRate                  float64
	Seed                          uint64
	StopThreshold                 float64
	SuccessThreshold              float64
	MinIterationsBeforeBreak      int
	FinalAlpha, FinalLearningRate float64
	Progress                      bool
}

// DefaultConfig searches for Strassen's 7 multiplications of 2x2 matrices.
func DefaultConfig() Config {
	return Config{
		M:                        2,
		Ops:                      7,
		Scale:                    16,
		Epochs:                   4096,
		TrainingSamples:          1024,
		Iterations:               1024,
		FinalIterations:          8,
		LearningRate:             0.1,
		Seed:                     113,
		StopThreshold:            1e-7,
		SuccessThreshold:         1e-3,
		MinIterationsBeforeBreak: 512,
		FinalAlpha:               100,
		FinalLearningRate:        1e-10,
	}
}

// factor is one of the three coefficient matrices being searched: a product of two tanh "soft-integer"
// matrices, masked by a sigmoid "soft-binary" matrix. Large alpha pushes its entries towards {-1, 0, 1}.
type factor struct {
	name        string
	left, right *graph.Node
	sign        *graph.Node
}

// coefficients returns (tanh(α·left)·tanh(α·right)) ⊙ sigmoid(α·sign).
func (f *factor) coefficients(alpha *graph.Node) *graph.Node {
	soft := graph.MatMul(graph.Tanh(graph.Mul(alpha, f.left)), graph.Tanh(graph.Mul(alpha, f.right)))
	return graph.Mul(soft, graph.Sigmoid(graph.Mul(alpha, f.sign)))
}

// Search holds the model and the training state.
type Search struct {
	config  Config
	g       *graph.Graph
	session *graph.Session

	// Placeholders.
	alpha, a, b, c *graph.Node

	factors      [3]*factor
	coefficients [3]*graph.Node
	loss         *graph.Node

	optimizer optimizers.Interface
	loop      *train.Loop
}

// generateData returns random A and B, shaped [samples, m*m], and C such that C[i] = A[i]·B[i] when each row
// is read as a m×m matrix.
func generateData(rng *random.Random, samples, m int) (a, b, c *tensors.Tensor) {
	shape := shapes.Make(dtypes.Float32, samples, m*m)
	a = rng.Uniform(shape)
	b = rng.Uniform(shape)
	c = tensors.FromShape(shape)
	for idx := range samples {
		base := idx * m * m
		for row := range m {
			for col := range m {
				var sum float64
				for k := range m {
					sum += a.FlatAt(base+row*m+k) * b.FlatAt(base+k*m+col)
				}
				c.SetFlatAt(base+row*m+col, sum)
			}
		}
	}
	return
}

// NewSearch generates the training data and builds the model.
func NewSearch(config Config) (*Search, error) {
	if config.M <= 0 || config.Ops <= 0 || config.Scale <= 0 || config.TrainingSamples <= 0 {
		return nil, errors.Errorf("invalid configuration: m=%d, ops=%d, scale=%d and training_samples=%d must be > 0",
			config.M, config.Ops, config.Scale, config.TrainingSamples)
	}
	s := &Search{config: config, g: graph.NewGraph("gemm_search")}
	g := s.g
	rng := random.NewWithSeed(config.Seed)
	g.SetRandomSeed(config.Seed)
	mm, ops, scale := config.M*config.M, config.Ops, config.Scale

	dataA, dataB, dataC := generateData(rng, config.TrainingSamples, config.M)
	s.a = graph.Placeholder(g, "A", shapes.Make(dtypes.Float32, shapes.UnknownDim, mm))
	s.b = graph.Placeholder(g, "B", shapes.Make(dtypes.Float32, shapes.UnknownDim, mm))
	s.c = graph.Placeholder(g, "C", shapes.Make(dtypes.Float32, shapes.UnknownDim, mm))
	s.alpha = graph.Placeholder(g, "alpha", shapes.Scalar(dtypes.Float32))

	initFn := initializer.NormalBySize(rng)
	newVar := func(name string, dims ...int) *graph.Node {
		return initializer.Variable(g, name, shapes.Make(dtypes.Float32, dims...), initFn)
	}
	s.factors[0] = &factor{name: "AA", left: newVar("tanh_a_", mm, scale), right: newVar("tanh__a", scale, ops),
		sign: newVar("sign_a", mm, ops)}
	s.factors[1] = &factor{name: "BB", left: newVar("tanh_b_", mm, scale), right: newVar("tanh__b", scale, ops),
		sign: newVar("sign_b", mm, ops)}
	s.factors[2] = &factor{name: "CC", left: newVar("tanh__c", ops, scale), right: newVar("tanh_c_", scale, mm),
		sign: newVar("sign_c", ops, mm)}
	for ii, f := range s.factors {
		s.coefficients[ii] = f.coefficients(s.alpha)
	}

	// [N, ops] products of linear combinations of A and B, recombined into [N, m*m].
	aa := graph.MatMul(s.a, s.coefficients[0])
	bb := graph.MatMul(s.b, s.coefficients[1])
	cc := graph.MatMul(graph.Mul(aa, bb), s.coefficients[2])
	s.loss = losses.MeanSquaredError([]*graph.Node{s.c}, []*graph.Node{cc})

	s.session = graph.NewSession(g)
	for _, binding := range []struct {
		node  *graph.Node
		value *tensors.Tensor
	}{{s.a, dataA}, {s.b, dataB}, {s.c, dataC}} {
		if err := s.session.Bind(binding.node, binding.value); err != nil {
			return nil, err
		}
	}
	s.optimizer = optimizers.Adam(s.loss).LearningRate(config.LearningRate).Done()
	s.loop = train.NewLoop(s.session, s.loss, s.optimizer)
	train.EarlyStopBelow(s.loop, config.StopThreshold, 0)
	if config.Progress {
		commandline.AttachProgressBar(s.loop)
	}
	return s, nil
}

// Alpha returns the sharpness used at the given iteration: it grows quadratically from 1.
func Alpha(iteration int) float64 {
	it := float64(iteration)
	return 1 + 0.05*it*(1+0.001*it)
}

func (s *Search) setAlpha(alpha float64) error {
	return s.session.Bind(s.alpha, tensors.FromScalar(float32(alpha)))
}

// Run trains for the configured iterations, each one with a larger alpha and a fresh optimizer state, and
// returns whether the loss went below the stop threshold after the minimum number of iterations.
func (s *Search) Run(out io.Writer) (found bool, err error) {
	cfg := s.config
	for it := range cfg.Iterations {
		if err = s.setAlpha(Alpha(it)); err != nil {
			return false, err
		}
		s.optimizer.Clear()
		s.optimizer.SetLearningRate(cfg.LearningRate * (1 - float64(it)/float64(cfg.Iterations)))
		loss, err := s.loop.RunSteps(nil, cfg.Epochs)
		if err != nil {
			return false, errors.WithMessagef(err, "iteration %d", it)
		}
		if !cfg.Progress {
			_, _ = fmt.Fprintf(out, "Loss at iteration %d, step %s: %.8g\n", it, humanize.Comma(int64(s.loop.LoopStep)), loss)
		}
		if math.IsNaN(loss) {
			klog.Warningf("iteration %d: loss is NaN", it)
		}
		if loss <= cfg.StopThreshold && it >= cfg.MinIterationsBeforeBreak {
			klog.V(1).Infof("maybe found with loss %g at iteration %d", loss, it)
			return true, nil
		}
	}
	return false, nil
}

// Finalize sharpens the coefficients with a large alpha, trains a few more steps with a tiny learning rate and
// returns the final loss.
func (s *Search) Finalize() (loss float64, err error) {
	cfg := s.config
	if err = s.setAlpha(cfg.FinalAlpha); err != nil {
		return 0, err
	}
	final := optimizers.Adam(s.loss).LearningRate(cfg.FinalLearningRate).BatchSize(cfg.TrainingSamples).Done()
	for range cfg.FinalIterations {
		if _, err = s.session.Run(s.loss); err != nil {
			return 0, err
		}
		if err = s.session.Step(final); err != nil {
			return 0, err
		}
	}
	value, err := s.session.Run(s.loss)
	if err != nil {
		return 0, err
	}
	return value.FlatAt(0), nil
}

// Coefficients evaluates the 3 coefficient matrices, with the alpha currently bound.
func (s *Search) Coefficients() ([]*tensors.Tensor, error) {
	return s.session.RunMany(s.coefficients[:]...)
}

// ParametersMemory returns the memory used by the variables of the model.
func (s *Search) ParametersMemory() (memory uintptr) {
	for _, v := range s.g.TrainableVariables(s.loss) {
		memory += v.Value().Memory()
	}
	return
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	failureStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// Report writes the configuration, the final loss and the coefficients found.
func (s *Search) Report(out io.Writer, finalLoss float64) error {
	cfg := s.config
	table := lgtable.New().Border(lipgloss.RoundedBorder())
	table.Row("m", fmt.Sprint(cfg.M))
	table.Row("ops", fmt.Sprint(cfg.Ops))
	table.Row("epochs", humanize.Comma(int64(cfg.Epochs)))
	table.Row("training_samples", humanize.Comma(int64(cfg.TrainingSamples)))
	table.Row("learning_rate", fmt.Sprint(cfg.LearningRate))
	table.Row("parameters", humanize.Bytes(uint64(s.ParametersMemory())))
	table.Row("final error", fmt.Sprintf("%.6g", finalLoss))
	if _, err := fmt.Fprintf(out, "%s\n%s\n", titleStyle.Render("GEMM search"), table.String()); err != nil {
		return err
	}
	if finalLoss >= cfg.SuccessThreshold {
		if _, err := fmt.Fprintln(out, failureStyle.Render(fmt.Sprintf("Failed to solve with a big error of %g", finalLoss))); err != nil {
			return err
		}
	}
	coefficients, err := s.Coefficients()
	if err != nil {
		return err
	}
	for ii, f := range s.factors {
		if _, err := fmt.Fprintf(out, "%s is\n%s\n", titleStyle.Render(f.name),
			coefficients[ii].Summary(3)); err != nil {
			return err
		}
	}
	return commandline.ReportLoop(out, s.loop)
}
