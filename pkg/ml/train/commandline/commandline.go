// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line: a progress bar for
// train.Loop and a report of the training.
package commandline

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/autograph/pkg/ml/train"
	"github.com/gomlx/autograph/pkg/ml/train/metrics"
)

var titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

// ReportLoop writes to out a table with the results of the training so far: number of steps, last loss,
// the attached metrics and the median duration of the training steps.
func ReportLoop(out io.Writer, loop *train.Loop) error {
	history := loop.LossHistory()
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	table.Row("Steps", humanize.Comma(int64(len(history))))
	if len(history) > 0 {
		table.Row("First Loss", metrics.DefaultPrettyPrint(history[0]))
		table.Row("Last Loss", metrics.DefaultPrettyPrint(history[len(history)-1]))
	}
	for _, m := range metrics.Attached(loop) {
		table.Row(m.Name(), m.PrettyPrint())
	}
	table.Row("Median Step Time", loop.MedianTrainStepDuration().String())
	table.Row("Optimizer Steps", humanize.Comma(loop.Optimizer.Step()))
	_, err := fmt.Fprintf(out, "%s\n%s\n", titleStyle.Render(fmt.Sprintf("Training of %s", loop.Session)), table.String())
	return err
}
