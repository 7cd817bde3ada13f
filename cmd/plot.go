package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cwbudde/evostrat/internal/report"
	"github.com/cwbudde/evostrat/internal/trace"
)

var (
	plotOut   string
	plotTitle string
)

var plotCmd = &cobra.Command{
	Use:   "plot <trace.jsonl>",
	Short: "Render a convergence chart from a trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlot,
}

func init() {
	plotCmd.Flags().StringVar(&plotOut, "out", "", "Output image (default: trace path with .png)")
	plotCmd.Flags().StringVar(&plotTitle, "title", "", "Chart title (default: trace file name)")
	rootCmd.AddCommand(plotCmd)
}

func runPlot(cmd *cobra.Command, args []string) error {
	entries, err := trace.ReadFile(args[0])
	if err != nil {
		return err
	}

	out := plotOut
	if out == "" {
		out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".png"
	}
	title := plotTitle
	if title == "" {
		title = filepath.Base(args[0])
	}

	if err := report.PlotConvergence(entries, title, out); err != nil {
		return fmt.Errorf("failed to plot %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d generations)\n", out, len(entries))
	return nil
}
