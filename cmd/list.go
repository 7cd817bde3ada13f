package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cwbudde/evostrat/internal/es"
	"github.com/cwbudde/evostrat/internal/problems"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List strategies and benchmark problems",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "strategies: %s\n", strings.Join(es.Names(), ", "))
		fmt.Fprintf(out, "baselines:  %s, %s\n", baselineMayfly, baselineGonum)
		fmt.Fprintf(out, "problems:   %s\n", strings.Join(problems.Names(), ", "))
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
