package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/evostrat/internal/trace"
)

var (
	traceDir      string
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "Manage run traces",
	Long:  `List and clean the JSONL traces written by 'evostrat run --trace'.`,
}

var listTracesCmd = &cobra.Command{
	Use:   "list",
	Short: "List traces in the trace directory",
	RunE:  runListTraces,
}

var cleanTracesCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old traces",
	Long: `Delete traces based on a retention policy: keep only the newest N,
delete those older than N days, or both.`,
	RunE: runCleanTraces,
}

func init() {
	rootCmd.AddCommand(tracesCmd)
	tracesCmd.AddCommand(listTracesCmd)
	tracesCmd.AddCommand(cleanTracesCmd)

	tracesCmd.PersistentFlags().StringVar(&traceDir, "dir", "./traces", "Directory holding trace files")

	cleanTracesCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N traces (0 = keep all)")
	cleanTracesCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete traces older than N days (0 = no age limit)")
	cleanTracesCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func runListTraces(cmd *cobra.Command, args []string) error {
	infos, err := trace.List(traceDir)
	if err != nil {
		return fmt.Errorf("failed to list traces: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No traces found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tMODIFIED\tGENERATIONS\tRESTARTS\tBEST FITNESS\tSIZE")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			filepath.Base(info.Path),
			info.ModTime.Format("2006-01-02 15:04:05"),
			info.Generations,
			info.Restarts,
			formatFitness(float64(info.BestFitness)),
			formatBytes(info.Size),
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal traces: %d\n", len(infos))
	return nil
}

func runCleanTraces(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	infos, err := trace.List(traceDir)
	if err != nil {
		return fmt.Errorf("failed to list traces: %w", err)
	}

	out := cmd.OutOrStdout()
	toDelete := selectTracesForDeletion(infos, keepLast, olderThanDays, time.Now())
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No traces match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d trace(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%d generations, %s)\n",
			filepath.Base(info.Path),
			info.Generations,
			info.ModTime.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean && !confirm(cmd.InOrStdin(), out, "\nProceed with deletion? [y/N]: ") {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := os.Remove(info.Path); err != nil {
			slog.Error("Failed to delete trace", "path", info.Path, "error", err)
			failed++
			continue
		}
		slog.Info("Deleted trace", "path", info.Path)
		deleted++
	}

	fmt.Fprintf(out, "\nDeleted %d trace(s), %d failed.\n", deleted, failed)
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	var response string
	fmt.Fscanln(in, &response)
	return response == "y" || response == "Y"
}

// selectTracesForDeletion applies the retention policy: traces older than
// olderThanDays, plus everything but the newest keepLast. Each trace is
// selected at most once; the result is oldest first.
func selectTracesForDeletion(infos []trace.Info, keepLast, olderThanDays int, now time.Time) []trace.Info {
	sorted := make([]trace.Info, len(infos))
	copy(sorted, infos)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ModTime.Before(sorted[j].ModTime) })

	cutoff := now.AddDate(0, 0, -olderThanDays)
	excess := 0
	if keepLast > 0 && len(sorted) > keepLast {
		excess = len(sorted) - keepLast
	}

	var toDelete []trace.Info
	for i, info := range sorted {
		tooOld := olderThanDays > 0 && info.ModTime.Before(cutoff)
		if tooOld || i < excess {
			toDelete = append(toDelete, info)
		}
	}
	return toDelete
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
