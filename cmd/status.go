package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/evostrat/internal/server"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job to the server",
	Long: `Submits a strategy job built from the run flags (or --config) and
prints its ID.`,
	RunE: runSubmit,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")

	// submit shares the run command's flags
	submitCmd.Flags().AddFlagSet(runCmd.Flags())

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(cancelCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listJobs(cmd.OutOrStdout(), serverURL+"/api/v1/jobs")
	}
	jobID := args[0]
	return getJobStatus(cmd.OutOrStdout(), fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

// checkResponse turns non-2xx responses into errors carrying the server's
// message.
func checkResponse(resp *http.Response, jobID string) error {
	if resp.StatusCode == http.StatusNotFound && jobID != "" {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("server returned %s: %s", resp.Status, apiErr.Error)
	}
	return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(body))
}

func listJobs(out io.Writer, url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, ""); err != nil {
		return err
	}

	var jobs []server.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tSTATE\tSTRATEGY\tPROBLEM\tGENERATION\tBEST FITNESS")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			job.ID,
			job.State,
			job.Config.Strategy,
			job.Config.Problem,
			job.Generations,
			job.Config.Generations,
			formatFitness(float64(job.BestFitness)),
		)
	}
	return w.Flush()
}

func getJobStatus(out io.Writer, url, jobID string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, jobID); err != nil {
		return err
	}

	var status server.JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if status.Job == nil {
		return fmt.Errorf("empty status for job %s", jobID)
	}

	fmt.Fprintf(out, "Job: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n", status.State)
	fmt.Fprintln(out)

	c := status.Config
	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Strategy: %s\n", c.Strategy)
	fmt.Fprintf(out, "  Problem: %s (%d dims)\n", c.Problem, c.Dims)
	fmt.Fprintf(out, "  Population: %d\n", c.PopulationSize)
	fmt.Fprintf(out, "  Generations: %d\n", c.Generations)
	fmt.Fprintf(out, "  Seed: %d\n", c.Seed)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Generation: %d\n", status.Generations)
	if v := float64(status.BestFitness); !math.IsNaN(v) {
		fmt.Fprintf(out, "  Best Fitness: %.6g\n", v)
	}
	if v := float64(status.Sigma); !math.IsNaN(v) && v > 0 {
		fmt.Fprintf(out, "  Sigma: %.4g\n", v)
	}
	if status.Restarts > 0 {
		fmt.Fprintf(out, "  Restarts: %d (population %d)\n", status.Restarts, status.PopulationSize)
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if status.EPS > 0 {
		fmt.Fprintf(out, "  Throughput: %.0f evals/sec\n", status.EPS)
	}
	if len(status.BestSolution) > 0 {
		fmt.Fprintf(out, "  Best: %s\n", formatVector(status.BestSolution))
	}

	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	body, err := json.Marshal(server.JobConfig{
		Strategy:       cfg.Strategy,
		PopulationSize: cfg.PopulationSize,
		Problem:        cfg.Problem,
		Dims:           cfg.Dims,
		Shift:          cfg.Shift,
		Generations:    cfg.Generations,
		Seed:           cfg.Seed,
		Hyperparams:    cfg.Hyperparams,
		Shaping:        cfg.Shaping,
	})
	if err != nil {
		return err
	}

	resp, err := http.Post(serverURL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, ""); err != nil {
		return err
	}

	var job server.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), job.ID)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	resp, err := http.Post(fmt.Sprintf("%s/api/v1/jobs/%s/cancel", serverURL, jobID), "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, jobID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", jobID)
	return nil
}
