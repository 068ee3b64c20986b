package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/population-sim/sim/scenario"
)

var (
	// CLI flags for the run command
	configPath  string // Path to the scenario YAML
	seed        int64  // Overrides the scenario seed
	horizon     int64  // Overrides the scenario horizon (in ticks)
	replicates  int    // Overrides the number of replicates
	parallelism int    // Overrides the number of replicates run at once
	traceLevel  string // Overrides the scenario trace level
	logLevel    string // Log verbosity level
	resultsPath string // File to write the JSON results to
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "population-sim",
	Short: "Agent-based population simulator with incrementally indexed partitions",
}

// runCmd loads a scenario, applies flag overrides and runs every replicate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a population scenario",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		logrus.SetLevel(level)

		spec, err := loadScenario(cmd)
		if err != nil {
			return err
		}

		logrus.Infof("Starting scenario %q: seed=%d horizon=%d replicates=%d",
			spec.Name, spec.Seed, spec.Horizon, spec.Replicates)
		startTime := time.Now()

		results, err := scenario.Run(cmd.Context(), spec)
		if err != nil {
			return err
		}
		printResults(cmd.OutOrStdout(), spec, results)
		if resultsPath != "" {
			if err := saveResults(resultsPath, results); err != nil {
				return err
			}
			logrus.Infof("Results written to %s", resultsPath)
		}

		logrus.Infof("Simulation complete in %s.", time.Since(startTime))
		return nil
	},
}

// validateCmd checks a scenario without running it
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a population scenario",
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := loadScenario(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scenario %q is valid: %d regions, %d partitions, %d actors\n",
			spec.Name, len(spec.Regions), len(spec.Partitions), len(spec.Actors))
		return nil
	},
}

// loadScenario reads --config, applies the flags the user set and validates.
// Flags only override the file when explicitly passed.
func loadScenario(cmd *cobra.Command) (*scenario.Spec, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	spec, err := scenario.LoadSpec(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("seed") {
		spec.Seed = seed
	}
	if flags.Changed("horizon") {
		spec.Horizon = horizon
	}
	if flags.Changed("replicates") {
		spec.Replicates = replicates
	}
	if flags.Changed("parallelism") {
		spec.Parallelism = parallelism
	}
	if flags.Changed("trace") {
		spec.Trace = traceLevel
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// printResults writes a per-replicate summary followed by the final
// partition breakdowns.
func printResults(w io.Writer, spec *scenario.Spec, results []scenario.Result) {
	fmt.Fprintf(w, "=== Simulation Results: %s ===\n", spec.Name)
	for _, r := range results {
		fmt.Fprintf(w, "Replicate %d (seed %d, run %s)\n", r.Replicate, r.Seed, r.RunID)
		fmt.Fprintf(w, "  Final Tick        : %d\n", r.Clock)
		fmt.Fprintf(w, "  Population        : %d\n", r.Population)
		fmt.Fprintf(w, "  Plans Executed    : %d\n", r.Executed)
		if r.Trace != nil {
			fmt.Fprintf(w, "  Samples           : %d (%d empty)\n", r.Trace.TotalSamples, r.Trace.EmptyCount)
		}
		for _, p := range r.Partitions {
			fmt.Fprintf(w, "  %-18s: %d members (owner %s)\n", p.Key, p.Total, p.Owner)
			for _, b := range p.Buckets {
				fmt.Fprintf(w, "    %-24s %d\n", b.Labels, b.Count)
			}
		}
	}
}

// saveResults writes results as indented JSON.
func saveResults(path string, results []scenario.Result) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	return nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// addScenarioFlags registers the scenario flags on c.
func addScenarioFlags(c *cobra.Command) {
	c.Flags().StringVar(&configPath, "config", "", "Path to the scenario YAML file")
	c.Flags().Int64Var(&seed, "seed", 0, "Override the scenario seed")
	c.Flags().Int64Var(&horizon, "horizon", 0, "Override the simulation horizon (in ticks)")
	c.Flags().IntVar(&replicates, "replicates", 1, "Override the number of replicates")
	c.Flags().IntVar(&parallelism, "parallelism", 0, "Override how many replicates run at once (0 = all)")
	c.Flags().StringVar(&traceLevel, "trace", "none", "Override the trace level (none, reports, samples)")
}

// init sets up CLI flags and subcommands
func init() {
	addScenarioFlags(runCmd)
	addScenarioFlags(validateCmd)
	runCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&resultsPath, "results-path", "", "Write the results as JSON to this file")

	// Attach subcommands to `root`
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
