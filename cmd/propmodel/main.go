// Command propmodel plans and runs multi-way dataflow constraint models.
package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/propmodel/internal/definition"
	"github.com/AaronLay10/propmodel/internal/version"
)

var (
	modelPath  string
	setFlags   []string
	configPath string

	rootCmd = &cobra.Command{
		Use:           "propmodel",
		Short:         "Plan and run multi-way dataflow constraint models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Read NAME VALUE pairs from stdin and print the model after each update",
		Args:  cobra.NoArgs,
		RunE:  runRun, // cmd_run.go
	}

	planCmd = &cobra.Command{
		Use:   "plan",
		Short: "Apply writes once and print the chosen plan",
		Args:  cobra.NoArgs,
		RunE:  runPlan, // cmd_plan.go
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Validate a model definition and check that it can be planned",
		Args:  cobra.NoArgs,
		RunE:  runValidate, // cmd_plan.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve a model over HTTP and MQTT",
		Args:  cobra.NoArgs,
		RunE:  runServe, // cmd_serve.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
)

func init() {
	runCmd.Flags().StringVar(&modelPath, "model", "", "model definition file (default: built-in A/B/C example)")

	planCmd.Flags().StringVar(&modelPath, "model", "", "model definition file (default: built-in A/B/C example)")
	planCmd.Flags().StringArrayVar(&setFlags, "set", nil, "property write NAME=VALUE, repeatable")

	validateCmd.Flags().StringVar(&modelPath, "model", "", "model definition file")
	_ = validateCmd.MarkFlagRequired("model")

	serveCmd.Flags().StringVar(&configPath, "config", "propmodel.yaml", "service config file")

	rootCmd.AddCommand(runCmd, planCmd, validateCmd, serveCmd, versionCmd)
}

// loadModel returns the definition at modelPath, or the built-in example
// when no path was given.
func loadModel() (*definition.Definition, error) {
	if modelPath == "" {
		return definition.Example(), nil
	}
	return definition.Load(modelPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("propmodel: %v", err)
	}
}
