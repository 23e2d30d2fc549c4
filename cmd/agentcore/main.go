// Package main is the agentcore command line. It runs orchestration turns
// against a project directory and inspects the plans, runs and metrics they
// leave behind.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"agentcore/pkg/logx"
	"agentcore/pkg/version"
)

const appName = "agentcore"

type globalFlags struct {
	projectDir string
	debug      bool
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Agent orchestration core",
		Long: `agentcore drives a language model through a bounded graph of stages:
tool execution, planning, reasoning checks, delivery checks and an advisory
QA review. Each invocation works on one project directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.debug {
				logx.SetDebugConfig(true)
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&g.projectDir, "project", "p", ".", "Project directory")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(
		runCmd(g),
		planCmd(g),
		runsCmd(g),
		metricsCmd(g),
		secretsCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, version.String())
			},
		},
	)
	return cmd
}
