package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "codepipe",
		Short:        "Generate and evaluate code samples with a worker pipeline",
		Long:         "codepipe grounds a request in API definitions, generates a JavaScript code sample and evaluates it, using a sequential or model-routed pipeline of workers.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newConfigCmd(),
	)

	return rootCmd
}
