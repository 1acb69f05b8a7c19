package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pergolahq/pergola"
	"github.com/pergolahq/pergola/internal/cli"
	"github.com/pergolahq/pergola/pkg/domain"
)

var validateCmd = &cobra.Command{
	Use:   "validate [flow.yaml]",
	Short: "Check a flow definition for consistency",
	Long:  `Loads the flow file and reports unknown state references, missing join targets, unregistered conditions and other structural problems.`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := optionsFromFlags(cmd)
		if len(args) > 0 {
			opts.FlowPath = args[0]
		}
		if err := runValidate(opts); err != nil {
			fmt.Printf("Validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Flow is valid! ✅")
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(opts cli.Options) error {
	flow, err := cli.LoadFlow(opts.FlowPath)
	if err != nil {
		var cfgErr *domain.ConfigurationError
		if errors.As(err, &cfgErr) {
			for _, issue := range cfgErr.Issues {
				fmt.Printf("  - %s\n", issue)
			}
		}
		return err
	}

	// Constructing the engine re-runs validation plus condition resolution.
	if _, err := pergola.New(flow); err != nil {
		var cfgErr *domain.ConfigurationError
		if errors.As(err, &cfgErr) {
			for _, issue := range cfgErr.Issues {
				fmt.Printf("  - %s\n", issue)
			}
		}
		return err
	}
	return nil
}
