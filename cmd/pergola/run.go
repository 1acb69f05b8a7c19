package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pergolahq/pergola/internal/cli"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an interactive conversation on the terminal",
	Long: `Starts a conversation against the flow file and reads intents from stdin.
Each line is either a bare intent name or a JSON intent record, e.g.
{"intent": "provide_info", "confidence": 0.92, "extracted_data": {"budget": 5000}}.`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := cli.RunOptions{Options: optionsFromFlags(cmd)}
		opts.ConversationID, _ = cmd.Flags().GetString("conversation")
		opts.JSON, _ = cmd.Flags().GetBool("json")

		if err := cli.RunSession(opts); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("conversation", "c", "", "Conversation id to create or continue")
	runCmd.Flags().Bool("json", false, "Emit decisions as NDJSON instead of rendered markdown")

	rootCmd.Run = runCmd.Run
}
