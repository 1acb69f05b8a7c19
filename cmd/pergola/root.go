package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pergolahq/pergola/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:   "pergola",
	Short: "Pergola is a deterministic conversation flow engine",
	Long:  `Pergola executes multi-turn conversation flows declared as YAML state machines, with choice, fork/join and parallel nodes.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("flow", "f", "flow.yaml", "Path to the flow definition file")
	rootCmd.PersistentFlags().String("store", "memory", "Snapshot store: memory, sqlite or redis")
	rootCmd.PersistentFlags().String("sqlite-path", "pergola.db", "SQLite database path (store=sqlite)")
	rootCmd.PersistentFlags().String("redis-addr", "localhost:6379", "Redis address (store=redis)")
	rootCmd.PersistentFlags().Int("redis-db", 0, "Redis database number (store=redis)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

func optionsFromFlags(cmd *cobra.Command) cli.Options {
	flow, _ := cmd.Flags().GetString("flow")
	store, _ := cmd.Flags().GetString("store")
	sqlitePath, _ := cmd.Flags().GetString("sqlite-path")
	redisAddr, _ := cmd.Flags().GetString("redis-addr")
	redisDB, _ := cmd.Flags().GetInt("redis-db")
	debug, _ := cmd.Flags().GetBool("debug")

	return cli.Options{
		FlowPath:   flow,
		Store:      store,
		SQLitePath: sqlitePath,
		RedisAddr:  redisAddr,
		RedisDB:    redisDB,
		Debug:      debug,
	}
}
