package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pergolahq/pergola"
	"github.com/pergolahq/pergola/internal/cli"
	"github.com/pergolahq/pergola/pkg/adapters/httpapi"
	"github.com/pergolahq/pergola/pkg/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Starts the flow engine in server mode, exposing a JSON API over HTTP with Prometheus metrics.`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := optionsFromFlags(cmd)
		port, _ := cmd.Flags().GetString("port")

		logger := cli.NewLogger(opts.Debug)

		// Validate the shipped API contract before accepting traffic.
		if _, err := httpapi.SpecDocument(cmd.Context()); err != nil {
			fmt.Printf("Invalid OpenAPI contract: %v\n", err)
			os.Exit(1)
		}

		flow, err := cli.LoadFlow(opts.FlowPath)
		if err != nil {
			fmt.Printf("Error loading flow: %v\n", err)
			os.Exit(1)
		}

		reg := prometheus.NewRegistry()
		metrics := observability.NewMetrics(reg, flow.Name)

		engine, err := pergola.New(flow,
			pergola.WithLogger(logger),
			pergola.WithLifecycleHooks(metrics.Hooks()),
		)
		if err != nil {
			fmt.Printf("Error initializing engine: %v\n", err)
			os.Exit(1)
		}

		sessions, closeStore, err := cli.NewSessionManager(opts, logger)
		if err != nil {
			fmt.Printf("Error initializing store: %v\n", err)
			os.Exit(1)
		}
		defer closeStore()

		handler := httpapi.NewHandler(engine, sessions, flow, reg, httpapi.WithLogger(logger))

		srv := &http.Server{
			Addr:    ":" + port,
			Handler: handler,
		}

		serverErrors := make(chan error, 1)

		go func() {
			fmt.Printf("Starting Pergola Server on %s\n", srv.Addr)
			fmt.Printf("Serving flow: %s (%s)\n", flow.Name, flow.Version)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)

		case sig := <-shutdown:
			fmt.Printf("\nStart shutdown... Signal: %v\n", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				fmt.Printf("Graceful shutdown did not complete in %v: %v\n", 5*time.Second, err)
				if err := srv.Close(); err != nil {
					fmt.Printf("Error killing server: %v\n", err)
				}
			}
			fmt.Println("Pergola Server stopped gracefully")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("port", "p", "8080", "Port to listen on")
}
