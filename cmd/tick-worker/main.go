// Package main is the entrypoint for the tick worker Lambda function.
//
// EventBridge rules send a JSON JobPayload naming the task (tick, flush_held
// or cleanup). The Runner takes the job lock, runs the task and records job
// history. Dependencies are built once per cold start and reused across
// invocations.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"gardennotify/internal/app"
	"gardennotify/internal/config"
)

func main() {
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(os.Stdout, cfg.LogLevel).With(
		"service", cfg.Service,
		"component", "tick-worker",
	)
	logger.Info("tick worker initializing (cold start)",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)

	a, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to build dependencies", "error", err)
		os.Exit(1)
	}

	logger.Info("tick worker initialized", "worker_id", a.WorkerID)

	lambda.Start(a.Runner.Handle)
}
