package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"metald/services/agent"
)

func main() {
	configPath := flag.String("config", agent.ConfigPath, "path to agent configuration file")
	once := flag.Bool("once", false, "collect and post a single report, then exit")
	flag.Parse()

	logger := log.New(os.Stdout, "metald-agent: ", log.LstdFlags)

	svc, err := agent.NewService(*configPath)
	if err != nil {
		logger.Fatalf("failed to initialize service: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		if err := svc.ReportOnce(ctx); err != nil {
			logger.Fatalf("report failed: %v", err)
		}
		return
	}

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("service exited with error: %v", err)
	}
}
