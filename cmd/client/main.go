package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/NicolasHaas/roomchat/pkg/client"
	"github.com/NicolasHaas/roomchat/pkg/logging"
	"github.com/NicolasHaas/roomchat/pkg/version"
)

func main() {
	var opts client.Options
	flag.StringVar(&opts.Addr, "addr", "localhost:5000", "Server address")
	flag.BoolVar(&opts.TLS, "tls", false, "Connect with TLS")
	flag.BoolVar(&opts.Insecure, "insecure", false, "Accept self-signed server certificates")

	// Defaults can come from ROOMCHAT_LOG_LEVEL / ROOMCHAT_LOG_FORMAT.
	logLevel := flag.String("log-level", envOr("ROOMCHAT_LOG_LEVEL", "warn"), "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", envOr("ROOMCHAT_LOG_FORMAT", "text"), "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("roomchat-client", version.Full())
		return
	}

	if err := logging.Setup(logging.Options{Level: *logLevel, Format: *logFormat, Output: os.Stderr}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, opts)
	if err != nil {
		slog.Error("connect", "addr", opts.Addr, "err", err)
		os.Exit(1)
	}
	if err := c.Run(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		slog.Error("session ended", "err", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
