package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/NicolasHaas/roomchat/pkg/crypto"
	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/logging"
	"github.com/NicolasHaas/roomchat/pkg/server"
	"github.com/NicolasHaas/roomchat/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "TCP bind address for chat clients")
	flag.StringVar(&cfg.WSAddr, "ws", cfg.WSAddr, "WebSocket bind address, serves /ws (empty to disable)")
	flag.BoolVar(&cfg.TLS, "tls", false, "Serve TLS on -addr")
	flag.StringVar(&cfg.CertFile, "cert", "", "TLS certificate file (auto-generated if empty)")
	flag.StringVar(&cfg.KeyFile, "key", "", "TLS private key file (auto-generated if empty)")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Data directory for generated files")
	flag.StringVar(&cfg.DSN, "db", cfg.DSN, "SQLite database path or postgres:// URL")
	flag.StringVar(&cfg.HashScheme, "hash", cfg.HashScheme, "Password hash for new accounts: argon2 or bcrypt")
	flag.StringVar(&cfg.RoomsFile, "rooms-file", "", "YAML file defining rooms to create on startup")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for /metrics (empty to disable)")
	flag.IntVar(&cfg.MintInvites, "invites", 0, "Mint N invite tokens, print them and exit")
	flag.BoolVar(&cfg.ExportRooms, "export-rooms", false, "Export all rooms as YAML and exit")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("roomchat-server", version.Full())
		return
	}

	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	verifier, err := crypto.NewVerifier(cfg.HashScheme)
	if err != nil {
		slog.Error("password hashing", "err", err)
		os.Exit(1)
	}

	st, err := datastore.Open(cfg.DSN)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	// One-shot admin actions run against the store and exit.
	if cfg.MintInvites > 0 || cfg.ExportRooms {
		code := runAdmin(cfg, st)
		_ = st.Close()
		os.Exit(code)
	}

	slog.Info("starting roomchat", "version", version.String(), "db", st.Dialect())
	srv := server.New(cfg, server.Dependencies{Store: st, Verifier: verifier})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

func runAdmin(cfg server.Config, st datastore.Gateway) int {
	ctx := context.Background()
	if cfg.MintInvites > 0 {
		tokens, err := server.MintInvites(ctx, st, cfg.MintInvites)
		if err != nil {
			slog.Error("mint invites", "err", err)
			return 1
		}
		for _, tok := range tokens {
			fmt.Println(tok)
		}
	}
	if cfg.ExportRooms {
		data, err := server.ExportRoomsYAML(ctx, st)
		if err != nil {
			slog.Error("export rooms", "err", err)
			return 1
		}
		fmt.Print(string(data))
	}
	return 0
}
