// Package logging configures the process-wide slog logger for the roomchat
// binaries.
//
// Levels from most to least verbose are debug, info, warn and error. Text is
// the default format; json suits log shippers.
//
//	if err := logging.Setup(logging.Options{Level: "debug"}); err != nil {
//		log.Fatal(err)
//	}
//	slog.Debug("session opened", "remote", addr)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format names accepted by Options.Format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options controls how logging is configured.
type Options struct {
	Level  string    // debug, info, warn, error (default info)
	Format string    // text or json (default text)
	Output io.Writer // default os.Stderr
}

var levels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	lvl, ok := levels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q (valid: %s)", name, LevelNames())
	}
	return lvl, nil
}

// LevelNames lists the valid level names for flag help text.
func LevelNames() string {
	return "debug, info, warn, error"
}

// New builds a logger from opts without installing it.
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	hopts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", FormatText:
		return slog.New(slog.NewTextHandler(out, hopts)), nil
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(out, hopts)), nil
	default:
		return nil, fmt.Errorf("logging: unknown format %q (valid: text, json)", opts.Format)
	}
}

// Setup installs a logger built from opts as the slog default. Call it early
// in main, before anything logs.
func Setup(opts Options) error {
	l, err := New(opts)
	if err != nil {
		return err
	}
	slog.SetDefault(l)
	return nil
}
