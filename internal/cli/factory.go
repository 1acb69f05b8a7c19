// Package cli holds the shared wiring used by the pergola commands:
// engine construction, store selection and the interactive loop.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/pergolahq/pergola"
	"github.com/pergolahq/pergola/internal/logging"
	"github.com/pergolahq/pergola/pkg/adapters/flowfile"
	"github.com/pergolahq/pergola/pkg/adapters/memory"
	redisstore "github.com/pergolahq/pergola/pkg/adapters/redis"
	"github.com/pergolahq/pergola/pkg/adapters/sqlite"
	"github.com/pergolahq/pergola/pkg/domain"
	"github.com/pergolahq/pergola/pkg/ports"
	"github.com/pergolahq/pergola/pkg/session"
)

// Options carries the flag values shared across commands.
type Options struct {
	FlowPath   string
	Store      string
	SQLitePath string
	RedisAddr  string
	RedisDB    int
	Debug      bool
}

// NewLogger builds the command logger honouring the debug flag.
func NewLogger(debug bool) *slog.Logger {
	if debug {
		return logging.New(slog.LevelDebug)
	}
	return logging.New(slog.LevelInfo)
}

// LoadFlow reads and validates the flow definition file.
func LoadFlow(path string) (*domain.FlowConfig, error) {
	flow, err := flowfile.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow %q: %w", path, err)
	}
	return flow, nil
}

// NewEngine builds an engine from the flow file referenced in opts.
func NewEngine(opts Options, logger *slog.Logger, engineOpts ...pergola.Option) (*pergola.Engine, *domain.FlowConfig, error) {
	flow, err := LoadFlow(opts.FlowPath)
	if err != nil {
		return nil, nil, err
	}

	all := append([]pergola.Option{pergola.WithLogger(logger)}, engineOpts...)
	engine, err := pergola.New(flow, all...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	return engine, flow, nil
}

// NewSessionManager wires the snapshot store named by opts.Store into a
// session manager. The returned close function releases store resources.
func NewSessionManager(opts Options, logger *slog.Logger) (*session.Manager, func() error, error) {
	var (
		store   ports.SnapshotStore
		close   = func() error { return nil }
		mgrOpts = []session.Option{session.WithLogger(logger)}
	)

	switch opts.Store {
	case "memory", "":
		store = memory.NewStore()
	case "sqlite":
		s, err := sqlite.Open(opts.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		store = s
		close = s.Close
	case "redis":
		s := redisstore.New(opts.RedisAddr, "", opts.RedisDB)
		store = s
		close = s.Close
		mgrOpts = append(mgrOpts, session.WithLocker(redisstore.NewLocker(s.Client(), "pergola:lock:")))
	default:
		return nil, nil, fmt.Errorf("unknown store %q (supported: memory, sqlite, redis)", opts.Store)
	}

	return session.NewManager(store, mgrOpts...), close, nil
}
