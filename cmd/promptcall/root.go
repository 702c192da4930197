package main

import (
	"context"
	"fmt"

	"github.com/aschepis/backscratcher/promptcall/call"
	"github.com/aschepis/backscratcher/promptcall/callstore"
	"github.com/aschepis/backscratcher/promptcall/config"
	"github.com/aschepis/backscratcher/promptcall/llm"
	"github.com/aschepis/backscratcher/promptcall/logger"
	"github.com/aschepis/backscratcher/promptcall/provider"
	"github.com/aschepis/backscratcher/promptcall/tracing"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	cfgPath string
	verbose bool

	cfg *config.Config
	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:          "promptcall",
	Short:        "Run prompt templates against LLM providers",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			return err
		}
		if log, err = logger.InitWithOptions(cfg.Logging.File, cfg.Logging.Pretty || cfg.Logging.File == ""); err != nil {
			return err
		}
		if verbose {
			log = log.Level(zerolog.DebugLevel)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.Path(), "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// session holds everything a command needs to make calls. Close releases
// the store and flushes spans.
type session struct {
	client    llm.Client
	key       *llm.ClientKey
	observers []call.Observer
	store     *callstore.Store
	tp        *sdktrace.TracerProvider
}

func openSession(ctx context.Context, providerName, model string, record bool) (*session, error) {
	factory := provider.NewFactory(log, llm.NewLoggingMiddleware(log))
	if providerName == "" {
		providerName = cfg.Defaults.Provider
	}
	client, key, err := factory.Resolve(cfg.Registry(), providerName, model)
	if err != nil {
		return nil, fmt.Errorf("resolve provider: %w", err)
	}

	s := &session{client: client, key: key}
	if record && !cfg.Store.Disabled {
		if s.store, err = callstore.Open(ctx, cfg.Store.Path, log); err != nil {
			return nil, err
		}
		s.observers = append(s.observers, s.store)
	}
	if cfg.Tracing.Enabled {
		s.tp = tracing.NewLogProvider(log)
		s.observers = append(s.observers, tracing.NewObserver(s.tp))
	}
	return s, nil
}

func (s *session) Close(ctx context.Context) {
	if s.tp != nil {
		if err := s.tp.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush spans")
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close call store")
		}
	}
}
