// Command agentdial is an interactive client for remote agents: it submits
// conversational turns over websocket, renders streamed progress, and
// answers the agent's mid-turn questions.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	tracing "github.com/agentdial-dev/agentdial/internal/observability"
	"github.com/agentdial-dev/agentdial/pkg/config"
	"github.com/agentdial-dev/agentdial/pkg/conversation"
	"github.com/agentdial-dev/agentdial/pkg/identity"
	"github.com/agentdial-dev/agentdial/pkg/observability"
	"github.com/agentdial-dev/agentdial/pkg/recovery"
	"github.com/agentdial-dev/agentdial/pkg/resolve"
)

// Version information (set via ldflags)
var Version = "dev"

var (
	flagConfig    string
	flagAgent     string
	flagRelay     string
	flagDirect    string
	flagDirectory string
)

func main() {
	root := &cobra.Command{
		Use:           "agentdial",
		Short:         "Converse with remote agents over websocket",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultPath(), "config file")
	root.PersistentFlags().StringVar(&flagAgent, "agent", "", "agent address to converse with")
	root.PersistentFlags().StringVar(&flagRelay, "relay", "", "relay base URL")
	root.PersistentFlags().StringVar(&flagDirect, "direct", "", "direct agent URL (bypasses resolution)")
	root.PersistentFlags().StringVar(&flagDirectory, "directory", "", "directory service URL for endpoint resolution")

	root.AddCommand(newChatCmd(), newAskCmd(), newIdentityCmd(), newResolveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig merges the config file with command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagAgent != "" {
		cfg.Agent = flagAgent
	}
	if flagRelay != "" {
		cfg.RelayURL = flagRelay
	}
	if flagDirect != "" {
		cfg.DirectURL = flagDirect
	}
	if flagDirectory != "" {
		cfg.DirectoryURL = flagDirectory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openIdentityStore builds the configured identity store.
func openIdentityStore(cfg *config.Config) (identity.Store, error) {
	switch cfg.Identity.Store {
	case "redis":
		return identity.NewRedisStore(identity.RedisConfig{
			Addr:     cfg.Identity.Redis.Addr,
			Password: cfg.Identity.Redis.Password,
			DB:       cfg.Identity.Redis.DB,
			Prefix:   cfg.Identity.Redis.Prefix,
		})
	default:
		return identity.NewFileStore(cfg.Identity.Dir)
	}
}

// openConversation wires a conversation from the merged configuration.
func openConversation(cfg *config.Config, store identity.Store) (*conversation.Conversation, error) {
	return conversation.New(conversation.Config{
		AgentAddress:      cfg.Agent,
		RelayURL:          cfg.RelayURL,
		DirectURL:         cfg.DirectURL,
		DirectoryURL:      cfg.DirectoryURL,
		IdentityStore:     store,
		IdentityName:      cfg.Identity.Name,
		KeepAliveInterval: cfg.Turn.KeepAliveInterval,
		LivenessThreshold: cfg.Turn.LivenessThreshold,
		TurnTimeout:       cfg.Turn.Timeout,
		RecoveryEnabled:   cfg.Recovery.Enabled,
		Recovery: recovery.Config{
			Interval:    cfg.Recovery.Interval,
			MaxAttempts: cfg.Recovery.MaxAttempts,
		},
	})
}

// runWithObservability runs fn alongside the metrics/health endpoint and
// signal handling, shutting everything down together.
func runWithObservability(cfg *config.Config, store identity.Store, fn func(ctx context.Context) error) error {
	observability.InitMetrics()
	if err := tracing.InitFromEnv(); err != nil {
		log.Printf("tracing init failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			log.Printf("tracing shutdown error: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	var obsServer *observability.Server
	if cfg.Observability.Enabled {
		checker := observability.NewHealthChecker()
		checker.RegisterCheck(observability.IdentityStoreCheck(store))
		if cfg.RelayURL != "" {
			checker.RegisterCheck(observability.RelayCheck(nil, cfg.RelayURL))
		}
		obsServer = observability.NewServer(cfg.Observability.Port, checker)
		g.Go(func() error {
			if err := obsServer.Start(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("observability server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return obsServer.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		defer stop()
		return fn(ctx)
	})

	return g.Wait()
}

// newAskCmd submits a single turn and prints the result.
func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Submit one turn and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openIdentityStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			conv, err := openConversation(cfg, store)
			if err != nil {
				return err
			}

			return runWithObservability(cfg, store, func(ctx context.Context) error {
				res, err := conv.Input(ctx, args[0], nil)
				if err != nil {
					return err
				}
				fmt.Println(res.Text)
				return nil
			})
		},
	}
	return cmd
}

// newIdentityCmd shows or creates the local signing identity.
func newIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Show the local signing identity, creating it if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			store, err := openIdentityStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			id, err := identity.LoadOrGenerate(ctx, store, cfg.Identity.Name)
			if err != nil {
				return err
			}
			fmt.Printf("Name:    %s\n", cfg.Identity.Name)
			fmt.Printf("Address: %s\n", id.Address)
			return nil
		},
	}
	return cmd
}

// newResolveCmd resolves an agent address to a direct endpoint.
func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [address]",
		Short: "Resolve an agent address to a reachable direct endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if flagDirectory != "" {
				cfg.DirectoryURL = flagDirectory
			}
			if cfg.DirectoryURL == "" {
				return fmt.Errorf("a directory URL is required (--directory or config)")
			}

			r := resolve.NewResolver(resolve.Config{DirectoryURL: cfg.DirectoryURL})
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			ep := r.Resolve(ctx, args[0])
			if ep == nil {
				fmt.Println("No reachable direct endpoint; relay delivery will be used.")
				return nil
			}
			fmt.Printf("Direct endpoint: %s (%s)\n", ep.URL, ep.Info.Name)
			return nil
		},
	}
	return cmd
}
