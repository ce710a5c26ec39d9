package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/entitycore/pkg/client"
	"github.com/cuemby/entitycore/pkg/dispatch"
	"github.com/cuemby/entitycore/pkg/events"
	"github.com/cuemby/entitycore/pkg/lock"
	"github.com/cuemby/entitycore/pkg/log"
	"github.com/cuemby/entitycore/pkg/metrics"
	"github.com/cuemby/entitycore/pkg/storage"
	"github.com/cuemby/entitycore/pkg/types"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// exampleRegistry binds the demo entity types shipped with this CLI
// (counter, stringstorea, stringstoreb). A deployment with its own
// entity types would build its own registry and its own main instead
// of reusing this one.
func exampleRegistry() (*dispatch.Registry, error) {
	r := dispatch.NewRegistry()
	if err := client.RegisterCounter(r); err != nil {
		return nil, err
	}
	if err := client.RegisterStringStoreA(r); err != nil {
		return nil, err
	}
	if err := client.RegisterStringStoreB(r); err != nil {
		return nil, err
	}
	return r, nil
}

// openEngine opens the bolt-backed store at cfg.DataDir and wires it
// into a client.Engine with the example registry, for the lifetime of
// one CLI invocation.
func openEngine(cfg EngineConfig) (*client.Engine, func(), error) {
	if cfg.DataDir == "" {
		return nil, nil, fmt.Errorf("data directory is required: pass --data-dir or set data_dir in --config")
	}

	adapter, err := storage.NewBoltAdapter(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open store at %s: %w", cfg.DataDir, err)
	}

	registry, err := exampleRegistry()
	if err != nil {
		_ = adapter.Close()
		return nil, nil, err
	}

	broker := events.NewBroker()
	broker.Start()
	engine := client.NewEngine(adapter, registry, broker, nil)

	cleanup := func() {
		engine.Stop()
		broker.Stop()
		_ = adapter.Close()
	}
	return engine, cleanup, nil
}

func parseInstanceID(raw string) (types.InstanceID, error) {
	if strings.HasPrefix(raw, "@") {
		return types.ParseInstanceID(raw)
	}
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 {
		return types.InstanceID{}, fmt.Errorf("entity id must be NAME/KEY or @NAME@KEY, got %q", raw)
	}
	return types.NewInstanceID(parts[0], parts[1])
}

func parseJSONArg(raw string) (interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v, nil
	}
	// Fall back to treating the argument as a bare string literal, so
	// `entitycore call stringstorea/a set hello` doesn't require callers
	// to quote every string input as JSON.
	return raw, nil
}

var signalCmd = &cobra.Command{
	Use:   "signal ENTITY OPERATION [INPUT]",
	Short: "Fire-and-forget one operation at an entity",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		engine, cleanup, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		id, err := parseInstanceID(args[0])
		if err != nil {
			return err
		}
		var raw string
		if len(args) == 3 {
			raw = args[2]
		}
		input, err := parseJSONArg(raw)
		if err != nil {
			return err
		}

		if err := engine.SignalEntity(cmd.Context(), nil, id, args[1], input); err != nil {
			return fmt.Errorf("signal %s: %w", id, err)
		}
		fmt.Printf("signaled %s.%s\n", id, args[1])
		return nil
	},
}

var callCmd = &cobra.Command{
	Use:   "call ENTITY OPERATION [INPUT]",
	Short: "Run one operation against an entity and print its result",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		engine, cleanup, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		id, err := parseInstanceID(args[0])
		if err != nil {
			return err
		}
		var raw string
		if len(args) == 3 {
			raw = args[2]
		}
		input, err := parseJSONArg(raw)
		if err != nil {
			return err
		}

		result, err := engine.CallEntity(cmd.Context(), nil, id, args[1], input)
		if err != nil {
			return fmt.Errorf("call %s.%s: %w", id, args[1], err)
		}
		if !result.Succeeded() {
			return fmt.Errorf("%s.%s failed: %s (%s)", id, args[1], result.Fail.ErrorMessage, result.Fail.Kind)
		}
		if len(result.OK) > 0 {
			fmt.Println(string(result.OK))
		}
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock-demo",
	Short: "Acquire or release critical sections over entities",
}

var lockAcquireCmd = &cobra.Command{
	Use:   "acquire HOLDER ENTITY...",
	Short: "Acquire a critical section over one or more entities",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		engine, cleanup, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		holder, err := parseInstanceID(args[0])
		if err != nil {
			return err
		}
		targets, err := parseInstanceIDs(args[1:])
		if err != nil {
			return err
		}

		section, granted, err := engine.LockEntities(cmd.Context(), holder, targets)
		if err != nil {
			return err
		}
		if !granted {
			fmt.Printf("queued: %s is behind the current holder on at least one entity\n", holder)
			return nil
		}
		fmt.Printf("granted: token %s\n", section.Token())
		return nil
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release HOLDER ENTITY...",
	Short: "Force-release a critical section held by HOLDER",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		engine, cleanup, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		holder, err := parseInstanceID(args[0])
		if err != nil {
			return err
		}
		targets, err := parseInstanceIDs(args[1:])
		if err != nil {
			return err
		}

		if err := engine.ForceReleaseEntities(cmd.Context(), holder, targets, lock.ReleaseReason(reason)); err != nil {
			return err
		}
		fmt.Printf("released %d entities held by %s (%s)\n", len(targets), holder, reason)
		return nil
	},
}

func parseInstanceIDs(raw []string) ([]types.InstanceID, error) {
	ids := make([]types.InstanceID, 0, len(raw))
	for _, r := range raw {
		id, err := parseInstanceID(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "List entities matching a prefix",
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")
		pageSize, _ := cmd.Flags().GetInt("page-size")
		continuation, _ := cmd.Flags().GetString("continue")
		includeState, _ := cmd.Flags().GetBool("state")

		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		engine, cleanup, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		if pageSize == 0 {
			pageSize = cfg.DefaultPageSize
		}

		page, err := engine.GetAllEntities(cmd.Context(), types.Filter{
			IDPrefix:          prefix,
			HasIDPrefix:       prefix != "",
			PageSize:          pageSize,
			IncludeState:      includeState,
			ContinuationToken: continuation,
		})
		if err != nil {
			return err
		}

		if len(page.Items) == 0 {
			fmt.Println("No entities found")
			return nil
		}

		fmt.Printf("%-30s %-8s %-24s %-8s %-8s\n", "ID", "LOCKED", "LAST MODIFIED", "BACKLOG", "QUEUE")
		fmt.Println(strings.Repeat("-", 85))
		for _, md := range page.Items {
			fmt.Printf("%-30s %-8t %-24s %-8d %-8d\n",
				md.ID.String(), md.Locked, md.LastModified.Format(time.RFC3339), md.BacklogQueueSize, md.PendingLockQueueSize)
			if includeState && len(md.State) > 0 {
				fmt.Printf("    state: %s\n", md.State)
			}
		}
		if page.HasMore {
			fmt.Printf("\nmore results available; continue with --continue=%s\n", page.NextToken)
		}
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Run one cleanup sweep: release orphaned locks, remove empty entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		engine, cleanup, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := engine.CleanEntityStorage(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("orphaned locks released: %d\n", result.OrphanedLocksReleased)
		fmt.Printf("empty entities removed:  %d\n", result.EmptyEntitiesRemoved)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the entity store as a long-lived server exposing /metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		logger := log.WithComponent("serve")

		engine, cleanup, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		metrics.SetVersion(version)
		metrics.RegisterComponent("store", true, "")
		metrics.RegisterComponent("dispatch", true, "")

		collector := metrics.NewCollector(engine)
		collector.Start()
		defer collector.Stop()

		cleanInterval := time.Duration(cfg.CleanSweepSeconds) * time.Second
		stopClean := make(chan struct{})
		go runCleanLoop(engine, cleanInterval, stopClean, logger)
		defer close(stopClean)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()

		logger.Info().Str("data_dir", cfg.DataDir).Msg("entitycore serving")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	},
}

func runCleanLoop(engine *client.Engine, interval time.Duration, stop <-chan struct{}, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			result, err := engine.CleanEntityStorage(context.Background())
			if err != nil {
				logger.Error().Err(err).Msg("clean sweep failed")
				continue
			}
			if result.EmptyEntitiesRemoved > 0 || result.OrphanedLocksReleased > 0 {
				logger.Info().
					Int("empty_entities_removed", result.EmptyEntitiesRemoved).
					Int("orphaned_locks_released", result.OrphanedLocksReleased).
					Msg("clean sweep")
			}
		case <-stop:
			return
		}
	}
}

func init() {
	lockReleaseCmd.Flags().String("reason", "normal", "release reason: normal, failure, termination, nondeterminism, offline_clean")

	queryCmd.Flags().String("prefix", "", "entity id prefix to match, e.g. @counter@")
	queryCmd.Flags().Int("page-size", 0, "max results per page (defaults to the configured page size)")
	queryCmd.Flags().String("continue", "", "continuation token from a previous query's output")
	queryCmd.Flags().Bool("state", false, "include each entity's raw state in the output")

	lockCmd.AddCommand(lockAcquireCmd)
	lockCmd.AddCommand(lockReleaseCmd)
}
