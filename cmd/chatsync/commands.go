package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/chatsync/internal/api"
	"github.com/MikeSquared-Agency/chatsync/internal/config"
	"github.com/MikeSquared-Agency/chatsync/internal/hermes"
	"github.com/MikeSquared-Agency/chatsync/internal/store"
	"github.com/MikeSquared-Agency/chatsync/internal/syncer"
	"github.com/MikeSquared-Agency/chatsync/internal/watch"
)

var errSyncFailed = errors.New("one or more conversations failed to sync")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatsync",
		Short:         "Sync chat transcripts into a REST datastore without duplicate uploads",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newSyncCmd(),
		newBatchCmd(),
		newBackfillCmd(),
		newWatchCmd(),
		newServeCmd(),
		newConfigCmd(),
		newStatusCmd(),
	)
	return root
}

// openApp loads env config, sets up logging and wires the components.
func openApp(cmd *cobra.Command, events bool) (*app, error) {
	cfg := config.Load()
	logger := setupLogging(cfg.LogLevel, cmd.ErrOrStderr())

	noPrompt, _ := cmd.Flags().GetBool("no-prompt")
	stdin := cmd.InOrStdin()
	opts := appOptions{
		interactive: !noPrompt && isTerminal(stdin),
		events:      events,
		stdin:       stdin,
		stderr:      cmd.ErrOrStderr(),
	}
	return newApp(cmd.Context(), cfg, opts, logger)
}

// --- sync ---

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <chat-id>",
		Short: "Sync one conversation",
		Long: `Sync one conversation: fetch it from the structured API (or the saved page
as a fallback), and upload it unless it is unchanged since the last sync.

Examples:
  chatsync sync 6650a1f2-0c3e-8000-9b1a-3f0e2c4d5e6f
  chatsync sync 6650a1f2 --url https://chatgpt.com/c/6650a1f2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatURL, _ := cmd.Flags().GetString("url")

			a, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			out := a.orch.Sync(cmd.Context(), syncer.Request{ChatID: args[0], ChatURL: chatURL})
			printOutcome(cmd, out)
			if out.State == syncer.StateFailed {
				return out.Err
			}
			return nil
		},
	}
	cmd.Flags().String("url", "", "conversation URL recorded as chatUrl")
	cmd.Flags().Bool("no-prompt", false, "never prompt for missing connection settings")
	return cmd
}

// --- batch ---

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [chat-id...]",
		Short: "Sync many conversations concurrently",
		Long: `Sync many conversations concurrently. Records are tagged with source "batch".

Examples:
  chatsync batch id-1 id-2 id-3
  chatsync batch --pages`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromPages, _ := cmd.Flags().GetBool("pages")

			a, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ids := args
			if fromPages {
				pageIDs, err := savedPageIDs(a.scraper.Dir())
				if err != nil {
					return err
				}
				ids = append(ids, pageIDs...)
			}
			if len(ids) == 0 {
				return fmt.Errorf("no conversations given: pass chat ids or --pages")
			}

			reqs := make([]syncer.Request, len(ids))
			for i, id := range ids {
				reqs[i] = syncer.Request{ChatID: id}
			}

			outcomes := a.orch.SyncBatch(cmd.Context(), reqs)
			for _, out := range outcomes {
				printOutcome(cmd, out)
			}

			s := syncer.Summarize(outcomes)
			fmt.Fprintf(cmd.OutOrStdout(), "total=%d succeeded=%d skipped=%d failed=%d\n",
				s.Total, s.Succeeded, s.Skipped, s.Failed)
			if s.Failed > 0 {
				return errSyncFailed
			}
			return nil
		},
	}
	cmd.Flags().Bool("pages", false, "sync every saved page in CHAT_PAGE_SOURCE")
	cmd.Flags().Bool("no-prompt", false, "never prompt for missing connection settings")
	return cmd
}

func savedPageIDs(dir string) ([]string, error) {
	if dir == "" {
		return nil, fmt.Errorf("--pages needs CHAT_PAGE_SOURCE to be a directory")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read pages dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := watch.ChatIDFromPath(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// --- watch ---

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync conversations as their saved pages change",
		RunE: func(cmd *cobra.Command, args []string) error {
			debounce, _ := cmd.Flags().GetDuration("debounce")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			a, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			return runWatcher(ctx, a, debounce)
		},
	}
	cmd.Flags().Duration("debounce", 2*time.Second, "quiet period before a changed page is synced")
	cmd.Flags().Bool("no-prompt", true, "never prompt for missing connection settings")
	return cmd
}

func runWatcher(ctx context.Context, a *app, debounce time.Duration) error {
	dir := a.scraper.Dir()
	if dir == "" {
		return fmt.Errorf("watch needs CHAT_PAGE_SOURCE to be a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create pages dir: %w", err)
	}
	w := watch.New(dir, debounce, func(ctx context.Context, chatID string) {
		a.orch.Sync(ctx, syncer.Request{ChatID: chatID})
	}, a.logger)
	return w.Run(ctx)
}

// --- serve ---

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and NATS sync-request handler",
		RunE: func(cmd *cobra.Command, args []string) error {
			withWatch, _ := cmd.Flags().GetBool("watch")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			a, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.hermes != nil {
				if err := a.hermes.Subscribe(hermes.SubjectSyncRequested, a.orch.HandleSyncRequested); err != nil {
					return fmt.Errorf("subscribe to sync requests: %w", err)
				}
			} else {
				a.logger.Warn("NATS_URL not set, running without event bus")
			}

			srv := api.NewServer(a.cfg.Port, a.cfg.APIToken, a.orch, a.state, a.logger)
			if a.hermes != nil {
				srv.SetEventBus(a.hermes)
			}
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			if withWatch {
				debounce, _ := cmd.Flags().GetDuration("debounce")
				go func() {
					if err := runWatcher(ctx, a, debounce); err != nil {
						a.logger.Error("watcher stopped", "error", err)
					}
				}()
			}

			a.logger.Info("chatsync ready", "port", a.cfg.Port)

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return fmt.Errorf("HTTP server: %w", err)
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("HTTP shutdown", "error", err)
			}
			a.logger.Info("chatsync stopped")
			return nil
		},
	}
	cmd.Flags().Bool("watch", false, "also watch the saved-page directory")
	cmd.Flags().Duration("debounce", 2*time.Second, "quiet period before a changed page is synced")
	cmd.Flags().Bool("no-prompt", true, "never prompt for missing connection settings")
	return cmd
}

// --- config ---

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or update the datastore connection",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the stored connection settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			primary := config.NewTOMLStore(cfg.ConnectionFile)
			legacy := config.EnvStore{}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config file: %s\n", primary.Path())
			for _, key := range config.Keys {
				value, source := "(unset)", ""
				if v, ok := primary.Get(key); ok {
					value, source = v, "file"
				} else if v, ok := legacy.Get(key); ok {
					value, source = v, "legacy env"
				} else if key == config.KeyTableName {
					value, source = config.DefaultTableName, "default"
				}
				if key == config.KeyAPIKey && source != "" {
					value = config.Mask(value)
				}
				if source != "" {
					value += " (" + source + ")"
				}
				fmt.Fprintf(out, "  %s = %s\n", key, value)
			}
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a connection setting (endpoint_url, api_key, table_name)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, ok := config.KeyFromName(args[0])
			if !ok {
				return fmt.Errorf("unknown setting %q (want endpoint_url, api_key or table_name)", args[0])
			}
			primary := config.NewTOMLStore(config.Load().ConnectionFile)
			if err := primary.Set(key, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "set %s in %s\n", key, primary.Path())
			return nil
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}

// --- status ---

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List synced conversations and their last fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			st, err := store.Open(cmd.Context(), cfg.StateDSN)
			if err != nil {
				return fmt.Errorf("open state store: %w", err)
			}
			defer st.Close()

			entries, err := st.List(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CHAT ID\tFINGERPRINT\tUPDATED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.ChatID, e.Fingerprint, e.UpdatedAt.Format(time.RFC3339))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d conversations tracked\n", len(entries))
			return nil
		},
	}
}

func printOutcome(cmd *cobra.Command, out syncer.Outcome) {
	line := fmt.Sprintf("%s\t%s", out.ChatID, out.State)
	if out.Source != "" {
		line += "\tvia=" + string(out.Source)
	}
	if out.Fingerprint != "" {
		line += "\tfingerprint=" + out.Fingerprint
	}
	if out.Reason != "" {
		line += "\t" + out.Reason
	}
	if out.Err != nil {
		line += ": " + out.Err.Error()
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}
