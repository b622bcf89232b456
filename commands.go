package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"docbrief/internal/config"
	"docbrief/internal/handlers"
	"docbrief/internal/indexing"
	"docbrief/internal/integrations/google"
	"docbrief/internal/jobs"
	"docbrief/internal/logging"
	"docbrief/internal/middleware"
	"docbrief/internal/storage"
)

const version = "1.0.0"

type bundleFactory func(ctx context.Context, cfg *config.Config) (*ServiceBundle, error)

type app struct {
	loadConfig func() (*config.Config, error)
	newBundle  bundleFactory

	cfg     *config.Config
	userID  string
	jsonOut bool
}

func newApp() *app {
	return &app{loadConfig: config.Load, newBundle: initializeServices}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "docbrief",
		Short:        "Search your Drive documents and prepare meeting briefs",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if cmd.Name() == "serve" || cmd == cmd.Root() {
				logging.SetupLogger(cfg.LogLevel, cfg.LogFormat)
			} else {
				logging.SetupCLILogger(cfg.LogLevel, cfg.LogFormat)
			}
			a.cfg = cfg
			return nil
		},
		RunE: a.runServe,
	}

	root.PersistentFlags().StringVarP(&a.userID, "user", "u", "", "user id to act as")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		a.serveCmd(),
		a.indexCmd(),
		a.searchCmd(),
		a.briefCmd(),
		a.syncCalendarCmd(),
		a.statusCmd(),
		a.clearIndexCmd(),
		a.connectGoogleCmd(),
		a.tokenCmd(),
	)
	return root
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  a.runServe,
	}
}

func (a *app) runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting docbrief", slog.String("version", version), slog.String("environment", a.cfg.Environment))

	bundle, err := a.newBundle(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer bundle.Close()

	limiter := middleware.APIRateLimiter(a.cfg.TrustProxyHeaders)
	server := &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      handlers.NewRouter(bundle.Routes(limiter)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server starting", slog.String("port", a.cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		limiter.Cleanup(gctx, time.Minute, 10*time.Minute)
		return nil
	})

	if a.cfg.CalendarSyncInterval > 0 {
		job := jobs.NewCalendarSyncJob(bundle.Store, bundle.CalendarSync, a.cfg.CalendarSyncInterval)
		g.Go(func() error {
			job.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server exited gracefully")
	return nil
}

// withBundle runs fn with a fresh bundle for the selected user.
func (a *app) withBundle(cmd *cobra.Command, fn func(ctx context.Context, b *ServiceBundle, userID string) error) error {
	if a.userID == "" {
		return errors.New("--user is required")
	}
	ctx := cmd.Context()
	bundle, err := a.newBundle(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer bundle.Close()
	return fn(ctx, bundle, a.userID)
}

func (a *app) print(w io.Writer, v any, human func(w io.Writer)) error {
	if a.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}

func (a *app) indexCmd() *cobra.Command {
	var (
		offset  int
		preset  string
		size    int
		overlap int
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the user's Drive documents, resuming batch by batch until complete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var override *indexing.Params
			if cmd.Flags().Changed("preset") || cmd.Flags().Changed("chunk-size") || cmd.Flags().Changed("chunk-overlap") {
				if preset == "" {
					preset = a.cfg.ChunkPreset
				}
				var sizePtr, overlapPtr *int
				if cmd.Flags().Changed("chunk-size") {
					sizePtr = &size
				}
				if cmd.Flags().Changed("chunk-overlap") {
					overlapPtr = &overlap
				}
				p, err := indexing.ResolveParams(preset, sizePtr, overlapPtr)
				if err != nil {
					return err
				}
				override = &p
			}

			return a.withBundle(cmd, func(ctx context.Context, b *ServiceBundle, userID string) error {
				var reports []*indexing.Report
				for {
					report, err := b.Indexer.Run(ctx, indexing.Request{UserID: userID, Offset: offset, Params: override})
					if err != nil {
						if errors.Is(err, indexing.ErrAuth) {
							return fmt.Errorf("%w (run connect-google to link the account again)", err)
						}
						return err
					}
					reports = append(reports, report)
					if !a.jsonOut {
						fmt.Fprintf(cmd.OutOrStdout(), "indexed %d files (offset %d), %d of %d remaining\n",
							report.Processed, offset, report.Remaining, report.Total)
					}

					offset += report.Processed
					if report.Status == indexing.StatusComplete || report.Processed == 0 {
						break
					}
				}
				if a.jsonOut {
					return a.print(cmd.OutOrStdout(), reports, nil)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "indexing complete")
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "file offset to resume from")
	cmd.Flags().StringVar(&preset, "preset", "", "chunking preset: precise, balanced or context-rich")
	cmd.Flags().IntVar(&size, "chunk-size", 0, "chunk size in characters")
	cmd.Flags().IntVar(&overlap, "chunk-overlap", 0, "overlap between chunks in characters")
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return errors.New("query is required")
			}
			return a.withBundle(cmd, func(ctx context.Context, b *ServiceBundle, userID string) error {
				result, err := b.RAG.Query(ctx, userID, query)
				if err != nil {
					return fmt.Errorf("search failed: %w", err)
				}
				return a.print(cmd.OutOrStdout(), result, func(w io.Writer) {
					fmt.Fprintln(w, result.Answer)
					if len(result.Sources) == 0 {
						return
					}
					fmt.Fprintln(w)
					fmt.Fprintln(w, "Sources:")
					for i, s := range result.Sources {
						fmt.Fprintf(w, "  [%d] %s (%.2f)\n      %s\n", i+1, s.DocumentTitle, s.Similarity, s.DocumentURL)
					}
				})
			})
		},
	}
}

func (a *app) briefCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "brief <meeting-id>",
		Short: "Prepare a brief for an upcoming meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meetingID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid meeting id: %w", err)
			}
			return a.withBundle(cmd, func(ctx context.Context, b *ServiceBundle, userID string) error {
				result, err := b.Briefing.Prepare(ctx, userID, meetingID, refresh)
				if err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						return fmt.Errorf("meeting %s not found", meetingID)
					}
					return err
				}
				return a.print(cmd.OutOrStdout(), result, func(w io.Writer) {
					fmt.Fprintf(w, "%s (%s)\n\n%s\n", result.Title, result.StartTime.Local().Format(time.RFC1123), result.Brief)
					for _, d := range result.RelevantDocuments {
						fmt.Fprintf(w, "  - %s %s\n", d.DocumentTitle, d.DocumentURL)
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "regenerate even if a brief exists")
	return cmd
}

func (a *app) syncCalendarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-calendar",
		Short: "Pull the next week of calendar events and list upcoming meetings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBundle(cmd, func(ctx context.Context, b *ServiceBundle, userID string) error {
				result, err := b.CalendarSync.Sync(ctx, userID)
				if err != nil {
					return fmt.Errorf("calendar sync failed: %w", err)
				}
				return a.print(cmd.OutOrStdout(), result, func(w io.Writer) {
					fmt.Fprintf(w, "synced %d meetings\n", result.Synced)
					for _, m := range result.Meetings {
						fmt.Fprintf(w, "  %s  %s  %s\n", m.ID, m.StartTime.Local().Format("Mon Jan 2 15:04"), m.Title)
					}
				})
			})
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show how many chunks and documents are indexed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBundle(cmd, func(ctx context.Context, b *ServiceBundle, userID string) error {
				stats, err := b.Store.CountsForUser(ctx, userID)
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), stats, func(w io.Writer) {
					fmt.Fprintf(w, "%d chunks across %d documents\n", stats.Chunks, stats.Documents)
				})
			})
		},
	}
}

func (a *app) clearIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-index",
		Short: "Delete every indexed chunk for the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBundle(cmd, func(ctx context.Context, b *ServiceBundle, userID string) error {
				deleted, err := b.Store.DeleteUserChunks(ctx, userID)
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), map[string]int64{"deleted": deleted}, func(w io.Writer) {
					fmt.Fprintf(w, "deleted %d chunks\n", deleted)
				})
			})
		},
	}
}

func (a *app) connectGoogleCmd() *cobra.Command {
	var refreshToken, accessToken string
	cmd := &cobra.Command{
		Use:   "connect-google",
		Short: "Store a Google refresh token for the user and verify it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBundle(cmd, func(ctx context.Context, b *ServiceBundle, userID string) error {
				token := &storage.OAuthToken{
					UserID:       userID,
					Provider:     google.Provider,
					AccessToken:  accessToken,
					RefreshToken: refreshToken,
					// Expired on purpose so the first use refreshes and proves the grant works.
					ExpiresAt: time.Now().Add(-time.Minute),
				}
				if err := b.Store.SaveToken(ctx, token); err != nil {
					return fmt.Errorf("save token: %w", err)
				}
				if _, err := b.Credentials.GetValidCredential(ctx, userID, google.Provider); err != nil {
					return fmt.Errorf("verify google credential: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "google account connected")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token with drive and calendar read scopes")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "optional current access token")
	_ = cmd.MarkFlagRequired("refresh-token")
	return cmd
}

func (a *app) tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token for the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.userID == "" {
				return errors.New("--user is required")
			}
			token, err := middleware.NewAuthenticator(a.cfg.JWTSecret).GenerateToken(a.userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
