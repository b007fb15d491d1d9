package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/feedback-annotator/internal/app"
	"github.com/yungbote/feedback-annotator/internal/config"
	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/observability"
	"github.com/yungbote/feedback-annotator/internal/platform/ctxutil"
	"github.com/yungbote/feedback-annotator/internal/platform/envutil"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

var version = "dev"

var (
	runLimit      int
	inspectLimit  int
	inspectTotals bool
	historyLimit  int
	serveAddr     string
	loadBucket    string
	loadObject    string
	loadTable     string
	loadMaxBad    int
	loadAppend    bool

	rootCmd = &cobra.Command{
		Use:           "annotator",
		Short:         "Scores customer feedback with a sentiment backend and stores the results",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Annotate feedback rows that have no sentiment yet",
		Long: `Selects feedback rows missing from the sentiment table, scores each review
and appends the results. Exits non-zero on any fatal error; a run skipped
because another run holds the lock exits zero.`,
		Args: cobra.NoArgs,
		RunE: runAnnotate,
	}

	provisionCmd = &cobra.Command{
		Use:   "provision",
		Short: "Create the feedback and sentiment tables if they are missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Provision(ctx)
			})
		},
	}

	loadCmd = &cobra.Command{
		Use:   "load",
		Short: "Load a delimited feedback file from object storage",
		Args:  cobra.NoArgs,
		RunE:  runLoad,
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect",
		Short: "Show feedback joined with its sentiment, or totals with --summary",
		Args:  cobra.NoArgs,
		RunE:  runInspect,
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the run ledger",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}

	scoreCmd = &cobra.Command{
		Use:   "score <text>",
		Short: "Score one text with the configured backend and print the normalized result",
		Long: `Sends a single text through the same guarded backend a run uses and prints
its score and magnitude. Multiple arguments are joined with spaces.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runScore,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger, health and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx, serveAddr)
			})
		},
	}

	workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Run the Temporal worker and ensure the recurring schedule exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Worker(ctx)
			})
		},
	}
)

func init() {
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "maximum rows to annotate; non-positive means no limit (default DEFAULT_ROW_LIMIT)")

	loadCmd.Flags().StringVar(&loadBucket, "bucket", "", "source bucket (default BUCKET_NAME)")
	loadCmd.Flags().StringVar(&loadObject, "object", "", "source object (default BLOB_NAME)")
	loadCmd.Flags().StringVar(&loadTable, "table", "", "target table (default FEEDBACK_TABLE_NAME)")
	loadCmd.Flags().IntVar(&loadMaxBad, "max-bad-records", 0, "malformed rows tolerated before the load fails")
	loadCmd.Flags().BoolVar(&loadAppend, "append", false, "append instead of replacing the table contents")

	inspectCmd.Flags().IntVar(&inspectLimit, "limit", 20, "rows to show")
	inspectCmd.Flags().BoolVar(&inspectTotals, "summary", false, "print totals instead of rows")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "runs to show")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default HTTP_ADDR)")

	rootCmd.AddCommand(runCmd, provisionCmd, loadCmd, inspectCmd, historyCmd, scoreCmd, serveCmd, workerCmd)
}

func runAnnotate(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		var limit *int
		if cmd.Flags().Changed("limit") {
			limit = &runLimit
		}
		ctx = ctxutil.WithInvocation(ctx, &ctxutil.Invocation{Trigger: ctxutil.TriggerCLI})
		report, err := a.RunAnnotation(ctx, limit)
		if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
			return perr
		}
		if errors.Is(err, domain.ErrRunInProgress) {
			return nil
		}
		return err
	})
}

func runLoad(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		n, err := a.Load(ctx, app.LoadRequest{
			Bucket:        loadBucket,
			Object:        loadObject,
			Table:         loadTable,
			MaxBadRecords: loadMaxBad,
			Append:        loadAppend,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]int64{"rows_loaded": n})
	})
}

func runInspect(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if inspectTotals {
			s, err := a.Inspector.Summary(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		}
		rows, err := a.Inspector.Joined(ctx, inspectLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rows)
	})
}

func runHistory(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if a.Clients.Ledger == nil {
			return fmt.Errorf("run ledger not configured: set LEDGER_DSN or use a SQL warehouse")
		}
		runs, err := a.Clients.Ledger.Latest(ctx, historyLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), runs)
	})
}

func runScore(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return fmt.Errorf("score: text is empty")
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		s, err := a.Clients.Backend.Score(ctx, text)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), s)
	})
}

// withApp builds the logger, configuration, tracing and App for one command
// and tears them down afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load(log)
	if err != nil {
		return err
	}

	shutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: observability.DefaultServiceName,
		Environment: envutil.String("ENVIRONMENT", ""),
		Version:     version,
	})
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = shutdown(sctx)
	}()

	a, err := app.New(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
