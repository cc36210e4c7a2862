package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Tshabani/shesha-core/internal/cli/config"
	"github.com/Tshabani/shesha-core/internal/discovery"
	"github.com/Tshabani/shesha-core/internal/metadata"
	"github.com/Tshabani/shesha-core/internal/reconcile"
	"github.com/Tshabani/shesha-core/internal/store/sqlstore"
)

type reconcileOptions struct {
	dryRun     bool
	policy     string
	initSchema bool
	finder     discovery.Finder
}

// NewReconcileCommand creates the reconcile command
func NewReconcileCommand() *cobra.Command {
	opts := &reconcileOptions{finder: discovery.Default}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Synchronize entity metadata with the entity types in code",
		Long: `Bring the persisted entity configurations and properties in line with the
entity types registered by the loaded modules.

New entities are inserted, changed ones are updated and properties that no
longer exist in code are removed. Properties and configurations created by
users are never modified. Running the command again without code changes
writes nothing.`,
		Example: `  # Reconcile using shesha.yml and DATABASE_URL
  shesha reconcile

  # Show what would change without writing
  shesha reconcile --dry-run

  # Keep going when one entity fails
  shesha reconcile --policy skip`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Compute the changes and roll them back")
	cmd.Flags().StringVar(&opts.policy, "policy", "", "Failure policy: abort or skip (overrides reconcile.failure_policy)")
	cmd.Flags().BoolVar(&opts.initSchema, "init", false, "Create the metadata tables first if they do not exist")

	return cmd
}

func runReconcile(cmd *cobra.Command, opts *reconcileOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	policyName := cfg.Reconcile.FailurePolicy
	if opts.policy != "" {
		policyName = opts.policy
	}
	policy, err := reconcile.ParseFailurePolicy(policyName)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.initSchema {
		if err := sqlstore.Initialize(ctx, a.db, a.dialect); err != nil {
			return err
		}
	}

	locker, err := a.locker(ctx)
	if err != nil {
		return err
	}
	trees, err := a.propertyTrees(ctx)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics, err := reconcile.NewMetrics(registry)
	if err != nil {
		return err
	}

	r, err := reconcile.New(reconcile.Options{
		Finder:        opts.finder,
		Provider:      metadata.NewReflectProvider(),
		Store:         a.store,
		Locker:        locker,
		Cache:         trees,
		FailurePolicy: policy,
		DryRun:        opts.dryRun,
		Logger:        a.logger,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}

	report, runErr := r.Run(ctx)
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}

	if path := cfg.Metrics.Textfile; path != "" {
		if err := prometheus.WriteToTextfile(path, registry); err != nil {
			a.logger.Warn("failed to write metrics textfile", zap.String("path", path), zap.Error(err))
		}
	}
	return runErr
}

func printReport(w io.Writer, report *reconcile.Report) {
	insertedColor := color.New(color.FgGreen)
	updatedColor := color.New(color.FgYellow)
	failedColor := color.New(color.FgRed, color.Bold)
	faintColor := color.New(color.Faint)
	warningColor := color.New(color.FgYellow, color.Bold)
	titleColor := color.New(color.FgCyan, color.Bold)

	if report.DryRun {
		warningColor.Fprintln(w, "Dry run: no changes were written")
	}

	for _, e := range report.Entities {
		name := e.Key().String()
		changes := e.Properties
		switch e.Action {
		case reconcile.ActionInserted:
			insertedColor.Fprintf(w, "+ %s (%d properties)\n", name, len(changes.Inserted))
		case reconcile.ActionUpdated:
			updatedColor.Fprintf(w, "~ %s (+%d ~%d -%d)\n", name,
				len(changes.Inserted), len(changes.Updated), len(changes.Deleted))
		case reconcile.ActionNoOp:
			faintColor.Fprintf(w, "= %s\n", name)
		default:
			failedColor.Fprintf(w, "! %s %s: %v\n", name, e.Action, e.Err)
		}
	}

	for _, d := range report.Diagnostics() {
		warningColor.Fprintf(w, "⚠ %s\n", d)
	}

	titleColor.Fprint(w, "Summary: ")
	fmt.Fprintf(w, "%d modules, %d inserted, %d updated, %d unchanged, %d skipped, %d failed, %d property writes in %s\n",
		report.Modules,
		report.Count(reconcile.ActionInserted),
		report.Count(reconcile.ActionUpdated),
		report.Count(reconcile.ActionNoOp),
		report.Count(reconcile.ActionSkipped),
		report.Count(reconcile.ActionFailed),
		report.PropertyWrites(),
		report.Duration.Round(1e6))
}
