package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Tshabani/shesha-core/internal/cli/config"
	"github.com/Tshabani/shesha-core/internal/cli/ui"
	"github.com/Tshabani/shesha-core/internal/store"
)

type entitiesOptions struct {
	all bool
}

// NewEntitiesCommand creates the entities command
func NewEntitiesCommand() *cobra.Command {
	opts := &entitiesOptions{}

	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List the persisted entity configurations",
		Long: `List the entity configurations stored by reconciliation with their alias,
source and number of top-level properties.`,
		Example: `  # Entities known to the database
  shesha entities

  # Include configurations marked as deleted
  shesha entities --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntities(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.all, "all", false, "Include deleted configurations")

	return cmd
}

type entityRow struct {
	config     *store.EntityConfig
	properties int
}

func runEntities(cmd *cobra.Command, opts *entitiesOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var rows []entityRow
	err = a.store.WithinUnitOfWork(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		configs, err := uow.ListConfigs(ctx)
		if err != nil {
			return err
		}
		for _, c := range configs {
			if c.IsDeleted && !opts.all {
				continue
			}
			props, err := uow.ListProperties(ctx, c.ID)
			if err != nil {
				return err
			}
			rows = append(rows, entityRow{config: c, properties: len(props)})
		}
		return nil
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		color.New(color.FgYellow).Fprintln(out, "No entity configurations found. Run 'shesha reconcile' first.")
		return nil
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].config.Key().String() < rows[j].config.Key().String()
	})

	table := ui.NewTable(out, color.NoColor, "Name", "Alias", "Table", "Source", "Properties")
	for _, r := range rows {
		name := r.config.Key().String()
		if r.config.IsDeleted {
			name += " (deleted)"
		}
		table.AddRow(name, r.config.TypeShortAlias, r.config.TableName,
			r.config.Source.String(), strconv.Itoa(r.properties))
	}
	table.Render()
	fmt.Fprintf(out, "\n%d entities\n", table.Len())
	return nil
}

// entityNames returns the aliases and full names of live configurations
func entityNames(ctx context.Context, s store.Store) ([]string, error) {
	var names []string
	err := s.WithinUnitOfWork(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		configs, err := uow.ListConfigs(ctx)
		if err != nil {
			return err
		}
		for _, c := range configs {
			if c.IsDeleted {
				continue
			}
			names = append(names, c.Key().String())
			if c.TypeShortAlias != "" && c.TypeShortAlias != c.Key().String() {
				names = append(names, c.TypeShortAlias)
			}
		}
		return nil
	})
	return names, err
}
