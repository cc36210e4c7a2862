package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Tshabani/shesha-core/internal/cli/config"
	"github.com/Tshabani/shesha-core/internal/cli/ui"
	"github.com/Tshabani/shesha-core/internal/projection"
	"github.com/Tshabani/shesha-core/internal/propertytree"
)

type queryOptions struct {
	id          string
	properties  string
	list        bool
	filter      string
	quickSearch string
	sorting     string
	skip        int
	take        int
}

// NewQueryCommand creates the query command
func NewQueryCommand() *cobra.Command {
	opts := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "query <entity>",
		Short: "Build a query for an entity from its persisted properties",
		Long: `Build the query document for an entity from the property tree stored by
reconciliation.

The entity is identified by its type alias, Namespace.ClassName or a unique
class name. Without --id or --list only the selection set is printed.`,
		Example: `  # Selection of every property
  shesha query Shesha.Core.EntityConfig

  # Fetch one entity with selected properties
  shesha query blog.Article --id 3f1c... --properties title,owner.name,address.city

  # First page of a list
  shesha query blog.Article --list --take 20 --sorting "title asc"`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeEntityNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Build a single-entity query for this id")
	cmd.Flags().StringVar(&opts.properties, "properties", "", "Comma or space separated property paths")
	cmd.Flags().BoolVar(&opts.list, "list", false, "Build a paged list query")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "List filter expression")
	cmd.Flags().StringVar(&opts.quickSearch, "quick-search", "", "List quick search text")
	cmd.Flags().StringVar(&opts.sorting, "sorting", "", "List sorting")
	cmd.Flags().IntVar(&opts.skip, "skip", 0, "Number of list items to skip")
	cmd.Flags().IntVar(&opts.take, "take", 0, "Maximum number of list items")
	cmd.MarkFlagsMutuallyExclusive("id", "list")

	return cmd
}

func runQuery(cmd *cobra.Command, entity string, opts *queryOptions) error {
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

	trees, err := a.propertyTrees(ctx)
	if err != nil {
		return err
	}

	selection, err := buildSelection(ctx, trees, entity, opts.properties)
	if errors.Is(err, propertytree.ErrEntityNotFound) {
		names, listErr := entityNames(ctx, a.store)
		if listErr == nil {
			fmt.Fprint(cmd.ErrOrStderr(), ui.EntityNotFoundError(entity, ui.SuggestNames(entity, names), color.NoColor))
		}
		return err
	}
	if err != nil {
		return err
	}

	resolved, err := trees.Resolve(ctx, entity)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	schema := projection.SchemaName(resolved.ClassName)

	var doc projection.Document
	switch {
	case opts.id != "":
		doc = projection.EntityQuery(schema, opts.id, selection)
	case opts.list:
		doc = projection.ListQuery(schema, selection, projection.ListInput{
			Filter:         opts.filter,
			QuickSearch:    opts.quickSearch,
			Sorting:        opts.sorting,
			SkipCount:      opts.skip,
			MaxResultCount: opts.take,
		})
	default:
		_, err := fmt.Fprint(out, selection)
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// buildSelection projects the entity's property tree, restricted to paths
// when given
func buildSelection(ctx context.Context, trees *propertytree.Cache, entity, paths string) (string, error) {
	nodes, err := trees.Properties(ctx, entity)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(paths) == "" {
		return projection.Project(nodes), nil
	}

	resolver := projection.ResolverFunc(func(entityType string) ([]*propertytree.Node, error) {
		return trees.Properties(ctx, entityType)
	})
	return projection.ProjectPaths(nodes, paths, resolver)
}
