package projection

import (
	"strconv"
	"strings"
)

// Document is a query ready for the execution engine
type Document struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// ListInput holds the paging, sorting and filtering arguments of a list query
type ListInput struct {
	Filter         string
	QuickSearch    string
	Sorting        string
	SkipCount      int
	MaxResultCount int
}

// SchemaName returns the query schema name of an entity class
func SchemaName(className string) string {
	return FieldName(className)
}

// EntityQuery builds a query for a single entity by id
func EntityQuery(schemaName, id, selection string) Document {
	var sb strings.Builder
	sb.WriteString("query{\n")
	sb.WriteString("  " + schemaName + "(id: " + strconv.Quote(id) + ") {\n")
	sb.WriteString(indent(selection, "    "))
	sb.WriteString("  }\n")
	sb.WriteString("}\n")
	return Document{Query: sb.String()}
}

// ListQuery builds a paged list query; the input is passed as variables
func ListQuery(schemaName, selection string, input ListInput) Document {
	var sb strings.Builder
	sb.WriteString("query getAll($filter: String, $quickSearch: String, $sorting: String, $skipCount: Int, $maxResultCount: Int){\n")
	sb.WriteString("  " + schemaName + "List(input: { filter: $filter, quickSearch: $quickSearch, sorting: $sorting, skipCount: $skipCount, maxResultCount: $maxResultCount }){\n")
	sb.WriteString("    totalCount\n")
	sb.WriteString("    items {\n")
	sb.WriteString(indent(selection, "      "))
	sb.WriteString("    }\n")
	sb.WriteString("  }\n")
	sb.WriteString("}\n")

	return Document{
		Query: sb.String(),
		Variables: map[string]interface{}{
			"filter":         input.Filter,
			"quickSearch":    input.QuickSearch,
			"sorting":        input.Sorting,
			"skipCount":      input.SkipCount,
			"maxResultCount": input.MaxResultCount,
		},
	}
}

func indent(s, prefix string) string {
	var sb strings.Builder
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if line == "" {
			continue
		}
		sb.WriteString(prefix + line + "\n")
	}
	return sb.String()
}
