// Package projection renders property trees as selection sets for the
// query execution engine.
package projection

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/Tshabani/shesha-core/internal/metadata"
	"github.com/Tshabani/shesha-core/internal/propertytree"
	ustrings "github.com/Tshabani/shesha-core/internal/util/strings"
)

// ErrUnknownProperty is returned when a path expression names a property the
// entity does not have
var ErrUnknownProperty = errors.New("unknown property")

// Resolver looks up the property tree of a referenced entity type
type Resolver interface {
	Resolve(entityType string) ([]*propertytree.Node, error)
}

// ResolverFunc adapts a function to the Resolver interface
type ResolverFunc func(entityType string) ([]*propertytree.Node, error)

// Resolve calls f(entityType)
func (f ResolverFunc) Resolve(entityType string) ([]*propertytree.Node, error) {
	return f(entityType)
}

// FieldName converts a property name to the casing of the query schema
func FieldName(name string) string {
	return ustrings.ToCamelCase(name)
}

// Project renders the full selection for nodes: arrays are omitted, entity
// references select only their id, objects are expanded recursively and
// every other property is selected by name.
func Project(nodes []*propertytree.Node) string {
	var sb strings.Builder
	for _, n := range nodes {
		writeNode(&sb, n)
	}
	return sb.String()
}

func writeNode(sb *strings.Builder, n *propertytree.Node) {
	name := FieldName(n.Name)

	switch n.DataType {
	case metadata.TypeArray:
		// not supported by the query engine yet
	case metadata.TypeEntityReference:
		sb.WriteString(name + ": " + name + "Id\n")
	case metadata.TypeObject:
		sb.WriteString(name + " {\n")
		for _, child := range n.Children {
			writeNode(sb, child)
		}
		sb.WriteString("}\n")
	default:
		sb.WriteString(name + "\n")
	}
}

// selection is a parsed path expression: field names in first appearance
// order with their requested sub-fields
type selection struct {
	name     string
	children []*selection
}

func (s *selection) child(name string) *selection {
	for _, c := range s.children {
		if c.name == name {
			return c
		}
	}
	c := &selection{name: name}
	s.children = append(s.children, c)
	return c
}

// parsePaths parses a whitespace or comma separated list of dotted paths
func parsePaths(expr string) (*selection, error) {
	root := &selection{}
	fields := strings.FieldsFunc(expr, func(r rune) bool {
		return unicode.IsSpace(r) || r == ','
	})
	for _, field := range fields {
		cur := root
		for _, segment := range strings.Split(field, ".") {
			if segment == "" {
				return nil, fmt.Errorf("invalid property path %q", field)
			}
			cur = cur.child(FieldName(segment))
		}
	}
	return root, nil
}

// ProjectPaths renders only the properties named by expr, a whitespace or
// comma separated list of dotted paths. A path that continues past an entity
// reference selects fields of the referenced entity, looked up through
// resolver; fields that cannot be looked up are selected by name.
func ProjectPaths(nodes []*propertytree.Node, expr string, resolver Resolver) (string, error) {
	root, err := parsePaths(expr)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	p := &pathProjector{resolver: resolver}
	if err := p.write(&sb, nodes, root.children, ""); err != nil {
		return "", err
	}
	return sb.String(), nil
}

type pathProjector struct {
	resolver Resolver
}

func (p *pathProjector) write(sb *strings.Builder, nodes []*propertytree.Node, sels []*selection, prefix string) error {
	for _, sel := range sels {
		n := findField(nodes, sel.name)
		if n == nil {
			return fmt.Errorf("%w: %s%s", ErrUnknownProperty, prefix, sel.name)
		}
		if err := p.writeSelected(sb, n, sel, prefix); err != nil {
			return err
		}
	}
	return nil
}

func (p *pathProjector) writeSelected(sb *strings.Builder, n *propertytree.Node, sel *selection, prefix string) error {
	if len(sel.children) == 0 {
		writeNode(sb, n)
		return nil
	}

	path := prefix + sel.name
	switch n.DataType {
	case metadata.TypeObject:
		sb.WriteString(sel.name + " {\n")
		if err := p.write(sb, n.Children, sel.children, path+"."); err != nil {
			return err
		}
		sb.WriteString("}\n")
		return nil

	case metadata.TypeEntityReference:
		target, err := p.resolve(n.EntityType)
		if err != nil {
			return fmt.Errorf("failed to resolve %s (%s): %w", path, n.EntityType, err)
		}
		sb.WriteString(sel.name + " {\n")
		for _, child := range sel.children {
			if err := p.writeReferenced(sb, target, child, path+"."); err != nil {
				return err
			}
		}
		sb.WriteString("}\n")
		return nil

	default:
		return fmt.Errorf("%w: %s has no sub-fields", ErrUnknownProperty, path)
	}
}

// writeReferenced renders a selection on a referenced entity; fields missing
// from the resolved tree are passed through by name.
func (p *pathProjector) writeReferenced(sb *strings.Builder, nodes []*propertytree.Node, sel *selection, prefix string) error {
	n := findField(nodes, sel.name)
	if n == nil {
		writeBare(sb, sel)
		return nil
	}
	return p.writeSelected(sb, n, sel, prefix)
}

func (p *pathProjector) resolve(entityType string) ([]*propertytree.Node, error) {
	if p.resolver == nil || entityType == "" {
		return nil, nil
	}
	nodes, err := p.resolver.Resolve(entityType)
	if errors.Is(err, propertytree.ErrEntityNotFound) {
		return nil, nil
	}
	return nodes, err
}

func writeBare(sb *strings.Builder, sel *selection) {
	if len(sel.children) == 0 {
		sb.WriteString(sel.name + "\n")
		return
	}
	sb.WriteString(sel.name + " {\n")
	for _, c := range sel.children {
		writeBare(sb, c)
	}
	sb.WriteString("}\n")
}

func findField(nodes []*propertytree.Node, field string) *propertytree.Node {
	for _, n := range nodes {
		if FieldName(n.Name) == field {
			return n
		}
	}
	return nil
}
