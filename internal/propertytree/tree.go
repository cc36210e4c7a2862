// Package propertytree arranges persisted entity properties into the
// tree the query projector walks.
package propertytree

import (
	"sort"
	"strings"

	"github.com/Tshabani/shesha-core/internal/metadata"
	"github.com/Tshabani/shesha-core/internal/store"
)

// Node is one property of an entity with its nested children
type Node struct {
	Name                   string            `json:"name"`
	Path                   string            `json:"path"`
	DataType               metadata.DataType `json:"dataType"`
	DataFormat             string            `json:"dataFormat,omitempty"`
	EntityType             string            `json:"entityType,omitempty"`
	ReferenceListName      string            `json:"referenceListName,omitempty"`
	ReferenceListNamespace string            `json:"referenceListNamespace,omitempty"`
	Label                  string            `json:"label,omitempty"`
	Description            string            `json:"description,omitempty"`
	Source                 metadata.Source   `json:"source"`
	SortOrder              int32             `json:"sortOrder"`
	ItemsType              *Node             `json:"itemsType,omitempty"`
	Children               []*Node           `json:"children,omitempty"`
}

// Find returns the node at a dotted path below nodes
func Find(nodes []*Node, path string) *Node {
	head, rest, nested := strings.Cut(path, ".")
	for _, n := range nodes {
		if n.Name != head {
			continue
		}
		if !nested {
			return n
		}
		return Find(n.Children, rest)
	}
	return nil
}

// Build arranges rows into a tree. Rows are ordered by sort order; a row
// whose path extends an object row's path becomes that row's child, every
// other row stays at the root.
func Build(rows []*store.EntityProperty) []*Node {
	sorted := make([]*store.EntityProperty, 0, len(rows))
	for _, r := range rows {
		if r != nil && r.ParentID == nil {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SortOrder < sorted[j].SortOrder
	})

	byPath := make(map[string]*Node, len(sorted))
	nodes := make([]*Node, len(sorted))
	for i, r := range sorted {
		n := newNode(r)
		nodes[i] = n
		if _, dup := byPath[r.Name]; !dup {
			byPath[r.Name] = n
		}
	}

	var roots []*Node
	for _, n := range nodes {
		if parent := objectParent(byPath, n.Path); parent != nil {
			parent.Children = append(parent.Children, n)
			continue
		}
		roots = append(roots, n)
	}
	return roots
}

func objectParent(byPath map[string]*Node, path string) *Node {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return nil
	}
	parent, ok := byPath[path[:i]]
	if !ok || parent.DataType != metadata.TypeObject {
		return nil
	}
	return parent
}

func newNode(r *store.EntityProperty) *Node {
	n := &Node{
		Name:                   lastSegment(r.Name),
		Path:                   r.Name,
		DataType:               r.DataType,
		DataFormat:             r.DataFormat,
		EntityType:             r.EntityType,
		ReferenceListName:      r.ReferenceListName,
		ReferenceListNamespace: r.ReferenceListNamespace,
		Label:                  r.Label,
		Description:            r.Description,
		Source:                 r.Source,
		SortOrder:              r.SortOrder,
	}
	if r.ItemsType != nil {
		n.ItemsType = newNode(r.ItemsType)
	}
	return n
}

func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}
