package reconcile

import (
	"fmt"
	"time"

	"github.com/Tshabani/shesha-core/internal/store"
)

// Action is what a pass did to one entity configuration
type Action string

const (
	ActionNoOp     Action = "noop"
	ActionUpdated  Action = "updated"
	ActionInserted Action = "inserted"
	ActionSkipped  Action = "skipped"
	ActionFailed   Action = "failed"
)

// DiagnosticCode classifies a diagnostic
type DiagnosticCode string

const (
	// DuplicatePath means two code properties of one entity share a path
	DuplicatePath DiagnosticCode = "duplicate-path"
	// MissingEntity means a code-sourced configuration has no type in code
	MissingEntity DiagnosticCode = "missing-entity"
)

// Diagnostic is a data-quality finding that does not stop reconciliation
type Diagnostic struct {
	Code    DiagnosticCode
	Entity  string
	Path    string
	Message string
}

func (d Diagnostic) String() string {
	if d.Path == "" {
		return fmt.Sprintf("%s: %s: %s", d.Code, d.Entity, d.Message)
	}
	return fmt.Sprintf("%s: %s.%s: %s", d.Code, d.Entity, d.Path, d.Message)
}

// PropertyChanges lists the property paths written by a synchronization.
// Items-type rows are reported as "<path>[]".
type PropertyChanges struct {
	Inserted []string
	Updated  []string
	Deleted  []string
}

// Writes returns the number of property rows written
func (c PropertyChanges) Writes() int {
	return len(c.Inserted) + len(c.Updated) + len(c.Deleted)
}

// Empty reports whether no property row was written
func (c PropertyChanges) Empty() bool {
	return c.Writes() == 0
}

// EntityResult is the outcome for one entity type
type EntityResult struct {
	ClassName      string
	Namespace      string
	TypeShortAlias string
	Action         Action
	Properties     PropertyChanges
	Diagnostics    []Diagnostic
	Err            error
}

// Key returns the natural key of the entity
func (r EntityResult) Key() store.Key {
	return store.Key{ClassName: r.ClassName, Namespace: r.Namespace}
}

// Report is the outcome of a reconciliation pass
type Report struct {
	Modules  int
	Entities []EntityResult
	// Missing lists configurations whose type no longer exists in code.
	// They are reported only, never deleted.
	Missing  []Diagnostic
	DryRun   bool
	Duration time.Duration
}

// Count returns the number of entities with the given action
func (r *Report) Count(action Action) int {
	n := 0
	for _, e := range r.Entities {
		if e.Action == action {
			n++
		}
	}
	return n
}

// Diagnostics returns every entity diagnostic followed by Missing
func (r *Report) Diagnostics() []Diagnostic {
	var result []Diagnostic
	for _, e := range r.Entities {
		result = append(result, e.Diagnostics...)
	}
	return append(result, r.Missing...)
}

// Changed returns the entities whose persisted metadata was written
func (r *Report) Changed() []EntityResult {
	var result []EntityResult
	for _, e := range r.Entities {
		if e.Action == ActionInserted || e.Action == ActionUpdated {
			result = append(result, e)
		}
	}
	return result
}

// PropertyWrites returns the total number of property rows written
func (r *Report) PropertyWrites() int {
	n := 0
	for _, e := range r.Entities {
		n += e.Properties.Writes()
	}
	return n
}
