// Package phase holds the work-item lifecycle core: the phase catalog, the
// permission resolver, the transition guard and the review gate.
//
// Everything here is pure. Callers load membership and assignment rows, pass
// them in, and persist whatever the guard allows.
package phase

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// WorkItemType classifies a work item and selects its lifecycle.
type WorkItemType string

const (
	TypeFeature     WorkItemType = "feature"
	TypeBug         WorkItemType = "bug"
	TypeConcept     WorkItemType = "concept"
	TypeEnhancement WorkItemType = "enhancement"
)

// AllTypes returns the closed set of work item types in display order.
func AllTypes() []WorkItemType {
	return []WorkItemType{TypeFeature, TypeEnhancement, TypeBug, TypeConcept}
}

// IsValid reports whether t is one of the known types.
func (t WorkItemType) IsValid() bool {
	for _, known := range AllTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// ParseType parses a type name, case-insensitive.
func ParseType(s string) (WorkItemType, error) {
	t := WorkItemType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// Phase names a stage in a type's lifecycle.
type Phase string

//go:embed catalog.yaml
var defaultCatalogYAML []byte

type catalogFile struct {
	Types map[string]typeSpec `yaml:"types"`
}

type typeSpec struct {
	Phases []phaseSpec `yaml:"phases"`
}

type phaseSpec struct {
	Name        string   `yaml:"name"`
	Terminal    bool     `yaml:"terminal"`
	ReviewGated bool     `yaml:"review_gated"`
	Next        []string `yaml:"next"`
	Visible     []string `yaml:"visible"`
	Editable    []string `yaml:"editable"`
}

type typeEntry struct {
	order    []Phase
	index    map[Phase]int
	terminal map[Phase]bool
	gated    map[Phase]bool
	next     map[Phase][]Phase
	visible  map[Phase][]string
	editable map[Phase]map[string]bool
}

// Catalog is the immutable per-type phase configuration. It is safe for
// concurrent use once loaded.
type Catalog struct {
	entries map[WorkItemType]*typeEntry
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// DefaultCatalog returns the embedded catalog, parsed once per process.
func DefaultCatalog() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = LoadCatalog(defaultCatalogYAML)
	})
	return defaultCatalog, defaultErr
}

// MustDefaultCatalog is DefaultCatalog for callers that treat a broken
// embedded catalog as a programming error.
func MustDefaultCatalog() *Catalog {
	c, err := DefaultCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalogFile reads and validates a catalog YAML file.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading phase catalog %s: %w", path, err)
	}
	c, err := LoadCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("phase catalog %s: %w", path, err)
	}
	return c, nil
}

// LoadCatalog parses and validates catalog YAML. Any unknown or missing
// type yields an error wrapping ErrUnknownType.
func LoadCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing phase catalog: %w", err)
	}

	var unknown []string
	for name := range file.Types {
		if !WorkItemType(name).IsValid() {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, strings.Join(unknown, ", "))
	}

	c := &Catalog{entries: make(map[WorkItemType]*typeEntry, len(file.Types))}
	for _, t := range AllTypes() {
		spec, ok := file.Types[string(t)]
		if !ok {
			return nil, fmt.Errorf("%w: no lifecycle declared for %q", ErrUnknownType, t)
		}
		entry, err := buildEntry(spec)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", t, err)
		}
		c.entries[t] = entry
	}
	return c, nil
}

func buildEntry(spec typeSpec) (*typeEntry, error) {
	if len(spec.Phases) == 0 {
		return nil, fmt.Errorf("no phases declared")
	}
	e := &typeEntry{
		index:    make(map[Phase]int, len(spec.Phases)),
		terminal: make(map[Phase]bool),
		gated:    make(map[Phase]bool),
		next:     make(map[Phase][]Phase),
		visible:  make(map[Phase][]string),
		editable: make(map[Phase]map[string]bool),
	}
	for i, ps := range spec.Phases {
		p := Phase(strings.TrimSpace(ps.Name))
		if p == "" {
			return nil, fmt.Errorf("phase #%d has no name", i+1)
		}
		if _, dup := e.index[p]; dup {
			return nil, fmt.Errorf("phase %q declared twice", p)
		}
		e.index[p] = i
		e.order = append(e.order, p)
		e.terminal[p] = ps.Terminal
		e.gated[p] = ps.ReviewGated

		visible := make(map[string]bool, len(ps.Visible))
		for _, f := range ps.Visible {
			visible[f] = true
		}
		e.visible[p] = append([]string(nil), ps.Visible...)
		e.editable[p] = make(map[string]bool, len(ps.Editable))
		for _, f := range ps.Editable {
			if !visible[f] {
				return nil, fmt.Errorf("phase %q: field %q is editable but not visible", p, f)
			}
			e.editable[p][f] = true
		}
	}

	for i, ps := range spec.Phases {
		p := e.order[i]
		switch {
		case ps.Terminal && len(ps.Next) > 0:
			return nil, fmt.Errorf("terminal phase %q declares successors", p)
		case ps.Terminal:
			continue
		case len(ps.Next) > 0:
			for _, n := range ps.Next {
				if _, ok := e.index[Phase(n)]; !ok {
					return nil, fmt.Errorf("phase %q: unknown successor %q", p, n)
				}
				e.next[p] = append(e.next[p], Phase(n))
			}
		case i+1 < len(e.order):
			e.next[p] = []Phase{e.order[i+1]}
		default:
			return nil, fmt.Errorf("phase %q is last but not terminal", p)
		}
	}

	if e.terminal[e.order[0]] {
		return nil, fmt.Errorf("first phase %q cannot be terminal", e.order[0])
	}
	return e, nil
}

// Types returns the types the catalog covers, in display order.
func (c *Catalog) Types() []WorkItemType {
	var out []WorkItemType
	for _, t := range AllTypes() {
		if _, ok := c.entries[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Known reports whether the catalog has a lifecycle for t.
func (c *Catalog) Known(t WorkItemType) bool {
	_, ok := c.entries[t]
	return ok
}

// PhaseOrder returns the ordered phases of t, or nil for an unknown type.
func (c *Catalog) PhaseOrder(t WorkItemType) []Phase {
	e, ok := c.entries[t]
	if !ok {
		return nil
	}
	return append([]Phase(nil), e.order...)
}

// FirstPhase is the phase a freshly created item of type t starts in.
func (c *Catalog) FirstPhase(t WorkItemType) Phase {
	e, ok := c.entries[t]
	if !ok {
		return ""
	}
	return e.order[0]
}

// TerminalPhases returns the phases of t with no outgoing transition.
func (c *Catalog) TerminalPhases(t WorkItemType) []Phase {
	e, ok := c.entries[t]
	if !ok {
		return nil
	}
	var out []Phase
	for _, p := range e.order {
		if e.terminal[p] {
			out = append(out, p)
		}
	}
	return out
}

// Contains reports whether p is a phase of t.
func (c *Catalog) Contains(t WorkItemType, p Phase) bool {
	e, ok := c.entries[t]
	if !ok {
		return false
	}
	_, ok = e.index[p]
	return ok
}

func (c *Catalog) IsTerminal(t WorkItemType, p Phase) bool {
	e, ok := c.entries[t]
	return ok && e.terminal[p]
}

func (c *Catalog) IsReviewGated(t WorkItemType, p Phase) bool {
	e, ok := c.entries[t]
	return ok && e.gated[p]
}

// Successors returns the phases reachable from p in one step.
func (c *Catalog) Successors(t WorkItemType, p Phase) []Phase {
	e, ok := c.entries[t]
	if !ok {
		return nil
	}
	return append([]Phase(nil), e.next[p]...)
}

// VisibleFields returns the field identifiers shown for t in phase p.
func (c *Catalog) VisibleFields(t WorkItemType, p Phase) []string {
	e, ok := c.entries[t]
	if !ok {
		return nil
	}
	return append([]string(nil), e.visible[p]...)
}

// EditableFields returns the field identifiers writable for t in phase p,
// in the order they are declared as visible.
func (c *Catalog) EditableFields(t WorkItemType, p Phase) []string {
	e, ok := c.entries[t]
	if !ok {
		return nil
	}
	var out []string
	for _, f := range e.visible[p] {
		if e.editable[p][f] {
			out = append(out, f)
		}
	}
	return out
}

// IsEditableField reports whether field may be written for t in phase p.
func (c *Catalog) IsEditableField(t WorkItemType, p Phase, field string) bool {
	e, ok := c.entries[t]
	return ok && e.editable[p][field]
}

// PhasesFor returns the union of the phases of the given types in catalog
// order, without duplicates. An empty list means every type.
func (c *Catalog) PhasesFor(types []WorkItemType) []Phase {
	if len(types) == 0 {
		types = c.Types()
	}
	wanted := make(map[WorkItemType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	seen := make(map[Phase]bool)
	var out []Phase
	for _, t := range c.Types() {
		if !wanted[t] {
			continue
		}
		for _, p := range c.entries[t].order {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// TypeView is the serialisable description of one type's lifecycle.
type TypeView struct {
	Type   WorkItemType `json:"type" yaml:"type"`
	Phases []PhaseView  `json:"phases" yaml:"phases"`
}

// PhaseView describes one phase for clients.
type PhaseView struct {
	Name        Phase    `json:"name" yaml:"name"`
	Terminal    bool     `json:"terminal" yaml:"terminal"`
	ReviewGated bool     `json:"review_gated" yaml:"review_gated"`
	Next        []Phase  `json:"next" yaml:"next"`
	Visible     []string `json:"visible" yaml:"visible"`
	Editable    []string `json:"editable" yaml:"editable"`
}

// Describe renders the whole catalog for API responses and the CLI.
func (c *Catalog) Describe() []TypeView {
	var out []TypeView
	for _, t := range c.Types() {
		view := TypeView{Type: t}
		for _, p := range c.entries[t].order {
			view.Phases = append(view.Phases, PhaseView{
				Name:        p,
				Terminal:    c.IsTerminal(t, p),
				ReviewGated: c.IsReviewGated(t, p),
				Next:        c.Successors(t, p),
				Visible:     c.VisibleFields(t, p),
				Editable:    c.EditableFields(t, p),
			})
		}
		out = append(out, view)
	}
	return out
}
