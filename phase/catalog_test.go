package phase_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"productflow/phase"
)

func TestDefaultCatalogOrders(t *testing.T) {
	c, err := phase.DefaultCatalog()
	require.NoError(t, err)

	tests := []struct {
		typ      phase.WorkItemType
		order    []phase.Phase
		terminal []phase.Phase
	}{
		{phase.TypeFeature, []phase.Phase{"design", "build", "refine", "launch"}, []phase.Phase{"launch"}},
		{phase.TypeEnhancement, []phase.Phase{"design", "build", "refine", "launch"}, []phase.Phase{"launch"}},
		{phase.TypeBug, []phase.Phase{"triage", "investigating", "fixing", "verified"}, []phase.Phase{"verified"}},
		{phase.TypeConcept, []phase.Phase{"ideation", "research", "validated", "rejected"}, []phase.Phase{"validated", "rejected"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.order, c.PhaseOrder(tt.typ))
			assert.Equal(t, tt.terminal, c.TerminalPhases(tt.typ))
			assert.Equal(t, tt.order[0], c.FirstPhase(tt.typ))
		})
	}
}

func TestCatalogReviewGatedLaunch(t *testing.T) {
	c := phase.MustDefaultCatalog()
	assert.True(t, c.IsReviewGated(phase.TypeFeature, "launch"))
	assert.True(t, c.IsReviewGated(phase.TypeEnhancement, "launch"))
	assert.False(t, c.IsReviewGated(phase.TypeFeature, "build"))
	assert.False(t, c.IsReviewGated(phase.TypeBug, "verified"))
}

func TestCatalogConceptBranches(t *testing.T) {
	c := phase.MustDefaultCatalog()
	assert.Equal(t, []phase.Phase{"validated", "rejected"}, c.Successors(phase.TypeConcept, "research"))
	assert.Empty(t, c.Successors(phase.TypeConcept, "validated"))
	assert.Empty(t, c.Successors(phase.TypeConcept, "rejected"))
}

func TestPhaseOrderReturnsCopy(t *testing.T) {
	c := phase.MustDefaultCatalog()
	order := c.PhaseOrder(phase.TypeBug)
	order[0] = "mutated"
	assert.Equal(t, phase.Phase("triage"), c.PhaseOrder(phase.TypeBug)[0])
}

func TestFieldVisibility(t *testing.T) {
	c := phase.MustDefaultCatalog()

	assert.Contains(t, c.VisibleFields(phase.TypeFeature, "launch"), "purpose")
	assert.NotContains(t, c.EditableFields(phase.TypeFeature, "launch"), "purpose")
	assert.True(t, c.IsEditableField(phase.TypeFeature, "design", "purpose"))
	assert.False(t, c.IsEditableField(phase.TypeFeature, "build", "purpose"))
	assert.Nil(t, c.VisibleFields("epic", "design"))

	for _, typ := range c.Types() {
		for _, p := range c.PhaseOrder(typ) {
			visible := c.VisibleFields(typ, p)
			for _, f := range c.EditableFields(typ, p) {
				assert.Contains(t, visible, f, "%s/%s", typ, p)
			}
		}
	}
}

func TestPhasesFor(t *testing.T) {
	c := phase.MustDefaultCatalog()

	assert.Equal(t,
		[]phase.Phase{"design", "build", "refine", "launch"},
		c.PhasesFor([]phase.WorkItemType{phase.TypeFeature, phase.TypeEnhancement}))
	assert.Equal(t,
		[]phase.Phase{"design", "build", "refine", "launch", "triage", "investigating", "fixing", "verified"},
		c.PhasesFor([]phase.WorkItemType{phase.TypeBug, phase.TypeFeature}))
	assert.Len(t, c.PhasesFor(nil), 12)
}

func TestParseType(t *testing.T) {
	typ, err := phase.ParseType(" Bug ")
	require.NoError(t, err)
	assert.Equal(t, phase.TypeBug, typ)

	_, err = phase.ParseType("epic")
	assert.True(t, errors.Is(err, phase.ErrUnknownType))
}

func TestLoadCatalogRejects(t *testing.T) {
	valid := `
  bug:
    phases:
      - name: triage
      - name: verified
        terminal: true
  concept:
    phases:
      - name: ideation
      - name: done
        terminal: true
  enhancement:
    phases:
      - name: design
      - name: launch
        terminal: true
`
	tests := []struct {
		name        string
		yaml        string
		unknownType bool
	}{
		{
			name:        "unknown type",
			yaml:        "types:\n  epic:\n    phases:\n      - name: a\n",
			unknownType: true,
		},
		{
			name:        "missing type",
			yaml:        "types:" + valid,
			unknownType: true,
		},
		{
			name: "terminal with successors",
			yaml: "types:" + valid + `
  feature:
    phases:
      - name: design
        next: [launch]
        terminal: true
      - name: launch
        terminal: true
`,
		},
		{
			name: "unknown successor",
			yaml: "types:" + valid + `
  feature:
    phases:
      - name: design
        next: [nowhere]
      - name: launch
        terminal: true
`,
		},
		{
			name: "last phase not terminal",
			yaml: "types:" + valid + `
  feature:
    phases:
      - name: design
      - name: launch
`,
		},
		{
			name: "duplicate phase",
			yaml: "types:" + valid + `
  feature:
    phases:
      - name: design
      - name: design
        terminal: true
`,
		},
		{
			name: "editable but hidden",
			yaml: "types:" + valid + `
  feature:
    phases:
      - name: design
        visible: [name]
        editable: [name, secret]
      - name: launch
        terminal: true
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := phase.LoadCatalog([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, tt.unknownType, errors.Is(err, phase.ErrUnknownType), err.Error())
		})
	}
}

func TestDescribe(t *testing.T) {
	c := phase.MustDefaultCatalog()
	views := c.Describe()
	require.Len(t, views, 4)
	assert.Equal(t, phase.TypeFeature, views[0].Type)
	launch := views[0].Phases[3]
	assert.Equal(t, phase.Phase("launch"), launch.Name)
	assert.True(t, launch.Terminal)
	assert.True(t, launch.ReviewGated)
	assert.Empty(t, launch.Next)
}
