package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accord-io/accord/internal/ir"
	"github.com/accord-io/accord/internal/schema"
	"github.com/accord-io/accord/internal/state"
)

func TestFormatPkl(t *testing.T) {
	input := "resources {\t \n  value = 1   \n\n\n\n  other = 2\n}"
	want := "resources {\n  value = 1\n\n  other = 2\n}\n"
	assert.Equal(t, want, formatPkl(input))

	// Already-canonical content is a fixed point.
	assert.Equal(t, want, formatPkl(want))
}

func TestFindPklFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "modules"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.pkl"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "modules", "vpc.pkl"), []byte("y"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("z"), 0644))

	files, err := findPklFiles(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "main.pkl"),
		filepath.Join(dir, "modules", "vpc.pkl"),
	}, files)
}

func TestColorize(t *testing.T) {
	prev := noColor
	defer func() { noColor = prev }()

	noColor = false
	assert.Equal(t, colorGreen+"ok"+colorReset, colorize(colorGreen, "ok"))

	noColor = true
	assert.Equal(t, "ok", colorize(colorGreen, "ok"))
}

func TestActionSymbols(t *testing.T) {
	assert.Equal(t, "+", actionSymbol(ir.ActionCreate))
	assert.Equal(t, "-", actionSymbol(ir.ActionDelete))
	assert.Equal(t, "-/+", actionSymbol(ir.ActionReplace))
	assert.Equal(t, "~", actionSymbol(ir.ActionUpdate))

	assert.Equal(t, colorGreen, actionColor(ir.ActionCreate))
	assert.Equal(t, colorRed, actionColor(ir.ActionDelete))
	assert.Equal(t, colorYellow, actionColor(ir.ActionReplace))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "null", formatValue(nil))
	assert.Equal(t, `"hello"`, formatValue("hello"))
	assert.Equal(t, "42", formatValue(42))
	assert.Equal(t, "true", formatValue(true))
}

func TestWorkspaceStatePath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	assert.Equal(t, filepath.Join(".accord", "state.json"), WorkspaceStatePath())

	require.NoError(t, os.MkdirAll(accordDir(), 0755))
	require.NoError(t, os.WriteFile(workspaceFile(), []byte("staging\n"), 0644))
	assert.Equal(t, "staging", currentWorkspace())
	assert.Equal(t, filepath.Join(".accord", "state.staging.json"), WorkspaceStatePath())
}

func TestListWorkspaces(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, os.MkdirAll(accordDir(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(accordDir(), "state.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(accordDir(), "state.staging.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(accordDir(), "backend.json"), []byte("{}"), 0644))

	workspaces, err := listWorkspaces()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"default", "staging"}, workspaces)
}

func TestCheckRequired(t *testing.T) {
	kind := &schema.Kind{
		Name: "aws:Vpc",
		Attributes: map[string]schema.Attribute{
			"cidrBlock": {Required: true, ForceNew: true},
			"tags":      {},
		},
	}

	assert.NoError(t, checkRequired("aws:Vpc.main", map[string]any{"cidrBlock": "10.0.0.0/16"}, kind))

	err := checkRequired("aws:Vpc.main", map[string]any{"tags": map[string]any{}}, kind)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required attribute "cidrBlock" is not set`)

	err = checkRequired("aws:Vpc.main", map[string]any{"cidrBlock": nil}, kind)
	require.Error(t, err)
}

func TestPlanFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{Timestamp: "2026-01-02T03:04:05Z", PriorSerial: 9},
		Changes: []*ir.ResourceChange{{
			Address: "aws:Vpc.main",
			Action:  ir.ActionCreate,
			Reason:  "not in state",
			Desired: &ir.Resource{Kind: "aws:Vpc", Name: "main", Provider: "aws"},
		}},
		Summary: &ir.PlanSummary{Create: 1},
	}

	require.NoError(t, savePlanFile(path, plan))

	loaded, err := loadPlanFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(9), loaded.Metadata.PriorSerial)
	require.Len(t, loaded.Changes, 1)
	assert.Equal(t, ir.ActionCreate, loaded.Changes[0].Action)
	assert.Equal(t, "aws:Vpc.main", loaded.Changes[0].Address)
	assert.Equal(t, 1, loaded.Summary.Create)
}

func TestLoadPlanFile_Missing(t *testing.T) {
	_, err := loadPlanFile(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestMoveStateRecord(t *testing.T) {
	store, err := state.OpenFile(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	require.NoError(t, store.Write("null:Resource.old", &ir.ResourceState{
		Kind:   "null:Resource",
		Name:   "old",
		ID:     "id-1",
		Status: ir.StatusSynced,
	}))

	require.NoError(t, moveStateRecord(store, "null:Resource.old", "null:Resource.new"))

	_, ok := store.Read("null:Resource.old")
	assert.False(t, ok)

	// The record's identity follows the new address.
	rs, ok := store.Read("null:Resource.new")
	require.True(t, ok)
	assert.Equal(t, "null:Resource", rs.Kind)
	assert.Equal(t, "new", rs.Name)
	assert.Equal(t, "null:Resource.new", rs.Address())
	assert.Equal(t, "id-1", rs.ID)
}

func TestMoveStateRecord_Errors(t *testing.T) {
	store, err := state.OpenFile(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	require.NoError(t, store.Write("null:Resource.a", &ir.ResourceState{Kind: "null:Resource", Name: "a"}))
	require.NoError(t, store.Write("null:Resource.b", &ir.ResourceState{Kind: "null:Resource", Name: "b"}))

	assert.ErrorContains(t, moveStateRecord(store, "null:Resource.gone", "null:Resource.x"), "not found")
	assert.ErrorContains(t, moveStateRecord(store, "null:Resource.a", "null:Resource.b"), "already exists")
	assert.ErrorContains(t, moveStateRecord(store, "null:Resource.a", "bogus"), "expected kind.name")
}

func TestBuildDescription(t *testing.T) {
	origVersion, origCommit := Version, Commit
	defer func() { Version, Commit = origVersion, origCommit }()

	Version, Commit = "1.2.3", "abc1234"
	desc := buildDescription()
	assert.Contains(t, desc, "accord 1.2.3")
	assert.Contains(t, desc, "(abc1234)")

	Commit = ""
	assert.NotContains(t, buildDescription(), "(")
}
