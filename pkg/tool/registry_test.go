package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func namedTool(name string) Tool {
	return &fakeTool{name: name, execute: func(ctx context.Context, args map[string]any) (*Result, error) {
		return Ok(name), nil
	}}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r, err := NewRegistry(namedTool("alpha"), namedTool("beta"))
	require.NoError(t, err)

	got, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", got.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(namedTool("dup"), namedTool("dup"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryRejectsInvalidTools(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	require.Error(t, r.Register(nil))
	require.Error(t, r.Register(namedTool("")))
}

func TestRegistryListPreservesRegistrationOrder(t *testing.T) {
	r, err := NewRegistry(namedTool("zeta"), namedTool("alpha"), namedTool("mid"))
	require.NoError(t, err)

	var listed []string
	for _, tl := range r.List() {
		listed = append(listed, tl.Name())
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, listed)

	// Names are sorted, unlike List.
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())
}

func TestFilterByName(t *testing.T) {
	tools := []Tool{namedTool("a"), namedTool("b"), namedTool("c")}

	filtered := FilterByName(tools, []string{"c", "a", "nope"})
	require.Len(t, filtered, 2)
	// Input order wins over the allowed order.
	assert.Equal(t, "a", filtered[0].Name())
	assert.Equal(t, "c", filtered[1].Name())
}

func TestDefinitions(t *testing.T) {
	defs := Definitions([]Tool{namedTool("one"), namedTool("two")})
	require.Len(t, defs, 2)
	assert.Equal(t, "one", defs[0].Name)
	assert.Equal(t, "fake tool one", defs[0].Description)
	assert.Equal(t, map[string]any{"type": "object"}, defs[0].Parameters)
}

type instructedTool struct {
	fakeTool
	instructions string
	addToPrompt  bool
}

func (t *instructedTool) Instructions() string          { return t.instructions }
func (t *instructedTool) AddInstructionsToPrompt() bool { return t.addToPrompt }

func TestPromptInstructions(t *testing.T) {
	opted := &instructedTool{fakeTool: fakeTool{name: "opted"}, instructions: "use me well", addToPrompt: true}
	silent := &instructedTool{fakeTool: fakeTool{name: "silent"}, instructions: "hidden", addToPrompt: false}
	empty := &instructedTool{fakeTool: fakeTool{name: "empty"}, addToPrompt: true}

	got := PromptInstructions([]Tool{namedTool("plain"), opted, silent, empty})
	assert.Equal(t, []string{"use me well"}, got)
}
