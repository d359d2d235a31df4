package skill

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeSkill(t, dir, "alpha", "Original description", "body")

	loader := NewLoader(dir)
	_, err := loader.Discover()
	require.NoError(t, err)

	w, err := NewWatcher(loader)
	require.NoError(t, err)
	defer w.Close()

	updated := "---\nname: alpha\ndescription: Updated description\n---\nbody"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		skill, ok := loader.Get("alpha")
		return ok && skill.Description == "Updated description"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherPicksUpNewSkillDirectory(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(dir)
	_, err := loader.Discover()
	require.NoError(t, err)

	w, err := NewWatcher(loader)
	require.NoError(t, err)
	defer w.Close()

	writeSkill(t, dir, "fresh", "Brand new skill", "body")

	require.Eventually(t, func() bool {
		_, ok := loader.Get("fresh")
		return ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherClose(t *testing.T) {
	loader := NewLoader(t.TempDir())
	w, err := NewWatcher(loader)
	require.NoError(t, err)
	assert.NoError(t, w.Close())
}
