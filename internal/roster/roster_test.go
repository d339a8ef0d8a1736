package roster

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestMain ensures the Watch goroutine does not leak.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testRoster = `{
	"members": [
		{"name": "Alice Smith", "title": "Chief", "squad": 42, "groupme_name": "Alice"},
		{"name": "Bob Jones", "title": "Member", "squad": 35, "groupme_name": "BobbyJ"}
	]
}`

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAndLookup(t *testing.T) {
	r, err := Load(writeRoster(t, testRoster), nil)
	require.NoError(t, err)

	m, ok := r.Lookup("Alice")
	require.True(t, ok)
	assert.Equal(t, 42, m.Squad)
	assert.Equal(t, "42", m.SquadID())
	assert.Equal(t, "Chief", m.Title)

	// case-insensitive
	m, ok = r.Lookup("bobbyj")
	require.True(t, ok)
	assert.Equal(t, "Bob Jones", m.Name)

	_, ok = r.Lookup("Mallory")
	assert.False(t, ok)
	_, ok = r.Lookup("ALICE")
	assert.True(t, ok)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), nil)
	require.Error(t, err)
}

func TestLoadMalformedFails(t *testing.T) {
	_, err := Load(writeRoster(t, "{broken"), nil)
	require.Error(t, err)
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	path := writeRoster(t, testRoster)
	r, err := Load(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))
	require.Error(t, r.Reload())

	// previous snapshot still answers lookups
	_, ok := r.Lookup("Alice")
	assert.True(t, ok)
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := writeRoster(t, testRoster)
	r, err := Load(path, nil)
	require.NoError(t, err)

	updated := `{"members": [{"name": "Carol", "title": "Member", "squad": 54, "groupme_name": "Carol"}]}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))
	require.NoError(t, r.Reload())

	_, ok := r.Lookup("Alice")
	assert.False(t, ok)
	m, ok := r.Lookup("Carol")
	require.True(t, ok)
	assert.Equal(t, 54, m.Squad)
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := writeRoster(t, testRoster)
	r, err := Load(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()

	updated := `{"members": [{"name": "Carol", "title": "Member", "squad": 54, "groupme_name": "Carol"}]}`

	// Rewrite inside the poll loop: the first write can race the Watch
	// goroutine registering its fsnotify watch.
	require.Eventually(t, func() bool {
		if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
			return false
		}
		_, ok := r.Lookup("Carol")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
