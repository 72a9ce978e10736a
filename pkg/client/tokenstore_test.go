package client

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFileTokenStore_RoundTrip(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "nested", "auth_token"))

	// Absent store loads as empty, not as an error
	tok, err := store.Load()
	assert.NoError(t, err)
	assert.Empty(t, tok)

	assert.NoError(t, store.Save("tok_abc"))
	tok, err = store.Load()
	assert.NoError(t, err)
	assert.Equal(t, "tok_abc", tok)

	assert.NoError(t, store.Clear())
	tok, _ = store.Load()
	assert.Empty(t, tok)

	// Clearing twice is fine
	assert.NoError(t, store.Clear())
}

func TestFileTokenStore_SaveOverwrites(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "auth_token"))
	assert.NoError(t, store.Save("tok_old"))
	assert.NoError(t, store.Save("tok_new"))

	tok, err := store.Load()
	assert.NoError(t, err)
	assert.Equal(t, "tok_new", tok)
}

func TestMarkerWatcher_SeesRewrites(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "auth_state")

	mw, err := NewMarkerWatcher(marker)
	assert.NoError(t, err)
	defer mw.Close()

	assert.NoError(t, WriteMarker(marker))

	select {
	case <-mw.Events():
	case <-time.After(3 * time.Second):
		t.Fatal("no event for the marker write")
	}

	// A second rewrite produces another event
	assert.NoError(t, WriteMarker(marker))
	select {
	case <-mw.Events():
	case <-time.After(3 * time.Second):
		t.Fatal("no event for the second write")
	}
}

func TestMarkerWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	mw, err := NewMarkerWatcher(filepath.Join(dir, "auth_state"))
	assert.NoError(t, err)
	defer mw.Close()

	assert.NoError(t, WriteMarker(filepath.Join(dir, "unrelated")))

	select {
	case <-mw.Events():
		t.Fatal("event for a file that is not the marker")
	case <-time.After(200 * time.Millisecond):
	}
}
