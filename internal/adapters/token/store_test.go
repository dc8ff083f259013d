package token

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenAbsentFileMeansLoggedOut(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "token"))
	tok, err := s.Token()
	require.NoError(t, err)
	require.Empty(t, tok)
}

func TestTokenTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  tok-abc\n"), 0o600))

	s := NewFileStore(path)
	tok, err := s.Token()
	require.NoError(t, err)
	require.Equal(t, "tok-abc", tok)
}

func TestWatchFiresOnTokenChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	s := NewFileStore(path)

	fired := make(chan struct{}, 8)
	stop, err := s.Watch(func() { fired <- struct{}{} })
	require.NoError(t, err)
	defer stop()

	// Sibling files in the same directory are not the token.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other"), []byte("x"), 0o600))
	select {
	case <-fired:
		t.Fatal("watch fired for an unrelated file")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte("tok-1"), 0o600))
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("watch never fired for token creation")
	}
}
