// Package token reads the auth token the portal login flow persists to
// disk, and watches it so the channel lifecycle re-runs on login/logout.
package token

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Token returns the persisted token, or "" when none exists. A missing
// file is the logged-out state, not an error.
func (s *FileStore) Token() (string, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Watch fires fn whenever the token file is written, created or
// removed. The directory is watched so a login that creates the file is
// seen too.
func (s *FileStore) Watch(fn func()) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					log.Info().Str("module", "token").Str("op", ev.Op.String()).Msg("token file changed")
					fn()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("module", "token").Msg("watch error")
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
