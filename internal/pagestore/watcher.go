package pagestore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch keeps page versions current while pages are edited on disk. It
// blocks until the context is cancelled. onChange, when non-nil, is called
// with the name of every page whose version changed or that was removed.
func (s *Store) Watch(ctx context.Context, onChange func(name string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := s.addRecursive(watcher); err != nil {
		return fmt.Errorf("adding page store to watcher: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if name, changed := s.handleEvent(watcher, event); changed && onChange != nil {
				onChange(name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			s.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// handleEvent applies one fsnotify event and reports the affected page.
func (s *Store) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) (string, bool) {
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return "", false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			_ = watcher.Add(event.Name)
			return "", false
		}
	}

	name, ok := s.nameFromPath(event.Name)
	if !ok {
		return "", false
	}

	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
		return name, s.refresh(name, event.Name)
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if _, err := os.Stat(event.Name); err == nil {
			return "", false
		}

		s.mu.Lock()
		err := s.versions.DeletePageVersion(s.name, name)
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("forgetting removed page", slog.String("name", name), slog.String("error", err.Error()))
			return "", false
		}

		return name, true
	}

	return "", false
}

// refresh rehashes a page after an edit on disk.
func (s *Store) refresh(name, abs string) bool {
	data, err := os.ReadFile(abs)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.versions.GetPageVersion(s.name, name)
	if err != nil {
		return false
	}

	pv, err := s.track(name, abs, data)
	if err != nil {
		s.logger.Warn("tracking edited page", slog.String("name", name), slog.String("error", err.Error()))
		return false
	}

	return prev == nil || prev.Version != pv.Version
}

// addRecursive adds every non-hidden directory of the store to the watcher.
func (s *Store) addRecursive(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != s.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		return watcher.Add(path)
	})
}
