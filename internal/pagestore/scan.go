package pagestore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScanResult holds the outcome of comparing the store directory with the
// persisted versions.
type ScanResult struct {
	// Versions maps every page on disk to its version after the scan.
	Versions map[string]int64
	// Changed lists pages that are new or whose content changed.
	Changed []string
	// Deleted lists pages that had a version but are gone from disk.
	Deleted []string
}

// Scan walks the store directory, bumps the version of every page whose
// content changed since it was last seen and forgets pages removed from
// disk. Hidden files, temp files and symlinks are skipped.
func (s *Store) Scan() (*ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	persisted, err := s.versions.AllPageVersions(s.name)
	if err != nil {
		return nil, fmt.Errorf("loading persisted versions: %w", err)
	}

	result := &ScanResult{Versions: make(map[string]int64)}

	err = filepath.WalkDir(s.root, func(abs string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if abs == s.root {
			return nil
		}

		base := d.Name()
		if strings.HasPrefix(base, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			return nil
		}

		if d.Type()&os.ModeSymlink != 0 {
			s.logger.Debug("skipping symlink during scan", slog.String("path", abs))
			return nil
		}

		name, ok := s.nameFromPath(abs)
		if !ok {
			return nil
		}

		data, err := os.ReadFile(abs)
		if err != nil {
			s.logger.Warn("reading page during scan", slog.String("name", name), slog.String("error", err.Error()))
			return nil
		}

		prev, existed := persisted[name]

		pv, err := s.track(name, abs, data)
		if err != nil {
			return err
		}

		if !existed || prev.Version != pv.Version {
			result.Changed = append(result.Changed, name)
		}

		result.Versions[name] = pv.Version

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", s.root, err)
	}

	for name := range persisted {
		if _, ok := result.Versions[name]; ok {
			continue
		}

		if err := s.versions.DeletePageVersion(s.name, name); err != nil {
			return nil, fmt.Errorf("forgetting %s: %w", name, err)
		}

		result.Deleted = append(result.Deleted, name)
	}

	sort.Strings(result.Changed)
	sort.Strings(result.Deleted)

	if len(result.Changed) > 0 || len(result.Deleted) > 0 {
		s.logger.Info("page store scanned",
			slog.Int("pages", len(result.Versions)),
			slog.Int("changed", len(result.Changed)),
			slog.Int("deleted", len(result.Deleted)),
		)
	}

	return result, nil
}
