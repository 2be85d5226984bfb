// Package pagestore keeps a directory of wiki pages with a version counter
// per page. One store holds the local copy and another the remote mirror.
// Versions live in the state database and increase whenever a page's
// content changes.
package pagestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alexjbarnes/wikisync/internal/state"
	"golang.org/x/text/unicode/norm"
)

const (
	// PageExt is the file extension of a page on disk.
	PageExt = ".wiki"

	storeDirPerm  = fs.FileMode(0o755)
	storeFilePerm = fs.FileMode(0o644)

	writeTempPrefix = ".page-write-"
)

// Error codes returned by store operations.
const (
	ErrCodePageNotFound    = "PAGE_NOT_FOUND"
	ErrCodeNameNotAllowed  = "NAME_NOT_ALLOWED"
	ErrCodeVersionConflict = "VERSION_CONFLICT"
)

// Error is a structured error returned by store operations.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// IsNotFound reports whether err is a page-not-found store error.
func IsNotFound(err error) bool {
	se, ok := err.(*Error)
	return ok && se.Code == ErrCodePageNotFound
}

// VersionStore persists page version counters.
type VersionStore interface {
	InitPageBucket(store string) error
	GetPageVersion(store, name string) (*state.PageVersion, error)
	SetPageVersion(store string, pv state.PageVersion) error
	DeletePageVersion(store, name string) error
	AllPageVersions(store string) (map[string]state.PageVersion, error)
}

// Page is the content of a page and its version.
type Page struct {
	Name    string `json:"name"`
	Text    string `json:"text"`
	Version int64  `json:"version"`
}

// Store is a directory of pages.
type Store struct {
	name     string
	root     string
	versions VersionStore
	logger   *slog.Logger

	// mu serializes version bumps so a write and a watcher refresh of the
	// same page never both increment.
	mu sync.Mutex
}

// New opens the store rooted at dir, creating the directory if needed. name
// identifies the store's version bucket.
func New(name, dir string, versions VersionStore, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("page store %s: directory must not be empty", name)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving page store path: %w", err)
	}

	if err := os.MkdirAll(abs, storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating page store directory: %w", err)
	}

	if err := versions.InitPageBucket(name); err != nil {
		return nil, fmt.Errorf("initializing page versions: %w", err)
	}

	return &Store{
		name:     name,
		root:     abs,
		versions: versions,
		logger:   logger.With(slog.String("store", name)),
	}, nil
}

// Name returns the store's identifier.
func (s *Store) Name() string {
	return s.name
}

// Root returns the absolute directory of the store.
func (s *Store) Root() string {
	return s.root
}

// NormalizeName converts a page name to its canonical form: forward
// slashes, no leading or trailing slash, NFC.
func NormalizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.Trim(name, "/")

	return norm.NFC.String(name)
}

func validateName(name string) error {
	if name == "" {
		return &Error{Code: ErrCodeNameNotAllowed, Message: "page name must not be empty"}
	}

	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." || strings.HasPrefix(seg, ".") {
			return &Error{Code: ErrCodeNameNotAllowed, Message: fmt.Sprintf("page name not allowed: %s", name)}
		}
	}

	if strings.ContainsRune(name, 0) {
		return &Error{Code: ErrCodeNameNotAllowed, Message: "page name contains NUL"}
	}

	return nil
}

// path returns the file path of a page, validating the name.
func (s *Store) path(name string) (string, string, error) {
	name = NormalizeName(name)
	if err := validateName(name); err != nil {
		return "", "", err
	}

	abs := filepath.Join(s.root, filepath.FromSlash(name)+PageExt)

	rel, err := filepath.Rel(s.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", &Error{Code: ErrCodeNameNotAllowed, Message: fmt.Sprintf("page name escapes store: %s", name)}
	}

	return name, abs, nil
}

// nameFromPath is the inverse of path for files found while walking.
func (s *Store) nameFromPath(abs string) (string, bool) {
	if !strings.HasSuffix(abs, PageExt) {
		return "", false
	}

	rel, err := filepath.Rel(s.root, strings.TrimSuffix(abs, PageExt))
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}

	name := NormalizeName(filepath.ToSlash(rel))
	if validateName(name) != nil {
		return "", false
	}

	return name, true
}

// Version returns the current version of a page, 0 when it does not exist.
func (s *Store) Version(name string) (int64, error) {
	name = NormalizeName(name)

	pv, err := s.versions.GetPageVersion(s.name, name)
	if err != nil {
		return 0, fmt.Errorf("reading version of %s: %w", name, err)
	}

	if pv == nil {
		return 0, nil
	}

	return pv.Version, nil
}

// Versions returns the current version of every known page.
func (s *Store) Versions() (map[string]int64, error) {
	all, err := s.versions.AllPageVersions(s.name)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}

	out := make(map[string]int64, len(all))
	for name, pv := range all {
		out[name] = pv.Version
	}

	return out, nil
}

// Read returns the text and version of a page.
func (s *Store) Read(name string) (*Page, error) {
	name, abs, err := s.path(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Code: ErrCodePageNotFound, Message: fmt.Sprintf("page not found: %s", name)}
		}

		return nil, fmt.Errorf("reading page %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pv, err := s.track(name, abs, data)
	if err != nil {
		return nil, err
	}

	return &Page{Name: name, Text: string(data), Version: pv.Version}, nil
}

// Write creates or replaces a page with an atomic rename. Writing the text
// a page already has keeps its version.
func (s *Store) Write(name, text string) (*Page, error) {
	name, abs, err := s.path(name)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating directories: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(dir, writeTempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return nil, fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpName, storeFilePerm); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("renaming temp file: %w", err)
	}

	pv, err := s.track(name, abs, []byte(text))
	if err != nil {
		return nil, err
	}

	s.logger.Debug("page written", slog.String("name", name), slog.Int64("version", pv.Version))

	return &Page{Name: name, Text: text, Version: pv.Version}, nil
}

// Delete removes a page and forgets its version. A page created again later
// starts over at version 1.
func (s *Store) Delete(name string) error {
	name, abs, err := s.path(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing page %s: %w", name, err)
	}

	return s.versions.DeletePageVersion(s.name, name)
}

// track records the content of a page, bumping its version when the hash
// differs from the stored one. Callers hold s.mu.
func (s *Store) track(name, abs string, data []byte) (state.PageVersion, error) {
	prev, err := s.versions.GetPageVersion(s.name, name)
	if err != nil {
		return state.PageVersion{}, fmt.Errorf("reading version of %s: %w", name, err)
	}

	hash := hashContent(data)
	if prev != nil && prev.Hash == hash {
		return *prev, nil
	}

	pv := state.PageVersion{Name: name, Version: 1, Hash: hash, Size: int64(len(data))}
	if prev != nil {
		pv.Version = prev.Version + 1
	}

	if info, err := os.Stat(abs); err == nil {
		pv.MTime = info.ModTime().UnixMilli()
	} else {
		pv.MTime = time.Now().UnixMilli()
	}

	if err := s.versions.SetPageVersion(s.name, pv); err != nil {
		return state.PageVersion{}, fmt.Errorf("saving version of %s: %w", name, err)
	}

	return pv, nil
}

func hashContent(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
