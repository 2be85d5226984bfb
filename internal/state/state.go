package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/wikisync/internal/docsync"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.wikisync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket      = []byte("app")
	recordsBucket  = []byte("records")
	snapshotBucket = []byte("snapshot")

	formTokenKey = []byte("form_token")
	lastRunKey   = []byte("last_run")
)

func pagesBucket(store string) []byte {
	return []byte("pages:" + store)
}

// Record is the endpoint-side sync row for one page. The local version is
// not stored; it always comes from the local page store.
type Record struct {
	Name              string `json:"name"`
	Ignore            bool   `json:"ignore"`
	IgnoreAttachment  bool   `json:"ignore_attachment"`
	SyncTime          int64  `json:"sync_time"`
	SyncRemoteVersion int64  `json:"sync_remote_version"`
	SyncLocalVersion  int64  `json:"sync_local_version"`
	RemoteVersion     int64  `json:"remote_version"`
}

// PageVersion tracks the version counter of a page in a page store along
// with the content hash that produced it. Version only increases.
type PageVersion struct {
	Name    string `json:"name"`
	Version int64  `json:"version"`
	Hash    string `json:"hash"`
	MTime   int64  `json:"mtime"`
	Size    int64  `json:"size"`
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// Database file names under ~/.wikisync/. The endpoint and the operator
// commands keep separate files so both can run on one host; bbolt allows
// a single writer per file.
const (
	ServerFile = "state.db"
	ClientFile = "client.db"
)

// Load opens the named state database under ~/.wikisync/, creating it if
// it does not exist.
func Load(file string) (*State, error) {
	path, err := DefaultPath(file)
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{appBucket, recordsBucket, snapshotBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// FormToken returns the cached anti-forgery token, or empty string.
func (s *State) FormToken() string {
	var token string

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(formTokenKey)
		if v != nil {
			token = string(v)
		}

		return nil
	})

	return token
}

// SetFormToken persists the anti-forgery token.
func (s *State) SetFormToken(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(formTokenKey, []byte(token))
	})
}

// --- Records ---

// GetRecord returns the record for a page, or nil if not found.
func (s *State) GetRecord(name string) (*Record, error) {
	var r *Record

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(recordsBucket).Get([]byte(name))
		if v == nil {
			return nil
		}

		r = &Record{}

		return json.Unmarshal(v, r)
	})

	return r, err
}

// PutRecord inserts or replaces a record.
func (s *State) PutRecord(r Record) error {
	return s.PutRecords([]Record{r})
}

// PutRecords inserts or replaces several records in one transaction.
func (s *State) PutRecords(records []Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)

		for _, r := range records {
			if r.Name == "" {
				return fmt.Errorf("record name is required")
			}

			data, err := json.Marshal(r)
			if err != nil {
				return err
			}

			if err := b.Put([]byte(r.Name), data); err != nil {
				return err
			}
		}

		return nil
	})
}

// DeleteRecord removes the record for a page.
func (s *State) DeleteRecord(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Delete([]byte(name))
	})
}

// AllRecords returns every record in name order.
func (s *State) AllRecords() ([]Record, error) {
	var records []Record

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(_, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}

			records = append(records, r)

			return nil
		})
	})

	return records, err
}

// --- Page versions ---

// InitPageBucket ensures the version bucket for a page store exists.
func (s *State) InitPageBucket(store string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pagesBucket(store))
		return err
	})
}

// GetPageVersion returns the version entry of a page, or nil if not found.
func (s *State) GetPageVersion(store, name string) (*PageVersion, error) {
	var pv *PageVersion

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(pagesBucket(store))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(name))
		if v == nil {
			return nil
		}

		pv = &PageVersion{}

		return json.Unmarshal(v, pv)
	})

	return pv, err
}

// SetPageVersion persists the version entry of a page.
func (s *State) SetPageVersion(store string, pv PageVersion) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(pagesBucket(store))
		if b == nil {
			return fmt.Errorf("page bucket not initialized for store %s", store)
		}

		data, err := json.Marshal(pv)
		if err != nil {
			return err
		}

		return b.Put([]byte(pv.Name), data)
	})
}

// DeletePageVersion removes the version entry of a page.
func (s *State) DeletePageVersion(store, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(pagesBucket(store))
		if b == nil {
			return nil
		}

		return b.Delete([]byte(name))
	})
}

// AllPageVersions returns every version entry of a page store, keyed by name.
func (s *State) AllPageVersions(store string) (map[string]PageVersion, error) {
	result := make(map[string]PageVersion)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(pagesBucket(store))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var pv PageVersion
			if err := json.Unmarshal(v, &pv); err != nil {
				return err
			}

			result[string(k)] = pv

			return nil
		})
	})

	return result, err
}

// --- Client snapshot ---

// SaveSnapshot replaces the stored copy of the client collection.
func (s *State) SaveSnapshot(docs []*docsync.Document) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(snapshotBucket); err != nil {
			return err
		}

		b, err := tx.CreateBucket(snapshotBucket)
		if err != nil {
			return err
		}

		for _, d := range docs {
			data, err := json.Marshal(d)
			if err != nil {
				return err
			}

			if err := b.Put([]byte(d.Name), data); err != nil {
				return err
			}
		}

		return nil
	})
}

// LoadSnapshot returns the stored copy of the client collection in name
// order.
func (s *State) LoadSnapshot() ([]docsync.Document, error) {
	var docs []docsync.Document

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).ForEach(func(_, v []byte) error {
			var d docsync.Document
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}

			docs = append(docs, d)

			return nil
		})
	})

	return docs, err
}

// SaveRunReport stores the report of the most recent run.
func (s *State) SaveRunReport(rep docsync.Report) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(lastRunKey, data)
	})
}

// LastRunReport returns the report of the most recent run, or nil.
func (s *State) LastRunReport() (*docsync.Report, error) {
	var rep *docsync.Report

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(lastRunKey)
		if v == nil {
			return nil
		}

		rep = &docsync.Report{}

		return json.Unmarshal(v, rep)
	})

	return rep, err
}

// DefaultPath returns ~/.wikisync/<file>.
func DefaultPath(file string) (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".wikisync", file), nil
}
