package docsync

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	syncerr "github.com/alexjbarnes/wikisync/internal/errors"
)

// Collection is the name-sorted set of documents under synchronization.
// All mutation goes through its methods; readers receive copies.
type Collection struct {
	mu       sync.RWMutex
	docs     []*Document
	index    map[string]*Document
	policy   ConflictPolicy
	observer Observer
}

// NewCollection creates an empty collection. observer may be nil.
func NewCollection(observer Observer) *Collection {
	if observer == nil {
		observer = nopObserver{}
	}

	return &Collection{
		index:    make(map[string]*Document),
		observer: observer,
	}
}

// Policy returns the conflict policy used for this collection.
func (c *Collection) Policy() *ConflictPolicy {
	return &c.policy
}

// Len returns the number of documents.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.docs)
}

// Load replaces the whole collection with records from an initial listing.
func (c *Collection) Load(records []Document) {
	c.mu.Lock()
	c.docs = nil
	c.index = make(map[string]*Document, len(records))
	c.mu.Unlock()

	c.Apply(records)
}

// Replace swaps in a fresh listing. Names absent from records are dropped;
// surviving names keep the operator's resolution choice.
func (c *Collection) Replace(records []Document) {
	keep := make(map[string]bool, len(records))
	for _, r := range records {
		keep[r.Name] = true
	}

	c.mu.Lock()
	docs := c.docs[:0:0]

	for _, d := range c.docs {
		if keep[d.Name] {
			docs = append(docs, d)
			continue
		}

		delete(c.index, d.Name)
	}

	c.docs = docs
	c.mu.Unlock()

	c.Apply(records)
}

// Apply merges endpoint results into the collection. Known names have their
// fields replaced and their error cleared. The operator's resolution choice
// is kept. Unknown names are inserted in sorted position. Records without a
// valid status are classified locally. The updated documents are returned.
func (c *Collection) Apply(records []Document) []*Document {
	c.mu.Lock()

	changed := make([]*Document, 0, len(records))

	for i := range records {
		rec := records[i]
		if rec.Name == "" {
			continue
		}

		if !rec.Status.Valid() {
			rec.Status = rec.Classified()
		}

		rec.Err = nil

		if cur, ok := c.index[rec.Name]; ok {
			rec.Resolve = cur.Resolve
			*cur = rec
			changed = append(changed, cur.Clone())

			continue
		}

		if rec.Resolve == "" {
			rec.Resolve = ResolveDefer
		}

		d := &rec
		c.insert(d)
		changed = append(changed, d.Clone())
	}

	c.mu.Unlock()

	now := time.Now()
	for _, d := range changed {
		c.observer.Notify(Event{Kind: EventChange, Name: d.Name, Document: d, Time: now})
	}

	return changed
}

func (c *Collection) insert(d *Document) {
	i := sort.Search(len(c.docs), func(i int) bool { return c.docs[i].Name >= d.Name })
	c.docs = slices.Insert(c.docs, i, d)
	c.index[d.Name] = d
}

// SetError records a failure on the named document and leaves its other
// fields unchanged.
func (c *Collection) SetError(name, msg string) (*Document, error) {
	c.mu.Lock()

	d, ok := c.index[name]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", syncerr.ErrDocumentNotFound, name)
	}

	d.SetError(msg)
	out := d.Clone()
	c.mu.Unlock()

	c.observer.Notify(Event{Kind: EventChange, Name: name, Document: out, Error: msg, Time: time.Now()})

	return out, nil
}

// ClearError removes the recorded failure of the named document. Documents
// without an error are left alone and no event is sent.
func (c *Collection) ClearError(name string) (*Document, error) {
	c.mu.Lock()

	d, ok := c.index[name]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", syncerr.ErrDocumentNotFound, name)
	}

	hadErr := d.Err != nil
	d.ClearError()
	out := d.Clone()
	c.mu.Unlock()

	if hadErr {
		c.observer.Notify(Event{Kind: EventChange, Name: name, Document: out, Time: time.Now()})
	}

	return out, nil
}

// SetResolve stores the operator's resolution for one document. It fails
// while a global override is active.
func (c *Collection) SetResolve(name string, r Resolution) error {
	if c.policy.Locked() {
		return syncerr.ErrResolutionLocked
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.index[name]
	if !ok {
		return fmt.Errorf("%w: %s", syncerr.ErrDocumentNotFound, name)
	}

	d.Resolve = r

	return nil
}

// Get returns a copy of the named document.
func (c *Collection) Get(name string) (*Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.index[name]
	if !ok {
		return nil, false
	}

	return d.Clone(), true
}

// Snapshot returns copies of all documents in name order.
func (c *Collection) Snapshot() []*Document {
	return c.Select(Filter{})
}

// Select returns copies of the documents matching f in name order.
func (c *Collection) Select(f Filter) []*Document {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Document, 0, len(c.docs))

	for _, d := range c.docs {
		if f.Match(d) {
			out = append(out, d.Clone())
		}
	}

	return out
}

// Counts returns the number of documents per status.
func (c *Collection) Counts() map[Status]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[Status]int, len(Statuses))
	for _, d := range c.docs {
		counts[d.Status]++
	}

	return counts
}
