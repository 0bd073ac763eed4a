package syncer

import (
	"context"
	"slices"
	"sync"
	"time"

	domainerrors "github.com/shelfieapp/shelfie/internal/errors"
	"github.com/shelfieapp/shelfie/internal/events"
	"github.com/shelfieapp/shelfie/internal/remote"
)

// fakeAdapter is an in-memory remote.Adapter. Subscribe delivers the initial
// snapshot synchronously; later snapshots only go out when a test calls Fire.
type fakeAdapter struct {
	mu   sync.Mutex
	docs map[string][]remote.Document
	subs []*fakeSub

	queries, batches, writes, merges, deletes int
	batched                                   [][]remote.Document

	queryErr, batchErr, subscribeErr, writeErr, mergeErr error

	// gate, when set, holds every Write until it is closed.
	gate    chan struct{}
	started chan struct{}
}

type fakeSub struct {
	owner   string
	fn      remote.SnapshotFunc
	cancels int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{docs: make(map[string][]remote.Document)}
}

func (f *fakeAdapter) seed(docs ...remote.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range docs {
		f.docs[d.Owner] = append(f.docs[d.Owner], d)
	}
}

func (f *fakeAdapter) QueryByOwner(_ context.Context, owner string) ([]remote.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return slices.Clone(f.docs[owner]), nil
}

func (f *fakeAdapter) Subscribe(_ context.Context, owner string, fn remote.SnapshotFunc) (remote.CancelFunc, error) {
	f.mu.Lock()
	if f.subscribeErr != nil {
		f.mu.Unlock()
		return nil, f.subscribeErr
	}
	sub := &fakeSub{owner: owner, fn: fn}
	f.subs = append(f.subs, sub)
	initial := slices.Clone(f.docs[owner])
	f.mu.Unlock()

	fn(initial)

	return func() {
		f.mu.Lock()
		sub.cancels++
		f.mu.Unlock()
	}, nil
}

func (f *fakeAdapter) Write(_ context.Context, doc remote.Document) error {
	f.mu.Lock()
	gate, started := f.gate, f.started
	f.mu.Unlock()
	if gate != nil {
		started <- struct{}{}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writeErr != nil {
		return f.writeErr
	}
	f.upsertLocked(doc)
	return nil
}

func (f *fakeAdapter) Merge(_ context.Context, owner, id string, patch remote.Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges++
	if f.mergeErr != nil {
		return f.mergeErr
	}
	i := f.indexLocked(owner, id)
	if i < 0 {
		return domainerrors.NotFoundf("document %s not found", id)
	}
	merged, err := remote.ApplyPatch(f.docs[owner][i], patch)
	if err != nil {
		return err
	}
	f.docs[owner][i] = merged
	return nil
}

func (f *fakeAdapter) Delete(_ context.Context, owner, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	i := f.indexLocked(owner, id)
	if i < 0 {
		return domainerrors.NotFoundf("document %s not found", id)
	}
	f.docs[owner] = slices.Delete(f.docs[owner], i, i+1)
	return nil
}

func (f *fakeAdapter) BatchWrite(_ context.Context, docs []remote.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	if f.batchErr != nil {
		return f.batchErr
	}
	f.batched = append(f.batched, slices.Clone(docs))
	for _, d := range docs {
		f.upsertLocked(d)
	}
	return nil
}

// Fire delivers the owner's current documents to every live subscription.
func (f *fakeAdapter) Fire(owner string) {
	f.mu.Lock()
	docs := slices.Clone(f.docs[owner])
	var fns []remote.SnapshotFunc
	for _, s := range f.subs {
		if s.owner == owner && s.cancels == 0 {
			fns = append(fns, s.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(docs)
	}
}

func (f *fakeAdapter) remoteDocs(owner string) []remote.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.docs[owner])
}

func (f *fakeAdapter) batchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches
}

func (f *fakeAdapter) lastSub() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

func (f *fakeAdapter) cancelsOf(s *fakeSub) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return s.cancels
}

func (f *fakeAdapter) upsertLocked(doc remote.Document) {
	if i := f.indexLocked(doc.Owner, doc.ID); i >= 0 {
		f.docs[doc.Owner][i] = doc
		return
	}
	f.docs[doc.Owner] = append(f.docs[doc.Owner], doc)
}

func (f *fakeAdapter) indexLocked(owner, id string) int {
	return slices.IndexFunc(f.docs[owner], func(d remote.Document) bool { return d.ID == id })
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(e any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.(events.Event))
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) last(t events.Type) (events.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return events.Event{}, false
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}
