package tracker

import "sync"

// DefaultReportEvery is how many tracked probes pass between stats reports.
const DefaultReportEvery = 100

// UpdateResult describes the outcome of Registry.Update.
type UpdateResult struct {
	// Found is false when the connection was already removed.
	Found bool

	// Missed is the number of values newly recorded as missed.
	Missed uint64

	// ReportDue is true when the received count hit a multiple of the
	// report interval. Stats is only populated in that case.
	ReportDue bool
	Stats     Stats
}

// Registry maps connection IDs to their trackers and allocates IDs.
type Registry struct {
	reportEvery uint64

	idMu   sync.Mutex
	nextID uint64

	mu       sync.Mutex
	trackers map[uint64]*Tracker
}

// NewRegistry creates an empty registry. A zero reportEvery uses
// DefaultReportEvery.
func NewRegistry(reportEvery uint64) *Registry {
	if reportEvery == 0 {
		reportEvery = DefaultReportEvery
	}
	return &Registry{
		reportEvery: reportEvery,
		trackers:    make(map[uint64]*Tracker),
	}
}

// AllocateID returns a fresh connection ID. IDs start at 1, strictly
// increase, and are never reused.
func (r *Registry) AllocateID() uint64 {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	r.nextID++
	return r.nextID
}

// Insert creates an empty tracker for id. An existing entry is left as is.
func (r *Registry) Insert(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.trackers[id]; exists {
		return
	}
	r.trackers[id] = New()
}

// Update applies seq to id's tracker in place. Updating an absent id is a
// no-op.
func (r *Registry) Update(id, seq uint64) UpdateResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[id]
	if !ok {
		return UpdateResult{}
	}

	res := UpdateResult{
		Found:  true,
		Missed: t.Update(seq),
	}
	if n := t.MessagesReceived(); n > 0 && n%r.reportEvery == 0 {
		res.ReportDue = true
		res.Stats = t.Stats()
	}
	return res
}

// Read returns a snapshot of id's tracker without changing it.
func (r *Registry) Read(id uint64) (Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[id]
	if !ok {
		return Stats{}, false
	}
	return t.Stats(), true
}

// Remove deletes id's tracker and hands it to the caller. A second call for
// the same id returns nil, false.
func (r *Registry) Remove(id uint64) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[id]
	if !ok {
		return nil, false
	}
	delete(r.trackers, id)
	return t, true
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}

// ReportEvery returns the configured report interval.
func (r *Registry) ReportEvery() uint64 {
	return r.reportEvery
}
