package workpool

import "sync"

// Status is the lifecycle of one work item. Values are ordered; an item only
// ever moves to a higher rank.
type Status int

const (
	Waiting Status = iota
	Fetching
	Success
	Failed
)

func (s Status) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Fetching:
		return "fetching"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == Success || s == Failed
}

// Entry is one row of a Tracker snapshot.
type Entry struct {
	Key    string
	Status Status
	Err    error
}

// Tracker holds per-key statuses with increase-only updates.
type Tracker struct {
	mu       sync.Mutex
	order    []string
	statuses map[string]Status
	errs     map[string]error

	// OnChange, when set, is called after every applied update.
	OnChange func()
}

// NewTracker registers keys in Waiting state, preserving their order.
func NewTracker(keys []string) *Tracker {
	t := &Tracker{
		order:    make([]string, 0, len(keys)),
		statuses: make(map[string]Status, len(keys)),
		errs:     make(map[string]error),
	}
	for _, k := range keys {
		if _, dup := t.statuses[k]; dup {
			continue
		}
		t.order = append(t.order, k)
		t.statuses[k] = Waiting
	}
	return t
}

// Advance moves key to s if s ranks above its current status. It reports
// whether the update was applied; regressions, unknown keys and updates to a
// settled item are ignored.
func (t *Tracker) Advance(key string, s Status) bool {
	return t.advance(key, s, nil)
}

// Fail moves key to Failed and records err.
func (t *Tracker) Fail(key string, err error) bool {
	return t.advance(key, Failed, err)
}

func (t *Tracker) advance(key string, s Status, err error) bool {
	t.mu.Lock()
	cur, ok := t.statuses[key]
	if !ok || cur.Terminal() || s <= cur {
		t.mu.Unlock()
		return false
	}
	t.statuses[key] = s
	if err != nil {
		t.errs[key] = err
	}
	onChange := t.OnChange
	t.mu.Unlock()

	if onChange != nil {
		onChange()
	}
	return true
}

// Status returns the current status of key.
func (t *Tracker) Status(key string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statuses[key]
}

// Snapshot returns every entry in registration order.
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, Entry{Key: k, Status: t.statuses[k], Err: t.errs[k]})
	}
	return out
}

// Count returns how many entries are currently in s.
func (t *Tracker) Count(s Status) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, st := range t.statuses {
		if st == s {
			n++
		}
	}
	return n
}
