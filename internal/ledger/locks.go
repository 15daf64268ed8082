package ledger

import "sync"

// campaignLocks serializes mutations per campaign id. Entries are
// reference counted and removed once the last holder releases, so the
// map only holds ids with a mutation in flight.
type campaignLocks struct {
	mu    sync.Mutex
	locks map[int64]*campaignLock
}

type campaignLock struct {
	mu   sync.Mutex
	refs int
}

func newCampaignLocks() *campaignLocks {
	return &campaignLocks{
		locks: make(map[int64]*campaignLock),
	}
}

// lock blocks until the caller holds the campaign's mutex. The matching
// unlock call must use the same id.
func (cl *campaignLocks) lock(id int64) {
	cl.mu.Lock()
	entry, exists := cl.locks[id]
	if !exists {
		entry = &campaignLock{}
		cl.locks[id] = entry
	}
	entry.refs++
	cl.mu.Unlock()

	entry.mu.Lock()
}

func (cl *campaignLocks) unlock(id int64) {
	cl.mu.Lock()
	entry := cl.locks[id]
	entry.refs--
	if entry.refs == 0 {
		delete(cl.locks, id)
	}
	cl.mu.Unlock()

	entry.mu.Unlock()
}
