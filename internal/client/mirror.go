// Package client keeps a local mirror of one recipient's notifications in
// step with the server: full fetches, pushed records and the user's own
// optimistic changes all merge into the same set.
package client

import (
	"sort"
	"sync"
	"time"

	"pollcast/internal/common"
)

type entry struct {
	n     common.Notification
	order uint64 // first-seen order, breaks createdAt ties
	since uint64 // mirror version at which the entry appeared

	// read once any source said so; never cleared
	read bool
	// optimistic overlays still waiting for the server
	pendingRead   int
	pendingHidden int
}

func (e *entry) isRead() bool {
	return e.read || e.pendingRead > 0
}

// Mirror is safe for concurrent use. The unread count is always derived
// from the merged set.
type Mirror struct {
	mu         sync.Mutex
	entries    map[string]*entry
	tombstones map[string]uint64
	version    uint64
	nextOrder  uint64
}

func NewMirror() *Mirror {
	return &Mirror{
		entries:    make(map[string]*entry),
		tombstones: make(map[string]uint64),
	}
}

// FetchToken marks the moment a fetch was requested. Entries that arrive
// after it cannot be removed by that fetch's result.
type FetchToken struct {
	version uint64
}

func (m *Mirror) BeginFetch() FetchToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return FetchToken{version: m.bump()}
}

// ApplyFetch merges a list fetched after BeginFetch returned tok. The list
// decides existence for entries the mirror already had when the fetch began;
// read state merges as a union. When truncated is set the list is a page of
// the newest records, and only entries at least as new as its oldest record
// can be dropped.
func (m *Mirror) ApplyFetch(tok FetchToken, list []*common.Notification, truncated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fetched := make(map[string]struct{}, len(list))
	var oldest time.Time
	for _, n := range list {
		if n == nil || n.ID == "" {
			continue
		}
		if oldest.IsZero() || n.CreatedAt.Before(oldest) {
			oldest = n.CreatedAt
		}
		if _, gone := m.tombstones[n.ID]; gone {
			continue
		}
		fetched[n.ID] = struct{}{}
		m.merge(n)
	}

	for id, e := range m.entries {
		if _, ok := fetched[id]; ok || e.since > tok.version {
			continue
		}
		if truncated && e.n.CreatedAt.Before(oldest) {
			continue
		}
		delete(m.entries, id)
	}

	// a fetch that began after the delete no longer needs the tombstone
	for id, at := range m.tombstones {
		if at < tok.version {
			delete(m.tombstones, id)
		}
	}
}

// ApplyPush merges one pushed record and reports whether it was new.
// Merging the same record again changes nothing.
func (m *Mirror) ApplyPush(n *common.Notification) bool {
	if n == nil || n.ID == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, gone := m.tombstones[n.ID]; gone {
		return false
	}
	_, existed := m.entries[n.ID]
	m.merge(n)
	return !existed
}

// ApplyRead records a read confirmed by the server. With all set, every
// entry created at or before readAt is read.
func (m *Mirror) ApplyRead(ids []string, all bool, readAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if e, ok := m.entries[id]; ok {
			e.markRead(readAt)
		}
	}
	if !all {
		return
	}
	for _, e := range m.entries {
		if readAt.IsZero() || !e.n.CreatedAt.After(readAt) {
			e.markRead(readAt)
		}
	}
}

// Pending is an optimistic change waiting for the server's answer. Only the
// first Confirm or Rollback has any effect.
type Pending struct {
	once     sync.Once
	confirm  func()
	rollback func()
}

func (p *Pending) Confirm() {
	p.once.Do(p.confirm)
}

func (p *Pending) Rollback() {
	p.once.Do(p.rollback)
}

// BeginMarkRead shows id as read until the returned change settles.
// Rolling back never unreads an entry some other source confirmed.
func (m *Mirror) BeginMarkRead(id string) *Pending {
	return m.beginRead(func(e *entry) bool { return e.n.ID == id })
}

// BeginMarkAllRead covers the entries unread right now; later arrivals
// are left alone.
func (m *Mirror) BeginMarkAllRead() *Pending {
	return m.beginRead(func(e *entry) bool { return !e.isRead() })
}

func (m *Mirror) beginRead(match func(e *entry) bool) *Pending {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.overlay(match, func(e *entry) { e.pendingRead++ })
	return &Pending{
		confirm: func() {
			m.settle(ids, func(e *entry) {
				e.pendingRead--
				e.markRead(time.Now())
			})
		},
		rollback: func() {
			m.settle(ids, func(e *entry) { e.pendingRead-- })
		},
	}
}

// BeginDelete hides id until the returned change settles.
func (m *Mirror) BeginDelete(id string) *Pending {
	return m.beginHide(func(e *entry) bool { return e.n.ID == id })
}

// BeginClearAll hides everything currently visible.
func (m *Mirror) BeginClearAll() *Pending {
	return m.beginHide(func(e *entry) bool { return e.pendingHidden == 0 })
}

func (m *Mirror) beginHide(match func(e *entry) bool) *Pending {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.overlay(match, func(e *entry) { e.pendingHidden++ })
	return &Pending{
		confirm: func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			at := m.bump()
			for _, id := range ids {
				delete(m.entries, id)
				m.tombstones[id] = at
			}
		},
		rollback: func() {
			m.settle(ids, func(e *entry) { e.pendingHidden-- })
		},
	}
}

// List returns visible entries newest first; equal timestamps keep the
// order in which the mirror first saw them.
func (m *Mirror) List() []common.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	visible := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.pendingHidden == 0 {
			visible = append(visible, e)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		a, b := visible[i], visible[j]
		if !a.n.CreatedAt.Equal(b.n.CreatedAt) {
			return a.n.CreatedAt.After(b.n.CreatedAt)
		}
		return a.order < b.order
	})

	out := make([]common.Notification, len(visible))
	for i, e := range visible {
		out[i] = e.n
		out[i].IsRead = e.isRead()
	}
	return out
}

func (m *Mirror) Get(id string) (common.Notification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || e.pendingHidden > 0 {
		return common.Notification{}, false
	}
	n := e.n
	n.IsRead = e.isRead()
	return n, true
}

func (m *Mirror) UnreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, e := range m.entries {
		if e.pendingHidden == 0 && !e.isRead() {
			count++
		}
	}
	return count
}

func (m *Mirror) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, e := range m.entries {
		if e.pendingHidden == 0 {
			count++
		}
	}
	return count
}

// merge requires m.mu.
func (m *Mirror) merge(n *common.Notification) {
	e, ok := m.entries[n.ID]
	if !ok {
		m.nextOrder++
		e = &entry{order: m.nextOrder, since: m.bump()}
		m.entries[n.ID] = e
	}

	readAt := e.n.ReadAt
	e.n = *n
	if e.n.ReadAt == nil {
		e.n.ReadAt = readAt
	}
	e.read = e.read || n.IsRead
}

// overlay requires m.mu.
func (m *Mirror) overlay(match func(e *entry) bool, apply func(e *entry)) []string {
	var ids []string
	for id, e := range m.entries {
		if match(e) {
			apply(e)
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Mirror) settle(ids []string, apply func(e *entry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if e, ok := m.entries[id]; ok {
			apply(e)
		}
	}
}

func (m *Mirror) bump() uint64 {
	m.version++
	return m.version
}

func (e *entry) markRead(at time.Time) {
	if e.read {
		return
	}
	e.read = true
	if e.n.ReadAt == nil && !at.IsZero() {
		at := at
		e.n.ReadAt = &at
	}
}
