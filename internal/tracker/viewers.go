// Package tracker keeps the in-memory viewer and consumer registries.
// Neither registry is durable: a restart empties both and clients
// re-register on their next poll. Neither is a source of truth for whether a
// job is running; that is the status file plus the liveness oracle.
package tracker

import (
	"sort"
	"sync"
	"time"
)

// DefaultViewerTimeout is how long a heartbeat keeps a viewer counted.
const DefaultViewerTimeout = 15 * time.Second

// Viewers maps recording IDs to the clients currently watching them.
type Viewers struct {
	mu      sync.Mutex
	timeout time.Duration
	now     func() time.Time
	seen    map[string]map[string]time.Time // recordingID -> clientIP -> last heartbeat
}

// NewViewers creates a registry; timeout <= 0 uses DefaultViewerTimeout.
func NewViewers(timeout time.Duration) *Viewers {
	if timeout <= 0 {
		timeout = DefaultViewerTimeout
	}
	return &Viewers{
		timeout: timeout,
		now:     time.Now,
		seen:    make(map[string]map[string]time.Time),
	}
}

// SetClock replaces the time source.
func (v *Viewers) SetClock(now func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
}

// Track records or refreshes a heartbeat from clientIP.
func (v *Viewers) Track(recordingID, clientIP string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	clients, ok := v.seen[recordingID]
	if !ok {
		clients = make(map[string]time.Time)
		v.seen[recordingID] = clients
	}
	clients[clientIP] = v.now()
}

// Count prunes expired heartbeats for recordingID and returns how many remain.
func (v *Viewers) Count(recordingID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pruneLocked(recordingID)
}

// ListActiveIDs returns recording IDs with at least one current viewer.
func (v *Viewers) ListActiveIDs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	ids := make([]string, 0, len(v.seen))
	for id := range v.seen {
		if v.pruneLocked(id) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Tracked returns every recording ID that has been tracked and not
// forgotten, including those whose viewers have all expired.
func (v *Viewers) Tracked() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	ids := make([]string, 0, len(v.seen))
	for id := range v.seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Forget drops recordingID from the registry.
func (v *Viewers) Forget(recordingID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.seen, recordingID)
}

func (v *Viewers) pruneLocked(recordingID string) int {
	clients, ok := v.seen[recordingID]
	if !ok {
		return 0
	}
	cutoff := v.now().Add(-v.timeout)
	for ip, last := range clients {
		if last.Before(cutoff) {
			delete(clients, ip)
		}
	}
	return len(clients)
}
