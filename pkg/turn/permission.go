package turn

import (
	"net"
	"sync"
	"time"
)

// permissionTTL and the refresh-before-expiry margin come from
// spec.md §4.5: a 5-minute server TTL refreshed every 4 minutes.
const (
	permissionTTL     = 5 * time.Minute
	permissionRefresh = 4 * time.Minute
)

// permEntryState tracks the CreatePermission refresh handshake: a
// failed refresh downgrades the entry to pending for one retry before
// it's dropped, per spec.md §4.5.
type permEntryState int

const (
	permActive permEntryState = iota
	permPending
)

type permEntry struct {
	peer  string // net.UDPAddr.String()
	state permEntryState
}

// PermissionTable is the peer-address-keyed authorization table a
// TURN relay consults before forwarding inbound packets, per RFC 5766
// §8. Single-address permissions only, matching spec.md §3's scope.
type PermissionTable struct {
	mu      sync.Mutex
	entries map[string]*permEntry
}

func NewPermissionTable() *PermissionTable {
	return &PermissionTable{entries: make(map[string]*permEntry)}
}

// Install records an active permission for peer.
func (t *PermissionTable) Install(peer *net.UDPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[peer.IP.String()] = &permEntry{peer: peer.IP.String(), state: permActive}
}

// Has reports whether a permission is currently installed (active or
// pending a refresh retry — both still authorize forwarding until the
// retry itself fails) for peer's address.
func (t *PermissionTable) Has(peer *net.UDPAddr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[peer.IP.String()]
	return ok
}

// MarkPending downgrades peer's entry after a failed refresh attempt.
// It reports whether the entry was already pending from a prior
// failure — the caller should remove it in that case, since spec.md
// §4.5 allows only one pending retry before dropping the entry.
func (t *PermissionTable) MarkPending(peer *net.UDPAddr) (alreadyPending bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[peer.IP.String()]
	if !ok {
		return true
	}
	alreadyPending = e.state == permPending
	e.state = permPending
	return alreadyPending
}

// Remove drops peer's permission (a second consecutive refresh
// failure, or explicit teardown).
func (t *PermissionTable) Remove(peer *net.UDPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, peer.IP.String())
}

// Peers returns every address with a live permission, for the refresh
// sweep.
func (t *PermissionTable) Peers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	return out
}
