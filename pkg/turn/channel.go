package turn

import (
	"net"
	"sync"
	"time"

	"github.com/arzzra/sipturn/pkg/status"
)

// Channel numbers occupy 0x4000..0x7FFE per RFC 5766 §11; 0x7FFF and
// above (and anything below 0x4000) are reserved.
const (
	channelMin = uint16(0x4000)
	channelMax = uint16(0x7FFE)

	// channelTTL/channelRefresh come from spec.md §4.5: a 10-minute
	// server TTL, refreshed every 9.
	channelTTL     = 10 * time.Minute
	channelRefresh = 9 * time.Minute
)

type chanEntryState int

const (
	chanActive chanEntryState = iota
	chanPending
)

type chanEntry struct {
	number uint16
	peer   string // net.UDPAddr.String()
	state  chanEntryState
}

// ChannelTable is the 16-bit-channel-number <-> peer-address binding
// a TURN allocation maintains, per RFC 5766 §11. At any instant it is
// a partial injection: no two channels share a number, no peer is
// bound to two channels (P6 in spec.md §8).
type ChannelTable struct {
	mu        sync.Mutex
	byNumber  map[uint16]*chanEntry
	byPeer    map[string]*chanEntry
	nextGuess uint16
}

func NewChannelTable() *ChannelTable {
	return &ChannelTable{
		byNumber:  make(map[uint16]*chanEntry),
		byPeer:    make(map[string]*chanEntry),
		nextGuess: channelMin,
	}
}

// Allocate picks the next unused channel number (monotonic with
// wrap-around, per spec.md §4.5) and binds it to peer, failing if peer
// already has a channel.
func (t *ChannelTable) Allocate(peer *net.UDPAddr) (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := peer.String()
	if _, exists := t.byPeer[key]; exists {
		return 0, status.Newf(status.Protocol, "", "turn.ChannelTable.Allocate", "peer already bound to a channel")
	}
	if len(t.byNumber) >= int(channelMax-channelMin)+1 {
		return 0, status.Newf(status.Resource, "", "turn.ChannelTable.Allocate", "channel table exhausted")
	}

	n := t.nextGuess
	for {
		if _, used := t.byNumber[n]; !used {
			break
		}
		n = nextChannelNumber(n)
	}
	t.nextGuess = nextChannelNumber(n)

	e := &chanEntry{number: n, peer: key, state: chanActive}
	t.byNumber[n] = e
	t.byPeer[key] = e
	return n, nil
}

func nextChannelNumber(n uint16) uint16 {
	if n >= channelMax {
		return channelMin
	}
	return n + 1
}

// LookupByNumber resolves a channel number to its bound peer address
// string, for ChannelData demultiplexing on receipt.
func (t *ChannelTable) LookupByNumber(n uint16) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byNumber[n]
	if !ok {
		return "", false
	}
	return e.peer, true
}

// LookupByPeer resolves a peer address string to its bound channel
// number, for outbound ChannelData framing.
func (t *ChannelTable) LookupByPeer(peer *net.UDPAddr) (uint16, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byPeer[peer.String()]
	if !ok {
		return 0, false
	}
	return e.number, true
}

// MarkPending downgrades the channel after a failed ChannelBind
// refresh. It reports whether the channel was already pending from a
// prior failure — the caller should remove it in that case, per
// spec.md §4.5's one-retry-then-drop rule.
func (t *ChannelTable) MarkPending(n uint16) (alreadyPending bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byNumber[n]
	if !ok {
		return true
	}
	alreadyPending = e.state == chanPending
	e.state = chanPending
	return alreadyPending
}

// Remove unbinds a channel.
func (t *ChannelTable) Remove(n uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byNumber[n]
	if !ok {
		return
	}
	delete(t.byNumber, n)
	delete(t.byPeer, e.peer)
}

// Numbers returns every bound channel number, for the refresh sweep.
func (t *ChannelTable) Numbers() []uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint16, 0, len(t.byNumber))
	for n := range t.byNumber {
		out = append(out, n)
	}
	return out
}
