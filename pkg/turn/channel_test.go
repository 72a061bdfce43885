package turn

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustUDPAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	require.NoError(t, err)
	return addr
}

// TestChannelTableDisjoint exercises P6: at any instant the table is a
// partial injection between channel numbers and peers — no number is
// reused while bound, no peer holds two channels.
func TestChannelTableDisjoint(t *testing.T) {
	tbl := NewChannelTable()

	peers := []*net.UDPAddr{
		mustUDPAddr(t, "203.0.113.1:4000"),
		mustUDPAddr(t, "203.0.113.2:4000"),
		mustUDPAddr(t, "203.0.113.3:4000"),
	}

	seen := make(map[uint16]string)
	for _, p := range peers {
		n, err := tbl.Allocate(p)
		require.NoError(t, err)
		require.True(t, n >= channelMin && n <= channelMax)
		prevPeer, exists := seen[n]
		require.False(t, exists, "channel %d reused, previously bound to %s", n, prevPeer)
		seen[n] = p.String()
	}

	// Re-allocating an already-bound peer is rejected.
	_, err := tbl.Allocate(peers[0])
	require.Error(t, err)

	// Each number still resolves back to exactly the peer it was bound to.
	for n, peer := range seen {
		got, ok := tbl.LookupByNumber(n)
		require.True(t, ok)
		require.Equal(t, peer, got)
	}

	// Freeing one frees its number for reuse, without disturbing the rest.
	var freed uint16
	for n := range seen {
		freed = n
		break
	}
	tbl.Remove(freed)
	_, ok := tbl.LookupByNumber(freed)
	require.False(t, ok)
	require.Equal(t, len(peers)-1, len(tbl.Numbers()))
}

func TestChannelTableMarkPendingThenRemoveOnSecondFailure(t *testing.T) {
	tbl := NewChannelTable()
	peer := mustUDPAddr(t, "203.0.113.9:4000")
	n, err := tbl.Allocate(peer)
	require.NoError(t, err)

	// First failed refresh: downgrades to pending, caller keeps it.
	alreadyPending := tbl.MarkPending(n)
	require.False(t, alreadyPending)
	_, ok := tbl.LookupByNumber(n)
	require.True(t, ok)

	// Second consecutive failure: caller is told to remove it.
	alreadyPending = tbl.MarkPending(n)
	require.True(t, alreadyPending)
	tbl.Remove(n)
	_, ok = tbl.LookupByNumber(n)
	require.False(t, ok)
}

// TestAllocateChannelBindDataRoundTrip is spec.md §8 scenario 6: a
// client allocates, binds a channel to a peer, and exchanges data
// framed as ChannelData (RFC 5766 §11.4) rather than Send/Data STUN
// indications.
func TestAllocateChannelBindDataRoundTrip(t *testing.T) {
	peer := mustUDPAddr(t, "198.51.100.7:9000")

	// 1. Client allocates a channel number for peer and binds it
	//    server-side (modeled directly on the table, since the wire
	//    exchange of Allocate/ChannelBind requests is covered by
	//    TestSession* elsewhere).
	tbl := NewChannelTable()
	number, err := tbl.Allocate(peer)
	require.NoError(t, err)

	// 2. Outbound application data to peer is framed as ChannelData
	//    and sent over a stream transport, so it picks up 4-byte
	//    padding.
	payload := []byte("hello peer, this is ChannelData") // 31 bytes
	frame := EncodeChannelData(number, payload, true)
	require.Zero(t, len(frame)%4, "stream ChannelData frames pad to 4 bytes")

	// 3. The receiving socket demultiplexes it: the top two bits of
	//    the first byte are 0b01 (ChannelData), never a STUN message.
	require.Equal(t, byte(0x40), frame[0]&0xc0)
	_, isSTUN, err := DecodeMessage(frame)
	require.NoError(t, err)
	require.False(t, isSTUN)

	gotChannel, gotPayload, consumed, err := DecodeChannelData(frame)
	require.NoError(t, err)
	require.Equal(t, number, gotChannel)
	require.Equal(t, payload, gotPayload)
	require.LessOrEqual(t, consumed, len(frame))

	// 4. The channel number it decodes to still resolves to peer in
	//    the table, closing the loop end to end.
	peerStr, ok := tbl.LookupByNumber(gotChannel)
	require.True(t, ok)
	require.Equal(t, peer.String(), peerStr)
}

// TestDataConnPoolCapacity exercises the RFC 6062 fixed-size pool
// overflow rule from spec.md §4.5: a pool at capacity rejects further
// ConnectionAttempt acceptance rather than growing.
func TestDataConnPoolCapacity(t *testing.T) {
	pool := NewDataConnPool(1, 1, "127.0.0.1:0", nil)
	require.Equal(t, 0, pool.Len())

	// Accept checks capacity before it dials the server address, so
	// pre-seeding conns up to the limit exercises the capacity gate
	// without any server listening.
	pool.mu.Lock()
	pool.conns["203.0.113.5:1"] = &DataConn{state: DataConnReady}
	pool.mu.Unlock()

	_, err := pool.Accept(mustUDPAddr(t, "203.0.113.6:2"), 42)
	require.Error(t, err)
}
