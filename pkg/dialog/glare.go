package dialog

import (
	"github.com/arzzra/sipturn/pkg/message"
)

// reinviteTracker tracks whether this dialog has a re-INVITE
// outstanding in each direction (localInFlight for ours,
// remoteInFlight for the peer's); a new one while the opposite
// direction's is outstanding is the RFC 3261 §14.1 glare condition.
type reinviteTracker struct {
	localInFlight  bool
	remoteInFlight bool
}

// CheckReinviteGlare reports whether starting a new local re-INVITE
// (outgoing=true) or accepting an incoming one (outgoing=false) would
// race an already-in-flight re-INVITE in the opposite direction.
func (d *Dialog) CheckReinviteGlare(outgoing bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if outgoing {
		return d.reinvite.remoteInFlight
	}
	return d.reinvite.localInFlight
}

// BeginReinvite marks a re-INVITE as in flight in the given direction.
func (d *Dialog) BeginReinvite(outgoing bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if outgoing {
		d.reinvite.localInFlight = true
	} else {
		d.reinvite.remoteInFlight = true
	}
}

// EndReinvite clears the in-flight marker once the re-INVITE's
// transaction completes (success, failure, or glare rejection).
func (d *Dialog) EndReinvite(outgoing bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if outgoing {
		d.reinvite.localInFlight = false
	} else {
		d.reinvite.remoteInFlight = false
	}
}

// BuildGlareResponse builds the 491 Request Pending response RFC 3261
// §14.1 mandates when a re-INVITE collides, with a randomized
// Retry-After so both sides don't immediately collide again.
func BuildGlareResponse(req *message.Message) *message.Message {
	resp := message.NewResponse(491, "Request Pending")
	copyDialogHeaders(req, resp)
	resp.AddHeader(message.NewRetryAfter(GlareRetryAfter()))
	return resp
}

func copyDialogHeaders(req, resp *message.Message) {
	if via := req.Via(); via != nil {
		resp.AddHeader(via.Clone())
	}
	if from := req.From(); from != nil {
		resp.AddHeader(from.Clone())
	}
	if to := req.To(); to != nil {
		resp.AddHeader(to.Clone())
	}
	if h := req.Header(message.KindCallID); h != nil {
		resp.AddHeader(h.Clone())
	}
	if cseq := req.CSeq(); cseq != nil {
		resp.AddHeader(cseq.Clone())
	}
}
