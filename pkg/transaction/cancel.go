package transaction

import "github.com/arzzra/sipturn/pkg/message"

// BuildCancel synthesizes the CANCEL for an in-flight INVITE request
// per RFC 3261 §9.1: same Request-URI, Call-ID, To, From, CSeq number
// (method CANCEL), single Via matching the INVITE's branch,
// Max-Forwards, and the INVITE's Route headers copied across; no
// other headers.
func BuildCancel(invite *message.Message) *message.Message {
	cancel := message.NewRequest(message.MethodCancel, invite.StartLine.RequestURI.Clone())
	if via := invite.Via(); via != nil {
		cancel.AddHeader(via.Clone())
	}
	if from := invite.From(); from != nil {
		cancel.AddHeader(from.Clone())
	}
	if to := invite.To(); to != nil {
		cancel.AddHeader(to.Clone())
	}
	if h := invite.Header(message.KindCallID); h != nil {
		cancel.AddHeader(h.Clone())
	}
	if cseq := invite.CSeq(); cseq != nil {
		cancel.AddHeader(&message.CSeqHeader{Seq: cseq.Seq, Method: string(message.MethodCancel)})
	}
	if h := invite.Header(message.KindMaxForwards); h != nil {
		cancel.AddHeader(h.Clone())
	}
	for _, h := range invite.HeaderAll(message.KindRoute) {
		cancel.AddHeader(h.Clone())
	}
	return cancel
}
