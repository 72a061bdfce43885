package dialog

import (
	"github.com/arzzra/sipturn/pkg/message"
	"github.com/arzzra/sipturn/pkg/transaction"
)

// BuildACK synthesizes the ACK for a 2xx response to this dialog's
// INVITE, per RFC 3261 §13.2.2.4: it is a *new* request (its own
// transaction, no transaction-layer matching to the INVITE), built
// from the invite's From/Call-ID, the response's To (carrying the
// peer's tag), the INVITE's CSeq number with method ACK, and routed
// through the dialog's already-established RouteSet (the 2xx's
// Record-Route set reversed once, at dialog-establishment time, not
// re-derived here).
func (d *Dialog) BuildACK(invite, resp *message.Message) *message.Message {
	target := d.Target()
	if target == nil {
		target = d.RemoteURI
	}
	ack := message.NewRequest(message.MethodAck, target.Clone())

	if from := invite.From(); from != nil {
		ack.AddHeader(from.Clone())
	}
	if to := resp.To(); to != nil {
		ack.AddHeader(to.Clone())
	} else if from := invite.To(); from != nil {
		ack.AddHeader(from.Clone())
	}
	ack.AddHeader(&message.CallIDHeader{Value_: d.CallID})
	if cseq := invite.CSeq(); cseq != nil {
		ack.AddHeader(&message.CSeqHeader{Seq: cseq.Seq, Method: string(message.MethodAck)})
	}
	ack.AddHeader(&message.ViaHeader{Transport: "UDP", Host: "0.0.0.0", Branch: transaction.NewBranch()})
	ack.AddHeader(message.NewMaxForwards(70))
	for _, h := range d.RouteSet {
		ack.AddHeader(h.Clone())
	}
	return ack
}

// EstablishRouteSet records the 2xx response's Record-Route set,
// reversed, as the dialog's outgoing route set — done once, at the
// point the dialog transitions to Connecting, per RFC 3261 §12.1.2.
func (d *Dialog) EstablishRouteSet(resp *message.Message) {
	var rs []message.Header
	for _, h := range resp.HeaderAll(message.KindRecordRoute) {
		rs = append(rs, h.Clone())
	}
	reverseHeaders(rs)
	d.RouteSet = rs
	if to := resp.To(); to != nil {
		d.RemoteTag = to.Tag
	}
	if contact := resp.Header(message.KindContact); contact != nil {
		d.remoteTarget = contact.(*message.ContactHeader).Addr.URI.Clone()
	}
}
