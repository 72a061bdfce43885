package dialog

import (
	"github.com/arzzra/sipturn/pkg/message"
	"github.com/arzzra/sipturn/pkg/transaction"
)

// BuildMinExpiresRetry answers a 423 Interval Too Brief by cloning
// origReq with a bumped CSeq, a new branch, and Expires raised to the
// value the 423's Min-Expires header demanded, per RFC 3261 §10.2.8 /
// §20.23.
func (d *Dialog) BuildMinExpiresRetry(origReq, resp *message.Message) *message.Message {
	minExpires := 0
	if h := resp.Header(message.KindMinExpires); h != nil {
		minExpires = h.(*message.IntHeader).Value
	}

	retry := origReq.Clone()
	if cseq := retry.CSeq(); cseq != nil {
		retry.RemoveHeader(message.KindCSeq)
		retry.AddHeader(&message.CSeqHeader{Seq: cseq.Seq + 1, Method: cseq.Method})
	}
	if via := retry.Via(); via != nil {
		via.Branch = transaction.NewBranch()
	}

	retry.RemoveHeader(message.KindExpires)
	retry.AddHeader(message.NewExpires(minExpires))
	return retry
}
