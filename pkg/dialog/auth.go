package dialog

import (
	"github.com/icholy/digest"

	"github.com/arzzra/sipturn/pkg/message"
	"github.com/arzzra/sipturn/pkg/status"
	"github.com/arzzra/sipturn/pkg/transaction"
)

// Credentials is the username/password pair used to answer a digest
// challenge.
type Credentials struct {
	Username string
	Password string
}

// challengeHeaderName returns the header carrying a digest challenge
// for the response code RFC 3261 §22.1 defines it on.
func challengeHeaderName(statusCode int) string {
	if statusCode == 407 {
		return "Proxy-Authenticate"
	}
	return "WWW-Authenticate"
}

func credentialHeaderName(statusCode int) string {
	if statusCode == 407 {
		return "Proxy-Authorization"
	}
	return "Authorization"
}

// BuildAuthRetry answers a 401/407 challenge on resp by cloning
// origReq with a bumped CSeq and a new branch, plus an Authorization/
// Proxy-Authorization header computed from the challenge via
// github.com/icholy/digest's RFC 2617 digest machinery — the same
// library sipgo (the teacher's call-control stack) pulls in for HTTP
// digest, repurposed here since SIP's Authorization grammar is
// syntactically the HTTP one (RFC 3261 §22.4).
func (d *Dialog) BuildAuthRetry(origReq, resp *message.Message, creds Credentials) (*message.Message, error) {
	hdrName := challengeHeaderName(resp.StartLine.StatusCode)
	challengeHdr := resp.HeaderByName(hdrName)
	if challengeHdr == nil {
		return nil, status.Newf(status.Auth, "", "dialog.BuildAuthRetry", "no "+hdrName+" header on challenge")
	}

	chal, err := digest.ParseChallenge(challengeHdr.Value())
	if err != nil {
		return nil, status.Wrap(status.Auth, "dialog.BuildAuthRetry", err)
	}

	retry := origReq.Clone()
	if cseq := retry.CSeq(); cseq != nil {
		retry.RemoveHeader(message.KindCSeq)
		retry.AddHeader(&message.CSeqHeader{Seq: cseq.Seq + 1, Method: cseq.Method})
	}
	if via := retry.Via(); via != nil {
		via.Branch = transaction.NewBranch()
	}

	part, err := digest.Digest(chal, digest.Options{
		Method:   string(origReq.StartLine.Method),
		URI:      origReq.StartLine.RequestURI.String(),
		Username: creds.Username,
		Password: creds.Password,
	})
	if err != nil {
		return nil, status.Wrap(status.Auth, "dialog.BuildAuthRetry", err)
	}

	retry.AddHeader(&message.GenericHeader{RawName: credentialHeaderName(resp.StartLine.StatusCode), RawValue: part.String()})
	return retry, nil
}
