package message

import (
	"github.com/pion/sdp/v3"

	"github.com/arzzra/sipturn/pkg/status"
)

// ParseSDPBody decodes m's body as application/sdp using pion/sdp's
// session-description parser, per SPEC_FULL.md §13's SDP body
// passthrough supplement: sipturn never negotiates media, it only
// offers a convenience decode/encode of the opaque body bytes for
// callers that want to inspect or rewrite offers/answers.
func (m *Message) ParseSDPBody() (*sdp.SessionDescription, error) {
	ct := m.ContentTypeHeaderValue()
	if ct == nil || ct.Type != "application" || ct.Subtype != "sdp" {
		return nil, status.Newf(status.Protocol, "", "message.ParseSDPBody", "no application/sdp body")
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(m.Body); err != nil {
		return nil, status.Wrap(status.Syntax, "message.ParseSDPBody", err)
	}
	return &desc, nil
}

// SetSDPBody marshals desc and installs it as the message body with
// an application/sdp Content-Type and matching Content-Length.
func (m *Message) SetSDPBody(desc *sdp.SessionDescription) error {
	raw, err := desc.Marshal()
	if err != nil {
		return status.Wrap(status.Protocol, "message.SetSDPBody", err)
	}
	m.SetBody("application/sdp", raw)
	return nil
}
