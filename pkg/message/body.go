package message

// SetBody sets the message body and a matching Content-Type/
// Content-Length pair, replacing any existing ones.
func (m *Message) SetBody(contentType string, body []byte) {
	m.RemoveHeader(KindContentType)
	m.RemoveHeader(KindContentLength)
	if contentType != "" {
		ct, _ := parseContentType(contentType)
		m.AddHeader(ct)
	}
	m.AddHeader(&IntHeader{kind: KindContentLength, Value: len(body)})
	m.Body = body
}

// ContentTypeHeaderValue returns the Content-Type header, if any.
func (m *Message) ContentTypeHeaderValue() *ContentTypeHeader {
	if h := m.Header(KindContentType); h != nil {
		return h.(*ContentTypeHeader)
	}
	return nil
}
