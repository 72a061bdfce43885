// Package turn implements the TURN session (C7) and socket (C8) layers:
// the client-side RFC 5766/6062 allocation state machine, channel and
// permission tables, and the outbound transport plus peer-TCP data
// connection pool backing it.
package turn

import (
	"encoding/binary"
	"fmt"
	"net"
)

// magicCookie is the fixed RFC 5389 §6 prefix of every STUN
// transaction ID, used both on the wire and to XOR-obscure address
// attributes.
const magicCookie uint32 = 0x2112A442

// Method is a STUN/TURN method (the low 12 bits of a message type,
// per RFC 5389 §6).
type Method uint16

const (
	MethodBinding           Method = 0x0001
	MethodAllocate          Method = 0x0003
	MethodRefresh           Method = 0x0004
	MethodSend              Method = 0x0006
	MethodData              Method = 0x0007
	MethodCreatePermission  Method = 0x0008
	MethodChannelBind       Method = 0x0009
	MethodConnect           Method = 0x000a
	MethodConnectionBind    Method = 0x000b
	MethodConnectionAttempt Method = 0x000c
)

// Class is the two-bit message class (request/indication/success/error).
type Class uint16

const (
	ClassRequest    Class = 0x000
	ClassIndication Class = 0x010
	ClassSuccess    Class = 0x100
	ClassError      Class = 0x110
)

// Attr is a STUN attribute type (RFC 5389/5766/6062).
type Attr uint16

const (
	AttrMappedAddress     Attr = 0x0001
	AttrUsername          Attr = 0x0006
	AttrMessageIntegrity  Attr = 0x0008
	AttrErrorCode         Attr = 0x0009
	AttrUnknownAttributes Attr = 0x000a
	AttrRealm             Attr = 0x0014
	AttrNonce             Attr = 0x0015
	AttrXorMappedAddress  Attr = 0x0020
	AttrSoftware          Attr = 0x8022
	AttrAlternateServer   Attr = 0x8023
	AttrFingerprint       Attr = 0x8028

	// RFC 5766 TURN attributes.
	AttrChannelNumber     Attr = 0x000c
	AttrLifetime          Attr = 0x000d
	AttrXorPeerAddress    Attr = 0x0012
	AttrData              Attr = 0x0013
	AttrXorRelayedAddress Attr = 0x0016
	AttrEvenPort          Attr = 0x0018
	AttrRequestedTransport Attr = 0x0019
	AttrDontFragment      Attr = 0x001a
	AttrReservationToken  Attr = 0x0022

	// RFC 6062 TCP-relay attributes.
	AttrConnectionID Attr = 0x002a
)

// Family is the STUN address-family byte used in (XOR-)MAPPED-ADDRESS
// and the TURN peer/relayed address attributes.
type Family byte

const (
	FamilyIPv4 Family = 0x01
	FamilyIPv6 Family = 0x02
)

// TransactionID is the 96-bit STUN transaction identifier.
type TransactionID [12]byte

// Header is the 20-byte STUN/TURN message header.
type Header struct {
	Class  Class
	Method Method
	Length uint16 // body length, excluding the 20-byte header
	TxID   TransactionID
}

// Message is a decoded STUN/TURN message: header plus raw attributes
// in wire order, so callers that don't care about a given attribute
// never pay for decoding it.
type Message struct {
	Header
	Attributes []RawAttr
}

// RawAttr is one undecoded type/value pair.
type RawAttr struct {
	Type  Attr
	Value []byte
}

// NewMessage starts a message of the given class and method with the
// caller-supplied transaction ID.
func NewMessage(class Class, method Method, txID TransactionID) *Message {
	return &Message{Header: Header{Class: class, Method: method, TxID: txID}}
}

// messageType packs class and method into the 14-bit STUN message
// type per RFC 5389 §6: the method's bits are split around the two
// class bits (C1 at bit 8, C0 at bit 4), not simply OR'd together.
func (m *Message) messageType() uint16 {
	method := uint16(m.Method)
	return (method&0x0f80)<<2 | (method&0x0070)<<1 | (method & 0x000f) | uint16(m.Class)
}

func splitMessageType(msgType uint16) (Class, Method) {
	class := Class(msgType & 0x0110)
	method := Method((msgType&0x3e00)>>2 | (msgType&0x00e0)>>1 | (msgType & 0x000f))
	return class, method
}

// AddAttr appends an attribute, padded to the RFC 5389 §15 32-bit
// alignment at encode time, not here (Encode does the padding).
func (m *Message) AddAttr(t Attr, value []byte) {
	m.Attributes = append(m.Attributes, RawAttr{Type: t, Value: value})
}

// Attr returns the first attribute of type t, if present.
func (m *Message) Attr(t Attr) ([]byte, bool) {
	for _, a := range m.Attributes {
		if a.Type == t {
			return a.Value, true
		}
	}
	return nil, false
}

// Encode serializes m into a wire-format STUN/TURN message.
func (m *Message) Encode() []byte {
	var body []byte
	for _, a := range m.Attributes {
		hdr := make([]byte, 4)
		binary.BigEndian.PutUint16(hdr[0:2], uint16(a.Type))
		binary.BigEndian.PutUint16(hdr[2:4], uint16(len(a.Value)))
		body = append(body, hdr...)
		body = append(body, a.Value...)
		if pad := (4 - len(a.Value)%4) % 4; pad > 0 {
			body = append(body, make([]byte, pad)...)
		}
	}

	out := make([]byte, 20+len(body))
	binary.BigEndian.PutUint16(out[0:2], m.messageType())
	binary.BigEndian.PutUint16(out[2:4], uint16(len(body)))
	binary.BigEndian.PutUint32(out[4:8], magicCookie)
	copy(out[8:20], m.TxID[:])
	copy(out[20:], body)
	return out
}

// DecodeMessage parses a STUN/TURN message off the wire. It returns
// (nil, false, nil) if buf's first two bits mark it as a ChannelData
// frame instead (RFC 5766 §11.4 / RFC 5764 §5.1.2 framing
// disambiguation), so callers can dispatch on that before treating a
// decode failure as an error.
func DecodeMessage(buf []byte) (*Message, bool, error) {
	if len(buf) > 0 && buf[0]&0xc0 != 0x00 {
		return nil, false, nil // top two bits set: ChannelData, not STUN
	}
	if len(buf) < 20 {
		return nil, false, fmt.Errorf("turn: message shorter than STUN header (%d bytes)", len(buf))
	}
	msgType := binary.BigEndian.Uint16(buf[0:2])
	length := binary.BigEndian.Uint16(buf[2:4])
	cookie := binary.BigEndian.Uint32(buf[4:8])
	if cookie != magicCookie {
		return nil, false, fmt.Errorf("turn: bad magic cookie %#x", cookie)
	}
	if int(length)+20 > len(buf) {
		return nil, false, fmt.Errorf("turn: declared length %d exceeds buffer", length)
	}

	class, method := splitMessageType(msgType)
	m := &Message{Header: Header{
		Class:  class,
		Method: method,
		Length: length,
	}}
	copy(m.TxID[:], buf[8:20])

	body := buf[20 : 20+int(length)]
	for len(body) >= 4 {
		at := Attr(binary.BigEndian.Uint16(body[0:2]))
		alen := int(binary.BigEndian.Uint16(body[2:4]))
		if 4+alen > len(body) {
			return nil, false, fmt.Errorf("turn: attribute %#x length %d exceeds remaining body", at, alen)
		}
		val := body[4 : 4+alen]
		m.Attributes = append(m.Attributes, RawAttr{Type: at, Value: val})
		pad := (4 - alen%4) % 4
		body = body[4+alen+pad:]
	}
	return m, true, nil
}

// EncodeXorAddress encodes addr as an XOR-PEER-ADDRESS/XOR-RELAYED-
// ADDRESS/XOR-MAPPED-ADDRESS attribute value per RFC 5389 §15.2: the
// port and IPv4 address (or, for IPv6, the full 128 bits) are XORed
// with the magic cookie (and transaction ID, for IPv6).
func EncodeXorAddress(addr *net.UDPAddr, txID TransactionID) []byte {
	ip4 := addr.IP.To4()
	if ip4 != nil {
		out := make([]byte, 8)
		out[1] = byte(FamilyIPv4)
		binary.BigEndian.PutUint16(out[2:4], uint16(addr.Port)^uint16(magicCookie>>16))
		cookie := make([]byte, 4)
		binary.BigEndian.PutUint32(cookie, magicCookie)
		for i := 0; i < 4; i++ {
			out[4+i] = ip4[i] ^ cookie[i]
		}
		return out
	}

	ip16 := addr.IP.To16()
	out := make([]byte, 20)
	out[1] = byte(FamilyIPv6)
	binary.BigEndian.PutUint16(out[2:4], uint16(addr.Port)^uint16(magicCookie>>16))
	xorKey := make([]byte, 16)
	binary.BigEndian.PutUint32(xorKey[0:4], magicCookie)
	copy(xorKey[4:16], txID[:])
	for i := 0; i < 16; i++ {
		out[4+i] = ip16[i] ^ xorKey[i]
	}
	return out
}

// DecodeXorAddress reverses EncodeXorAddress.
func DecodeXorAddress(val []byte, txID TransactionID) (*net.UDPAddr, error) {
	if len(val) < 8 {
		return nil, fmt.Errorf("turn: xor-address attribute too short (%d bytes)", len(val))
	}
	family := Family(val[1])
	port := binary.BigEndian.Uint16(val[2:4]) ^ uint16(magicCookie>>16)

	switch family {
	case FamilyIPv4:
		cookie := make([]byte, 4)
		binary.BigEndian.PutUint32(cookie, magicCookie)
		ip := make(net.IP, 4)
		for i := 0; i < 4; i++ {
			ip[i] = val[4+i] ^ cookie[i]
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil
	case FamilyIPv6:
		if len(val) < 20 {
			return nil, fmt.Errorf("turn: xor-address ipv6 attribute too short (%d bytes)", len(val))
		}
		xorKey := make([]byte, 16)
		binary.BigEndian.PutUint32(xorKey[0:4], magicCookie)
		copy(xorKey[4:16], txID[:])
		ip := make(net.IP, 16)
		for i := 0; i < 16; i++ {
			ip[i] = val[4+i] ^ xorKey[i]
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil
	default:
		return nil, fmt.Errorf("turn: unknown address family %#x", family)
	}
}

// EncodeChannelData builds a ChannelData frame per RFC 5766 §11.4:
// a 4-byte header (channel number, length) followed by payload,
// padded to a 4-byte boundary on stream transports.
func EncodeChannelData(channel uint16, payload []byte, pad bool) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint16(out[0:2], channel)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[4:], payload)
	if pad {
		if p := (4 - len(payload)%4) % 4; p > 0 {
			out = append(out, make([]byte, p)...)
		}
	}
	return out
}

// DecodeChannelData parses a ChannelData frame's channel number and
// payload, returning the total consumed length (header + payload,
// unpadded) so the stream reader can advance past it.
func DecodeChannelData(buf []byte) (channel uint16, payload []byte, consumed int, err error) {
	if len(buf) < 4 {
		return 0, nil, 0, fmt.Errorf("turn: channeldata shorter than 4-byte header")
	}
	channel = binary.BigEndian.Uint16(buf[0:2])
	length := int(binary.BigEndian.Uint16(buf[2:4]))
	if 4+length > len(buf) {
		return 0, nil, 0, fmt.Errorf("turn: channeldata declared length %d exceeds buffer", length)
	}
	return channel, buf[4 : 4+length], 4 + length, nil
}
