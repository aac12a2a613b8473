package protocol

import "strconv"

// SessionID is opaque to the protocol.
type SessionID uint64

func (id SessionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// NullID is a SessionID that may be absent. The zero value means "no
// session".
type NullID struct {
	ID    SessionID
	Valid bool
}

func Some(id SessionID) NullID {
	return NullID{ID: id, Valid: true}
}

func None() NullID {
	return NullID{}
}

func (n NullID) String() string {
	if !n.Valid {
		return "none"
	}
	return n.ID.String()
}

func (n NullID) ptr() *uint64 {
	if !n.Valid {
		return nil
	}
	v := uint64(n.ID)
	return &v
}

func nullFromPtr(v *uint64) NullID {
	if v == nil {
		return None()
	}
	return Some(SessionID(*v))
}

type Kind uint8

const (
	KindQuery Kind = iota + 1
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "Query"
	case KindResponse:
		return "Response"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Message is the wire envelope. ID is only meaningful for KindResponse;
// a Response with an invalid ID reports that no session exists.
type Message struct {
	Kind Kind
	ID   NullID
}

func Query() Message {
	return Message{Kind: KindQuery}
}

func Response(id NullID) Message {
	return Message{Kind: KindResponse, ID: id}
}

func (m Message) String() string {
	if m.Kind == KindResponse {
		return "Response(" + m.ID.String() + ")"
	}
	return m.Kind.String()
}
