package bus

import (
	"fmt"

	"github.com/danmuck/sessionsharer/internal/protocol/frame"
	"github.com/danmuck/sessionsharer/internal/protocol/tlv"
	"github.com/google/uuid"
)

// Envelope field ids inside a bus datagram.
const (
	FieldChannel uint16 = 1
	FieldOrigin  uint16 = 2
	FieldSender  uint16 = 3
	FieldData    uint16 = 4
)

// envelope is the decoded form of one UDP bus datagram.
type envelope struct {
	Sequence uint64
	Channel  string
	Origin   string
	Sender   uuid.UUID
	Data     []byte
}

func encodeEnvelope(env envelope, limits frame.Limits) ([]byte, error) {
	payload := tlv.EncodeFields([]tlv.Field{
		tlv.String(FieldChannel, env.Channel),
		tlv.String(FieldOrigin, env.Origin),
		tlv.Bytes(FieldSender, env.Sender[:]),
		tlv.Bytes(FieldData, env.Data),
	})
	return frame.Marshal(frame.Frame{
		Header:  frame.Header{Sequence: env.Sequence},
		Payload: payload,
	}, limits)
}

func decodeEnvelope(b []byte, limits frame.Limits) (envelope, error) {
	f, err := frame.Unmarshal(b, limits)
	if err != nil {
		return envelope{}, err
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return envelope{}, err
	}
	env := envelope{Sequence: f.Header.Sequence}
	if env.Channel, err = tlv.GetString(fields, FieldChannel); err != nil {
		return envelope{}, err
	}
	if env.Origin, err = tlv.GetString(fields, FieldOrigin); err != nil {
		return envelope{}, err
	}
	sender, err := tlv.GetBytes(fields, FieldSender)
	if err != nil {
		return envelope{}, err
	}
	if env.Sender, err = uuid.FromBytes(sender); err != nil {
		return envelope{}, fmt.Errorf("bus: invalid sender id: %w", err)
	}
	if env.Data, err = tlv.GetBytes(fields, FieldData); err != nil {
		return envelope{}, err
	}
	return env, nil
}
