// Package frame wraps one bus datagram: a fixed header followed by a
// payload of at most Limits.MaxPayloadBytes.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Magic          uint32 = 0x53455353 // "SESS"
	Version        uint16 = 1
	FixedHeaderLen uint16 = 24
)

var (
	ErrShortHeader       = errors.New("frame: short fixed header")
	ErrInvalidMagic      = errors.New("frame: invalid magic")
	ErrUnsupportedVer    = errors.New("frame: unsupported version")
	ErrHeaderLenTooSmall = errors.New("frame: header_len smaller than fixed header")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
	ErrTruncated         = errors.New("frame: truncated payload")
)

// Header is the fixed datagram header. Sequence is chosen by the sender
// and only used for diagnostics.
type Header struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	Sequence   uint64
	Flags      uint32
	PayloadLen uint32
}

// Frame is one complete datagram.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

// DefaultLimits keeps a frame inside one IPv4 UDP datagram.
func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 65507 - uint32(FixedHeaderLen)}
}

// Marshal encodes f, filling in magic, version and lengths.
func Marshal(f Frame, limits Limits) ([]byte, error) {
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return nil, ErrPayloadTooLarge
	}
	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen
	h.PayloadLen = uint32(len(f.Payload))

	buf := make([]byte, int(FixedHeaderLen)+len(f.Payload))
	putHeader(buf, h)
	copy(buf[FixedHeaderLen:], f.Payload)
	return buf, nil
}

// Unmarshal decodes one datagram. Bytes past the declared payload are
// ignored; a header_len larger than the fixed header skips extension
// bytes this version does not know.
func Unmarshal(b []byte, limits Limits) (Frame, error) {
	if len(b) < int(FixedHeaderLen) {
		return Frame{}, ErrShortHeader
	}
	h, err := DecodeHeader(b[:FixedHeaderLen])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, ErrInvalidMagic
	}
	if h.Version != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnsupportedVer, h.Version)
	}
	if h.HeaderLen < FixedHeaderLen {
		return Frame{}, ErrHeaderLenTooSmall
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}
	start := uint64(h.HeaderLen)
	end := start + uint64(h.PayloadLen)
	if end > uint64(len(b)) {
		return Frame{}, ErrTruncated
	}
	payload := make([]byte, h.PayloadLen)
	copy(payload, b[start:end])
	return Frame{Header: h, Payload: payload}, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	putHeader(buf, h)
	return buf
}

func putHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.Sequence)
	binary.BigEndian.PutUint32(buf[16:20], h.Flags)
	binary.BigEndian.PutUint32(buf[20:24], h.PayloadLen)
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:  binary.BigEndian.Uint16(b[6:8]),
		Sequence:   binary.BigEndian.Uint64(b[8:16]),
		Flags:      binary.BigEndian.Uint32(b[16:20]),
		PayloadLen: binary.BigEndian.Uint32(b[20:24]),
	}, nil
}
