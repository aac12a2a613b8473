package protocol

import "errors"

var (
	ErrUnknownVariant = errors.New("protocol: unknown message variant")
	ErrMalformed      = errors.New("protocol: malformed message")
	ErrUnknownCodec   = errors.New("protocol: unknown codec")
)
