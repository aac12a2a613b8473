package sharer

import "errors"

var (
	ErrChannelCreationFailed = errors.New("sharer: channel creation failed")
	ErrSerializationFailed   = errors.New("sharer: serialization failed")
	ErrPostFailed            = errors.New("sharer: post failed")
)
