package domain

import "errors"

var (
	ErrMediaAcquisition      = errors.New("media acquisition failed")
	ErrDuplicateConnection   = errors.New("connection already exists")
	ErrInvalidState          = errors.New("invalid connection state")
	ErrNegotiationInProgress = errors.New("negotiation already in progress")
	ErrConnectionNotFound    = errors.New("connection not found")
	ErrStreamNotFound        = errors.New("stream not found")
	ErrDataChannelNotFound   = errors.New("data channel not found")
)
