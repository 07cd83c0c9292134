package natsbus

import "errors"

var (
	ErrNotConnected     = errors.New("natsbus: not connected")
	ErrConnectionFailed = errors.New("natsbus: connection failed")
	ErrInvalidTopic     = errors.New("natsbus: topic cannot be empty")
	ErrSubscribeFailed  = errors.New("natsbus: subscribe failed")
	ErrPublishFailed    = errors.New("natsbus: publish failed")
)
