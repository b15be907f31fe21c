package protocol

import "errors"

var (
	ErrUnknownCommand = errors.New("protocol: unknown command")
)
