package decoder

import "errors"

var (
	ErrMissingFile       = errors.New("decoder: config file does not exist")
	ErrUnparseableEntry  = errors.New("decoder: unparseable config")
	ErrShortPayload      = errors.New("decoder: payload too short for channel")
	ErrUnsupportedFormat = errors.New("decoder: unsupported channel definition")
)
