package link

import "errors"

var (
	ErrNotReady      = errors.New("link: not ready")
	ErrNoResponse    = errors.New("link: no response")
	ErrLinkReset     = errors.New("link: link reset")
	ErrBusy          = errors.New("link: request already pending")
	ErrClosed        = errors.New("link: session closed")
	ErrNoDeviceFound = errors.New("link: no device found")

	errWriteStalled = errors.New("link: write stalled")
)
