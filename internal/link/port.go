package link

import (
	"io"

	"go.bug.st/serial"
)

// Port is an open physical link. go.bug.st/serial ports satisfy it.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the named port.
type Opener func(name string) (Port, error)

const DefaultBaudRate = 115200

// SerialOpener opens serial devices at baud, 8N1.
func SerialOpener(baud int) Opener {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return func(name string) (Port, error) {
		mode := &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		p, err := serial.Open(name, mode)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// ListPorts enumerates serial devices known to the OS.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
