package device

import (
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Transport is a byte-oriented duplex link to the plotter.
type Transport interface {
	io.ReadWriteCloser
}

// Opener creates transports. Tests substitute an in-memory peer.
type Opener interface {
	Open(ctx context.Context, port string, baudRate int) (Transport, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, port string, baudRate int) (Transport, error)

func (f OpenerFunc) Open(ctx context.Context, port string, baudRate int) (Transport, error) {
	return f(ctx, port, baudRate)
}

// SerialOpener opens real serial ports.
type SerialOpener struct{}

func (SerialOpener) Open(_ context.Context, port string, baudRate int) (Transport, error) {
	if port == "" {
		return nil, fmt.Errorf("no serial port configured")
	}
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", port, err)
	}
	return p, nil
}

// ListPorts returns the serial ports present on this machine.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
