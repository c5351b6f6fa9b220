package rangefinder

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

// DefaultAddress is the TCP endpoint of the sensor board on the airframe network
const DefaultAddress = "192.168.2.2:5566"

// Dialer opens a fresh byte stream to the sensor board. A connection returned
// by Dial is owned by the caller and is never reused after an error.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// TCPDialer connects to a sensor board streaming over TCP
type TCPDialer struct {
	Address string
	Timeout time.Duration // Connect timeout only, reads are never timed out
}

func (d TCPDialer) Dial(ctx context.Context) (io.ReadCloser, error) {
	nd := net.Dialer{Timeout: d.Timeout}

	conn, err := nd.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", d.Address, err)
	}

	return conn, nil
}

func (d TCPDialer) String() string {
	return "tcp://" + d.Address
}

// SerialDialer opens a sensor board attached directly to a UART
type SerialDialer struct {
	Port     string
	BaudRate uint
}

func (d SerialDialer) Dial(_ context.Context) (io.ReadCloser, error) {
	opts := serial.OpenOptions{
		PortName:              d.Port,
		BaudRate:              d.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening serial port %s: %w", d.Port, err)
	}

	return port, nil
}

func (d SerialDialer) String() string {
	return fmt.Sprintf("serial://%s@%d", d.Port, d.BaudRate)
}
