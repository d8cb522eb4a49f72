package servohead

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

const defaultBaudRate = 115200

// PortOptions describes the serial link to the servo controller. Zero values
// select 115200 8N1.
type PortOptions struct {
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
	DataBits int    `json:"data_bits" yaml:"data_bits"`
	StopBits int    `json:"stop_bits" yaml:"stop_bits"`
	Parity   string `json:"parity" yaml:"parity"`
}

var parityNames = map[string]string{
	"": "N", "N": "N", "NONE": "N",
	"E": "E", "EVEN": "E",
	"O": "O", "ODD": "O",
}

var parityModes = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

// Normalize fills defaults and rejects settings the controller link cannot use.
func (o PortOptions) Normalize() (PortOptions, error) {
	n := o
	if n.BaudRate <= 0 {
		n.BaudRate = defaultBaudRate
	}
	if n.DataBits == 0 {
		n.DataBits = 8
	}
	if n.StopBits == 0 {
		n.StopBits = 1
	}
	if n.DataBits < 5 || n.DataBits > 8 {
		return n, fmt.Errorf("servo serial: data bits %d out of range 5-8", n.DataBits)
	}
	if n.StopBits != 1 && n.StopBits != 2 {
		return n, fmt.Errorf("servo serial: stop bits must be 1 or 2, got %d", n.StopBits)
	}
	p, ok := parityNames[strings.ToUpper(strings.TrimSpace(n.Parity))]
	if !ok {
		return n, fmt.Errorf("servo serial: unsupported parity %q (want N, E or O)", o.Parity)
	}
	n.Parity = p
	return n, nil
}

// SerialMode returns the go.bug.st/serial mode for the normalized options.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	stop := serial.OneStopBit
	if n.StopBits == 2 {
		stop = serial.TwoStopBits
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		StopBits: stop,
		Parity:   parityModes[n.Parity],
	}, nil
}
