// Package device opens the byte streams an autopilot link runs over.
package device

import "io"

// Port is a raw, bidirectional byte stream to a flight controller, such as
// a serial telemetry radio or a USB connection.
type Port interface {
	io.ReadWriteCloser
	// Name identifies the port in logs.
	Name() string
}
