package rtltcp

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when the client is used without an open
// connection.
var ErrNotConnected = errors.New("rtltcp: not connected")

// ConnectionError is returned when the connection to the server cannot be
// established.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to rtl_tcp server at %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ConfigurationError is returned when the server was reached but the device
// could not be configured.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuring device: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// CommandSendError is returned when a single command could not be written.
type CommandSendError struct {
	Command Command
	Value   uint32
	Err     error
}

func (e *CommandSendError) Error() string {
	return fmt.Sprintf("sending %s=%d: %v", e.Command, e.Value, e.Err)
}

func (e *CommandSendError) Unwrap() error {
	return e.Err
}
