package modbus

import "fmt"

// SlaveError reports a slave id outside [1,247] (§7). Non-retryable.
type SlaveError struct {
	Slave uint8
}

func (e *SlaveError) Error() string {
	return fmt.Sprintf("modbus: slave id %d out of range [1,247]", e.Slave)
}

// ConnectError wraps a dial failure. It always drops the held Connection
// handle so the next call reconnects (§4.C failure rule).
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("modbus: connect failed: %v", e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// ReadError is returned by Connection.Read (§4.C).
type ReadError struct {
	// exactly one of Connection, Timeout, Err is set.
	Connection *ConnectError
	Timeout    bool
	Err        error
}

func (e *ReadError) Error() string {
	switch {
	case e.Connection != nil:
		return e.Connection.Error()
	case e.Timeout:
		return "modbus: read timed out"
	default:
		return fmt.Sprintf("modbus: read failed: %v", e.Err)
	}
}

func (e *ReadError) Unwrap() error {
	if e.Connection != nil {
		return e.Connection
	}
	return e.Err
}

// DropsConnection reports whether this error should null the Connection's
// held handle (§4.C: timeouts never do, everything else does).
func (e *ReadError) DropsConnection() bool { return !e.Timeout }

// WriteError is returned by Connection.Write (§4.C), mirroring ReadError.
type WriteError struct {
	Connection *ConnectError
	Timeout    bool
	Err        error
}

func (e *WriteError) Error() string {
	switch {
	case e.Connection != nil:
		return e.Connection.Error()
	case e.Timeout:
		return "modbus: write timed out"
	default:
		return fmt.Sprintf("modbus: write failed: %v", e.Err)
	}
}

func (e *WriteError) Unwrap() error {
	if e.Connection != nil {
		return e.Connection
	}
	return e.Err
}

func (e *WriteError) DropsConnection() bool { return !e.Timeout }

// DeviceNotFoundError reports a directory lookup miss (§7). Surfaced to the
// caller unwrapped.
type DeviceNotFoundError struct {
	ID string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("modbus: device %q not found", e.ID)
}

// ChannelDisconnectedError reports that the worker terminated before
// fulfilling a request (§7).
type ChannelDisconnectedError struct{}

func (e *ChannelDisconnectedError) Error() string { return "modbus: worker channel disconnected" }

// ServerFailedError reports that a request exhausted its partial_retries
// budget against a live worker (§4.D, §7).
type ServerFailedError struct {
	Endpoint string
	Errors   []error
}

func (e *ServerFailedError) Error() string {
	return fmt.Sprintf("modbus: server failed for %s after %d errors", e.Endpoint, len(e.Errors))
}

// ParsingFailedError wraps a ParseError surfaced from §4.A during request
// assembly (§7). Non-retryable, fails the whole request immediately.
type ParsingFailedError struct {
	Err error
}

func (e *ParsingFailedError) Error() string { return fmt.Sprintf("modbus: parsing failed: %v", e.Err) }
func (e *ParsingFailedError) Unwrap() error { return e.Err }
