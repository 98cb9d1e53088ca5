// Package channel provides the line-oriented transports to a Grbl-class
// motion controller: a local serial port, a websocket bridge to a remote
// port, and an in-memory simulation for hardware-free runs.
package channel

// A Channel is a raw line link to the controller. Implementations do no
// retries or interpretation; one caller owns a Channel at a time and
// serializes access to it.
type Channel interface {
	Open() error
	Close() error
	// Flush discards anything pending in both directions.
	Flush() error
	WriteLine(text string) error
	// ReadLine returns the next line without its terminator. An empty
	// string with a nil error means nothing arrived before the read
	// timeout; callers retry within their own bounds.
	ReadLine() (string, error)
}

// ConnectionError reports a failure to open or close the link.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return "mill connection " + e.Op + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }
