package messaging

import "fmt"

// TopologyError reports an exchange, queue or binding that could not be
// verified or created.
type TopologyError struct {
	Kind string // "exchange", "queue" or "binding"
	Name string
	Err  error
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("broker %s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error { return e.Err }

// DeliveryError is returned by Publish when the message could not be handed
// to the broker even after reconnecting.
type DeliveryError struct {
	Exchange string
	Key      string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("publish to %q (key %q): %v", e.Exchange, e.Key, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// DecodeError is passed to a consumer's error callback when a delivery body
// is not JSON, fails the queue schema or does not fit the message type.
type DecodeError struct {
	Queue string
	Body  []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message from %q: %v", e.Queue, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// HandlerError wraps an error returned by a message handler, or a recovered panic.
type HandlerError struct {
	Queue string
	Err   error
	Panic bool
}

func (e *HandlerError) Error() string {
	if e.Panic {
		return fmt.Sprintf("handler for %q panicked: %v", e.Queue, e.Err)
	}
	return fmt.Sprintf("handler for %q: %v", e.Queue, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
