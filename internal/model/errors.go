package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of bridge failure outcomes.
type ErrorKind int

const (
	ConnectionError ErrorKind = iota + 1
	InterruptSignal
	NetworkError
	ApiStatusError
	UnexpectedError
)

func (k ErrorKind) String() string {
	switch k {
	case ConnectionError:
		return "connection_error"
	case InterruptSignal:
		return "interrupt"
	case NetworkError:
		return "network_error"
	case ApiStatusError:
		return "api_status_error"
	case UnexpectedError:
		return "unexpected_error"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against a *BridgeError of the same kind.
var (
	ErrConnection = errors.New("serial connection error")
	ErrInterrupt  = errors.New("interrupted")
	ErrNetwork    = errors.New("network error")
	ErrAPIStatus  = errors.New("api status error")
	ErrUnexpected = errors.New("unexpected error")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case ConnectionError:
		return ErrConnection
	case InterruptSignal:
		return ErrInterrupt
	case NetworkError:
		return ErrNetwork
	case ApiStatusError:
		return ErrAPIStatus
	case UnexpectedError:
		return ErrUnexpected
	default:
		return nil
	}
}

// BridgeError is the typed result of a failed read or send.
// StatusCode and Body are set only for ApiStatusError.
type BridgeError struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func NewError(kind ErrorKind, err error) *BridgeError {
	return &BridgeError{Kind: kind, Err: err}
}

func (e *BridgeError) Error() string {
	switch {
	case e.Kind == ApiStatusError:
		return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

func (e *BridgeError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the kind of the first *BridgeError in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind
	}
	return 0
}
