package wallet

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderNotFound means the requested wallet is not installed or not available.
	ErrProviderNotFound = errors.New("wallet provider not found")

	// ErrUserRejected means the user declined the approval prompt.
	ErrUserRejected = errors.New("user rejected the request")

	// ErrNotConnected means a signing call was made before connect.
	ErrNotConnected = errors.New("wallet not connected")
)

// ProviderError is any other failure reported by a provider, with its original message.
type ProviderError struct {
	Op      string
	Code    int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("wallet %s failed: %s", e.Op, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// normalize maps a provider error onto the error taxonomy.
func normalize(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUserRejected) || errors.Is(err, ErrProviderNotFound) || errors.Is(err, ErrNotConnected) {
		return err
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == CodeUserRejected {
			return fmt.Errorf("%w: %s", ErrUserRejected, rpcErr.Message)
		}
		return &ProviderError{Op: op, Code: rpcErr.Code, Message: rpcErr.Message, Err: err}
	}

	return &ProviderError{Op: op, Message: err.Error(), Err: err}
}
