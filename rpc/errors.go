package rpc

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindNetwork ErrorKind = "network"
	KindTimeout ErrorKind = "timeout"
	KindStatus  ErrorKind = "status"
	KindDecrypt ErrorKind = "decrypt"
	KindEncode  ErrorKind = "encode"
)

// TransportError reports that no usable response envelope was obtained.
type TransportError struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("rpc %s: %s (http %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("rpc %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a TransportError of kind timeout.
func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == KindTimeout
}

// ApplicationError is a well-formed response whose code is not a success.
type ApplicationError struct {
	Code    Code
	Message string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("rpc: application error %s: %s", e.Code, e.Message)
}
