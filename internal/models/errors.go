package models

import (
	"github.com/pkg/errors"
)

type ErrorKind string

const (
	KindUnknown           ErrorKind = ""
	KindMalformedResponse ErrorKind = "malformed_response"
	KindUpstream          ErrorKind = "upstream"
	KindValidation        ErrorKind = "validation"
)

// Error carries the kind of a lookup or command failure.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrAlreadyWatched  = &Error{Kind: KindValidation, Msg: "tracking code is already watched"}
	ErrNotWatched      = &Error{Kind: KindValidation, Msg: "tracking code is not watched"}
	ErrInvalidCode     = &Error{Kind: KindValidation, Msg: "tracking code must look like SPXVN..."}
	ErrInvalidInterval = &Error{Kind: KindValidation, Msg: "interval must be within 1..60 minutes"}
)

func Validation(msg string) error {
	return &Error{Kind: KindValidation, Msg: msg}
}

func Malformed(msg string, err error) error {
	return &Error{Kind: KindMalformedResponse, Msg: msg, Err: err}
}

func Upstream(msg string, err error) error {
	return &Error{Kind: KindUpstream, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
