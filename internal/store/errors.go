package store

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrStorage         = errors.New("storage unavailable")
	ErrEmbedding       = errors.New("embedding failed")
	ErrDuplicateID     = errors.New("duplicate id")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrResetDisabled   = errors.New("reset is disabled (set TERMAX_ALLOW_RESET=true to enable)")
)

// OpError reports the failing index operation together with the error kind
// and the underlying cause.
type OpError struct {
	Op         string
	Collection string
	Kind       error
	Err        error
}

func (e *OpError) Error() string {
	msg := e.Op
	if e.Collection != "" {
		msg += " " + e.Collection
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opErr(op, collection string, kind, err error) error {
	return &OpError{Op: op, Collection: collection, Kind: kind, Err: err}
}

func notFound(op, collection, what string) error {
	return opErr(op, collection, ErrNotFound, errors.New(what))
}
