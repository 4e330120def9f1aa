// Package apperr holds the error taxonomy shared by the booking engine, the
// REST layer and the fulfillment pipeline.
package apperr

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

type Kind string

const (
	KindUnknown      Kind = "unknown"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindInvalid      Kind = "invalid"
	KindTransient    Kind = "transient"
	KindInconsistent Kind = "inconsistent"
)

// Domain errors wrap exactly one of these with fmt.Errorf("%w: ...").
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalid      = errors.New("invalid")
	ErrTransient    = errors.New("transient")
	ErrInconsistent = errors.New("inconsistent")
)

// KindOf classifies err. The first matching kind wins, so an error that was
// wrapped as Transient by FromDB stays Transient even if it mentions a row.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalid):
		return KindInvalid
	case errors.Is(err, ErrInconsistent):
		return KindInconsistent
	case isTransient(err):
		return KindTransient
	default:
		return KindUnknown
	}
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// FromDB marks database errors that are worth retrying as Transient and
// returns every other error unchanged.
func FromDB(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	if isTransient(err) {
		return &transientError{err: err}
	}
	return err
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }

func (e *transientError) Unwrap() []error { return []error{ErrTransient, e.err} }

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08 connection exceptions, 40001 serialization, 40P01 deadlock,
		// 57P01 admin shutdown
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P01":
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
