package txndb

import (
	"fmt"
	"strings"

	"github.com/pingcap-incubator/txndb/kv/engine"
	"github.com/pingcap/errors"
)

type ErrorKind int

const (
	ErrKindUnknown ErrorKind = iota
	ErrKindIOError
	ErrKindInvalidArgument
	// ErrKindInvalidHandle means the engine handed back a nil handle.
	ErrKindInvalidHandle
	ErrKindNotSupported
	// ErrKindBusy is a transaction conflict. The transaction can be rolled back and retried.
	ErrKindBusy
	ErrKindColumnFamilyReleased
	ErrKindTransactionClosed
	ErrKindDatabaseClosed
	// ErrKindEngine covers engine failures with no better classification.
	ErrKindEngine
)

var errorKindNames = map[ErrorKind]string{
	ErrKindUnknown:              "Unknown",
	ErrKindIOError:              "IOError",
	ErrKindInvalidArgument:      "InvalidArgument",
	ErrKindInvalidHandle:        "InvalidHandle",
	ErrKindNotSupported:         "NotSupported",
	ErrKindBusy:                 "Busy",
	ErrKindColumnFamilyReleased: "ColumnFamilyReleased",
	ErrKindTransactionClosed:    "TransactionClosed",
	ErrKindDatabaseClosed:       "DatabaseClosed",
	ErrKindEngine:               "Engine",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is returned by every fallible txndb operation.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string { return e.Message }

// Cause returns the engine error this error was built from, so errors.Cause reaches it.
func (e *Error) Cause() error { return e.cause }

func (e *Error) Unwrap() error { return e.cause }

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, cause: errors.New(msg)}
}

type causer interface {
	Cause() error
}

// KindOf returns the kind of the first *Error in err's cause chain.
func KindOf(err error) ErrorKind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		c, ok := err.(causer)
		if !ok {
			break
		}
		err = c.Cause()
	}
	return ErrKindUnknown
}

// IsConflict reports whether err is a transaction conflict.
func IsConflict(err error) bool {
	return KindOf(err) == ErrKindBusy
}

var sentinelKinds = map[error]ErrorKind{
	engine.ErrConflict:            ErrKindBusy,
	engine.ErrMergeNotSupported:   ErrKindNotSupported,
	engine.ErrColumnFamilyExists:  ErrKindInvalidArgument,
	engine.ErrColumnFamilyDropped: ErrKindInvalidArgument,
	engine.ErrColumnFamilyClosed:  ErrKindColumnFamilyReleased,
	engine.ErrDropDefault:         ErrKindInvalidArgument,
	engine.ErrDBClosed:            ErrKindDatabaseClosed,
	engine.ErrTxnDone:             ErrKindTransactionClosed,
	engine.ErrDBLocked:            ErrKindIOError,
}

var prefixKinds = []struct {
	prefix string
	kind   ErrorKind
}{
	{"IO error", ErrKindIOError},
	{"Invalid argument", ErrKindInvalidArgument},
	{"Resource busy", ErrKindBusy},
	{"Not implemented", ErrKindNotSupported},
	{"Shutdown in progress", ErrKindDatabaseClosed},
}

// fromEngine converts an engine error, keeping its message verbatim.
func fromEngine(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*Error); ok {
		return err
	}
	kind, ok := sentinelKinds[errors.Cause(err)]
	if !ok {
		kind = ErrKindEngine
		msg := errors.Cause(err).Error()
		for _, p := range prefixKinds {
			if strings.HasPrefix(msg, p.prefix) || strings.HasPrefix(err.Error(), p.prefix) {
				kind = p.kind
				break
			}
		}
	}
	return &Error{Kind: kind, Message: err.Error(), cause: errors.WithStack(err)}
}
