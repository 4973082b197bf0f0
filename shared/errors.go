package shared

import (
	"github.com/pkg/errors"
)

// Variables

// Errors of the shared object layer. They may be returned
// wrapped, use errors.Cause to compare.
var (
	ErrUnknownSubject   = errors.New("unknown subject")
	ErrAlreadyAbsent    = errors.New("keys already absent")
	ErrMuxTypeMismatch  = errors.New("object type differs from open multiplexed transaction")
	ErrNoMuxTransaction = errors.New("no multiplexed transaction open")
	ErrNoTransaction    = errors.New("no transaction open")
	ErrNoTransport      = errors.New("no transport configured")
	ErrShutdown         = errors.New("manager shut down")
)
