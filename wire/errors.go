package wire

import (
	"github.com/pkg/errors"
)

// Variables

// Errors returned by Decode. They are returned wrapped
// with additional context, use errors.Cause to compare.
var (
	ErrNoCommand      = errors.New("no command tag in message")
	ErrUnknownCommand = errors.New("unknown command tag in message")
	ErrNoSubject      = errors.New("no subject in message")
	ErrNoType         = errors.New("no object type in message")
	ErrUnknownType    = errors.New("unknown object type in message")
	ErrNoReply        = errors.New("broadcast request without reply address")
	ErrNoPairs        = errors.New("no key/value pairs in message")
	ErrMalformedPairs = errors.New("malformed key/value pairs in message")
	ErrNoKeys         = errors.New("no keys in delete message")
)
