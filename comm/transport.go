package comm

import (
	"github.com/pkg/errors"
)

// Variables

// Errors returned by transports.
var (
	ErrUnknownTarget = errors.New("unknown target")
	ErrClosed        = errors.New("transport closed")
)

// Structs

// Transport hands wire bodies to peers.
type Transport interface {

	// SendMessage delivers body to target, either
	// a peer name or a broadcast queue.
	SendMessage(body string, target string) error

	// ClientID is the name peers use to reply to us.
	ClientID() string
}

// Handler processes one received wire body.
type Handler func(body string) error

// Functions

// resolveTarget returns the peers a body for target goes to.
// A known peer name is returned as is. A queue resolves to
// its members except self. Anything else is unknown.
func resolveTarget(self string, target string, isPeer func(string) bool, queues map[string][]string) ([]string, error) {

	if isPeer(target) {
		return []string{target}, nil
	}

	members, exists := queues[target]
	if !exists {
		return nil, errors.Wrapf(ErrUnknownTarget, "target '%s'", target)
	}

	peers := make([]string, 0, len(members))
	for _, member := range members {

		if member != self {
			peers = append(peers, member)
		}
	}

	return peers, nil
}
