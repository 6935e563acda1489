package signal

import (
	"fmt"
	"strings"
)

// ValidateCandidate checks an ICE candidate attribute string of the form
//
//	candidate:<foundation> <component> <protocol> <priority> <ip> <port> typ <type> ...
//
// It requires at least 8 space-separated tokens with the literal "typ"
// at index 6. Malformed candidates are rejected so they can be logged
// and discarded without reaching the peer connection.
func ValidateCandidate(c string) error {
	s := strings.TrimPrefix(strings.TrimSpace(c), "a=")
	if !strings.HasPrefix(s, "candidate:") {
		return fmt.Errorf("missing candidate: prefix")
	}
	fields := strings.Fields(s)
	if len(fields) < 8 {
		return fmt.Errorf("expected at least 8 tokens, got %d", len(fields))
	}
	if fields[6] != "typ" {
		return fmt.Errorf("expected typ at token 6, got %q", fields[6])
	}
	return nil
}
