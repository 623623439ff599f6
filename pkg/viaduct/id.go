package viaduct

import "github.com/google/uuid"

// ID is the 128-bit value that correlates a Request with its Response.
// Only the originator interprets an ID; the responder echoes it verbatim.
// Uniqueness need only hold within the lifetime of the originating peer,
// so a random v4 UUID is sufficient.
type ID [16]byte

// newID allocates a fresh, effectively-unique 128-bit id.
func newID() ID {
	return ID(uuid.New())
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}
