// Package types defines the core data model shared by every component of
// the retrieval and reprocessing engine: bots, documents, chunks, the
// vector collection descriptor, threshold performance logs, snapshots,
// reprocessing operation lifecycle records, and cache entries.
package types

import (
	"errors"

	"github.com/google/uuid"
)

// ID is an opaque 128-bit identifier shared by bots, documents, chunks,
// snapshots, and operations. All identifiers in the system are UUIDs.
type ID uuid.UUID

// NilID is the zero-value ID, used to mean "absent" where a pointer would
// otherwise be required.
var NilID = ID(uuid.Nil)

// NewID generates a fresh random identifier.
func NewID() ID {
	return ID(uuid.New())
}

// ParseID parses a string UUID into an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilID, err
	}
	return ID(u), nil
}

// String returns the canonical UUID string form.
func (i ID) String() string {
	return uuid.UUID(i).String()
}

// IsNil reports whether the ID is the zero value.
func (i ID) IsNil() bool {
	return i == NilID
}

// MarshalText implements encoding.TextMarshaler so IDs serialize as plain
// UUID strings in JSON.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*i = ID(u)
	return nil
}

// ErrEmptyID is returned when an operation requires a non-nil ID.
var ErrEmptyID = errors.New("id must not be empty")

// Require returns ErrEmptyID if the ID is nil.
func (i ID) Require() error {
	if i.IsNil() {
		return ErrEmptyID
	}
	return nil
}
