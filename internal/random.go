package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// ID is a 128-bit random identifier used for sessions and token records.
type ID [16]byte

// NewID returns a cryptographically random identifier.
func NewID() (ID, error) {
	var id ID
	_, err := rand.Read(id[:])
	return id, err
}

func (id ID) Bytes() []byte {
	return id[:]
}

// String encodes the identifier as compact unpadded base64url.
func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseID decodes an identifier produced by [ID.String].
func ParseID(s string) (ID, error) {
	var id ID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid id size")
	}

	copy(id[:], raw)
	return id, nil
}
