// Package topic maps topic names to the fixed-width identifiers carried on
// the wire and keeps the set of topics an agent listens to.
package topic

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/minio/sha256-simd"
)

// Size is the width in octets of a topic identifier.
const Size = sha256.Size

var ErrInvalidID = errors.New("invalid topic identifier")

// ID is the SHA-256 digest of a topic name's UTF-8 bytes.
type ID [Size]byte

// Hash computes the identifier for name. The string bytes are hashed as-is.
func Hash(name string) ID {
	return ID(sha256.Sum256([]byte(name)))
}

// Hex returns the identifier as uppercase hex with no separators.
func (id ID) Hex() string {
	return strings.ToUpper(hex.EncodeToString(id[:]))
}

func (id ID) String() string {
	return id.Hex()
}

// ParseHex parses a hex identifier in either case.
func ParseHex(s string) (ID, error) {
	var id ID
	if len(s) != 2*Size {
		return id, ErrInvalidID
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return ID{}, ErrInvalidID
	}
	return id, nil
}
