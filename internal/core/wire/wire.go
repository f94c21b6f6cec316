// Package wire frames agent messages as multicast datagrams.
//
// A datagram is the 32-octet topic identifier followed by the payload.
// There is no length prefix, checksum or version octet.
package wire

import (
	"errors"

	"Multicast-Agent/internal/core/topic"
)

// HeaderSize is the fixed width of the frame header.
const HeaderSize = topic.Size

// ErrRunt is returned for datagrams too short to carry a header and a payload.
var ErrRunt = errors.New("runt datagram")

// Frame is a decoded datagram. Payload aliases the decoded buffer.
type Frame struct {
	ID      topic.ID
	Payload []byte
}

// Encode returns id || payload in a newly allocated slice.
func Encode(id topic.ID, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	copy(out, id[:])
	copy(out[HeaderSize:], payload)
	return out
}

// EncodeTopic hashes name and frames payload under it.
func EncodeTopic(name string, payload []byte) []byte {
	return Encode(topic.Hash(name), payload)
}

// Decode splits a datagram into identifier and payload. Datagrams of
// HeaderSize octets or fewer yield ErrRunt.
func Decode(datagram []byte) (Frame, error) {
	if len(datagram) <= HeaderSize {
		return Frame{}, ErrRunt
	}
	var f Frame
	copy(f.ID[:], datagram[:HeaderSize])
	f.Payload = datagram[HeaderSize:]
	return f, nil
}
