package frame

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Identifier is one identity segment, kept as raw big-endian bytes.
type Identifier []byte

// String renders 16-byte identifiers as a UUID, short ones as a decimal
// integer and anything else as hex.
func (id Identifier) String() string {
	switch {
	case len(id) == 16:
		u, _ := uuid.FromBytes(id)
		return u.String()
	case len(id) > 0 && len(id) <= 8:
		return strconv.FormatUint(id.Uint64(), 10)
	default:
		return "0x" + hex.EncodeToString(id)
	}
}

// Uint64 interprets the identifier as a big-endian integer. Identifiers
// longer than eight bytes are truncated to their last eight bytes.
func (id Identifier) Uint64() uint64 {
	b := []byte(id)
	if len(b) > 8 {
		b = b[len(b)-8:]
	}
	var buf [8]byte
	copy(buf[8-len(b):], b)
	return binary.BigEndian.Uint64(buf[:])
}

// Identity is the registry key for a beacon: the tag of the layout that
// matched plus every identifier segment. Identities are comparable and
// equal iff the tag and all segments are equal.
type Identity struct {
	Layout string
	// Segments holds each identifier prefixed by its length so that
	// different splits of the same bytes never collide.
	Segments string
}

// NewIdentity builds an Identity from a layout tag and its segments.
func NewIdentity(layout string, ids ...Identifier) Identity {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteByte(byte(len(id)))
		sb.Write(id)
	}
	return Identity{Layout: layout, Segments: sb.String()}
}

// Identifiers returns copies of the identity's segments in order.
func (i Identity) Identifiers() []Identifier {
	var ids []Identifier
	s := i.Segments
	for len(s) > 0 {
		n := int(s[0])
		if 1+n > len(s) {
			break
		}
		ids = append(ids, Identifier(s[1:1+n]))
		s = s[1+n:]
	}
	return ids
}

// String returns the segments joined by spaces, e.g.
// "2f234454-cf6d-4a0f-adf2-f4911ba9ffa6 1 2".
func (i Identity) String() string {
	ids := i.Identifiers()
	parts := make([]string, len(ids))
	for n, id := range ids {
		parts[n] = id.String()
	}
	return strings.Join(parts, " ")
}

// Key is a stable string form including the layout tag.
func (i Identity) Key() string {
	return i.Layout + "|" + i.String()
}
