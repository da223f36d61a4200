package frame

import "bytes"

// Decoded is the result of matching a frame against a layout.
type Decoded struct {
	Identity Identity
	// TxPower is the calibrated RSSI at one meter, in dBm.
	TxPower int
}

// Decode matches data against layouts in order and returns the first match.
// Frames that match no layout, or are too short for the layout whose match
// bytes they would otherwise satisfy, report false.
func Decode(data []byte, layouts []*Layout) (Decoded, bool) {
	for _, l := range layouts {
		if d, ok := l.Decode(data); ok {
			return d, true
		}
	}
	return Decoded{}, false
}

// Decode matches data against this layout only. Layouts not built by
// ParseLayout never match.
func (l *Layout) Decode(data []byte) (Decoded, bool) {
	if l.minLen == 0 || len(data) < l.minLen {
		return Decoded{}, false
	}
	if !bytes.Equal(data[l.Match.Start:l.Match.End+1], l.MatchBytes) {
		return Decoded{}, false
	}

	ids := make([]Identifier, len(l.Identifiers))
	for n, f := range l.Identifiers {
		ids[n] = Identifier(data[f.Start : f.End+1])
	}

	return Decoded{
		Identity: NewIdentity(l.Tag, ids...),
		TxPower:  int(int8(data[l.Power.Start])),
	}, true
}
