package frame

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	layout5203 = "m:2-3=5203,i:4-19,i:20-21,i:22-23,p:24-24"
	layout0215 = "m:2-3=0215,i:4-19,i:20-21,i:22-23,p:24-24"
)

var testUUID = []byte{
	0x2f, 0x23, 0x44, 0x54, 0xcf, 0x6d, 0x4a, 0x0f,
	0xad, 0xf2, 0xf4, 0x91, 0x1b, 0xa9, 0xff, 0xa6,
}

func buildFrame(match [2]byte, major, minor uint16, txPower int8) []byte {
	b := make([]byte, 25)
	b[0], b[1] = 0x4c, 0x00
	b[2], b[3] = match[0], match[1]
	copy(b[4:20], testUUID)
	b[20], b[21] = byte(major>>8), byte(major)
	b[22], b[23] = byte(minor>>8), byte(minor)
	b[24] = byte(txPower)
	return b
}

func TestParseLayout(t *testing.T) {
	l, err := ParseLayout("", layout5203)
	require.NoError(t, err)

	assert.Equal(t, layout5203, l.Tag)
	assert.Equal(t, Field{Start: 2, End: 3}, l.Match)
	assert.Equal(t, []byte{0x52, 0x03}, l.MatchBytes)
	assert.Equal(t, []Field{{4, 19}, {20, 21}, {22, 23}}, l.Identifiers)
	assert.Equal(t, Field{Start: 24, End: 24}, l.Power)
	assert.Equal(t, 25, l.MinLength())
}

func TestParseLayout_IgnoresDataFields(t *testing.T) {
	l, err := ParseLayout("eddystone-ish", "m:0-1=aabb,i:2-5,p:6-6,d:7-30")
	require.NoError(t, err)
	assert.Equal(t, "eddystone-ish", l.Tag)
	assert.Equal(t, 7, l.MinLength())
}

func TestParseLayout_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":           "",
		"no match":        "i:4-19,p:24-24",
		"no identifiers":  "m:2-3=0215,p:24-24",
		"no power":        "m:2-3=0215,i:4-19",
		"bad hex":         "m:2-3=zz15,i:4-19,p:24-24",
		"pattern size":    "m:2-3=021500,i:4-19,p:24-24",
		"reversed range":  "m:2-3=0215,i:19-4,p:24-24",
		"wide power":      "m:2-3=0215,i:4-19,p:24-25",
		"unknown field":   "m:2-3=0215,i:4-19,p:24-24,q:1-2",
		"missing range":   "m:2-3=0215,i:4,p:24-24",
		"missing pattern": "m:2-3,i:4-19,p:24-24",
		"huge power":      "m:0-1=aabb,i:2-3,p:9223372036854775807-9223372036854775807",
		"huge match":      "m:9223372036854775806-9223372036854775807=aabb,i:2-3,p:4-4",
		"past 255 bytes":  "m:2-3=0215,i:4-19,p:255-255",
		"huge data":       "m:2-3=0215,i:4-19,p:24-24,d:25-9223372036854775807",
	}
	for name, expr := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseLayout("", expr)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidLayout))
		})
	}
}

func TestParseLayout_LastOffset(t *testing.T) {
	l, err := ParseLayout("", "m:0-1=aabb,i:2-253,p:254-254")
	require.NoError(t, err)
	assert.Equal(t, 255, l.MinLength())

	frame := make([]byte, 255)
	frame[0], frame[1], frame[254] = 0xaa, 0xbb, 0xc5
	d, ok := Decode(frame, []*Layout{l})
	require.True(t, ok)
	assert.Equal(t, -59, d.TxPower)

	_, ok = Decode(frame[:254], []*Layout{l})
	assert.False(t, ok)
}

func TestDecode_UnparsedLayoutNeverMatches(t *testing.T) {
	l := &Layout{Tag: "hand-built", Power: Field{Start: 1 << 40, End: 1 << 40}}
	assert.NotPanics(t, func() {
		_, ok := Decode([]byte{0xaa, 0xbb}, []*Layout{l})
		assert.False(t, ok)
	})
}

func TestDecode_MatchesFirstLayout(t *testing.T) {
	layouts := []*Layout{
		MustParseLayout("5203", layout5203),
		MustParseLayout("ibeacon", layout0215),
	}

	d, ok := Decode(buildFrame([2]byte{0x02, 0x15}, 1, 2, -59), layouts)
	require.True(t, ok)
	assert.Equal(t, "ibeacon", d.Identity.Layout)
	assert.Equal(t, -59, d.TxPower)
	assert.Equal(t, "2f234454-cf6d-4a0f-adf2-f4911ba9ffa6 1 2", d.Identity.String())

	ids := d.Identity.Identifiers()
	require.Len(t, ids, 3)
	assert.Equal(t, uint64(1), ids[1].Uint64())
	assert.Equal(t, uint64(2), ids[2].Uint64())
}

func TestDecode_Deterministic(t *testing.T) {
	layouts := []*Layout{MustParseLayout("", layout5203)}
	raw := buildFrame([2]byte{0x52, 0x03}, 300, 7, -62)

	first, ok := Decode(raw, layouts)
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		again, ok := Decode(append([]byte(nil), raw...), layouts)
		require.True(t, ok)
		assert.Equal(t, first, again)
	}
}

func TestDecode_NoMatch(t *testing.T) {
	layouts := []*Layout{MustParseLayout("", layout5203), MustParseLayout("", layout0215)}
	_, ok := Decode(buildFrame([2]byte{0xbe, 0xac}, 1, 2, -59), layouts)
	assert.False(t, ok)
}

func TestDecode_TruncatedFrames(t *testing.T) {
	layouts := []*Layout{MustParseLayout("", layout5203), MustParseLayout("", layout0215)}
	full := buildFrame([2]byte{0x52, 0x03}, 1, 2, -59)

	for n := 0; n < len(full); n++ {
		_, ok := Decode(full[:n], layouts)
		assert.False(t, ok, "frame of %d bytes decoded", n)
	}
	_, ok := Decode(nil, layouts)
	assert.False(t, ok)
}

func TestIdentity_Equality(t *testing.T) {
	a := NewIdentity("x", Identifier{1, 2}, Identifier{3})
	b := NewIdentity("x", Identifier{1, 2}, Identifier{3})
	c := NewIdentity("x", Identifier{1}, Identifier{2, 3})
	d := NewIdentity("y", Identifier{1, 2}, Identifier{3})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)

	m := map[Identity]int{a: 1}
	m[b]++
	assert.Len(t, m, 1)
}

func TestIdentifier_String(t *testing.T) {
	assert.Equal(t, "258", Identifier{0x01, 0x02}.String())
	assert.Equal(t, "2f234454-cf6d-4a0f-adf2-f4911ba9ffa6", Identifier(testUUID).String())
	assert.Equal(t, "0x0102030405060708090a", Identifier{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}.String())
}
