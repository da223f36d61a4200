// Package frame parses beacon layouts and decodes raw BLE advertisement
// frames into beacon identities.
package frame

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidLayout is returned for layout expressions that cannot be parsed.
var ErrInvalidLayout = errors.New("invalid beacon layout")

// maxOffset is the last byte offset of the longest BLE advertisement
// payload (255 bytes).
const maxOffset = 254

// Field is an inclusive byte range within an advertisement frame.
type Field struct {
	Start int
	End   int
}

// Len returns the number of bytes covered by the field.
func (f Field) Len() int {
	return f.End - f.Start + 1
}

// Layout describes where the fields of one beacon format live in a frame.
// A Layout is immutable once parsed.
type Layout struct {
	Tag         string
	Expression  string
	Match       Field
	MatchBytes  []byte
	Identifiers []Field
	Power       Field

	minLen int
}

// MinLength returns the shortest frame the layout can decode.
func (l *Layout) MinLength() int {
	return l.minLen
}

// ParseLayout parses an expression such as
// "m:2-3=0215,i:4-19,i:20-21,i:22-23,p:24-24".
// An empty tag defaults to the expression itself.
func ParseLayout(tag, expr string) (*Layout, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidLayout)
	}
	if tag == "" {
		tag = expr
	}

	l := &Layout{Tag: tag, Expression: expr}
	var haveMatch, havePower bool

	for _, term := range strings.Split(expr, ",") {
		term = strings.TrimSpace(term)
		kind, rest, ok := strings.Cut(term, ":")
		if !ok || len(kind) != 1 {
			return nil, fmt.Errorf("%w: term %q", ErrInvalidLayout, term)
		}

		switch kind {
		case "m":
			rng, pattern, ok := strings.Cut(rest, "=")
			if !ok {
				return nil, fmt.Errorf("%w: match term %q has no pattern", ErrInvalidLayout, term)
			}
			f, err := parseField(rng)
			if err != nil {
				return nil, err
			}
			b, err := hex.DecodeString(pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: match pattern %q: %v", ErrInvalidLayout, pattern, err)
			}
			if len(b) != f.Len() {
				return nil, fmt.Errorf("%w: match pattern %q does not span %d-%d", ErrInvalidLayout, pattern, f.Start, f.End)
			}
			l.Match, l.MatchBytes, haveMatch = f, b, true
		case "i":
			f, err := parseField(rest)
			if err != nil {
				return nil, err
			}
			if f.Len() > 255 {
				return nil, fmt.Errorf("%w: identifier %q longer than 255 bytes", ErrInvalidLayout, rest)
			}
			l.Identifiers = append(l.Identifiers, f)
		case "p":
			f, err := parseField(rest)
			if err != nil {
				return nil, err
			}
			if f.Len() != 1 {
				return nil, fmt.Errorf("%w: power field %q must be one byte", ErrInvalidLayout, rest)
			}
			l.Power, havePower = f, true
		case "d":
			// Data fields carry telemetry we do not surface.
			if _, err := parseField(rest); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unknown field type %q", ErrInvalidLayout, kind)
		}
	}

	if !haveMatch {
		return nil, fmt.Errorf("%w: missing m: term", ErrInvalidLayout)
	}
	if len(l.Identifiers) == 0 {
		return nil, fmt.Errorf("%w: missing i: term", ErrInvalidLayout)
	}
	if !havePower {
		return nil, fmt.Errorf("%w: missing p: term", ErrInvalidLayout)
	}

	l.minLen = max(l.Match.End, l.Power.End) + 1
	for _, f := range l.Identifiers {
		l.minLen = max(l.minLen, f.End+1)
	}
	return l, nil
}

// MustParseLayout is ParseLayout for static expressions; it panics on error.
func MustParseLayout(tag, expr string) *Layout {
	l, err := ParseLayout(tag, expr)
	if err != nil {
		panic(err)
	}
	return l
}

func parseField(s string) (Field, error) {
	a, b, ok := strings.Cut(s, "-")
	if !ok {
		return Field{}, fmt.Errorf("%w: range %q", ErrInvalidLayout, s)
	}
	start, err := strconv.Atoi(a)
	if err != nil {
		return Field{}, fmt.Errorf("%w: range start %q", ErrInvalidLayout, a)
	}
	end, err := strconv.Atoi(b)
	if err != nil {
		return Field{}, fmt.Errorf("%w: range end %q", ErrInvalidLayout, b)
	}
	if start < 0 || end < start {
		return Field{}, fmt.Errorf("%w: range %d-%d", ErrInvalidLayout, start, end)
	}
	if end > maxOffset {
		return Field{}, fmt.Errorf("%w: range %d-%d exceeds offset %d", ErrInvalidLayout, start, end, maxOffset)
	}
	return Field{Start: start, End: end}, nil
}
