// Package filterbank compiles an identifier filter specification into the
// two-mask / six-slot acceptance filter layout of a CAN controller.
//
// A specification is a ';' separated list of up to six tokens. Each token is
// hex digits with optional 'X' wildcards: three digits or fewer for standard
// identifiers, exactly eight for extended ones. A token with wildcards defines
// a mask register; a concrete token defines a filter slot. "XXX" anywhere in
// the list accepts every frame.
package filterbank

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kstaniek/go-can-sniffer/internal/can"
)

// ErrMalformedSpec is returned for any invalid specification.
var ErrMalformedSpec = errors.New("filterbank: malformed spec")

// AcceptAllToken disables filtering.
const AcceptAllToken = "XXX"

const (
	maxTokens   = 6
	Slots       = 6
	mask0Slots  = 2 // slots 0-1
	stdDigits   = 3
	extDigits   = 8
	separator   = ";"
	wildcardChr = 'X'
)

// Width is the identifier width shared by all tokens of a specification.
type Width int

const (
	Standard Width = iota
	Extended
)

func (w Width) String() string {
	if w == Extended {
		return "extended"
	}
	return "standard"
}

// FullMask is the exact-match mask for the width.
func (w Width) FullMask() uint32 {
	if w == Extended {
		return can.CAN_EFF_MASK
	}
	return can.CAN_SFF_MASK
}

// Mask is one mask register.
type Mask struct {
	Present bool
	// Value is the token with wildcard digits zeroed.
	Value uint32
	// Bits has every fixed digit's nibble set, clipped to the identifier width.
	Bits uint32
}

// Assignment is the compiled bank. When AcceptAll is set nothing else is meaningful.
type Assignment struct {
	AcceptAll bool
	Width     Width
	Mask0     Mask // governs slots 0-1
	Mask1     Mask // governs slots 2-5
	Filters   [Slots]uint32
	// Concrete counts the concrete tokens in the specification.
	Concrete int
}

// SlotMask returns the acceptance bits in force for slot i.
func (a Assignment) SlotMask(i int) uint32 {
	m := a.Mask1
	if i < mask0Slots {
		m = a.Mask0
	}
	if m.Present {
		return m.Bits
	}
	return a.Width.FullMask()
}

// Match reports whether the bank admits a frame with this identifier and
// format, the same way the controller hardware would. A bank only admits
// frames of its own width.
func (a Assignment) Match(id uint32, extended bool) bool {
	if a.AcceptAll {
		return true
	}
	if extended != (a.Width == Extended) {
		return false
	}
	for i := 0; i < Slots; i++ {
		m := a.SlotMask(i)
		if id&m == a.Filters[i]&m {
			return true
		}
	}
	return false
}

func (a Assignment) String() string {
	if a.AcceptAll {
		return "accept-all"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s", a.Width)
	if a.Mask0.Present {
		fmt.Fprintf(&b, " mask0=%X/%X", a.Mask0.Value, a.Mask0.Bits)
	}
	if a.Mask1.Present {
		fmt.Fprintf(&b, " mask1=%X/%X", a.Mask1.Value, a.Mask1.Bits)
	}
	fmt.Fprintf(&b, " filters=%X", a.Filters)
	return b.String()
}

type token struct {
	text   string
	width  Width
	masked bool
	value  uint32
	bits   uint32
}

// Compile parses spec. Nothing is returned unless the whole specification is valid.
func Compile(spec string) (Assignment, error) {
	spec = strings.TrimSpace(spec)
	if strings.EqualFold(spec, AcceptAllToken) {
		return Assignment{AcceptAll: true}, nil
	}
	if spec == "" {
		return Assignment{}, fmt.Errorf("%w: empty", ErrMalformedSpec)
	}
	raw := strings.Split(spec, separator)
	if raw[len(raw)-1] == "" { // tolerate one trailing separator
		raw = raw[:len(raw)-1]
	}
	var toks []token
	for i, r := range raw {
		if i >= maxTokens {
			return Assignment{}, fmt.Errorf("%w: more than %d tokens", ErrMalformedSpec, maxTokens)
		}
		tk, err := parseToken(strings.TrimSpace(r))
		if err != nil {
			return Assignment{}, err
		}
		if tk.text == AcceptAllToken {
			return Assignment{AcceptAll: true}, nil
		}
		if len(toks) > 0 && toks[0].width != tk.width {
			return Assignment{}, fmt.Errorf("%w: mixed identifier widths (%q, %q)", ErrMalformedSpec, toks[0].text, tk.text)
		}
		toks = append(toks, tk)
	}
	return assign(toks)
}

func parseToken(s string) (token, error) {
	s = strings.ToUpper(s)
	tk := token{text: s}
	if s == "" {
		return tk, fmt.Errorf("%w: empty token", ErrMalformedSpec)
	}
	if s == AcceptAllToken {
		return tk, nil
	}
	switch {
	case len(s) <= stdDigits:
		tk.width = Standard
		if len(s) == stdDigits && s[0] > '7' { // also rejects a leading wildcard
			return tk, fmt.Errorf("%w: %q exceeds 11 bits", ErrMalformedSpec, s)
		}
	case len(s) == extDigits:
		tk.width = Extended
		if s[0] > '1' {
			return tk, fmt.Errorf("%w: %q exceeds 29 bits", ErrMalformedSpec, s)
		}
	default:
		return tk, fmt.Errorf("%w: %q has invalid length %d", ErrMalformedSpec, s, len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		var nib uint32
		fixed := true
		switch {
		case c >= '0' && c <= '9':
			nib = uint32(c - '0')
		case c >= 'A' && c <= 'F':
			nib = uint32(c-'A') + 10
		case c == wildcardChr:
			fixed = false
			tk.masked = true
		default:
			return tk, fmt.Errorf("%w: %q has invalid digit %q", ErrMalformedSpec, s, c)
		}
		tk.value = tk.value<<4 | nib
		tk.bits <<= 4
		if fixed {
			tk.bits |= 0xF
		}
	}
	tk.bits &= tk.width.FullMask()
	return tk, nil
}

func assign(toks []token) (Assignment, error) {
	var a Assignment
	a.Width = toks[0].width
	var concrete []uint32
	for _, tk := range toks {
		if !tk.masked {
			concrete = append(concrete, tk.value)
			continue
		}
		m := Mask{Present: true, Value: tk.value, Bits: tk.bits}
		switch {
		case !a.Mask0.Present:
			a.Mask0 = m
		case !a.Mask1.Present:
			a.Mask1 = m
		default:
			return Assignment{}, fmt.Errorf("%w: more than two masked tokens", ErrMalformedSpec)
		}
	}
	a.Concrete = len(concrete)

	free := Slots
	first := 0
	if a.Mask0.Present {
		a.Filters[0], a.Filters[1] = a.Mask0.Value, a.Mask0.Value
		free -= mask0Slots
		first = mask0Slots
	}
	if a.Mask1.Present {
		for i := mask0Slots; i < Slots; i++ {
			a.Filters[i] = a.Mask1.Value
		}
		free -= Slots - mask0Slots
	}
	if len(concrete) > free {
		return Assignment{}, fmt.Errorf("%w: %d concrete tokens for %d free slots", ErrMalformedSpec, len(concrete), free)
	}
	if free == 0 {
		return a, nil
	}
	noMask := !a.Mask0.Present
	for i := 0; i < free; i++ {
		slot := first + i
		switch {
		case i < len(concrete):
			a.Filters[slot] = concrete[i]
		case noMask:
			a.Filters[slot] = concrete[i%len(concrete)]
		default:
			a.Filters[slot] = 0
		}
	}
	return a, nil
}
