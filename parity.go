package serialbridge

import (
	"fmt"
	"strings"

	tarm "github.com/tarm/serial"
	gobug "go.bug.st/serial"
)

type Parity gobug.Parity

func (pa Parity) Get() gobug.Parity {
	return gobug.Parity(pa)
}

const (
	// ParityNone represents no parity bit
	ParityNone = Parity(gobug.NoParity)
	// ParityOdd represents odd parity bit
	ParityOdd = Parity(gobug.OddParity)
	// ParityEven represents even parity bit
	ParityEven = Parity(gobug.EvenParity)
	// ParityMark represents mark parity bit (always 1)
	ParityMark = Parity(gobug.MarkParity)
	// ParitySpace represents space parity bit (always 0)
	ParitySpace = Parity(gobug.SpaceParity)
)

func (pa Parity) String() string {
	switch pa {
	case ParityNone:
		return "none"
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	case ParityMark:
		return "mark"
	case ParitySpace:
		return "space"
	}
	return fmt.Sprintf("parity(%d)", int(pa))
}

// tarm maps the parity onto the tarm/serial constants.
func (pa Parity) tarm() tarm.Parity {
	switch pa {
	case ParityOdd:
		return tarm.ParityOdd
	case ParityEven:
		return tarm.ParityEven
	case ParityMark:
		return tarm.ParityMark
	case ParitySpace:
		return tarm.ParitySpace
	}
	return tarm.ParityNone
}

// ParseParity accepts the long names used in config files ("none", "odd", ...)
// and the single-letter forms used on the command line ("N", "O", "E", "M", "S").
func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "n", "none":
		return ParityNone, nil
	case "o", "odd":
		return ParityOdd, nil
	case "e", "even":
		return ParityEven, nil
	case "m", "mark":
		return ParityMark, nil
	case "s", "space":
		return ParitySpace, nil
	}
	return ParityNone, fmt.Errorf("unsupported parity %q (use none, odd, even, mark or space)", s)
}
