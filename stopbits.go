package serialbridge

import (
	"fmt"
	"strings"

	tarm "github.com/tarm/serial"
	gobug "go.bug.st/serial"
)

type StopBits gobug.StopBits

func (sb StopBits) Get() gobug.StopBits {
	return gobug.StopBits(sb)
}

const (
	// StopBits1 represents 1 stop bit
	StopBits1 = StopBits(gobug.OneStopBit)
	// StopBits1Half represents 1.5 stop bits
	StopBits1Half = StopBits(gobug.OnePointFiveStopBits)
	// StopBits2 represents 2 stop bits
	StopBits2 = StopBits(gobug.TwoStopBits)
)

func (sb StopBits) String() string {
	switch sb {
	case StopBits1:
		return "1"
	case StopBits1Half:
		return "1.5"
	case StopBits2:
		return "2"
	}
	return fmt.Sprintf("stopbits(%d)", int(sb))
}

func (sb StopBits) tarm() tarm.StopBits {
	switch sb {
	case StopBits1Half:
		return tarm.Stop1Half
	case StopBits2:
		return tarm.Stop2
	}
	return tarm.Stop1
}

// ParseStopBits accepts "1", "1.5" and "2".
func ParseStopBits(s string) (StopBits, error) {
	switch strings.TrimSpace(s) {
	case "", "1":
		return StopBits1, nil
	case "1.5":
		return StopBits1Half, nil
	case "2":
		return StopBits2, nil
	}
	return StopBits1, fmt.Errorf("unsupported stop bits %q (use 1, 1.5 or 2)", s)
}
