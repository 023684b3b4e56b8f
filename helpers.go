package serialbridge

import (
	"fmt"
	"strings"
)

// validateCandidate rejects names that cannot be a serial device before they
// are compared against the enumerated interfaces.
func validateCandidate(portName string) error {
	// Security: Prevent path traversal attacks
	if strings.Contains(portName, "..") {
		return fmt.Errorf("%w: %q contains path traversal", ErrInvalidPortName, portName)
	}

	// On Unix: /dev/ttyXXX or /dev/cuXXX
	// On Windows: COMX
	if !isValidPortPattern(portName) {
		return fmt.Errorf("%w: %q doesn't match expected pattern", ErrInvalidPortName, portName)
	}
	return nil
}

func isValidPortPattern(portName string) bool {
	// Windows: COM1-COM999 (must have at least one digit after COM)
	if strings.HasPrefix(portName, "COM") && len(portName) >= 4 && len(portName) <= 6 {
		return isDigits(portName[3:])
	}
	// Unix/Linux: /dev/tty* or /dev/cu* (macOS)
	if strings.HasPrefix(portName, "/dev/tty") || strings.HasPrefix(portName, "/dev/cu") {
		return true
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func portNames(ids []PortIdentity) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, id.Name)
	}
	return names
}
