package serialbridge

import (
	"errors"
	"fmt"

	gobug "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// allow tests to override the platform enumeration
var (
	listDetailedPorts = enumerator.GetDetailedPortsList
	listPortNames     = gobug.GetPortsList
)

// PortIdentity names one serial interface exposed by the platform. The USB
// fields are empty when the platform cannot report them.
type PortIdentity struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

func (id PortIdentity) String() string {
	if !id.IsUSB {
		return id.Name
	}
	return fmt.Sprintf("%s (USB %s:%s %s)", id.Name, id.VID, id.PID, id.SerialNumber)
}

// AvailablePorts lists every serial interface currently known to the platform.
// Detailed enumeration is tried first; if the platform does not support it the
// plain name list is used.
func AvailablePorts() ([]PortIdentity, error) {
	details, detailErr := listDetailedPorts()
	if detailErr == nil {
		ids := make([]PortIdentity, 0, len(details))
		for _, d := range details {
			if d == nil {
				continue
			}
			ids = append(ids, PortIdentity{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		return ids, nil
	}

	names, err := listPortNames()
	if err != nil {
		return nil, fmt.Errorf("enumerating serial ports: %w", errors.Join(detailErr, err))
	}
	ids := make([]PortIdentity, 0, len(names))
	for _, name := range names {
		ids = append(ids, PortIdentity{Name: name})
	}
	return ids, nil
}

// FindPort returns the identity of the highest-priority candidate that is
// currently enumerated. Priority is the order of candidates, not the order in
// which the platform reports its interfaces. When nothing matches the error is
// a *PortNotFoundError; there is no fallback to an arbitrary port.
//
// The candidate list is checked as a whole before enumerating: one malformed
// name fails the call with ErrInvalidPortName even if a later candidate is
// present. A bad list is a configuration error, not a missing device.
func FindPort(candidates []string) (PortIdentity, error) {
	if len(candidates) == 0 {
		return PortIdentity{}, ErrNoCandidates
	}
	for _, c := range candidates {
		if err := validateCandidate(c); err != nil {
			return PortIdentity{}, err
		}
	}

	available, err := AvailablePorts()
	if err != nil {
		return PortIdentity{}, err
	}

	byName := make(map[string]PortIdentity, len(available))
	for _, id := range available {
		if _, dup := byName[id.Name]; !dup {
			byName[id.Name] = id
		}
	}

	for _, c := range candidates {
		if id, ok := byName[c]; ok {
			return id, nil
		}
	}

	return PortIdentity{}, &PortNotFoundError{
		Candidates: append([]string(nil), candidates...),
		Available:  portNames(available),
	}
}
