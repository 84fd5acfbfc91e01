// Package device discovers the USB audio devices the orchestrator can manage
// and resolves a user selection to a single bus/address pair.
package device

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrEnumeration indicates the USB subsystem could not be queried at all.
	ErrEnumeration = errors.New("USB enumeration failed")

	// ErrNotFound indicates no present device matches the selection.
	ErrNotFound = errors.New("no matching device")
)

// Device identifies one present device by its transport identity.
type Device struct {
	Bus       uint8
	Address   uint8
	VendorID  uint16
	ProductID uint16
	Name      string
	Serial    string
}

func (d Device) String() string {
	return fmt.Sprintf("%s (ID %04x:%04x) at bus %03d, address %03d",
		d.Name, d.VendorID, d.ProductID, d.Bus, d.Address)
}

// Scanner returns the devices currently present, in bus order. A scan that
// reaches only part of the bus returns the devices it found along with the
// error.
type Scanner interface {
	Scan() ([]Device, error)
}

// Selector picks a single device either by enumeration index or by name.
type Selector struct {
	Index  int
	Name   string
	ByName bool
}

func (s Selector) String() string {
	if s.ByName {
		return fmt.Sprintf("name %q", s.Name)
	}
	return fmt.Sprintf("number %d", s.Index)
}

// Enumerator exposes the two entry points the orchestrator needs on top of a
// Scanner.
type Enumerator struct {
	scanner Scanner
	log     zerolog.Logger
}

// NewEnumerator creates an Enumerator reading from s.
func NewEnumerator(s Scanner, log zerolog.Logger) *Enumerator {
	return &Enumerator{scanner: s, log: log}
}

// Devices returns every present device. A scan that found nothing and failed
// wraps ErrEnumeration; a scan that failed part way is logged and its devices
// are returned.
func (e *Enumerator) Devices() ([]Device, error) {
	devices, err := e.scanner.Scan()
	if err != nil && len(devices) > 0 {
		e.log.Warn().Err(err).Int("found", len(devices)).Msg("USB scan incomplete")
		return devices, nil
	}
	if err != nil {
		if errors.Is(err, ErrEnumeration) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrEnumeration, err)
	}
	return devices, nil
}

// Resolve returns the single device matching sel. Names are compared without
// regard to case.
func (e *Enumerator) Resolve(sel Selector) (Device, error) {
	devices, err := e.Devices()
	if err != nil {
		return Device{}, err
	}

	if sel.ByName {
		for _, d := range devices {
			if strings.EqualFold(d.Name, sel.Name) {
				return d, nil
			}
		}
		return Device{}, fmt.Errorf("%w: %s", ErrNotFound, sel)
	}

	if sel.Index < 0 || sel.Index >= len(devices) {
		return Device{}, fmt.Errorf("%w: %s (%d present)", ErrNotFound, sel, len(devices))
	}
	return devices[sel.Index], nil
}

// Print writes one numbered line per present device.
func (e *Enumerator) Print(w io.Writer) error {
	devices, err := e.Devices()
	if err != nil {
		return err
	}

	for i, d := range devices {
		if _, err := fmt.Fprintf(w, "%d: %s\n", i, d); err != nil {
			return err
		}
	}
	return nil
}
