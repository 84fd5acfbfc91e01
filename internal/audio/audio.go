package audio

import (
	"fmt"
	"io"
)

// Host defines the interface for the host side of a device bridge
type Host interface {
	DefaultOutput() (Endpoint, error)
	Endpoints() ([]Endpoint, error)
	Close() error
}

// Endpoint represents a host audio device
type Endpoint struct {
	Name           string
	SampleRate     float64
	InputChannels  int
	OutputChannels int
	Default        bool
}

// Ratio returns the resampling ratio from the device rate to the host rate.
// It is 0 when either rate is unknown.
func Ratio(hostRate, deviceRate float64) float64 {
	if hostRate <= 0 || deviceRate <= 0 {
		return 0
	}
	return hostRate / deviceRate
}

// PrintEndpoints writes one line per output endpoint of h, marking the
// default one.
func PrintEndpoints(w io.Writer, h Host) error {
	endpoints, err := h.Endpoints()
	if err != nil {
		return err
	}

	for _, e := range endpoints {
		mark := " "
		if e.Default {
			mark = "*"
		}
		if _, err := fmt.Fprintf(w, "%s %s (%d channels, %.0f Hz)\n",
			mark, e.Name, e.OutputChannels, e.SampleRate); err != nil {
			return err
		}
	}
	return nil
}
