package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

type portAudioHost struct{}

// New initializes PortAudio and returns the host it exposes. Every successful
// New must be paired with Close.
func New() (Host, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioHost{}, nil
}

func (p *portAudioHost) DefaultOutput() (Endpoint, error) {
	device, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return Endpoint{}, fmt.Errorf("failed to get default output device: %w", err)
	}

	ep := endpoint(device)
	ep.Default = true
	return ep, nil
}

func (p *portAudioHost) Endpoints() ([]Endpoint, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultDevice, _ := portaudio.DefaultOutputDevice()
	return outputEndpoints(devices, defaultDevice), nil
}

func (p *portAudioHost) Close() error {
	return portaudio.Terminate()
}

// outputEndpoints keeps the devices able to play audio.
func outputEndpoints(devices []*portaudio.DeviceInfo, defaultDevice *portaudio.DeviceInfo) []Endpoint {
	result := make([]Endpoint, 0, len(devices))
	for _, d := range devices {
		if d == nil || d.MaxOutputChannels <= 0 {
			continue
		}
		ep := endpoint(d)
		ep.Default = d == defaultDevice
		result = append(result, ep)
	}
	return result
}

func endpoint(d *portaudio.DeviceInfo) Endpoint {
	return Endpoint{
		Name:           d.Name,
		SampleRate:     d.DefaultSampleRate,
		InputChannels:  d.MaxInputChannels,
		OutputChannels: d.MaxOutputChannels,
	}
}
