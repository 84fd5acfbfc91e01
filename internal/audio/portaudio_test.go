package audio

import (
	"testing"

	"github.com/gordonklaus/portaudio"
)

func TestOutputEndpointsSkipsInputOnly(t *testing.T) {
	mic := &portaudio.DeviceInfo{Name: "mic", MaxInputChannels: 2, DefaultSampleRate: 44100}
	speakers := &portaudio.DeviceInfo{Name: "speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000}
	hdmi := &portaudio.DeviceInfo{Name: "hdmi", MaxOutputChannels: 8, DefaultSampleRate: 96000}

	got := outputEndpoints([]*portaudio.DeviceInfo{mic, speakers, nil, hdmi}, speakers)

	if len(got) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(got))
	}
	if got[0].Name != "speakers" || !got[0].Default {
		t.Fatalf("expected default speakers first, got %+v", got[0])
	}
	if got[1].Name != "hdmi" || got[1].Default {
		t.Fatalf("expected non-default hdmi second, got %+v", got[1])
	}
	if got[1].SampleRate != 96000 || got[1].OutputChannels != 8 {
		t.Fatalf("unexpected hdmi endpoint %+v", got[1])
	}
}

func TestRatio(t *testing.T) {
	tests := []struct {
		host, device, want float64
	}{
		{48000, 48000, 1},
		{44100, 48000, 0.91875},
		{96000, 48000, 2},
		{0, 48000, 0},
		{48000, 0, 0},
	}

	for _, tt := range tests {
		if got := Ratio(tt.host, tt.device); got != tt.want {
			t.Errorf("Ratio(%v, %v) = %v, want %v", tt.host, tt.device, got, tt.want)
		}
	}
}
