package codec

import (
	"encoding/base64"
	"fmt"

	"voicecrm/internal/domain"
)

// EncodePCM16 converts float samples in [-1, 1] to little-endian PCM16 bytes.
// Samples outside the valid range are clamped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		if sample > 1 {
			sample = 1
		} else if sample < -1 {
			sample = -1
		}

		var value int16
		if sample < 0 {
			value = int16(sample * 32768)
		} else {
			value = int16(sample * 32767)
		}
		out[i*2] = byte(value)
		out[i*2+1] = byte(uint16(value) >> 8)
	}
	return out
}

// DecodePCM16 converts little-endian PCM16 bytes back to float samples.
// An odd-length payload is rejected rather than truncated.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd pcm16 payload length %d", domain.ErrDecode, len(data))
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		value := int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
		samples[i] = float32(value) / 32768
	}
	return samples, nil
}

// ToTransportText encodes binary audio for the text-based message protocol.
func ToTransportText(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// FromTransportText decodes transport text back to binary audio.
func FromTransportText(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	return data, nil
}
