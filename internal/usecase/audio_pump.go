package usecase

import (
	"encoding/json"
	"errors"

	"voicecrm/internal/codec"
	"voicecrm/internal/domain"
	"voicecrm/internal/ports"
)

// pumpAudio forwards capture blocks to the voice agent in capture order.
// Blocks arriving before the transport opens, or after it closed, are
// discarded; that is the normal steady-state path, not an error.
func (c *SessionController) pumpAudio(sess *voiceSession, capture ports.CaptureSession) {
	for block := range capture.Blocks() {
		c.mu.Lock()
		stale := c.epoch != sess.epoch
		conn := sess.conn
		c.mu.Unlock()

		if stale {
			return
		}
		if conn == nil {
			continue
		}

		frame, err := appendFrame(block)
		if err != nil {
			c.log.Warn().Err(err).Msg("failed to encode capture frame")
			continue
		}
		if err := conn.Send(frame); err != nil {
			if errors.Is(err, domain.ErrNotConnected) {
				continue
			}
			c.log.Warn().Err(err).Msg("dropping capture frame")
		}
	}
}

// appendFrame wraps one capture block as an input_audio_buffer.append
// message carrying transport-text PCM16.
func appendFrame(block []float32) ([]byte, error) {
	payload := struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}{
		Type:  "input_audio_buffer.append",
		Audio: codec.ToTransportText(codec.EncodePCM16(block)),
	}
	return json.Marshal(&payload)
}
