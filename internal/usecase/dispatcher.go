package usecase

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"voicecrm/internal/codec"
	"voicecrm/internal/domain"
	"voicecrm/internal/ports"
)

// serverEvent is the discriminated shape of inbound agent messages. Unknown
// or missing fields decode to zero values and are treated as absent.
type serverEvent struct {
	Type       string          `json:"type"`
	Delta      string          `json:"delta"`
	Transcript string          `json:"transcript"`
	Name       string          `json:"name"`
	CallID     string          `json:"call_id"`
	Error      json.RawMessage `json:"error"`
}

// dispatcher routes inbound agent messages to the playback scheduler and the
// conversation log. It is pure routing and keeps no state of its own.
type dispatcher struct {
	player     ports.Player
	entries    *conversationLog
	events     ports.EventSink
	sampleRate int
	log        zerolog.Logger
}

func newDispatcher(player ports.Player, entries *conversationLog, events ports.EventSink, sampleRate int, log zerolog.Logger) *dispatcher {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &dispatcher{
		player:     player,
		entries:    entries,
		events:     events,
		sampleRate: sampleRate,
		log:        log,
	}
}

func (d *dispatcher) Dispatch(raw []byte) {
	var event serverEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		// The transport may echo non-protocol data; never fatal.
		d.log.Debug().Err(err).Msg("ignoring non-protocol payload")
		return
	}

	switch event.Type {
	case "response.audio.delta":
		d.enqueueAudio(event.Delta)
	case "conversation.item.input_audio_transcription.completed":
		d.append(domain.RoleUser, event.Transcript)
	case "response.audio_transcript.done":
		d.append(domain.RoleAssistant, event.Transcript)
	case "input_audio_buffer.speech_started":
		// Barge-in: cut residual assistant audio immediately.
		d.player.Flush()
	case "response.function_call_arguments.done":
		d.log.Debug().
			Str("name", event.Name).
			Str("call_id", event.CallID).
			Msg("tool call handled by the backend")
	case "error":
		d.log.Warn().Str("detail", string(event.Error)).Msg("agent reported an error")
	default:
		// Unrecognized types are ignored.
	}
}

func (d *dispatcher) enqueueAudio(delta string) {
	if delta == "" {
		return
	}

	pcm, err := codec.FromTransportText(delta)
	if err != nil {
		d.log.Warn().Err(err).Msg("dropping malformed audio delta")
		return
	}
	samples, err := codec.DecodePCM16(pcm)
	if err != nil {
		d.log.Warn().Err(err).Msg("dropping malformed audio delta")
		return
	}

	if err := d.player.Enqueue(samples, d.sampleRate); err != nil {
		d.log.Debug().Err(err).Msg("dropping audio for a stopped player")
	}
}

func (d *dispatcher) append(role domain.Role, text string) {
	entry, ok := d.entries.Append(role, text)
	if !ok {
		return
	}
	d.events.ConversationAppended(entry)
}
