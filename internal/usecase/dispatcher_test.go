package usecase

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"voicecrm/internal/codec"
	"voicecrm/internal/domain"
)

func newTestDispatcher(player *fakePlayer, events *fakeEventSink) (*dispatcher, *conversationLog) {
	entries := newConversationLog()
	return newDispatcher(player, entries, events, 24000, zerolog.Nop()), entries
}

func audioDeltaMessage(t *testing.T, samples []float32) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]string{
		"type":  "response.audio.delta",
		"delta": codec.ToTransportText(codec.EncodePCM16(samples)),
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return raw
}

func TestDispatcherAudioDeltaEnqueuesSamples(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{}
	disp, _ := newTestDispatcher(player, &fakeEventSink{})

	disp.Dispatch(audioDeltaMessage(t, []float32{0.25, -0.25, 0.5, -0.5}))

	enqueued := player.snapshotEnqueued()
	if len(enqueued) != 1 {
		t.Fatalf("expected 1 enqueue, got %d", len(enqueued))
	}
	if len(enqueued[0]) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(enqueued[0]))
	}
}

func TestDispatcherMalformedAudioDeltaIsDropped(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{}
	disp, _ := newTestDispatcher(player, &fakeEventSink{})

	disp.Dispatch([]byte(`{"type":"response.audio.delta","delta":"%%%not-base64%%%"}`))
	disp.Dispatch([]byte(`{"type":"response.audio.delta","delta":""}`))
	disp.Dispatch([]byte(`{"type":"response.audio.delta"}`))

	if got := len(player.snapshotEnqueued()); got != 0 {
		t.Fatalf("expected no enqueues, got %d", got)
	}
}

func TestDispatcherEnqueueErrorIsNonFatal(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{enqueueErr: errors.New("player shut down")}
	disp, _ := newTestDispatcher(player, &fakeEventSink{})

	disp.Dispatch(audioDeltaMessage(t, []float32{0.1, 0.2}))
}

func TestDispatcherUserTranscriptAppendsEntry(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	disp, entries := newTestDispatcher(&fakePlayer{}, events)

	disp.Dispatch([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"  show my pipeline  "}`))

	history := entries.Snapshot()
	if len(history) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(history))
	}
	if history[0].Role != domain.RoleUser {
		t.Fatalf("expected user role, got %s", history[0].Role)
	}
	if history[0].Text != "show my pipeline" {
		t.Fatalf("expected trimmed text, got %q", history[0].Text)
	}
	if history[0].ID == "" || history[0].Timestamp.IsZero() {
		t.Fatalf("expected populated ID and timestamp: %+v", history[0])
	}
	if got := len(events.snapshotEntries()); got != 1 {
		t.Fatalf("expected 1 appended event, got %d", got)
	}
}

func TestDispatcherAssistantTranscriptAppendsEntry(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	disp, entries := newTestDispatcher(&fakePlayer{}, events)

	disp.Dispatch([]byte(`{"type":"response.audio_transcript.done","transcript":"I found three open deals."}`))

	history := entries.Snapshot()
	if len(history) != 1 || history[0].Role != domain.RoleAssistant {
		t.Fatalf("expected 1 assistant entry, got %+v", history)
	}
}

func TestDispatcherBlankTranscriptIsIgnored(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	disp, entries := newTestDispatcher(&fakePlayer{}, events)

	disp.Dispatch([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"   "}`))
	disp.Dispatch([]byte(`{"type":"response.audio_transcript.done"}`))

	if got := len(entries.Snapshot()); got != 0 {
		t.Fatalf("expected no entries, got %d", got)
	}
	if got := len(events.snapshotEntries()); got != 0 {
		t.Fatalf("expected no appended events, got %d", got)
	}
}

func TestDispatcherSpeechStartedFlushesPlayer(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{}
	disp, _ := newTestDispatcher(player, &fakeEventSink{})

	disp.Dispatch([]byte(`{"type":"input_audio_buffer.speech_started"}`))

	if player.snapshotFlushCalls() != 1 {
		t.Fatalf("expected 1 flush, got %d", player.snapshotFlushCalls())
	}
}

func TestDispatcherIgnoresGarbageAndUnknownTypes(t *testing.T) {
	t.Parallel()

	player := &fakePlayer{}
	events := &fakeEventSink{}
	disp, entries := newTestDispatcher(player, events)

	disp.Dispatch([]byte(`not json at all`))
	disp.Dispatch([]byte(`{"type":"response.created"}`))
	disp.Dispatch([]byte(`{"type":"session.updated","session":{}}`))
	disp.Dispatch([]byte(`{"type":"error","error":{"message":"rate limited"}}`))
	disp.Dispatch([]byte(`{"type":"response.function_call_arguments.done","name":"create_contact","call_id":"call_1"}`))

	if got := len(entries.Snapshot()); got != 0 {
		t.Fatalf("expected no entries, got %d", got)
	}
	if got := len(player.snapshotEnqueued()); got != 0 {
		t.Fatalf("expected no enqueues, got %d", got)
	}
	if got := player.snapshotFlushCalls(); got != 0 {
		t.Fatalf("expected no flushes, got %d", got)
	}
}

func TestConversationLogSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	log := newConversationLog()
	if _, ok := log.Append(domain.RoleUser, "first"); !ok {
		t.Fatalf("expected append to succeed")
	}

	snap := log.Snapshot()
	snap[0].Text = "mutated"

	if got := log.Snapshot()[0].Text; got != "first" {
		t.Fatalf("snapshot mutation leaked into the log: %q", got)
	}
}
