package session

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voicebridge/murmur-agent/internal/transport/murmur"
	"github.com/voicebridge/murmur-agent/pkg/audio"
)

// fakeDecoder returns a fixed number of samples per payload byte so
// tests control utterance duration without real opus data.
type fakeDecoder struct {
	samplesPerByte int
	fail           bool
}

func (d *fakeDecoder) Decode(payload []byte) ([]int16, error) {
	if d.fail {
		return nil, errors.New("bad frame")
	}
	return make([]int16, len(payload)*d.samplesPerByte), nil
}

func newTestSegmenter(t *testing.T, cfg Config) *Segmenter {
	t.Helper()
	seg := NewSegmenter(cfg, zap.NewNop())
	seg.newDecoder = func() (frameDecoder, error) {
		return &fakeDecoder{samplesPerByte: audio.FrameSize}, nil
	}
	t.Cleanup(seg.Close)
	return seg
}

// onePacket carries one fake 20ms frame for the given speaker.
func onePacket(source uint32, seq uint32, terminator bool) murmur.AudioPacket {
	return murmur.AudioPacket{
		Codec:      murmur.CodecOpus,
		Source:     source,
		Sequence:   seq,
		Payload:    []byte{1},
		Terminator: terminator,
	}
}

func recvUtterance(t *testing.T, seg *Segmenter, wait time.Duration) Utterance {
	t.Helper()
	select {
	case utt := <-seg.Utterances():
		return utt
	case <-time.After(wait):
		t.Fatal("no utterance emitted")
		return Utterance{}
	}
}

func TestTerminatorFlushesUtterance(t *testing.T) {
	seg := newTestSegmenter(t, Config{MinSpeechMs: 100, SilenceTimeoutMs: 60_000})

	for i := 0; i < 9; i++ {
		seg.Process(onePacket(5, uint32(i), false))
	}
	seg.Process(onePacket(5, 9, true))

	utt := recvUtterance(t, seg, time.Second)
	if utt.Source != 5 {
		t.Errorf("source=%d, want 5", utt.Source)
	}
	if !utt.Terminated {
		t.Error("terminator flush not marked as terminated")
	}
	if len(utt.PCM) != 10*audio.FrameSize {
		t.Errorf("pcm=%d samples, want %d", len(utt.PCM), 10*audio.FrameSize)
	}
	if utt.Duration != 200*time.Millisecond {
		t.Errorf("duration=%v, want 200ms", utt.Duration)
	}
	if utt.ID == "" {
		t.Error("utterance has no id")
	}
}

func TestSilenceTimeoutFlushesOnce(t *testing.T) {
	seg := newTestSegmenter(t, Config{MinSpeechMs: 100, SilenceTimeoutMs: 50})

	for i := 0; i < 10; i++ {
		seg.Process(onePacket(3, uint32(i), false))
	}

	utt := recvUtterance(t, seg, time.Second)
	if utt.Terminated {
		t.Error("timeout flush marked as terminated")
	}
	if len(utt.PCM) != 10*audio.FrameSize {
		t.Errorf("pcm=%d samples, want %d", len(utt.PCM), 10*audio.FrameSize)
	}

	select {
	case extra := <-seg.Utterances():
		t.Fatalf("second spurious utterance: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSpeakersAreIsolated(t *testing.T) {
	seg := newTestSegmenter(t, Config{MinSpeechMs: 100, SilenceTimeoutMs: 60_000})

	// Interleave two speakers, then terminate them separately.
	for i := 0; i < 10; i++ {
		seg.Process(onePacket(1, uint32(i), false))
		seg.Process(onePacket(2, uint32(i), false))
	}
	seg.Process(onePacket(1, 10, true))

	utt := recvUtterance(t, seg, time.Second)
	if utt.Source != 1 {
		t.Fatalf("source=%d, want 1", utt.Source)
	}
	if len(utt.PCM) != 11*audio.FrameSize {
		t.Errorf("speaker 1 pcm=%d samples, want %d", len(utt.PCM), 11*audio.FrameSize)
	}

	seg.Process(onePacket(2, 10, true))
	utt = recvUtterance(t, seg, time.Second)
	if utt.Source != 2 {
		t.Fatalf("source=%d, want 2", utt.Source)
	}
	if len(utt.PCM) != 11*audio.FrameSize {
		t.Errorf("speaker 2 pcm=%d samples, want %d", len(utt.PCM), 11*audio.FrameSize)
	}
}

func TestShortUtteranceNotForwarded(t *testing.T) {
	seg := newTestSegmenter(t, Config{MinSpeechMs: 250, SilenceTimeoutMs: 60_000})

	// Two 20ms frames: well under the gate.
	seg.Process(onePacket(4, 0, false))
	seg.Process(onePacket(4, 1, true))

	select {
	case utt := <-seg.Utterances():
		t.Fatalf("sub-minimum utterance forwarded: %+v", utt)
	case <-time.After(200 * time.Millisecond):
	}

	// The session must still be usable for a real utterance.
	for i := 0; i < 20; i++ {
		seg.Process(onePacket(4, uint32(i+2), false))
	}
	seg.Process(onePacket(4, 22, true))
	utt := recvUtterance(t, seg, time.Second)
	if len(utt.PCM) != 21*audio.FrameSize {
		t.Errorf("pcm=%d samples, want %d", len(utt.PCM), 21*audio.FrameSize)
	}
}

func TestAllowListSuppressesForwardingOnly(t *testing.T) {
	seg := newTestSegmenter(t, Config{
		MinSpeechMs:      100,
		SilenceTimeoutMs: 60_000,
		AllowedSpeakers:  []uint32{7},
	})

	for i := 0; i < 10; i++ {
		seg.Process(onePacket(8, uint32(i), false))
	}
	seg.Process(onePacket(8, 10, true))

	select {
	case utt := <-seg.Utterances():
		t.Fatalf("disallowed speaker forwarded: %+v", utt)
	case <-time.After(200 * time.Millisecond):
	}

	for i := 0; i < 10; i++ {
		seg.Process(onePacket(7, uint32(i), false))
	}
	seg.Process(onePacket(7, 10, true))
	utt := recvUtterance(t, seg, time.Second)
	if utt.Source != 7 {
		t.Fatalf("source=%d, want 7", utt.Source)
	}
}

func TestResetDropsPartialAudio(t *testing.T) {
	seg := newTestSegmenter(t, Config{MinSpeechMs: 100, SilenceTimeoutMs: 50})

	for i := 0; i < 10; i++ {
		seg.Process(onePacket(9, uint32(i), false))
	}
	seg.Reset()

	select {
	case utt := <-seg.Utterances():
		t.Fatalf("reset emitted utterance: %+v", utt)
	case <-time.After(200 * time.Millisecond):
	}
	if infos := seg.Sessions(); len(infos) != 0 {
		t.Fatalf("sessions after reset: %d", len(infos))
	}
}

func TestTerminatorAfterTimeoutStartsFresh(t *testing.T) {
	seg := newTestSegmenter(t, Config{MinSpeechMs: 100, SilenceTimeoutMs: 40})

	for i := 0; i < 10; i++ {
		seg.Process(onePacket(6, uint32(i), false))
	}
	first := recvUtterance(t, seg, time.Second)
	if first.Terminated {
		t.Error("first flush should come from the timeout")
	}

	// A straggling terminator with no new audio must not emit.
	seg.Process(murmur.AudioPacket{Codec: murmur.CodecOpus, Source: 6, Sequence: 10, Terminator: true})
	select {
	case utt := <-seg.Utterances():
		t.Fatalf("empty terminator emitted: %+v", utt)
	case <-time.After(150 * time.Millisecond):
	}

	// New speech afterwards forms a normal second utterance.
	for i := 0; i < 10; i++ {
		seg.Process(onePacket(6, uint32(i+11), false))
	}
	seg.Process(onePacket(6, 21, true))
	second := recvUtterance(t, seg, time.Second)
	if !second.Terminated || len(second.PCM) != 11*audio.FrameSize {
		t.Fatalf("second utterance %+v", second)
	}
}

func TestNonOpusPacketsIgnored(t *testing.T) {
	seg := newTestSegmenter(t, Config{MinSpeechMs: 100, SilenceTimeoutMs: 40})

	seg.Process(murmur.AudioPacket{Codec: murmur.CodecSpeex, Source: 2, Payload: []byte{1, 2, 3}})
	if infos := seg.Sessions(); len(infos) != 0 {
		t.Fatalf("non-opus packet opened a session: %+v", infos)
	}
}

func TestDecodeFailureKeepsSessionUsable(t *testing.T) {
	seg := newTestSegmenter(t, Config{MinSpeechMs: 100, SilenceTimeoutMs: 60_000})

	dec := &fakeDecoder{samplesPerByte: audio.FrameSize}
	seg.newDecoder = func() (frameDecoder, error) { return dec, nil }

	for i := 0; i < 5; i++ {
		seg.Process(onePacket(1, uint32(i), false))
	}
	dec.fail = true
	seg.Process(onePacket(1, 5, false))
	dec.fail = false
	for i := 0; i < 5; i++ {
		seg.Process(onePacket(1, uint32(i+6), false))
	}
	seg.Process(onePacket(1, 11, true))

	utt := recvUtterance(t, seg, time.Second)
	if len(utt.PCM) != 11*audio.FrameSize {
		t.Errorf("pcm=%d samples, want %d (bad frame skipped)", len(utt.PCM), 11*audio.FrameSize)
	}
}
