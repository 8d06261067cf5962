package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voicebridge/murmur-agent/internal/agent"
	"github.com/voicebridge/murmur-agent/internal/session"
	"github.com/voicebridge/murmur-agent/internal/transport/murmur"
	"github.com/voicebridge/murmur-agent/pkg/audio"
)

type fakeTransport struct {
	mu      sync.Mutex
	packets [][]byte
	fail    bool
}

func (t *fakeTransport) WriteAudio(ctx context.Context, packet []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return errors.New("link down")
	}
	t.packets = append(t.packets, append([]byte(nil), packet...))
	return nil
}

func (t *fakeTransport) decoded(tb testing.TB) []murmur.AudioPacket {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]murmur.AudioPacket, 0, len(t.packets))
	for i, wire := range t.packets {
		pkt, err := murmur.DecodePacket(wire)
		if err != nil {
			tb.Fatalf("packet %d does not decode: %v", i, err)
		}
		out = append(out, pkt)
	}
	return out
}

type fakeSTT struct {
	text string
	err  error
}

func (s *fakeSTT) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if !audio.IsWAV(wav) {
		return "", errors.New("not wav")
	}
	return s.text, s.err
}

type fakeTTS struct {
	mu      sync.Mutex
	calls   []string
	voices  []string
	rate    int
	samples int
	err     error
}

func (s *fakeTTS) Synthesize(ctx context.Context, text, voice string) ([]int16, int, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.voices = append(s.voices, voice)
	s.mu.Unlock()
	if s.err != nil {
		return nil, 0, s.err
	}
	rate := s.rate
	if rate == 0 {
		rate = audio.SampleRate
	}
	n := s.samples
	if n == 0 {
		n = audio.FrameSize * 3
	}
	return make([]int16, n), rate, nil
}

type fakeAgent struct {
	reply string
	err   error
	got   []agent.Message
}

func (a *fakeAgent) Complete(ctx context.Context, messages []agent.Message) (string, error) {
	a.got = messages
	return a.reply, a.err
}

func newTestOrchestrator(t *testing.T, cfg Config, tr Transport, stt Transcriber, tts Synthesizer, rep Replier) *Orchestrator {
	t.Helper()
	o, err := New(cfg, tr, stt, tts, rep, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.pace = 0
	return o
}

func oneUtterance(source uint32) session.Utterance {
	return session.Utterance{
		ID:       "utt-test",
		Source:   source,
		PCM:      make([]int16, audio.FrameSize*25),
		Duration: 500 * time.Millisecond,
	}
}

func TestReplyIsSpokenWithTerminator(t *testing.T) {
	tr := &fakeTransport{}
	tts := &fakeTTS{samples: audio.FrameSize*2 + 100}
	o := newTestOrchestrator(t, Config{}, tr, &fakeSTT{text: "hello"}, tts, &fakeAgent{reply: "hi there"})

	o.handleUtterance(context.Background(), oneUtterance(7))

	pkts := tr.decoded(t)
	if len(pkts) != 3 {
		t.Fatalf("packets=%d, want 3 (two full frames plus padded tail)", len(pkts))
	}
	for i, pkt := range pkts {
		if pkt.Codec != murmur.CodecOpus {
			t.Errorf("packet %d codec=%d", i, pkt.Codec)
		}
		if pkt.Target != murmur.TargetNormal {
			t.Errorf("packet %d target=%d", i, pkt.Target)
		}
		last := i == len(pkts)-1
		if pkt.Terminator != last {
			t.Errorf("packet %d terminator=%v", i, pkt.Terminator)
		}
	}
	if pkts[0].Sequence+1 != pkts[1].Sequence || pkts[1].Sequence+1 != pkts[2].Sequence {
		t.Errorf("sequence numbers not consecutive: %d %d %d",
			pkts[0].Sequence, pkts[1].Sequence, pkts[2].Sequence)
	}
	if len(tts.calls) != 1 || tts.calls[0] != "hi there" {
		t.Errorf("tts calls=%v", tts.calls)
	}
}

func TestSynthesizedAudioIsResampled(t *testing.T) {
	tr := &fakeTransport{}
	// One second at 24k must become one second at 48k: 50 frames.
	tts := &fakeTTS{rate: 24000, samples: 24000}
	o := newTestOrchestrator(t, Config{}, tr, &fakeSTT{text: "hello"}, tts, &fakeAgent{reply: "ok"})

	o.handleUtterance(context.Background(), oneUtterance(1))

	if got := len(tr.decoded(t)); got != 50 {
		t.Fatalf("frames=%d, want 50", got)
	}
}

func TestSTTFailureSpeaksApology(t *testing.T) {
	tr := &fakeTransport{}
	tts := &fakeTTS{}
	o := newTestOrchestrator(t, Config{Apology: "sorry about that"},
		tr, &fakeSTT{err: errors.New("stt down")}, tts, &fakeAgent{reply: "unused"})

	o.handleUtterance(context.Background(), oneUtterance(1))

	if len(tts.calls) != 1 || tts.calls[0] != "sorry about that" {
		t.Fatalf("tts calls=%v, want the apology", tts.calls)
	}
	if len(tr.decoded(t)) == 0 {
		t.Fatal("apology produced no audio")
	}
}

func TestAgentFailureSpeaksApology(t *testing.T) {
	tr := &fakeTransport{}
	tts := &fakeTTS{}
	o := newTestOrchestrator(t, Config{}, tr, &fakeSTT{text: "hello"}, tts,
		&fakeAgent{err: errors.New("backend 500")})

	o.handleUtterance(context.Background(), oneUtterance(1))

	if len(tts.calls) != 1 || !strings.Contains(tts.calls[0], "Sorry") {
		t.Fatalf("tts calls=%v, want default apology", tts.calls)
	}
}

func TestTTSFailureAbortsSilently(t *testing.T) {
	tr := &fakeTransport{}
	o := newTestOrchestrator(t, Config{}, tr, &fakeSTT{text: "hello"},
		&fakeTTS{err: errors.New("tts down")}, &fakeAgent{reply: "hi"})

	o.handleUtterance(context.Background(), oneUtterance(1))

	if n := len(tr.decoded(t)); n != 0 {
		t.Fatalf("sent %d packets despite synthesis failure", n)
	}
}

func TestEmptyTranscriptionIsIgnored(t *testing.T) {
	tr := &fakeTransport{}
	tts := &fakeTTS{}
	o := newTestOrchestrator(t, Config{}, tr, &fakeSTT{text: "   "}, tts, &fakeAgent{reply: "hi"})

	o.handleUtterance(context.Background(), oneUtterance(1))

	if len(tts.calls) != 0 {
		t.Fatalf("tts called %d times for silence", len(tts.calls))
	}
}

func TestConversationCarriesSpeakerAndHistory(t *testing.T) {
	dir := t.TempDir()
	tr := &fakeTransport{}
	rep := &fakeAgent{reply: "second answer"}
	o := newTestOrchestrator(t, Config{HistoryDir: dir}, tr, &fakeSTT{text: "first question"}, &fakeTTS{}, rep)

	o.handleUtterance(context.Background(), oneUtterance(9))
	o.handleUtterance(context.Background(), oneUtterance(9))

	msgs := rep.got
	if msgs[0].Role != agent.RoleSystem {
		t.Fatalf("first message role=%s", msgs[0].Role)
	}
	// System prompt, two history turns from round one, new utterance.
	if len(msgs) != 4 {
		t.Fatalf("messages=%d, want 4: %+v", len(msgs), msgs)
	}
	if !strings.Contains(msgs[1].Content, "speaker 9 says: first question") {
		t.Errorf("history user turn=%q", msgs[1].Content)
	}
	if msgs[2].Role != agent.RoleAssistant || msgs[2].Content != "second answer" {
		t.Errorf("history assistant turn=%+v", msgs[2])
	}
	if !strings.Contains(msgs[3].Content, "speaker 9 says:") {
		t.Errorf("current turn=%q", msgs[3].Content)
	}
}

func TestMarkdownReplyIsSanitizedBeforeSpeech(t *testing.T) {
	tr := &fakeTransport{}
	tts := &fakeTTS{}
	o := newTestOrchestrator(t, Config{}, tr, &fakeSTT{text: "hello"}, tts,
		&fakeAgent{reply: "**Sure!** See [docs](http://x) for `details`."})

	o.handleUtterance(context.Background(), oneUtterance(1))

	if len(tts.calls) != 1 || tts.calls[0] != "Sure! See docs for details." {
		t.Fatalf("tts got %v", tts.calls)
	}
}

func TestSpeakTargetsWhisperGroup(t *testing.T) {
	tr := &fakeTransport{}
	tts := &fakeTTS{}
	o := newTestOrchestrator(t, Config{Voice: "default-v"}, tr, &fakeSTT{}, tts, &fakeAgent{})

	if err := o.Speak(context.Background(), "announcement", "", 5); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	pkts := tr.decoded(t)
	if len(pkts) == 0 {
		t.Fatal("no packets sent")
	}
	for i, pkt := range pkts {
		if pkt.Target != 5 {
			t.Errorf("packet %d target=%d, want 5", i, pkt.Target)
		}
	}
	if tts.voices[0] != "default-v" {
		t.Errorf("voice=%q, want configured default", tts.voices[0])
	}
	if !pkts[len(pkts)-1].Terminator {
		t.Error("final packet lacks terminator")
	}
}

func TestRunStopsWhenChannelCloses(t *testing.T) {
	tr := &fakeTransport{}
	o := newTestOrchestrator(t, Config{}, tr, &fakeSTT{text: ""}, &fakeTTS{}, &fakeAgent{})

	ch := make(chan session.Utterance)
	done := make(chan struct{})
	go func() {
		o.Run(context.Background(), ch)
		close(done)
	}()
	close(ch)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}
}
