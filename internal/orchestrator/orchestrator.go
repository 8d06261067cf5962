package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicebridge/murmur-agent/internal/agent"
	"github.com/voicebridge/murmur-agent/internal/sanitize"
	"github.com/voicebridge/murmur-agent/internal/session"
	"github.com/voicebridge/murmur-agent/internal/storage"
	"github.com/voicebridge/murmur-agent/internal/transport/murmur"
	"github.com/voicebridge/murmur-agent/pkg/audio"
)

// Transport carries encoded voice packets back to the channel.
type Transport interface {
	WriteAudio(ctx context.Context, packet []byte) error
}

// Transcriber turns WAV audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Synthesizer turns text into PCM16 at some sample rate.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]int16, int, error)
}

// Replier produces the agent's next turn from the conversation so far.
type Replier interface {
	Complete(ctx context.Context, messages []agent.Message) (string, error)
}

// EventSink receives pipeline progress events. A nil sink is fine.
type EventSink interface {
	Publish(event string, data any)
}

// Config holds orchestration policy.
type Config struct {
	Bitrate      int
	Apology      string
	SystemPrompt string
	HistoryDir   string
	HistoryTurns int
	Voice        string
}

const (
	defaultApology      = "Sorry, I didn't catch that."
	defaultSystemPrompt = "You are a helpful voice assistant in a group voice channel. " +
		"Keep replies short and conversational; they will be read aloud."
	defaultHistoryTurns = 20
)

// Orchestrator drives the listen-think-speak loop: utterances come in
// from the segmenter, replies go back out as paced opus frames.
// Utterances are handled one at a time so the agent never talks over
// itself.
type Orchestrator struct {
	logger *zap.Logger
	cfg    Config

	transport Transport
	stt       Transcriber
	tts       Synthesizer
	agent     Replier
	events    EventSink

	enc *audio.Encoder

	// pace is the inter-frame transmit delay. Tests shrink it.
	pace time.Duration

	// sayMu serializes playback so a control-API Speak cannot
	// interleave frames with an in-flight reply.
	sayMu sync.Mutex
	seq   uint32
}

// New wires an orchestrator. The encoder is created eagerly so a
// broken opus setup fails at startup, not mid-conversation.
func New(cfg Config, transport Transport, stt Transcriber, tts Synthesizer, replier Replier, events EventSink, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Apology == "" {
		cfg.Apology = defaultApology
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = defaultHistoryTurns
	}

	enc, err := audio.NewEncoder(cfg.Bitrate)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	return &Orchestrator{
		logger:    logger,
		cfg:       cfg,
		transport: transport,
		stt:       stt,
		tts:       tts,
		agent:     replier,
		events:    events,
		enc:       enc,
		pace:      audio.FrameDurationMs * time.Millisecond,
	}, nil
}

// Run consumes utterances until the channel closes or ctx is done.
func (o *Orchestrator) Run(ctx context.Context, utterances <-chan session.Utterance) {
	for {
		select {
		case <-ctx.Done():
			return
		case utt, ok := <-utterances:
			if !ok {
				return
			}
			o.handleUtterance(ctx, utt)
		}
	}
}

func (o *Orchestrator) handleUtterance(ctx context.Context, utt session.Utterance) {
	log := o.logger.With(
		zap.String("utterance", utt.ID),
		zap.Uint32("source", utt.Source))
	log.Info("handling utterance", zap.Duration("duration", utt.Duration))
	o.publish("utterance", map[string]any{
		"id":          utt.ID,
		"source":      utt.Source,
		"duration_ms": utt.Duration.Milliseconds(),
	})

	wav := audio.EncodeWAV(utt.PCM, audio.SampleRate)
	text, err := o.stt.Transcribe(ctx, wav)
	if err != nil {
		log.Error("transcription failed", zap.Error(err))
		o.apologize(ctx)
		return
	}
	text = sanitize.ForSpeech(text)
	if text == "" {
		log.Debug("empty transcription, nothing to answer")
		return
	}
	log.Info("transcribed", zap.String("text", text))
	o.publish("transcription", map[string]any{"id": utt.ID, "text": text})

	speaker := fmt.Sprintf("speaker %d", utt.Source)
	key := routingKey(utt.Source)

	reply, err := o.agent.Complete(ctx, o.buildConversation(key, speaker, text))
	if err != nil {
		log.Error("agent reply failed", zap.Error(err))
		o.apologize(ctx)
		return
	}

	if o.cfg.HistoryDir != "" {
		if err := storage.AppendTurns(o.cfg.HistoryDir, key,
			storage.Turn{Role: agent.RoleUser, Content: text, Speaker: speaker, Utterance: utt.ID},
			storage.Turn{Role: agent.RoleAssistant, Content: reply},
		); err != nil {
			log.Warn("append transcript", zap.Error(err))
		}
	}

	spoken := sanitize.ForSpeech(reply)
	if spoken == "" {
		log.Debug("reply reduced to nothing speakable")
		return
	}
	o.publish("reply", map[string]any{"id": utt.ID, "text": spoken})

	if err := o.say(ctx, spoken, o.cfg.Voice, murmur.TargetNormal); err != nil {
		log.Error("reply playback failed", zap.Error(err))
	}
}

// buildConversation assembles the chat turns: system prompt, recent
// transcript, then the new utterance tagged with its speaker.
func (o *Orchestrator) buildConversation(key, speaker, text string) []agent.Message {
	messages := []agent.Message{{Role: agent.RoleSystem, Content: o.cfg.SystemPrompt}}
	if o.cfg.HistoryDir != "" {
		for _, turn := range storage.RecentTurns(o.cfg.HistoryDir, key, o.cfg.HistoryTurns) {
			content := turn.Content
			if turn.Role == agent.RoleUser && turn.Speaker != "" {
				content = turn.Speaker + " says: " + content
			}
			messages = append(messages, agent.Message{Role: turn.Role, Content: content})
		}
	}
	messages = append(messages, agent.Message{Role: agent.RoleUser, Content: speaker + " says: " + text})
	return messages
}

// Speak synthesizes text and plays it into the channel, bypassing the
// listening half of the pipeline. Used by the control API.
func (o *Orchestrator) Speak(ctx context.Context, text, voice string, target uint8) error {
	spoken := sanitize.ForSpeech(text)
	if spoken == "" {
		return fmt.Errorf("orchestrator: nothing speakable")
	}
	if voice == "" {
		voice = o.cfg.Voice
	}
	return o.say(ctx, spoken, voice, target)
}

// apologize plays the configured apology line. A failure here is only
// logged; there is no further fallback.
func (o *Orchestrator) apologize(ctx context.Context) {
	if err := o.say(ctx, o.cfg.Apology, o.cfg.Voice, murmur.TargetNormal); err != nil {
		o.logger.Error("apology playback failed", zap.Error(err))
	}
}

// say runs synthesis through transmission. Every frame is encoded
// before the first packet is written: a synthesis or encode failure
// must abort with no audio sent, never leave a half-spoken reply in
// the channel.
func (o *Orchestrator) say(ctx context.Context, text, voice string, target uint8) error {
	o.sayMu.Lock()
	defer o.sayMu.Unlock()

	pcm, rate, err := o.tts.Synthesize(ctx, text, voice)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	if rate != audio.SampleRate {
		pcm = audio.Resample(pcm, rate, audio.SampleRate)
	}

	blocks := audio.ChunkFrames(pcm, audio.FrameSize)
	if len(blocks) == 0 {
		return fmt.Errorf("synthesis produced no audio")
	}

	packets := make([][]byte, 0, len(blocks))
	for i, block := range blocks {
		payload, err := o.enc.Encode(block)
		if err != nil {
			return fmt.Errorf("encode frame %d/%d: %w", i+1, len(blocks), err)
		}
		pkt := murmur.AudioPacket{
			Codec:      murmur.CodecOpus,
			Target:     target,
			Sequence:   o.seq,
			Payload:    payload,
			Terminator: i == len(blocks)-1,
		}
		o.seq++
		wire, err := pkt.EncodePacket()
		if err != nil {
			return fmt.Errorf("pack frame %d/%d: %w", i+1, len(blocks), err)
		}
		packets = append(packets, wire)
	}

	o.publish("speaking", map[string]any{
		"frames":      len(packets),
		"duration_ms": len(packets) * audio.FrameDurationMs,
		"target":      target,
	})
	start := time.Now()
	for _, wire := range packets {
		if err := o.transport.WriteAudio(ctx, wire); err != nil {
			return fmt.Errorf("transmit: %w", err)
		}
		if o.pace > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.pace):
			}
		}
	}
	o.logger.Info("reply spoken",
		zap.Int("frames", len(packets)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (o *Orchestrator) publish(event string, data any) {
	if o.events != nil {
		o.events.Publish(event, data)
	}
}

func routingKey(source uint32) string {
	return fmt.Sprintf("speaker-%d", source)
}
