package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicebridge/murmur-agent/internal/session/fsm"
	"github.com/voicebridge/murmur-agent/internal/transport/murmur"
	"github.com/voicebridge/murmur-agent/pkg/audio"
)

// Utterance is one contiguous stretch of speech from a single speaker,
// decoded to PCM16 at the voice channel rate.
type Utterance struct {
	ID         string
	Source     uint32
	PCM        []int16
	Duration   time.Duration
	Terminated bool
}

// Config controls segmentation policy.
type Config struct {
	// MinSpeechMs gates forwarding. Shorter utterances still complete
	// the flush cycle but are discarded instead of emitted.
	MinSpeechMs int
	// SilenceTimeoutMs flushes a speaker who stops sending without a
	// terminator frame.
	SilenceTimeoutMs int
	// AllowedSpeakers limits forwarding to the listed session IDs.
	// Empty means every speaker is forwarded.
	AllowedSpeakers []uint32
	// QueueSize bounds the utterance channel. At capacity new
	// utterances are dropped, never blocked on.
	QueueSize int
}

const (
	defaultMinSpeechMs      = 250
	defaultSilenceTimeoutMs = 1000
	defaultQueueSize        = 8
)

type frameDecoder interface {
	Decode(payload []byte) ([]int16, error)
}

type speakerSession struct {
	source  uint32
	dec     frameDecoder
	machine *fsm.Machine
	pcm     []int16
	lastSeq uint32
	timer   *time.Timer
	gen     uint64
}

// Segmenter reassembles per-speaker voice packets into utterances.
// Speakers are isolated: each source ID gets its own decoder, buffer
// and silence timer, so interleaved packets from different speakers
// never mix.
type Segmenter struct {
	logger *zap.Logger
	cfg    Config

	allowed    map[uint32]struct{}
	newDecoder func() (frameDecoder, error)

	mu       sync.Mutex
	sessions map[uint32]*speakerSession
	closed   bool

	out chan Utterance
}

// NewSegmenter creates a segmenter with the given policy. Zero config
// values take defaults.
func NewSegmenter(cfg Config, logger *zap.Logger) *Segmenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinSpeechMs <= 0 {
		cfg.MinSpeechMs = defaultMinSpeechMs
	}
	if cfg.SilenceTimeoutMs <= 0 {
		cfg.SilenceTimeoutMs = defaultSilenceTimeoutMs
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	var allowed map[uint32]struct{}
	if len(cfg.AllowedSpeakers) > 0 {
		allowed = make(map[uint32]struct{}, len(cfg.AllowedSpeakers))
		for _, id := range cfg.AllowedSpeakers {
			allowed[id] = struct{}{}
		}
	}

	return &Segmenter{
		logger:  logger,
		cfg:     cfg,
		allowed: allowed,
		newDecoder: func() (frameDecoder, error) {
			return audio.NewDecoder()
		},
		sessions: make(map[uint32]*speakerSession),
		out:      make(chan Utterance, cfg.QueueSize),
	}
}

// Utterances is the stream of completed speech segments.
func (s *Segmenter) Utterances() <-chan Utterance {
	return s.out
}

// Process feeds one decoded voice packet into the speaker's session.
// Non-opus packets are ignored. A payload the decoder rejects is
// dropped without disturbing the session.
func (s *Segmenter) Process(pkt murmur.AudioPacket) {
	if pkt.Codec != murmur.CodecOpus {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	sess, ok := s.sessions[pkt.Source]
	if !ok {
		dec, err := s.newDecoder()
		if err != nil {
			s.logger.Error("create decoder for speaker",
				zap.Uint32("source", pkt.Source), zap.Error(err))
			return
		}
		sess = &speakerSession{
			source:  pkt.Source,
			dec:     dec,
			machine: fsm.New(),
		}
		s.sessions[pkt.Source] = sess
		s.logger.Info("speaker session opened", zap.Uint32("source", pkt.Source))
	}
	sess.lastSeq = pkt.Sequence

	if len(pkt.Payload) > 0 {
		pcm, err := sess.dec.Decode(pkt.Payload)
		if err != nil {
			s.logger.Warn("drop undecodable frame",
				zap.Uint32("source", pkt.Source), zap.Error(err))
		} else {
			sess.pcm = append(sess.pcm, pcm...)
			sess.machine.OnSpeech()
		}
	}

	if pkt.Terminator {
		s.stopTimer(sess)
		s.flushLocked(sess, true)
		return
	}

	if sess.machine.State() == fsm.StateAccumulating {
		s.armTimer(sess)
	}
}

// Reset discards every in-progress session without emitting anything.
// Used when the upstream connection drops: partial audio from a dead
// connection must not reach the agent.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		s.stopTimer(sess)
	}
	s.sessions = make(map[uint32]*speakerSession)
}

// Close resets all sessions and closes the utterance channel.
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, sess := range s.sessions {
		s.stopTimer(sess)
	}
	s.sessions = make(map[uint32]*speakerSession)
	close(s.out)
}

// armTimer restarts the silence countdown. gen guards against a timer
// that fires after it was superseded.
func (s *Segmenter) armTimer(sess *speakerSession) {
	s.stopTimer(sess)
	sess.gen++
	gen := sess.gen
	source := sess.source
	sess.timer = time.AfterFunc(time.Duration(s.cfg.SilenceTimeoutMs)*time.Millisecond, func() {
		s.onSilence(source, gen)
	})
}

func (s *Segmenter) stopTimer(sess *speakerSession) {
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
}

func (s *Segmenter) onSilence(source uint32, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	sess, ok := s.sessions[source]
	if !ok || sess.gen != gen {
		return
	}
	sess.timer = nil
	s.flushLocked(sess, false)
}

// flushLocked completes the speaker's accumulation cycle. Every flush
// resets the session to idle; forwarding is a separate decision made
// by the policy gates. Callers must hold s.mu.
func (s *Segmenter) flushLocked(sess *speakerSession, terminated bool) {
	pcm := sess.pcm
	sess.pcm = nil
	sess.machine.OnFlush()
	sess.machine.OnReset()

	if len(pcm) == 0 {
		return
	}

	duration := time.Duration(len(pcm)) * time.Second / audio.SampleRate

	if duration < time.Duration(s.cfg.MinSpeechMs)*time.Millisecond {
		s.logger.Debug("utterance below minimum speech duration",
			zap.Uint32("source", sess.source),
			zap.Duration("duration", duration))
		return
	}
	if s.allowed != nil {
		if _, ok := s.allowed[sess.source]; !ok {
			s.logger.Debug("speaker not on allow list",
				zap.Uint32("source", sess.source))
			return
		}
	}

	utt := Utterance{
		ID:         uuid.NewString(),
		Source:     sess.source,
		PCM:        pcm,
		Duration:   duration,
		Terminated: terminated,
	}

	select {
	case s.out <- utt:
		s.logger.Info("utterance flushed",
			zap.String("id", utt.ID),
			zap.Uint32("source", utt.Source),
			zap.Duration("duration", duration),
			zap.Bool("terminated", terminated))
	default:
		s.logger.Warn("utterance queue full, dropping",
			zap.Uint32("source", sess.source),
			zap.Duration("duration", duration))
	}
}

// Sessions reports the currently open speaker sessions.
func (s *Segmenter) Sessions() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, SessionInfo{
			Source:       sess.source,
			State:        string(sess.machine.State()),
			BufferedMs:   int(time.Duration(len(sess.pcm)) * time.Second / audio.SampleRate / time.Millisecond),
			LastSequence: sess.lastSeq,
		})
	}
	return infos
}

// SessionInfo is a point-in-time view of one speaker session.
type SessionInfo struct {
	Source       uint32 `json:"source"`
	State        string `json:"state"`
	BufferedMs   int    `json:"buffered_ms"`
	LastSequence uint32 `json:"last_sequence"`
}
