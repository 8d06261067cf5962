package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	appdefaults "github.com/voicebridge/murmur-agent/config"

	"github.com/spf13/viper"

	"github.com/voicebridge/murmur-agent/internal/logger"
)

// ServerConfig points at the voice server's control channel.
type ServerConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	TLSEnabled    bool   `mapstructure:"tls_enabled"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
	TimeoutMs     int    `mapstructure:"timeout_ms"`
}

// Addr joins host and port for dialing.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// AudioConfig fixes the voice channel sound format.
type AudioConfig struct {
	SampleRate      int `mapstructure:"sample_rate"`
	FrameDurationMs int `mapstructure:"frame_duration_ms"`
	Bitrate         int `mapstructure:"bitrate"`
	SynthSampleRate int `mapstructure:"synth_sample_rate"`
}

// SegmenterConfig controls speech segmentation policy.
type SegmenterConfig struct {
	MinSpeechMs      int      `mapstructure:"min_speech_ms"`
	SilenceTimeoutMs int      `mapstructure:"silence_timeout_ms"`
	AllowedSpeakers  []uint32 `mapstructure:"allowed_speakers"`
	QueueSize        int      `mapstructure:"queue_size"`
}

// STTConfig points at the transcription endpoint.
type STTConfig struct {
	URL       string `mapstructure:"url"`
	Language  string `mapstructure:"language"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// TTSConfig points at the synthesis endpoint.
type TTSConfig struct {
	URL       string `mapstructure:"url"`
	Voice     string `mapstructure:"voice"`
	Model     string `mapstructure:"model"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// AgentConfig points at the conversational backend.
type AgentConfig struct {
	URL          string `mapstructure:"url"`
	Model        string `mapstructure:"model"`
	APIKey       string `mapstructure:"api_key"`
	TimeoutMs    int    `mapstructure:"timeout_ms"`
	Apology      string `mapstructure:"apology"`
	SystemPrompt string `mapstructure:"system_prompt"`
	HistoryTurns int    `mapstructure:"history_turns"`
}

// Config is the full runtime configuration.
type Config struct {
	RootDir    string          `mapstructure:"-"`
	HTTPAddr   string          `mapstructure:"http_addr"`
	HTTPHost   string          `mapstructure:"http_host"`
	HTTPPort   int             `mapstructure:"http_port"`
	HistoryDir string          `mapstructure:"history_dir"`
	VoicesDir  string          `mapstructure:"voices_dir"`
	Server     ServerConfig    `mapstructure:"server"`
	Audio      AudioConfig     `mapstructure:"audio"`
	Segmenter  SegmenterConfig `mapstructure:"segmenter"`
	STT        STTConfig       `mapstructure:"stt"`
	TTS        TTSConfig       `mapstructure:"tts"`
	Agent      AgentConfig     `mapstructure:"agent"`
	Log        logger.Config   `mapstructure:"log"`
}

// Load reads conf.yaml from the project root on top of the embedded
// defaults. Environment variables prefixed MURMUR_ override both.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v := newViper()
	v.SetConfigName("conf")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}
	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	return finish(v, rootDir)
}

// LoadConfig reads an explicit config file; an empty path falls back
// to Load.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv("MURMUR_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v := newViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}

	return finish(v, rootDir)
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("http_addr", "")
	v.SetDefault("http_port", 8100)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 64738)
	v.SetDefault("server.tls_enabled", true)
	v.SetDefault("server.tls_skip_verify", false)
	v.SetDefault("server.timeout_ms", 10000)
	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.frame_duration_ms", 20)
	v.SetDefault("audio.bitrate", 40000)
	v.SetDefault("audio.synth_sample_rate", 24000)
	v.SetDefault("segmenter.min_speech_ms", 250)
	v.SetDefault("segmenter.silence_timeout_ms", 1000)
	v.SetDefault("segmenter.queue_size", 8)
	v.SetDefault("stt.timeout_ms", 30000)
	v.SetDefault("tts.timeout_ms", 60000)
	v.SetDefault("agent.timeout_ms", 60000)
	v.SetDefault("agent.history_turns", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.enabled", true)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "murmur-agent.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)

	v.SetEnvPrefix("murmur")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func finish(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)
	return cfg, nil
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	port := cfg.HTTPPort
	if port == 0 {
		port = 8100
	}
	if cfg.HTTPHost == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(cfg.HTTPHost, strconv.Itoa(port))
}

func derivePaths(cfg *Config) {
	cfg.HistoryDir = resolvePath(cfg.RootDir, cfg.HistoryDir, filepath.Join("data", "history"))
	cfg.VoicesDir = resolvePath(cfg.RootDir, cfg.VoicesDir, "voices")
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("MURMUR_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
