package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Turn is one conversational exchange entry in a transcript.
type Turn struct {
	Role      string `json:"role"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content,omitempty"`
	Speaker   string `json:"speaker,omitempty"`
	Utterance string `json:"utterance_id,omitempty"`
}

// TranscriptInfo summarizes one stored transcript.
type TranscriptInfo struct {
	Key        string `json:"key"`
	LatestTurn Turn   `json:"latest_turn"`
	Timestamp  string `json:"timestamp"`
}

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// NewTranscriptKey derives a fresh transcript key.
func NewTranscriptKey() string {
	return time.Now().Format("2006-01-02_15-04-05") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// AppendTurns adds turns to the transcript for key, creating it on
// first use.
func AppendTurns(baseDir, key string, turns ...Turn) error {
	path, err := transcriptPath(baseDir, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	existing, err := readTranscript(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	now := time.Now().Format(time.RFC3339)
	for i := range turns {
		if turns[i].Timestamp == "" {
			turns[i].Timestamp = now
		}
	}
	return writeTranscript(path, append(existing, turns...))
}

// GetTranscript returns every turn stored for key, oldest first.
func GetTranscript(baseDir, key string) ([]Turn, error) {
	path, err := transcriptPath(baseDir, key)
	if err != nil {
		return nil, err
	}
	return readTranscript(path)
}

// RecentTurns returns up to n of the newest turns for key, oldest
// first. A missing transcript yields an empty slice.
func RecentTurns(baseDir, key string, n int) []Turn {
	turns, err := GetTranscript(baseDir, key)
	if err != nil || n <= 0 {
		return nil
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}

// DeleteTranscript removes the transcript for key, reporting whether
// anything was deleted.
func DeleteTranscript(baseDir, key string) bool {
	path, err := transcriptPath(baseDir, key)
	if err != nil {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return os.Remove(path) == nil
}

// ListTranscripts returns the stored transcripts, newest first.
func ListTranscripts(baseDir string) []TranscriptInfo {
	list := []TranscriptInfo{}
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return list
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), ".json")
		turns, err := readTranscript(filepath.Join(baseDir, entry.Name()))
		if err != nil || len(turns) == 0 {
			continue
		}
		latest := turns[len(turns)-1]
		list = append(list, TranscriptInfo{
			Key:        key,
			LatestTurn: latest,
			Timestamp:  latest.Timestamp,
		})
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Timestamp > list[j].Timestamp
	})
	return list
}

func transcriptPath(baseDir, key string) (string, error) {
	if baseDir == "" {
		return "", errors.New("transcript base dir is empty")
	}
	if !safeNamePattern.MatchString(key) {
		return "", errors.New("invalid transcript key")
	}
	return filepath.Join(baseDir, key+".json"), nil
}

func readTranscript(path string) ([]Turn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

func writeTranscript(path string, turns []Turn) error {
	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
