package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// VoiceProfile describes one selectable synthesis voice.
type VoiceProfile struct {
	Name        string `json:"name" yaml:"name"`
	Voice       string `json:"voice" yaml:"voice"`
	Model       string `json:"model,omitempty" yaml:"model"`
	Description string `json:"description,omitempty" yaml:"description"`
}

type voiceProfilePayload struct {
	VoiceProfile VoiceProfile `yaml:"voice_profile"`
}

// ReadVoiceProfile loads a single profile file. A profile without an
// explicit name takes its filename.
func ReadVoiceProfile(path string) (VoiceProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return VoiceProfile{}, err
	}
	var payload voiceProfilePayload
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return VoiceProfile{}, err
	}
	profile := payload.VoiceProfile
	if profile.Name == "" {
		profile.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return profile, nil
}

// ScanVoiceProfiles lists every readable profile under dir. A missing
// or empty directory yields an empty list, not an error.
func ScanVoiceProfiles(dir string) []VoiceProfile {
	profiles := []VoiceProfile{}
	if dir == "" {
		return profiles
	}
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d == nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			return nil
		}
		profile, err := ReadVoiceProfile(path)
		if err != nil {
			return nil
		}
		profiles = append(profiles, profile)
		return nil
	})
	return profiles
}
