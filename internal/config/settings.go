// Package config loads bench settings from a JSON file. All fields are
// optional; the Get methods fall back to defaults so a partial file is safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Settings is the on-disk bench configuration. The same file can seed the
// command line tools so repeated runs against one deployment share a single
// definition of the environment.
type Settings struct {
	// DeviceURL is the base URL of the device control endpoint.
	DeviceURL *string `json:"device_url,omitempty"`
	// Mount is the recording mount point the disk writer records under.
	Mount *string `json:"mount,omitempty"`
	// SubsystemID is the subsystem path component of recordings.
	SubsystemID *string `json:"subsystem_id,omitempty"`

	// DataHost and DataPort are the UDP data receiver endpoint.
	DataHost *string `json:"data_host,omitempty"`
	DataPort *int    `json:"data_port,omitempty"`

	// BeamID selects the beam configurations are generated for.
	BeamID *int `json:"beam_id,omitempty"`
	// FrequencyBand selects the band table (low, 1..5b).
	FrequencyBand *string `json:"frequency_band,omitempty"`
	// Scanlen is the default scan length in seconds.
	Scanlen *float64 `json:"scanlen,omitempty"`

	// CommandTimeout bounds device command completion, as a duration
	// string like "5s".
	CommandTimeout *string `json:"command_timeout,omitempty"`

	// SessionDB is the path of the session database.
	SessionDB *string `json:"session_db,omitempty"`
}

// Load reads and validates a settings file.
func Load(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("settings file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat settings file: %w", err)
	}
	const maxFileSize = 1 << 20
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("settings file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

// Validate checks the settings values that can be checked without the
// environment they describe.
func (s *Settings) Validate() error {
	if s.DataPort != nil && (*s.DataPort <= 0 || *s.DataPort > 65535) {
		return fmt.Errorf("data_port must be within (0, 65535], got %d", *s.DataPort)
	}
	if s.Scanlen != nil && *s.Scanlen <= 0 {
		return fmt.Errorf("scanlen must be positive, got %v", *s.Scanlen)
	}
	if s.CommandTimeout != nil && *s.CommandTimeout != "" {
		if _, err := time.ParseDuration(*s.CommandTimeout); err != nil {
			return fmt.Errorf("invalid command_timeout %q: %w", *s.CommandTimeout, err)
		}
	}
	return nil
}

// GetDeviceURL returns the device URL or the default local endpoint.
func (s *Settings) GetDeviceURL() string {
	if s.DeviceURL == nil {
		return "http://127.0.0.1:8080"
	}
	return *s.DeviceURL
}

// GetMount returns the recording mount or the default.
func (s *Settings) GetMount() string {
	if s.Mount == nil {
		return "/mnt/lfs"
	}
	return *s.Mount
}

// GetSubsystemID returns the subsystem id or the default.
func (s *Settings) GetSubsystemID() string {
	if s.SubsystemID == nil {
		return "pst-low"
	}
	return *s.SubsystemID
}

// GetDataHost returns the data receiver host or the default.
func (s *Settings) GetDataHost() string {
	if s.DataHost == nil {
		return "127.0.0.1"
	}
	return *s.DataHost
}

// GetDataPort returns the data receiver port or the default.
func (s *Settings) GetDataPort() int {
	if s.DataPort == nil {
		return 10000
	}
	return *s.DataPort
}

// GetBeamID returns the beam id or the default.
func (s *Settings) GetBeamID() int {
	if s.BeamID == nil {
		return 1
	}
	return *s.BeamID
}

// GetFrequencyBand returns the frequency band or the default.
func (s *Settings) GetFrequencyBand() string {
	if s.FrequencyBand == nil {
		return "low"
	}
	return *s.FrequencyBand
}

// GetScanlen returns the default scan length in seconds.
func (s *Settings) GetScanlen() float64 {
	if s.Scanlen == nil {
		return 10
	}
	return *s.Scanlen
}

// GetCommandTimeout returns the command timeout or the default.
func (s *Settings) GetCommandTimeout() time.Duration {
	if s.CommandTimeout == nil || *s.CommandTimeout == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*s.CommandTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetSessionDB returns the session database path, or empty when sessions
// are not recorded.
func (s *Settings) GetSessionDB() string {
	if s.SessionDB == nil {
		return ""
	}
	return *s.SessionDB
}
