package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/facecap/internal/mocap/protocol"
	"github.com/banshee-data/facecap/internal/mocap/retarget"
	"github.com/banshee-data/facecap/internal/mocap/rig/servohead"
)

// Settings is the root of the settings file. Every field is optional; the
// Get* methods supply defaults for anything left out, so partial files are
// safe.
type Settings struct {
	// Receiver
	Port         *int    `json:"port,omitempty" yaml:"port,omitempty"`
	BindAddress  *string `json:"bind_address,omitempty" yaml:"bind_address,omitempty"`
	SenderFilter *string `json:"sender_filter,omitempty" yaml:"sender_filter,omitempty"`
	RcvBuf       *int    `json:"rcvbuf,omitempty" yaml:"rcvbuf,omitempty"`
	LogInterval  *string `json:"log_interval,omitempty" yaml:"log_interval,omitempty"` // duration string like "1m"

	// Retargeting
	MirrorEyes         *bool          `json:"mirror_eyes,omitempty" yaml:"mirror_eyes,omitempty"`
	AnglesInRadians    *bool          `json:"angles_in_radians,omitempty" yaml:"angles_in_radians,omitempty"`
	PitchIndex         *int           `json:"pitch_index,omitempty" yaml:"pitch_index,omitempty"`
	YawIndex           *int           `json:"yaw_index,omitempty" yaml:"yaw_index,omitempty"`
	RollIndex          *int           `json:"roll_index,omitempty" yaml:"roll_index,omitempty"`
	RotationMultiplier *retarget.Vec3 `json:"rotation_multiplier,omitempty" yaml:"rotation_multiplier,omitempty"`
	Sensitivity        *float64       `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty"`
	ManualOffset       *retarget.Vec3 `json:"manual_offset,omitempty" yaml:"manual_offset,omitempty"`
	TickRate           *float64       `json:"tick_hz,omitempty" yaml:"tick_hz,omitempty"`

	// CalibrateNow requests one calibration each time the file is loaded.
	CalibrateNow *bool `json:"calibrate_now,omitempty" yaml:"calibrate_now,omitempty"`

	// Outputs
	Listen      *string                `json:"listen,omitempty" yaml:"listen,omitempty"`
	GRPCListen  *string                `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`
	DBPath      *string                `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	Record      *bool                  `json:"record,omitempty" yaml:"record,omitempty"`
	RelayAddr   *string                `json:"relay_addr,omitempty" yaml:"relay_addr,omitempty"`
	RelayPort   *int                   `json:"relay_port,omitempty" yaml:"relay_port,omitempty"`
	ServoPort   *string                `json:"servo_port,omitempty" yaml:"servo_port,omitempty"`
	ServoSerial *servohead.PortOptions `json:"servo_serial,omitempty" yaml:"servo_serial,omitempty"`
	ServoLimits *servohead.Limits      `json:"servo_limits,omitempty" yaml:"servo_limits,omitempty"`
	ServoRate   *float64               `json:"servo_rate_hz,omitempty" yaml:"servo_rate_hz,omitempty"`
	RigShapes   []string               `json:"rig_shapes,omitempty" yaml:"rig_shapes,omitempty"`
}

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Load reads a settings file. The format follows the extension: .json, or
// .yaml/.yml.
func Load(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data, ext)
}

// Parse decodes and validates settings in the format named by ext. Unknown
// keys are rejected so a misspelt setting is not silently ignored.
func Parse(data []byte, ext string) (*Settings, error) {
	s := &Settings{}
	switch ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(s); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty document leaves every setting at its default.
		if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

// Validate checks the values that are set.
func (s *Settings) Validate() error {
	if s.Port != nil && (*s.Port < 0 || *s.Port > 65535) {
		return fmt.Errorf("port must be between 0 and 65535, got %d", *s.Port)
	}
	if s.RelayPort != nil && (*s.RelayPort < 1 || *s.RelayPort > 65535) {
		return fmt.Errorf("relay_port must be between 1 and 65535, got %d", *s.RelayPort)
	}
	if s.SenderFilter != nil && *s.SenderFilter != "" && net.ParseIP(*s.SenderFilter) == nil {
		return fmt.Errorf("sender_filter must be an IP address, got %q", *s.SenderFilter)
	}
	if s.BindAddress != nil && *s.BindAddress != "" && net.ParseIP(*s.BindAddress) == nil {
		return fmt.Errorf("bind_address must be an IP address, got %q", *s.BindAddress)
	}
	if s.RcvBuf != nil && *s.RcvBuf < 0 {
		return fmt.Errorf("rcvbuf must be non-negative, got %d", *s.RcvBuf)
	}
	if s.LogInterval != nil && *s.LogInterval != "" {
		if d, err := time.ParseDuration(*s.LogInterval); err != nil {
			return fmt.Errorf("invalid log_interval '%s': %w", *s.LogInterval, err)
		} else if d <= 0 {
			return fmt.Errorf("log_interval must be positive, got %s", d)
		}
	}
	for name, idx := range map[string]*int{"pitch_index": s.PitchIndex, "yaw_index": s.YawIndex, "roll_index": s.RollIndex} {
		if idx != nil && *idx < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *idx)
		}
	}
	if s.Sensitivity != nil && *s.Sensitivity < 0 {
		return fmt.Errorf("sensitivity must be non-negative, got %f", *s.Sensitivity)
	}
	if s.TickRate != nil && (*s.TickRate <= 0 || *s.TickRate > 1000) {
		return fmt.Errorf("tick_hz must be in (0, 1000], got %f", *s.TickRate)
	}
	if s.ServoRate != nil && *s.ServoRate <= 0 {
		return fmt.Errorf("servo_rate_hz must be positive, got %f", *s.ServoRate)
	}
	if s.ServoSerial != nil {
		if _, err := s.ServoSerial.Normalize(); err != nil {
			return fmt.Errorf("servo_serial: %w", err)
		}
	}
	if s.ServoLimits != nil {
		l := *s.ServoLimits
		if l.Pitch < 0 || l.Yaw < 0 || l.Roll < 0 {
			return fmt.Errorf("servo_limits must be non-negative, got %+v", l)
		}
	}
	return nil
}

// RetargetConfig projects the retargeting settings over the defaults.
func (s *Settings) RetargetConfig() retarget.Config {
	cfg := retarget.DefaultConfig()
	if s.MirrorEyes != nil {
		cfg.MirrorEyes = *s.MirrorEyes
	}
	if s.AnglesInRadians != nil {
		cfg.AnglesInRadians = *s.AnglesInRadians
	}
	if s.PitchIndex != nil {
		cfg.PitchIndex = *s.PitchIndex
	}
	if s.YawIndex != nil {
		cfg.YawIndex = *s.YawIndex
	}
	if s.RollIndex != nil {
		cfg.RollIndex = *s.RollIndex
	}
	if s.RotationMultiplier != nil {
		cfg.RotationMultiplier = *s.RotationMultiplier
	}
	if s.Sensitivity != nil {
		cfg.Sensitivity = *s.Sensitivity
	}
	if s.ManualOffset != nil {
		cfg.ManualOffset = *s.ManualOffset
	}
	return cfg
}

// ReceiverSettings are the values the UDP receiver needs.
type ReceiverSettings struct {
	BindAddress  string
	Port         int
	SenderFilter string
	RcvBuf       int
	LogInterval  time.Duration
}

// ReceiverSettings projects the receiver settings over the defaults.
func (s *Settings) ReceiverSettings() ReceiverSettings {
	return ReceiverSettings{
		BindAddress:  s.GetBindAddress(),
		Port:         s.GetPort(),
		SenderFilter: s.GetSenderFilter(),
		RcvBuf:       s.GetRcvBuf(),
		LogInterval:  s.GetLogInterval(),
	}
}

// ServoConfig projects the servo settings over the defaults.
func (s *Settings) ServoConfig() servohead.Config {
	cfg := servohead.Config{Limits: servohead.DefaultLimits}
	if s.ServoSerial != nil {
		cfg.Options = *s.ServoSerial
	}
	if s.ServoLimits != nil {
		cfg.Limits = *s.ServoLimits
	}
	if s.ServoRate != nil {
		cfg.UpdateRate = *s.ServoRate
	}
	return cfg
}

// GetPort returns the port value or the default.
func (s *Settings) GetPort() int {
	if s.Port == nil {
		return protocol.DefaultPort
	}
	return *s.Port
}

// GetBindAddress returns the bind_address value or the default (all interfaces).
func (s *Settings) GetBindAddress() string {
	if s.BindAddress == nil {
		return ""
	}
	return *s.BindAddress
}

// GetSenderFilter returns the sender_filter value or the default (accept all).
func (s *Settings) GetSenderFilter() string {
	if s.SenderFilter == nil {
		return ""
	}
	return *s.SenderFilter
}

// GetRcvBuf returns the rcvbuf value or the default.
func (s *Settings) GetRcvBuf() int {
	if s.RcvBuf == nil {
		return 4 << 20
	}
	return *s.RcvBuf
}

// GetLogInterval parses and returns log_interval.
func (s *Settings) GetLogInterval() time.Duration {
	if s.LogInterval == nil || *s.LogInterval == "" {
		return time.Minute
	}
	d, err := time.ParseDuration(*s.LogInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// GetTickInterval returns the animator tick period for tick_hz.
func (s *Settings) GetTickInterval() time.Duration {
	hz := 60.0
	if s.TickRate != nil && *s.TickRate > 0 {
		hz = *s.TickRate
	}
	return time.Duration(float64(time.Second) / hz)
}

// GetCalibrateNow returns the calibrate_now value or the default.
func (s *Settings) GetCalibrateNow() bool {
	return s.CalibrateNow != nil && *s.CalibrateNow
}

// GetListen returns the HTTP listen address or the default.
func (s *Settings) GetListen() string {
	if s.Listen == nil {
		return ":8082"
	}
	return *s.Listen
}

// GetGRPCListen returns the gRPC health listen address; empty disables it.
func (s *Settings) GetGRPCListen() string {
	if s.GRPCListen == nil {
		return ""
	}
	return *s.GRPCListen
}

// GetDBPath returns the session database path; empty disables it.
func (s *Settings) GetDBPath() string {
	if s.DBPath == nil {
		return ""
	}
	return *s.DBPath
}

// GetRecord returns the record value or the default.
func (s *Settings) GetRecord() bool {
	return s.Record != nil && *s.Record
}

// GetRelayAddr returns the relay destination host; empty disables relaying.
func (s *Settings) GetRelayAddr() string {
	if s.RelayAddr == nil {
		return ""
	}
	return *s.RelayAddr
}

// GetRelayPort returns the relay destination port or the default.
func (s *Settings) GetRelayPort() int {
	if s.RelayPort == nil {
		return protocol.DefaultPort
	}
	return *s.RelayPort
}

// GetServoPort returns the servo serial device; empty disables the servo head.
func (s *Settings) GetServoPort() string {
	if s.ServoPort == nil {
		return ""
	}
	return *s.ServoPort
}
