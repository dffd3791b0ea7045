// Package config loads watchpost settings from defaults, an optional config.yaml and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the full node configuration.
type Settings struct {
	DataDir     string      `mapstructure:"datadir"`
	Log         Log         `mapstructure:"log"`
	Camera      Camera      `mapstructure:"camera"`
	Detector    Detector    `mapstructure:"detector"`
	Recognition Recognition `mapstructure:"recognition"`
	Recording   Recording   `mapstructure:"recording"`
	Store       Store       `mapstructure:"store"`
	Server      Server      `mapstructure:"server"`
	MQTT        MQTT        `mapstructure:"mqtt"`
	Hooks       Hooks       `mapstructure:"hooks"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"maxsize"`
	MaxBackups int    `mapstructure:"maxbackups"`
	MaxAgeDays int    `mapstructure:"maxage"`
}

// Camera selects the capture source. Pipeline takes precedence over Device when set.
type Camera struct {
	Device    int     `mapstructure:"device"`
	Pipeline  string  `mapstructure:"pipeline"`
	Width     int     `mapstructure:"width"`
	Height    int     `mapstructure:"height"`
	TargetFPS float64 `mapstructure:"targetfps"`
	// Backoff is the pause after an empty read.
	Backoff time.Duration `mapstructure:"backoff"`
}

type Detector struct {
	Model        string  `mapstructure:"model"`
	Config       string  `mapstructure:"config"`
	InputSize    int     `mapstructure:"inputsize"`
	Threshold    float32 `mapstructure:"threshold"`
	NMSThreshold float32 `mapstructure:"nmsthreshold"`
	// MotionGate skips detection on frames without motion.
	MotionGate      bool    `mapstructure:"motiongate"`
	MotionThreshold float64 `mapstructure:"motionthreshold"`
}

type Recognition struct {
	Model     string        `mapstructure:"model"`
	Config    string        `mapstructure:"config"`
	Output    string        `mapstructure:"output"`
	Threshold float32       `mapstructure:"threshold"`
	EventTTL  time.Duration `mapstructure:"eventttl"`
}

type Recording struct {
	Enabled    bool          `mapstructure:"enabled"`
	Dir        string        `mapstructure:"dir"`
	Activate   time.Duration `mapstructure:"activate"`
	Deactivate time.Duration `mapstructure:"deactivate"`
	PreRoll    time.Duration `mapstructure:"preroll"`
	Codec      string        `mapstructure:"codec"`
}

type Store struct {
	Path string `mapstructure:"path"`
}

type Server struct {
	Addr      string `mapstructure:"addr"`
	StaticDir string `mapstructure:"staticdir"`
	Streaming bool   `mapstructure:"streaming"`
	StreamFPS int    `mapstructure:"streamfps"`
}

type MQTT struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"clientid"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
}

// Hooks locates external event hooks. Relative Dir is resolved under the data directory.
type Hooks struct {
	Dir     string        `mapstructure:"dir"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads configuration. An explicit file path must exist; otherwise config.yaml is searched
// in the working directory and the data directory, and its absence is not an error.
func Load(file string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WATCHPOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("datadir"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	settings.resolvePaths()

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

// resolvePaths anchors relative store, recording and hook paths under the data directory.
func (s *Settings) resolvePaths() {
	if s.Store.Path != "" && !filepath.IsAbs(s.Store.Path) {
		s.Store.Path = filepath.Join(s.DataDir, s.Store.Path)
	}
	if s.Recording.Dir != "" && !filepath.IsAbs(s.Recording.Dir) {
		s.Recording.Dir = filepath.Join(s.DataDir, s.Recording.Dir)
	}
	if s.Hooks.Dir != "" && !filepath.IsAbs(s.Hooks.Dir) {
		s.Hooks.Dir = filepath.Join(s.DataDir, s.Hooks.Dir)
	}
}

// Validate rejects settings the pipeline cannot run with.
func (s *Settings) Validate() error {
	var errs []error
	if s.Camera.TargetFPS <= 0 {
		errs = append(errs, fmt.Errorf("camera.targetfps must be positive, got %v", s.Camera.TargetFPS))
	}
	if s.Detector.InputSize <= 0 || s.Detector.InputSize%32 != 0 {
		errs = append(errs, fmt.Errorf("detector.inputsize must be a positive multiple of 32, got %d", s.Detector.InputSize))
	}
	if s.Detector.Threshold <= 0 || s.Detector.Threshold > 1 {
		errs = append(errs, fmt.Errorf("detector.threshold must be in (0,1], got %v", s.Detector.Threshold))
	}
	if s.Recognition.Threshold < -1 || s.Recognition.Threshold > 1 {
		errs = append(errs, fmt.Errorf("recognition.threshold must be in [-1,1], got %v", s.Recognition.Threshold))
	}
	if s.Recording.Activate < 0 || s.Recording.Deactivate < 0 || s.Recording.PreRoll < 0 {
		errs = append(errs, errors.New("recording durations must not be negative"))
	}
	if len(s.Recording.Codec) != 4 {
		errs = append(errs, fmt.Errorf("recording.codec must be a fourcc, got %q", s.Recording.Codec))
	}
	if s.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	return errors.Join(errs...)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".watchpost"
	}
	return filepath.Join(home, ".watchpost")
}
