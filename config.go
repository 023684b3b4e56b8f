package serialbridge

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
)

// Driver selects the serial backend used to open a port.
type Driver string

const (
	DriverBugst Driver = "bugst"
	DriverTarm  Driver = "tarm"
)

const (
	DefaultOpenTimeout      = 2000 * time.Millisecond
	DefaultReadTimeout      = 100 * time.Millisecond
	DefaultReadErrorBackoff = 100 * time.Millisecond
	DefaultReadBufferSize   = 4096

	// MaxReadBufferSize bounds the scratch buffer a single drain cycle may use.
	MaxReadBufferSize = 64 * 1024

	defaultMetricsChannelSize = 50
)

// LineConfig holds the fixed line parameters a port is opened with.
type LineConfig struct {
	// BaudRate only has to be positive; the driver decides what it supports.
	BaudRate BaudRate `validate:"gt=0"`
	DataBits DataBits `validate:"min=5,max=8"`
	StopBits StopBits `validate:"min=0,max=2"`
	Parity   Parity   `validate:"min=0,max=4"`
}

func (l LineConfig) String() string {
	return fmt.Sprintf("%d/%d/%s/%s", l.BaudRate, l.DataBits, l.StopBits, l.Parity)
}

// Config is everything needed to find, open and listen on a port.
type Config struct {
	// CandidatePorts is tried in order; the first one present wins.
	CandidatePorts []string `validate:"required,min=1,dive,required"`
	Line           LineConfig
	Driver         Driver `validate:"oneof=bugst tarm"`

	// OpenTimeout bounds how long Open waits for the driver.
	OpenTimeout time.Duration
	// ReadTimeout is the driver read timeout; it is how often the receiver
	// wakes up when the line is idle.
	ReadTimeout time.Duration
	// ReadErrorBackoff is the pause after a failed drain cycle.
	ReadErrorBackoff time.Duration
	ReadBufferSize   int `validate:"min=1,max=65536"`

	MetricsChannelSize int64 `validate:"min=0,max=10000"`

	Log LogConfig
}

// DefaultConfig returns 9600/8/1/none with a 2 s open timeout. CandidatePorts
// is left empty; callers must say which devices they accept.
func DefaultConfig() Config {
	return Config{
		Line: LineConfig{
			BaudRate: DefaultBaudRate,
			DataBits: DataBits8,
			StopBits: StopBits1,
			Parity:   ParityNone,
		},
		Driver:             DriverBugst,
		OpenTimeout:        DefaultOpenTimeout,
		ReadTimeout:        DefaultReadTimeout,
		ReadErrorBackoff:   DefaultReadErrorBackoff,
		ReadBufferSize:     DefaultReadBufferSize,
		MetricsChannelSize: defaultMetricsChannelSize,
		Log:                DefaultLogConfig(),
	}
}

// fileConfig is the on-disk JSON shape. Pointers distinguish "absent" from
// zero so unset keys keep their defaults.
type fileConfig struct {
	CandidatePorts     []string       `json:"candidate_ports"`
	BaudRate           *int           `json:"baud_rate"`
	DataBits           *int           `json:"data_bits"`
	StopBits           *string        `json:"stop_bits"`
	Parity             *string        `json:"parity"`
	Driver             *string        `json:"driver"`
	OpenTimeoutMs      *int64         `json:"open_timeout_ms" validate:"omitempty,gt=0"`
	ReadTimeoutMs      *int64         `json:"read_timeout_ms" validate:"omitempty,gt=0"`
	ReadErrorBackoffMs *int64         `json:"read_error_backoff_ms" validate:"omitempty,gte=0"`
	ReadBufferSize     *int           `json:"read_buffer_size"`
	MetricsChannelSize *int64         `json:"metrics_channel_size"`
	Log                *fileLogConfig `json:"log"`
}

type fileLogConfig struct {
	Level      *string `json:"level"`
	File       *string `json:"file"`
	MaxSizeMB  *int    `json:"max_size_mb"`
	MaxBackups *int    `json:"max_backups"`
	MaxAgeDays *int    `json:"max_age_days"`
	Compress   *bool   `json:"compress"`
	Console    *bool   `json:"console"`
}

// LoadConfig reads a JSON config file over DefaultConfig and validates the
// result.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes JSON config bytes over DefaultConfig and validates the
// result.
func ParseConfig(data []byte) (Config, error) {
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := validate.Struct(&fc); err != nil {
		return Config{}, validationError(err)
	}

	cfg := DefaultConfig()
	if err := fc.apply(&cfg); err != nil {
		return Config{}, err
	}
	if err := ValidateConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	if fc.CandidatePorts != nil {
		cfg.CandidatePorts = append([]string(nil), fc.CandidatePorts...)
	}
	if fc.BaudRate != nil {
		cfg.Line.BaudRate = BaudRate(*fc.BaudRate)
	}
	if fc.DataBits != nil {
		cfg.Line.DataBits = DataBits(*fc.DataBits)
	}
	if fc.StopBits != nil {
		sb, err := ParseStopBits(*fc.StopBits)
		if err != nil {
			return err
		}
		cfg.Line.StopBits = sb
	}
	if fc.Parity != nil {
		p, err := ParseParity(*fc.Parity)
		if err != nil {
			return err
		}
		cfg.Line.Parity = p
	}
	if fc.Driver != nil {
		cfg.Driver = Driver(*fc.Driver)
	}
	if fc.OpenTimeoutMs != nil {
		cfg.OpenTimeout = time.Duration(*fc.OpenTimeoutMs) * time.Millisecond
	}
	if fc.ReadTimeoutMs != nil {
		cfg.ReadTimeout = time.Duration(*fc.ReadTimeoutMs) * time.Millisecond
	}
	if fc.ReadErrorBackoffMs != nil {
		cfg.ReadErrorBackoff = time.Duration(*fc.ReadErrorBackoffMs) * time.Millisecond
	}
	if fc.ReadBufferSize != nil {
		cfg.ReadBufferSize = *fc.ReadBufferSize
	}
	if fc.MetricsChannelSize != nil {
		cfg.MetricsChannelSize = *fc.MetricsChannelSize
	}
	if l := fc.Log; l != nil {
		if l.Level != nil {
			cfg.Log.Level = *l.Level
		}
		if l.File != nil {
			cfg.Log.File = *l.File
		}
		if l.MaxSizeMB != nil {
			cfg.Log.MaxSizeMB = *l.MaxSizeMB
		}
		if l.MaxBackups != nil {
			cfg.Log.MaxBackups = *l.MaxBackups
		}
		if l.MaxAgeDays != nil {
			cfg.Log.MaxAgeDays = *l.MaxAgeDays
		}
		if l.Compress != nil {
			cfg.Log.Compress = *l.Compress
		}
		if l.Console != nil {
			cfg.Log.Console = *l.Console
		}
	}
	return nil
}
