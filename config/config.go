package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

const (
	ModeProduction  = "production"
	ModeDevelopment = "development"

	// AutoPort selects the reader by USB enumeration instead of a fixed device path.
	AutoPort = "auto"
)

type Config struct {
	App          AppConfig
	SerialBridge SerialBridgeConfig
	HTTPClient   HTTPClientConfig
	SocketConfig SocketConfig
	Log          LogConfig
}

type AppConfig struct {
	AppName string
	Mode    string
}

type SerialBridgeConfig struct {
	PortName string
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
	Timeout  time.Duration

	// VID and PID narrow the device search when PortName is AutoPort.
	VID string
	PID string
}

type HTTPClientConfig struct {
	URL     string
	Timeout time.Duration
}

type SocketConfig struct {
	Enabled bool
	Port    string
}

type LogConfig struct {
	Dir string
}

func LoadConfig(mode string) (*Config, error) {
	if mode == "" {
		mode = ModeProduction
	}
	if mode != ModeProduction && mode != ModeDevelopment {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	return &Config{
		App: AppConfig{
			AppName: "rfid-bridge",
			Mode:    mode,
		},
		SerialBridge: SerialBridgeConfig{
			PortName: "COM10",
			BaudRate: 9600,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
			Timeout:  time.Second,
		},
		HTTPClient: HTTPClientConfig{
			URL:     "http://localhost:3000/api/recent-scans",
			Timeout: 5 * time.Second,
		},
		SocketConfig: SocketConfig{
			Enabled: false,
			Port:    ":8001",
		},
	}, nil
}

func (c *Config) IsDevelopment() bool {
	return c.App.Mode == ModeDevelopment
}

func (c *Config) GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(c.App.AppName), "config.json")
}

func getConfigDir(appName string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), appName)
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", appName)
	default:
		return filepath.Join(homeDir, ".config", appName)
	}
}

func (c *Config) IsConfigExist() bool {
	_, err := os.Stat(c.GetDefaultConfigPath())
	return err == nil
}

// ReadConfig overlays the JSON file at path onto c. An empty path means the
// default location; a missing default file is not an error.
func (c *Config) ReadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = c.GetDefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var file fileConfig
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := file.apply(c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// fileConfig mirrors Config with durations spelled as strings ("1s", "500ms")
// and pointers so that absent keys leave defaults alone.
type fileConfig struct {
	Serial *struct {
		Port     *string `json:"port"`
		BaudRate *int    `json:"baud_rate"`
		DataBits *int    `json:"data_bits"`
		Timeout  *string `json:"timeout"`
		VID      *string `json:"vid"`
		PID      *string `json:"pid"`
	} `json:"serial"`
	API *struct {
		URL     *string `json:"url"`
		Timeout *string `json:"timeout"`
	} `json:"api"`
	Socket *struct {
		Enabled *bool   `json:"enabled"`
		Port    *string `json:"port"`
	} `json:"socket"`
	Log *struct {
		Dir *string `json:"dir"`
	} `json:"log"`
}

func (f fileConfig) apply(c *Config) error {
	if s := f.Serial; s != nil {
		setString(&c.SerialBridge.PortName, s.Port)
		setInt(&c.SerialBridge.BaudRate, s.BaudRate)
		setInt(&c.SerialBridge.DataBits, s.DataBits)
		setString(&c.SerialBridge.VID, s.VID)
		setString(&c.SerialBridge.PID, s.PID)
		if err := setDuration(&c.SerialBridge.Timeout, s.Timeout); err != nil {
			return fmt.Errorf("serial.timeout: %w", err)
		}
	}
	if a := f.API; a != nil {
		setString(&c.HTTPClient.URL, a.URL)
		if err := setDuration(&c.HTTPClient.Timeout, a.Timeout); err != nil {
			return fmt.Errorf("api.timeout: %w", err)
		}
	}
	if s := f.Socket; s != nil {
		if s.Enabled != nil {
			c.SocketConfig.Enabled = *s.Enabled
		}
		setString(&c.SocketConfig.Port, s.Port)
	}
	if l := f.Log; l != nil {
		setString(&c.Log.Dir, l.Dir)
	}
	return nil
}

// ApplyEnv overrides configuration from RFID_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("RFID_SERIAL_PORT"); v != "" {
		c.SerialBridge.PortName = v
	}
	if v := os.Getenv("RFID_BAUD_RATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RFID_BAUD_RATE: invalid baudrate %q", v)
		}
		c.SerialBridge.BaudRate = n
	}
	if v := os.Getenv("RFID_API_URL"); v != "" {
		c.HTTPClient.URL = v
	}
	if v := os.Getenv("RFID_SOCKET_PORT"); v != "" {
		c.SocketConfig.Port = v
	}
	if v := os.Getenv("RFID_SOCKET_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RFID_SOCKET_ENABLED: %w", err)
		}
		c.SocketConfig.Enabled = b
	}
	if v := os.Getenv("RFID_LOG_DIR"); v != "" {
		c.Log.Dir = v
	}
	return nil
}

func (c *Config) Validate() error {
	var problems []string

	if c.SerialBridge.BaudRate <= 0 {
		problems = append(problems, fmt.Sprintf("baud rate must be positive, got %d", c.SerialBridge.BaudRate))
	}
	if c.SerialBridge.Timeout <= 0 {
		problems = append(problems, "serial timeout must be positive")
	}
	if c.HTTPClient.Timeout <= 0 {
		problems = append(problems, "api timeout must be positive")
	}
	u, err := url.Parse(strings.TrimSpace(c.HTTPClient.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems = append(problems, fmt.Sprintf("api url %q is not an http(s) URL", c.HTTPClient.URL))
	}
	if c.SocketConfig.Enabled && c.SocketConfig.Port == "" {
		problems = append(problems, "socket port is empty")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*v))
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
