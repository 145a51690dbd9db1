package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PinSettings maps the physical inputs and outputs to GPIO lines.
type PinSettings struct {
	Chip             string `yaml:"chip"`
	StatusLED        int    `yaml:"status_led"`
	RestartButton    int    `yaml:"restart_button"`
	ResetButton      int    `yaml:"reset_button"`
	ButtonsActiveLow bool   `yaml:"buttons_active_low"`
}

// PWMSettings maps the three color channels to sysfs PWM outputs.
type PWMSettings struct {
	Chip  int `yaml:"chip"`
	Red   int `yaml:"red"`
	Green int `yaml:"green"`
	Blue  int `yaml:"blue"`
}

// AccessPointSettings holds the fixed credentials used in provisioning mode.
type AccessPointSettings struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

// Routine is a cron-triggered command fed into the control loop.
type Routine struct {
	Spec    string         `yaml:"spec"`
	Action  string         `yaml:"action"`
	Payload map[string]any `yaml:"payload"`
}

// Settings is the runtime profile of the host running the controller. Unlike Config it
// is never written by the device.
type Settings struct {
	ConfigFile  string `yaml:"config_file"`
	JournalFile string `yaml:"journal_file"`

	Device struct {
		Name     string `yaml:"name"`
		ClientID string `yaml:"client_id"`
	} `yaml:"device"`

	AccessPoint AccessPointSettings `yaml:"access_point"`
	Pins        PinSettings         `yaml:"pins"`
	PWM         PWMSettings         `yaml:"pwm"`

	MQTT struct {
		ConnectTimeout string `yaml:"connect_timeout"`
	} `yaml:"mqtt"`

	HTTP struct {
		Listen string `yaml:"listen"`
	} `yaml:"http"`

	Status struct {
		Listen         string   `yaml:"listen"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"status"`

	MDNS struct {
		Enabled  bool   `yaml:"enabled"`
		Instance string `yaml:"instance"`
	} `yaml:"mdns"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Loop struct {
		Interval string `yaml:"interval"`
	} `yaml:"loop"`

	RestartCommand []string  `yaml:"restart_command"`
	Routines       []Routine `yaml:"routines"`
}

// LoadSettings reads the YAML settings file. A missing file yields the defaults.
func LoadSettings(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parse settings: %w", err)
		}
	}

	s.sanitize()
	s.setDefaults()

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) sanitize() {
	s.ConfigFile = strings.TrimSpace(s.ConfigFile)
	s.JournalFile = strings.TrimSpace(s.JournalFile)
	s.HTTP.Listen = strings.TrimSpace(s.HTTP.Listen)
	s.Status.Listen = strings.TrimSpace(s.Status.Listen)
}

func (s *Settings) setDefaults() {
	if s.ConfigFile == "" {
		s.ConfigFile = "config.json"
	}
	if s.JournalFile == "" {
		s.JournalFile = "journal.db"
	}
	if s.Device.Name == "" {
		s.Device.Name = "Marvin led strip wifi"
	}
	if s.Device.ClientID == "" {
		s.Device.ClientID = "StripLedWifi"
	}
	if s.AccessPoint.SSID == "" {
		s.AccessPoint.SSID = "strip-led-wifi-ssid"
	}
	if s.AccessPoint.Password == "" {
		s.AccessPoint.Password = "strip-led-wifi-passw"
	}

	if s.Pins.Chip == "" {
		s.Pins.Chip = "gpiochip0"
	}
	if s.Pins.StatusLED == 0 {
		s.Pins.StatusLED = 4
	}
	if s.Pins.RestartButton == 0 {
		s.Pins.RestartButton = 16
	}
	if s.Pins.ResetButton == 0 {
		s.Pins.ResetButton = 17
	}
	if s.PWM.Red == 0 && s.PWM.Green == 0 && s.PWM.Blue == 0 {
		s.PWM.Red, s.PWM.Green, s.PWM.Blue = 0, 1, 2
	}

	if s.MQTT.ConnectTimeout == "" {
		s.MQTT.ConnectTimeout = "4s"
	}
	if s.HTTP.Listen == "" {
		s.HTTP.Listen = ":80"
	}
	if s.MDNS.Instance == "" {
		s.MDNS.Instance = s.Device.Name
	}
	if s.Log.Level == "" {
		s.Log.Level = "info"
	}
	if s.Log.Format == "" {
		s.Log.Format = "text"
	}
	if s.Loop.Interval == "" {
		s.Loop.Interval = "10ms"
	}
}

func (s *Settings) validate() error {
	if _, err := time.ParseDuration(s.MQTT.ConnectTimeout); err != nil {
		return fmt.Errorf("settings error: mqtt.connect_timeout: %w", err)
	}
	d, err := time.ParseDuration(s.Loop.Interval)
	if err != nil {
		return fmt.Errorf("settings error: loop.interval: %w", err)
	}
	if d <= 0 || d > time.Second {
		return fmt.Errorf("settings error: loop.interval must be in (0, 1s], got %s", d)
	}
	if len(s.AccessPoint.Password) < 8 {
		return fmt.Errorf("settings error: access_point.password must be at least 8 characters")
	}
	chans := map[int]bool{s.PWM.Red: true, s.PWM.Green: true, s.PWM.Blue: true}
	if len(chans) != 3 {
		return fmt.Errorf("settings error: pwm channels must be distinct")
	}
	for i, r := range s.Routines {
		if r.Spec == "" || r.Action == "" {
			return fmt.Errorf("settings error: routine %d needs spec and action", i)
		}
	}
	return nil
}

// ConnectTimeout returns the parsed per-attempt broker connect timeout.
func (s *Settings) ConnectTimeout() time.Duration {
	d, _ := time.ParseDuration(s.MQTT.ConnectTimeout)
	return d
}

// LoopInterval returns the parsed control loop period.
func (s *Settings) LoopInterval() time.Duration {
	d, _ := time.ParseDuration(s.Loop.Interval)
	return d
}
