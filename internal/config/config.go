package config

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Calibration modes.
const (
	CalibrationGuided = "guided" // tare, prompt for the known weight, calibrate
	CalibrationPreset = "preset" // restore CALIBRATION_ZERO_OFFSET / CALIBRATION_SCALE_FACTOR
	CalibrationSkip   = "skip"   // run uncalibrated, weight reports not_calibrated
)

// Config holds all application configuration values.
type Config struct {
	// Simulate replaces every device with a simulated hive.
	Simulate bool

	// Load cell (HX711)
	HX711DataPin     string
	HX711ClockPin    string
	HX711ReadTimeout int // milliseconds

	// Environment sensor (BME280)
	EnvI2CBus  string
	EnvI2CAddr uint16 // 0 disables

	// Ultrasonic distance sensor (HC-SR04)
	UltrasonicTrigPin string
	UltrasonicEchoPin string
	UltrasonicTimeout int // milliseconds

	// Digital inputs
	PresencePin        string
	PresenceActiveLow  bool
	EnclosurePin       string
	EnclosureActiveLow bool

	// Acquisition
	RawReadingsPerTare   int
	RawReadingsPerSample int
	MinValidReadings     int
	TrimFraction         float64
	SettleDelay          int // milliseconds
	InterReadingDelay    int // milliseconds

	// Fusion loop
	PollIntervalSeconds float64
	QueryTimeout        int // milliseconds

	// Calibration
	CalibrationMode        string
	CalibrationKnownGrams  float64
	CalibrationZeroOffset  float64
	CalibrationScaleFactor float64
	hasPresetZero          bool
	hasPresetFactor        bool

	// MQTT
	MQTTBroker   string
	MQTTClientID string
	TopicRecord  string

	// Web Server
	WebServerPort int // 0 disables

	// Display
	DisplayEnabled bool
	DisplayI2CBus  string

	// Logging
	LogLevel string
	LogFile  string
}

// Default returns a Config with every optional key at its default.
func Default() *Config {
	return &Config{
		HX711ReadTimeout:      1000,
		EnvI2CAddr:            0x76,
		UltrasonicTimeout:     100,
		PresenceActiveLow:     true,
		RawReadingsPerTare:    50,
		RawReadingsPerSample:  15,
		MinValidReadings:      1,
		TrimFraction:          0.1,
		SettleDelay:           2000,
		InterReadingDelay:     100,
		PollIntervalSeconds:   1.0,
		QueryTimeout:          5000,
		CalibrationMode:       CalibrationGuided,
		CalibrationKnownGrams: 1000,
		MQTTClientID:          "hive-monitor",
		TopicRecord:           "hive/record",
		LogLevel:              "info",
	}
}

// Package-level singleton: InitGlobal sets it once, Get reads it under configMu.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a validated Config.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		if err := cfg.setValue(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseBool(key, value string) (bool, error) {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	case "SIMULATE":
		c.Simulate, err = parseBool(key, value)

	// Load cell
	case "HX711_DOUT_PIN":
		c.HX711DataPin = value
	case "HX711_SCK_PIN":
		c.HX711ClockPin = value
	case "HX711_READ_TIMEOUT_MS":
		c.HX711ReadTimeout, err = parseInt(key, value)

	// Environment
	case "ENV_I2C_BUS":
		c.EnvI2CBus = value
	case "ENV_I2C_ADDR":
		addr, perr := strconv.ParseUint(value, 0, 16)
		if perr != nil {
			return fmt.Errorf("invalid ENV_I2C_ADDR %q: %w", value, perr)
		}
		c.EnvI2CAddr = uint16(addr)

	// Ultrasonic
	case "ULTRASONIC_TRIG_PIN":
		c.UltrasonicTrigPin = value
	case "ULTRASONIC_ECHO_PIN":
		c.UltrasonicEchoPin = value
	case "ULTRASONIC_TIMEOUT_MS":
		c.UltrasonicTimeout, err = parseInt(key, value)

	// Digital inputs
	case "PRESENCE_PIN":
		c.PresencePin = value
	case "PRESENCE_ACTIVE_LOW":
		c.PresenceActiveLow, err = parseBool(key, value)
	case "ENCLOSURE_PIN":
		c.EnclosurePin = value
	case "ENCLOSURE_ACTIVE_LOW":
		c.EnclosureActiveLow, err = parseBool(key, value)

	// Acquisition
	case "RAW_READINGS_PER_TARE":
		c.RawReadingsPerTare, err = parseInt(key, value)
	case "RAW_READINGS_PER_WEIGHT_SAMPLE":
		c.RawReadingsPerSample, err = parseInt(key, value)
	case "MIN_VALID_READINGS":
		c.MinValidReadings, err = parseInt(key, value)
	case "TRIM_FRACTION":
		c.TrimFraction, err = parseFloat(key, value)
	case "SETTLE_DELAY_MS":
		c.SettleDelay, err = parseInt(key, value)
	case "INTER_READING_DELAY_MS":
		c.InterReadingDelay, err = parseInt(key, value)

	// Fusion loop
	case "POLL_INTERVAL_SECONDS":
		c.PollIntervalSeconds, err = parseFloat(key, value)
	case "QUERY_TIMEOUT_MS":
		c.QueryTimeout, err = parseInt(key, value)

	// Calibration
	case "CALIBRATION_MODE":
		switch value {
		case CalibrationGuided, CalibrationPreset, CalibrationSkip:
			c.CalibrationMode = value
		default:
			return fmt.Errorf("CALIBRATION_MODE must be guided, preset or skip, got %q", value)
		}
	case "CALIBRATION_KNOWN_WEIGHT_GRAMS":
		c.CalibrationKnownGrams, err = parseFloat(key, value)
	case "CALIBRATION_ZERO_OFFSET":
		c.CalibrationZeroOffset, err = parseFloat(key, value)
		c.hasPresetZero = err == nil
	case "CALIBRATION_SCALE_FACTOR":
		c.CalibrationScaleFactor, err = parseFloat(key, value)
		c.hasPresetFactor = err == nil

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_RECORD":
		c.TopicRecord = value

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)

	// Display
	case "DISPLAY_ENABLED":
		c.DisplayEnabled, err = parseBool(key, value)
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = value
	case "LOG_FILE":
		c.LogFile = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// Validate checks mandatory keys and that every optional sensor is either
// fully configured or absent.
func (c *Config) Validate() error {
	if c.HX711DataPin == "" && !c.Simulate {
		return fmt.Errorf("HX711_DOUT_PIN is required")
	}
	if c.HX711ClockPin == "" && !c.Simulate {
		return fmt.Errorf("HX711_SCK_PIN is required")
	}
	if (c.UltrasonicTrigPin == "") != (c.UltrasonicEchoPin == "") {
		return fmt.Errorf("ULTRASONIC_TRIG_PIN and ULTRASONIC_ECHO_PIN must be set together")
	}
	for _, p := range []struct {
		key string
		v   int
	}{
		{"HX711_READ_TIMEOUT_MS", c.HX711ReadTimeout},
		{"ULTRASONIC_TIMEOUT_MS", c.UltrasonicTimeout},
		{"RAW_READINGS_PER_TARE", c.RawReadingsPerTare},
		{"RAW_READINGS_PER_WEIGHT_SAMPLE", c.RawReadingsPerSample},
		{"MIN_VALID_READINGS", c.MinValidReadings},
	} {
		if p.v < 1 {
			return fmt.Errorf("%s must be >= 1, got %d", p.key, p.v)
		}
	}
	if c.MinValidReadings > c.RawReadingsPerTare || c.MinValidReadings > c.RawReadingsPerSample {
		return fmt.Errorf("MIN_VALID_READINGS (%d) exceeds the readings per tare or sample", c.MinValidReadings)
	}
	if !(c.TrimFraction >= 0 && c.TrimFraction <= 0.5) {
		return fmt.Errorf("TRIM_FRACTION must be in [0, 0.5], got %v", c.TrimFraction)
	}
	if c.SettleDelay < 0 || c.InterReadingDelay < 0 || c.QueryTimeout < 0 {
		return fmt.Errorf("delays and timeouts must be >= 0")
	}
	if !(c.PollIntervalSeconds > 0) || math.IsInf(c.PollIntervalSeconds, 0) {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be > 0, got %v", c.PollIntervalSeconds)
	}
	if !(c.CalibrationKnownGrams > 0) || math.IsInf(c.CalibrationKnownGrams, 0) {
		return fmt.Errorf("CALIBRATION_KNOWN_WEIGHT_GRAMS must be > 0, got %v", c.CalibrationKnownGrams)
	}
	if c.CalibrationMode == CalibrationPreset {
		if !c.hasPresetZero || !c.hasPresetFactor {
			return fmt.Errorf("CALIBRATION_MODE=preset needs CALIBRATION_ZERO_OFFSET and CALIBRATION_SCALE_FACTOR")
		}
		if !isFinite(c.CalibrationZeroOffset) || !isFinite(c.CalibrationScaleFactor) || c.CalibrationScaleFactor == 0 {
			return fmt.Errorf("CALIBRATION_ZERO_OFFSET must be finite and CALIBRATION_SCALE_FACTOR finite and nonzero")
		}
	}
	if c.WebServerPort < 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT must be 0-65535, got %d", c.WebServerPort)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// InitGlobal initializes the global configuration from file. Only the first
// call loads; later calls are no-ops.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
