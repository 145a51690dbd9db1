package config

import (
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMQTTPort         = 1883
	DefaultPublishChannel   = "device/to/marvin"
	DefaultSubscribeChannel = "marvin/to/device"
)

// Byte limits of each persisted string, matching the on-flash record layout.
const (
	maxWifiSSID     = 31
	maxWifiPassword = 63
	maxMQTTHost     = 127
	maxMQTTUsername = 31
	maxMQTTPassword = 63
	maxChannel      = 127
	maxUUID         = 63
)

// Config is the persisted device identity and connectivity profile.
type Config struct {
	WifiSSID             string `json:"wifiSsid"`
	WifiPassword         string `json:"wifiPassword"`
	MQTTEnabled          bool   `json:"mqttEnable"`
	MQTTHost             string `json:"mqttHost"`
	MQTTPort             int    `json:"mqttPort"`
	MQTTUsername         string `json:"mqttUsername"`
	MQTTPassword         string `json:"mqttPassword"`
	MQTTPublishChannel   string `json:"mqttPublishChannel"`
	MQTTSubscribeChannel string `json:"mqttSubscribeChannel"`
	UUID                 string `json:"uuid"`
}

// Defaults returns the factory configuration written by a reset.
func Defaults() Config {
	return Config{
		MQTTEnabled:          true,
		MQTTPort:             DefaultMQTTPort,
		MQTTPublishChannel:   DefaultPublishChannel,
		MQTTSubscribeChannel: DefaultSubscribeChannel,
	}
}

// HasWifiCredentials reports whether both SSID and password are long enough to try a join.
func (c Config) HasWifiCredentials() bool {
	return len(c.WifiSSID) > 1 && len(c.WifiPassword) > 1
}

// Merge applies provisioning form fields onto a copy of c.
// Only fields present in the form change, except the mqttEnable checkbox which
// browsers omit when unchecked.
func (c Config) Merge(form url.Values) Config {
	out := c
	out.MQTTEnabled = form.Has("mqttEnable")

	for key, values := range form {
		if len(values) == 0 {
			continue
		}
		v := values[0]
		switch key {
		case "wifiSsid":
			out.WifiSSID = v
		case "wifiPasswd", "wifiPassword":
			out.WifiPassword = v
		case "mqttHost":
			out.MQTTHost = strings.TrimSpace(v)
		case "mqttPort":
			if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				out.MQTTPort = port
			}
		case "mqttUsername":
			out.MQTTUsername = v
		case "mqttPasswd", "mqttPassword":
			out.MQTTPassword = v
		case "mqttPublishChannel":
			out.MQTTPublishChannel = strings.TrimSpace(v)
		case "mqttSubscribeChannel":
			out.MQTTSubscribeChannel = strings.TrimSpace(v)
		}
	}

	out.sanitize()
	return out
}

// sanitize truncates every string to its storage limit and fills the broker port.
func (c *Config) sanitize() {
	c.WifiSSID = truncate(c.WifiSSID, maxWifiSSID)
	c.WifiPassword = truncate(c.WifiPassword, maxWifiPassword)
	c.MQTTHost = truncate(c.MQTTHost, maxMQTTHost)
	c.MQTTUsername = truncate(c.MQTTUsername, maxMQTTUsername)
	c.MQTTPassword = truncate(c.MQTTPassword, maxMQTTPassword)
	c.MQTTPublishChannel = truncate(c.MQTTPublishChannel, maxChannel)
	c.MQTTSubscribeChannel = truncate(c.MQTTSubscribeChannel, maxChannel)
	c.UUID = truncate(c.UUID, maxUUID)

	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		c.MQTTPort = DefaultMQTTPort
	}
}

// truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
