// Package config loads the proxy's settings from an INI-style file,
// section [enverproxy], with every key overridable by the environment
// variable of the same name in upper case (see envName). Every key is required in the file; the
// original implementation validates this before ever consulting the
// environment, so a missing file key is a ConfigError even if the
// environment would have supplied a value.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/timoknapp/enverproxy-mqtt/errs"
)

const section = "enverproxy"

var requiredKeys = []string{
	"buffer_size", "delay", "listen_port", "verbosity", "log_type",
	"log_address", "log_port", "forward_IP", "forward_port",
	"mqttuser", "mqttpassword", "mqtthost", "mqttport", "id2device",
}

// envName maps an INI key to the environment variable that overrides it.
// These match the original implementation's uppercase names (BUFFER_SIZE,
// FORWARD_IP, ID2DEVICE, ...) rather than simply upper-casing the INI key,
// so operators migrating existing environments keep working unchanged.
var envName = map[string]string{
	"buffer_size":  "BUFFER_SIZE",
	"delay":        "DELAY",
	"listen_port":  "LISTEN_PORT",
	"verbosity":    "VERBOSITY",
	"log_type":     "LOG_TYPE",
	"log_address":  "LOG_ADDRESS",
	"log_port":     "LOG_PORT",
	"forward_IP":   "FORWARD_IP",
	"forward_port": "FORWARD_PORT",
	"mqttuser":     "MQTTUSER",
	"mqttpassword": "MQTTPASSWORD",
	"mqtthost":     "MQTTHOST",
	"mqttport":     "MQTTPORT",
	"id2device":    "ID2DEVICE",
}

// Config is the fully resolved, validated set of proxy settings.
type Config struct {
	BufferSize  int
	Delay       float64
	ListenPort  int
	Verbosity   int
	LogType     string
	LogAddress  string
	LogPort     int
	ForwardIP   string
	ForwardPort int
	MQTTUser    string
	MQTTPass    string
	MQTTHost    string
	MQTTPort    int
	ID2Device   map[string]string
}

// Load reads path, validates the [enverproxy] section has every required
// key, applies environment-variable overrides, and returns a Config.
func Load(path string) (*Config, error) {
	values, err := readINISection(path, section)
	if err != nil {
		return nil, err
	}

	for _, key := range requiredKeys {
		if _, ok := values[key]; !ok {
			return nil, fmt.Errorf("%w: missing key %q in section [%s] of %s", errs.ErrConfig, key, section, path)
		}
		if v := os.Getenv(envName[key]); v != "" {
			values[key] = v
		}
	}

	cfg := &Config{}
	var perr error
	get := func(key string) string { return values[key] }
	mustInt := func(key string) int {
		n, err := strconv.Atoi(get(key))
		if err != nil && perr == nil {
			perr = fmt.Errorf("%w: key %q is not an integer: %v", errs.ErrConfig, key, err)
		}
		return n
	}
	mustFloat := func(key string) float64 {
		f, err := strconv.ParseFloat(get(key), 64)
		if err != nil && perr == nil {
			perr = fmt.Errorf("%w: key %q is not a number: %v", errs.ErrConfig, key, err)
		}
		return f
	}

	cfg.BufferSize = mustInt("buffer_size")
	cfg.Delay = mustFloat("delay")
	cfg.ListenPort = mustInt("listen_port")
	cfg.Verbosity = mustInt("verbosity")
	cfg.LogType = get("log_type")
	cfg.LogAddress = get("log_address")
	cfg.LogPort = mustInt("log_port")
	cfg.ForwardIP = get("forward_IP")
	cfg.ForwardPort = mustInt("forward_port")
	cfg.MQTTUser = get("mqttuser")
	cfg.MQTTPass = get("mqttpassword")
	cfg.MQTTHost = get("mqtthost")
	cfg.MQTTPort = mustInt("mqttport")

	if perr != nil {
		return nil, perr
	}

	id2device, err := parseID2Device(get("id2device"))
	if err != nil {
		return nil, fmt.Errorf("%w: id2device: %v", errs.ErrConfig, err)
	}
	cfg.ID2Device = id2device

	return cfg, nil
}

// parseID2Device parses the Python-dict-literal-style mapping string
// (e.g. {'94002953': 'device1'}) as YAML flow-mapping syntax, which it is
// a valid instance of.
func parseID2Device(raw string) (map[string]string, error) {
	m := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return m, nil
	}
	if err := yaml.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// readINISection reads an INI file and returns key=value pairs under
// [sectionName]. No third-party INI library appears anywhere in the
// retrieved example repos, so this one ambient leaf is hand-rolled against
// the standard library rather than against an ecosystem dependency.
func readINISection(path, sectionName string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrConfig, err)
	}
	defer f.Close()

	values := make(map[string]string)
	inSection := false
	found := false

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.TrimSpace(line[1 : len(line)-1])
			inSection = name == sectionName
			if inSection {
				found = true
			}
			continue
		}
		if !inSection {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		val = strings.Trim(val, `"'`)
		values[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrConfig, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: missing section [%s] in %s", errs.ErrConfig, sectionName, path)
	}
	return values, nil
}
