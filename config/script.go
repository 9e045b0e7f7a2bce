package config

import (
	"bufio"
	"bytes"
	"errors"
	"log"
	"os"
	"strings"
)

// Script is a koanf provider for the legacy script.txt format: one key=value
// per line, # comments, blank lines ignored.  Every key lands under params.
type Script struct {
	path string
}

// ScriptFile returns a provider reading path
func ScriptFile(path string) *Script {
	return &Script{path: path}
}

// ReadBytes is not supported; the format has no koanf parser
func (s *Script) ReadBytes() ([]byte, error) {
	return nil, errors.New("script provider does not support this method")
}

// Read returns the parsed keys nested under "params"
func (s *Script) Read() (map[string]interface{}, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"params": ParseScript(b)}, nil
}

// ParseScript parses key=value lines.  Malformed lines are logged and skipped.
// Values are left as strings; koanf's weak decoding converts them.
func ParseScript(b []byte) map[string]interface{} {
	out := map[string]interface{}{}
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			log.Printf("config: skipping unparseable line %q", line)
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out
}
