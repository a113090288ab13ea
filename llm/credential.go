package llm

import (
	"strings"
	"unicode"
)

// localProviders need no API key.
var localProviders = map[string]bool{
	"ollama":   true,
	"lmstudio": true,
}

var keyPrefixes = map[string]string{
	"anthropic": "sk-ant-",
}

func init() {
	for name, p := range presets {
		if p.local {
			localProviders[name] = true
		}
		if p.keyPrefix != "" {
			keyPrefixes[name] = p.keyPrefix
		}
	}
}

// minKeyLen is shorter than any real vendor key.
const minKeyLen = 20

// HasUsableCredential reports whether cfg names a known provider and carries
// a credential that looks well-formed for it. It never contacts the service.
// Local providers and "custom" endpoints without a key are accepted.
func (cfg Config) HasUsableCredential() bool {
	if cfg.Provider == "" {
		return false
	}
	if localProviders[cfg.Provider] {
		return true
	}
	if cfg.Provider == "custom" {
		return cfg.BaseURL != "" && (cfg.APIKey == "" || wellFormedKey(cfg.APIKey))
	}
	if _, known := keyPrefixes[cfg.Provider]; !known {
		if _, preset := presets[cfg.Provider]; !preset {
			return false
		}
	}
	if !wellFormedKey(cfg.APIKey) {
		return false
	}
	if prefix := keyPrefixes[cfg.Provider]; prefix != "" && !strings.HasPrefix(cfg.APIKey, prefix) {
		return false
	}
	return true
}

func wellFormedKey(key string) bool {
	if len(key) < minKeyLen {
		return false
	}
	for _, r := range key {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
