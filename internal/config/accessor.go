package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// chatIDPaths hold Telegram chat ids. They are kept as strings on the way in
// so FlexInt64 parses them without float rounding.
var chatIDPaths = map[string]bool{
	"telegram.sourceChatId":      true,
	"telegram.destinationChatId": true,
}

// toMap renders cfg as nested JSON objects keyed by the config file names.
func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// lookupLeaf walks a dotted path ("delivery.maxAttempts") to its parent
// section and returns the section with the final key.
func lookupLeaf(m map[string]any, path string) (map[string]any, string, error) {
	parts := strings.Split(path, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, "", fmt.Errorf("path must be section.key, got %q", path)
	}
	section, ok := m[parts[0]].(map[string]any)
	if !ok {
		return nil, "", fmt.Errorf("unknown section %q (have %s)", parts[0], strings.Join(sortedKeys(m), ", "))
	}
	if _, ok := section[parts[1]]; !ok {
		return nil, "", fmt.Errorf("unknown key %q in %s (have %s)", parts[1], parts[0], strings.Join(sortedKeys(section), ", "))
	}
	return section, parts[1], nil
}

// GetByPath returns one config value by dotted path (e.g. "delivery.maxAttempts").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	section, key, err := lookupLeaf(m, path)
	if err != nil {
		return nil, err
	}
	return section[key], nil
}

// SetByPath sets an existing key from its string form. The value is parsed
// to the key's current type, and the resulting config must pass Validate;
// cfg is left untouched on any error.
func SetByPath(cfg *Config, path string, value string) error {
	m, err := toMap(cfg)
	if err != nil {
		return err
	}
	section, key, err := lookupLeaf(m, path)
	if err != nil {
		return err
	}

	parsed, err := parseValue(path, section[key], value)
	if err != nil {
		return err
	}
	section[key] = parsed

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var updated Config
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := Validate(&updated); err != nil {
		return err
	}
	*cfg = updated
	return nil
}

// parseValue converts s to the JSON type of current.
func parseValue(path string, current any, s string) (any, error) {
	if chatIDPaths[path] {
		return strings.TrimSpace(s), nil
	}
	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%s expects true or false, got %q", path, s)
		}
		return b, nil
	case float64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s expects a whole number, got %q", path, s)
		}
		return n, nil
	default:
		return s, nil
	}
}

// Sanitize returns a copy of the config with the bot token masked.
func Sanitize(cfg *Config) *Config {
	copy := *cfg
	if copy.Telegram.Token != "" {
		copy.Telegram.Token = maskString(copy.Telegram.Token)
	}
	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every settable path with its current value. Secrets are masked.
func ListPaths(cfg *Config) map[string]any {
	m, err := toMap(Sanitize(cfg))
	if err != nil {
		return nil
	}
	result := make(map[string]any)
	for name, v := range m {
		section, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for key, val := range section {
			result[name+"."+key] = val
		}
	}
	return result
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
