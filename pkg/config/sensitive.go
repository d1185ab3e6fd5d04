package config

import "encoding/json"

const redacted = "[REDACTED]"

// SensitiveString holds a secret that must never be printed or serialized in clear text.
type SensitiveString string

// String returns a redacted placeholder for non-empty values.
func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// Value returns the underlying secret.
func (s SensitiveString) Value() string {
	return string(s)
}

// MarshalJSON redacts the secret in JSON output.
func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// MarshalText redacts the secret in text encodings such as YAML.
func (s SensitiveString) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
