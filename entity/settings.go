package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultAPIVersion is the Graph API version used when none is configured.
	DefaultAPIVersion = "v16.0"

	accountPrefix = "act_"
	dateLayout    = "2006-01-02"
)

var (
	ErrInvalidSettings = errors.New("invalid tap settings")
	ErrInvalidDate     = errors.New("invalid date")
)

// Settings is the run configuration of the tap, supplied once per run and immutable for
// the run's duration. It is the only source of the ad account identifier.
type Settings struct {
	AccountID   string `json:"account_id"`
	AccessToken string `json:"access_token"`
	APIVersion  string `json:"api_version,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
}

// NewSettings creates Settings from JSON, validated against the config schema.
// Only presence and type of fields are validated, not date formats.
func NewSettings(data []byte) (*Settings, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w, details: no config data provided", ErrInvalidSettings)
	}
	if err := validateJSON(settingsSchema, data); err != nil {
		return nil, fmt.Errorf("%w, details: %v", ErrInvalidSettings, err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w, details: %v", ErrInvalidSettings, err)
	}
	return &s, s.Validate()
}

// Validate checks Settings created in code the same way as NewSettings does for JSON input.
func (s *Settings) Validate() error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w, details: %v", ErrInvalidSettings, err)
	}
	if err := validateJSON(settingsSchema, data); err != nil {
		return fmt.Errorf("%w, details: %v", ErrInvalidSettings, err)
	}
	if s.Account() == "" {
		return fmt.Errorf("%w, details: account_id has no value after 'act_' prefix", ErrInvalidSettings)
	}
	return nil
}

// Account returns the account identifier without any "act_" prefix, since the prefix
// is part of the URL template.
func (s *Settings) Account() string {
	return strings.TrimPrefix(strings.TrimSpace(s.AccountID), accountPrefix)
}

// Version returns the configured Graph API version, or DefaultAPIVersion.
func (s *Settings) Version() string {
	v := strings.TrimSpace(s.APIVersion)
	if v == "" {
		return DefaultAPIVersion
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// String never reveals the access token.
func (s Settings) String() string {
	return fmt.Sprintf("account_id: %s, api_version: %s, start_date: %s, end_date: %s, access_token: %s",
		s.AccountID, s.Version(), s.StartDate, s.EndDate, redact(s.AccessToken))
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "<redacted>"
}

// SettingsSchema returns the JSON schema the settings are validated against.
func SettingsSchema() []byte {
	return append([]byte(nil), settingsSchema...)
}

// ParseDate accepts RFC 3339 timestamps as well as plain dates.
func ParseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return t, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return t, nil
}

// FormatDate formats t as a plain date, as required by the insights time range.
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

var settingsSchema = []byte(`
{
  "$schema": "http://json-schema.org/draft-07/schema",
  "type": "object",
  "required": ["account_id", "access_token"],
  "properties": {
    "account_id": {
      "type": "string",
      "minLength": 1,
      "description": "Ad account to extract entities from, with or without the act_ prefix"
    },
    "access_token": {
      "type": "string",
      "minLength": 1,
      "description": "Access token authorizing Graph API requests"
    },
    "api_version": {
      "type": "string",
      "description": "Graph API version, e.g. v16.0"
    },
    "start_date": {
      "type": "string",
      "description": "Earliest date to extract insights for"
    },
    "end_date": {
      "type": "string",
      "description": "Latest date to extract insights for"
    }
  }
}`)
