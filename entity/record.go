package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	TimestampLayoutIsoMillis = "2006-01-02T15:04:05.000Z"

	// KeyDelimiter separates primary key values in keys created with Record.Key().
	KeyDelimiter = "-"
)

// Record is a single entity object as returned by the Graph API. Data is passed through
// unmodified from the response body, unless properties are deselected in the catalog.
type Record struct {
	Stream      string
	Data        []byte
	ExtractedAt time.Time
}

// Key returns the values of the provided key properties, joined with KeyDelimiter.
// Missing properties are represented by an empty string.
func (r *Record) Key(keyProperties []string) string {
	values := make([]string, 0, len(keyProperties))
	for _, prop := range keyProperties {
		values = append(values, gjson.GetBytes(r.Data, escapeProperty(prop)).String())
	}
	return strings.Join(values, KeyDelimiter)
}

// Value returns the string value of a top-level property and true if it exists and is not null.
func (r *Record) Value(property string) (string, bool) {
	v := gjson.GetBytes(r.Data, escapeProperty(property))
	if !v.Exists() || v.Type == gjson.Null {
		return "", false
	}
	return v.String(), true
}

func (r *Record) String() string {
	return fmt.Sprintf("stream: %s, extractedAt: %s, data: %s", r.Stream, r.ExtractedAt.Format(TimestampLayoutIsoMillis), string(r.Data))
}

// Top-level property names in Graph API objects never contain path syntax, but make sure
// they are treated literally by gjson anyway.
func escapeProperty(name string) string {
	var sb strings.Builder
	for _, c := range name {
		switch c {
		case '.', '*', '?', '|', '#', '@', '!', '\\', '=', '<', '>', '%', ':', ',':
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}
