// Package etltest provides test doubles and fixtures for testing stream syncs without
// a real Graph API or sink.
package etltest

import (
	"strings"
)

// GraphPage builds a Graph API response body with the provided raw JSON records and
// an optional "after" cursor.
func GraphPage(after string, records ...string) []byte {
	var b strings.Builder
	b.WriteString(`{"data":[`)
	b.WriteString(strings.Join(records, ","))
	b.WriteString(`]`)
	if after != "" {
		b.WriteString(`,"paging":{"cursors":{"before":"B","after":"` + after + `"}}`)
	}
	b.WriteString(`}`)
	return []byte(b.String())
}
