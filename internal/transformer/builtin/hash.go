// Package builtin contains small, reusable helpers for the transform stage.
package builtin

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
)

// RowHash computes a deterministic SHA-256 over one output row.
//
// Canonical form:
//   - Each component is "column=value", joined with the ASCII Unit Separator
//     (0x1f).
//   - nil is encoded as a single NUL byte, so null differs from "".
//   - Integers use base 10; floats use the shortest 'g' representation.
//
// Columns and values are paired by position; missing trailing values hash as
// nil.
func RowHash(columns []string, values []any) [sha256.Size]byte {
	var b strings.Builder
	b.Grow(len(columns) * 24)

	for i, c := range columns {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(c)
		b.WriteByte('=')
		var v any
		if i < len(values) {
			v = values[i]
		}
		appendCanonicalValue(&b, v)
	}
	return sha256.Sum256([]byte(b.String()))
}

// appendCanonicalValue appends a stable representation of v. It avoids
// fmt.Sprint for the types rows actually carry.
func appendCanonicalValue(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteByte('\x00')
	case string:
		b.WriteString(t)
	case bool:
		b.WriteString(strconv.FormatBool(t))
	case int:
		b.WriteString(strconv.Itoa(t))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	default:
		b.WriteString(fmt.Sprint(t))
	}
}

// HasEdgeSpace reports whether s starts or ends with a space or tab.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return s[0] == ' ' || s[len(s)-1] == ' ' || s[0] == '\t' || s[len(s)-1] == '\t'
}
