package movie

import (
	"database/sql"
	"math"
	"strconv"
	"strings"
)

// cleanNumber drops thousands separators and surrounding whitespace.
func cleanNumber(s string) string {
	if strings.IndexByte(s, ',') >= 0 {
		s = strings.ReplaceAll(s, ",", "")
	}
	return strings.TrimSpace(s)
}

// ParseInt coerces s to a base-10 int64. Any failure yields an invalid
// (null) value; it never returns an error.
func ParseInt(s string) sql.NullInt64 {
	n, err := strconv.ParseInt(cleanNumber(s), 10, 64)
	if err != nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}

// ParseFloat coerces s to a decimal float64. Hex floats, digit
// underscores, NaN and infinities all yield null.
func ParseFloat(s string) sql.NullFloat64 {
	s = cleanNumber(s)
	if strings.ContainsAny(s, "xXpP_") {
		return sql.NullFloat64{}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
