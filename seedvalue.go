package main

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Declared seed rows come from YAML text while live values come back through
// the driver, so the two sides disagree on wire form ("180" vs "180.00",
// time.Time vs ISO string, JSON text vs decoded map). canonicalValue reduces
// both sides to a tagged canonical string; two values are equal iff their
// canonical forms are equal.

var (
	dateTimeRe   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}`)
	dateOnlyRe   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	tzSuffixRe   = regexp.MustCompile(`(Z|[+-]\d{2}(:?\d{2})?)$`)
	subSecondFmt = "2006-01-02 15:04:05.000"
)

func seedValuesEqual(a, b any) bool {
	return canonicalValue(a) == canonicalValue(b)
}

func canonicalValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "n:"
	case bool:
		return fmt.Sprintf("b:%t", t)
	case time.Time:
		// Wall-clock components in local time; declared strings are
		// reduced rather than shifted, which matches timestamp without
		// time zone semantics.
		return "t:" + t.Local().Format(subSecondFmt)
	case []byte:
		return canonicalString(string(t))
	case string:
		return canonicalString(t)
	case map[string]any, []any:
		return "j:" + canonicalJSON(t)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		d, err := decimal.NewFromString(fmt.Sprintf("%v", t))
		if err == nil {
			return "d:" + d.String()
		}
		return "s:" + fmt.Sprintf("%v", t)
	default:
		// Driver-specific wrappers (pgtype values) stringify; numeric
		// strings still collapse to their decimal form.
		return canonicalString(fmt.Sprintf("%v", t))
	}
}

func canonicalString(s string) string {
	if dateTimeRe.MatchString(s) {
		return "t:" + reduceDateString(s)
	}
	if dateOnlyRe.MatchString(s) {
		return "t:" + s + " 00:00:00.000"
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return "d:" + d.String()
	}
	if u, err := uuid.Parse(s); err == nil && len(s) == 36 {
		return "s:" + u.String()
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err == nil {
			return "j:" + canonicalJSON(parsed)
		}
	}
	return "s:" + s
}

// reduceDateString removes a trailing timezone suffix and replaces the T
// separator so declared ISO strings compare against wall-clock formatting.
func reduceDateString(s string) string {
	s = tzSuffixRe.ReplaceAllString(s, "")
	s = strings.Replace(s, "T", " ", 1)
	if len(s) == len("2006-01-02 15:04") {
		s += ":00"
	}

	base, frac, _ := strings.Cut(s, ".")
	frac = (frac + "000")[:3]
	return base + "." + frac
}

// canonicalJSON serializes objects with sorted keys and every leaf in
// canonical form, so structural equality survives key order and numeric
// wire-form skew.
func canonicalJSON(v any) string {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(fmt.Sprintf("%q:", k))
			b.WriteString(canonicalJSON(t[k]))
		}
		b.WriteByte('}')
		return b.String()
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(canonicalJSON(item))
		}
		b.WriteByte(']')
		return b.String()
	default:
		return canonicalValue(v)
	}
}
