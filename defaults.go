package main

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	numericLiteralRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	whitespaceRunRe  = regexp.MustCompile(`\s+`)
	trailingCastRe   = regexp.MustCompile(`::[a-zA-Z_][a-zA-Z0-9_ ]*$`)
)

// normalizeDefault converts a raw DSL default into a statement-ready
// expression. ok is false when no DEFAULT clause should be emitted.
func normalizeDefault(raw, typeUpper string) (expr string, ok bool) {
	v := strings.TrimSpace(raw)
	if v == "" || strings.EqualFold(v, "null") {
		return "", false
	}

	// Tolerate a redundant "default " prefix written by the user.
	if len(v) > 8 && strings.EqualFold(v[:8], "default ") {
		v = strings.TrimSpace(v[8:])
	}

	// Function calls and the SQL-standard zero-argument forms pass through
	// as expressions.
	if strings.HasSuffix(v, ")") {
		return v, true
	}
	switch strings.ToUpper(v) {
	case "CURRENT_TIMESTAMP", "CURRENT_DATE", "CURRENT_TIME":
		return v, true
	}

	if strings.EqualFold(v, "true") {
		return "TRUE", true
	}
	if strings.EqualFold(v, "false") {
		return "FALSE", true
	}

	if numericLiteralRe.MatchString(v) {
		return v, true
	}

	if strings.HasPrefix(v, "{") || strings.HasPrefix(v, "[") {
		if strings.Contains(typeUpper, "JSONB") {
			return pgLiteral(v) + "::jsonb", true
		}
		if strings.Contains(typeUpper, "JSON") {
			return pgLiteral(v) + "::json", true
		}
	}

	if len(v) == 36 && v == strings.ToLower(v) {
		if u, err := uuid.Parse(v); err == nil {
			return pgLiteral(u.String()), true
		}
	}

	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return v, true
	}
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		v = v[1 : len(v)-1]
	}

	return pgLiteral(v), true
}

// canonicalReflected reduces a catalog-reported default expression to a
// comparable canonical form. Idempotent: applying it twice is a no-op.
func canonicalReflected(reflected string) string {
	v := strings.TrimSpace(whitespaceRunRe.ReplaceAllString(reflected, " "))
	if v == "" {
		return ""
	}

	// Sequence-bound defaults are never diffed.
	if strings.Contains(strings.ToLower(v), "nextval(") {
		return v
	}

	if strings.HasPrefix(strings.ToLower(v), "encode(") {
		v = strings.ReplaceAll(v, "::text", "")
		v = strings.ReplaceAll(v, "::unknown", "")
	}

	for {
		stripped := trailingCastRe.ReplaceAllString(v, "")
		if stripped == v {
			break
		}
		v = stripped
	}

	if len(v) >= 2 && v[0] == '(' && v[len(v)-1] == ')' {
		v = v[1 : len(v)-1]
	}

	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		v = strings.ReplaceAll(v[1:len(v)-1], "''", "'")
	}

	switch v {
	case "TRUE":
		v = "true"
	case "FALSE":
		v = "false"
	}
	return v
}

// defaultVerdict is the outcome of comparing a declared default against the
// catalog's.
type defaultVerdict int

const (
	defaultSame defaultVerdict = iota
	defaultSet                 // declared default differs; SET DEFAULT to the emission form
	defaultDrop                // declaration has no default but the catalog does
)

// compareDefault decides whether a retained column's default must change.
// expr carries the emission form when the verdict is defaultSet.
func compareDefault(rawDSL, typeUpper string, reflected *string) (verdict defaultVerdict, expr string) {
	reflectedCanon := ""
	if reflected != nil {
		reflectedCanon = canonicalReflected(*reflected)
	}

	emitExpr, ok := normalizeDefault(rawDSL, typeUpper)
	if !ok {
		if reflectedCanon != "" {
			return defaultDrop, ""
		}
		return defaultSame, ""
	}

	if canonicalReflected(emitExpr) == reflectedCanon {
		return defaultSame, ""
	}
	return defaultSet, emitExpr
}
