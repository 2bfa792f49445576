package main

import "strings"

// catalogTypes maps a DSL type head (case-insensitive) to the wire form the
// catalog reports for it. Unknown heads fall through to their lower-case
// identity.
var catalogTypes = map[string]string{
	"serial":      "integer",
	"serial2":     "smallint",
	"serial4":     "integer",
	"serial8":     "bigint",
	"smallserial": "smallint",
	"bigserial":   "bigint",

	"varchar": "character varying",
	"char":    "character",

	"int":      "integer",
	"integer":  "integer",
	"int4":     "integer",
	"int2":     "smallint",
	"smallint": "smallint",
	"int8":     "bigint",
	"bigint":   "bigint",

	"real":   "real",
	"float4": "real",
	"double": "double precision",
	"float":  "double precision",
	"float8": "double precision",

	"numeric": "numeric",
	"decimal": "numeric",

	"timestamp":   "timestamp without time zone",
	"timestamptz": "timestamp with time zone",
	"date":        "date",
	"time":        "time without time zone",
	"timetz":      "time with time zone",

	"boolean": "boolean",
	"bool":    "boolean",
	"json":    "json",
	"jsonb":   "jsonb",
	"uuid":    "uuid",
	"varbit":  "bit varying",
}

// typeHead strips a parenthesized length suffix: "VARCHAR(64)" -> "VARCHAR".
func typeHead(declaredType string) string {
	if i := strings.IndexByte(declaredType, '('); i >= 0 {
		return strings.TrimSpace(declaredType[:i])
	}
	return strings.TrimSpace(declaredType)
}

// catalogType resolves a declared type to the lower-case wire form the
// catalog will report after the column exists.
func catalogType(declaredType string) string {
	head := strings.ToLower(typeHead(declaredType))
	if wire, ok := catalogTypes[head]; ok {
		return wire
	}
	return head
}

// isSerialType reports whether the declared type is any SERIAL variant.
// SERIAL columns carry an implicit NOT NULL and a sequence-bound default the
// engine never emits or diffs.
func isSerialType(declaredType string) bool {
	head := strings.ToLower(typeHead(declaredType))
	switch head {
	case "serial", "serial2", "serial4", "serial8", "smallserial", "bigserial":
		return true
	}
	return false
}

// typeLength extracts the (N) length of a declared character type.
func typeLength(declaredType string) (int64, bool) {
	open := strings.IndexByte(declaredType, '(')
	end := strings.IndexByte(declaredType, ')')
	if open < 0 || end <= open {
		return 0, false
	}
	inner := strings.TrimSpace(declaredType[open+1 : end])
	if strings.ContainsRune(inner, ',') {
		return 0, false
	}
	n := int64(0)
	for _, r := range inner {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int64(r-'0')
	}
	if inner == "" {
		return 0, false
	}
	return n, true
}

// typePrecisionScale extracts the (P[,S]) suffix of a declared numeric type.
// Scale defaults to 0 when only a precision is written.
func typePrecisionScale(declaredType string) (precision, scale int64, ok bool) {
	open := strings.IndexByte(declaredType, '(')
	end := strings.IndexByte(declaredType, ')')
	if open < 0 || end <= open {
		return 0, 0, false
	}
	inner := declaredType[open+1 : end]
	parts := strings.SplitN(inner, ",", 2)
	parse := func(s string) (int64, bool) {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false
		}
		n := int64(0)
		for _, r := range s {
			if r < '0' || r > '9' {
				return 0, false
			}
			n = n*10 + int64(r-'0')
		}
		return n, true
	}
	p, pok := parse(parts[0])
	if !pok {
		return 0, 0, false
	}
	if len(parts) == 2 {
		s, sok := parse(parts[1])
		if !sok {
			return 0, 0, false
		}
		return p, s, true
	}
	return p, 0, true
}
