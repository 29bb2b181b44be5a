package internal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// FieldKind is the coercion target for a leaf value, resolved from a field
// descriptor (C2) before C1 runs. It is deliberately narrower than a Go
// reflect.Kind: it captures the *search-relevant* shape of a field (is it
// temporal? is it an enum with a fixed value set?) rather than its exact Go
// representation.
type FieldKind int

const (
	KindText FieldKind = iota
	KindInt
	KindFloat
	KindBool
	KindDate
	KindDateTime
	KindUUID
	KindEnum
)

// trueTokens / falseTokens mirror the boolean word-sets a human filter UI is
// expected to emit, grounded on internal/attribute_converter.go's
// toBoolForEAV (which only handled Go bool/"true"/"false"); expanded here to
// the richer token set spec.md's C1 rules call for.
var trueTokens = map[string]bool{"true": true, "t": true, "yes": true, "y": true, "1": true, "on": true}
var falseTokens = map[string]bool{"false": true, "f": true, "no": true, "n": true, "0": true, "off": true}

// temporalLayouts is the fallback chain ParseTemporal walks, grounded on
// internal/sql_generator.go's parseDateValue (which tried RFC3339 then a
// Unix-millisecond fallback); expanded with common date-only and
// space-separated layouts.
var temporalLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
}

// NormalizeString applies NFC normalization and strips a leading UTF-8 BOM,
// per spec.md's C1 Unicode-handling rule. Grounded on no single teacher
// file (the teacher never normalizes Unicode) but promotes golang.org/x/text
// — already an indirect dependency of the teacher via duckdb-go — to a
// direct, exercised one.
func NormalizeString(s string) string {
	s = strings.TrimPrefix(s, string(rune(0xFEFF)))
	return norm.NFC.String(s)
}

// StripGrouping removes grouping characters (thousands separators) from a
// numeric string before parsing, grounded on condition.go's tryParseNumber
// (which parsed raw strings directly, without stripping); spec.md's C1 rule
// requires stripping ',' and '_' group separators first.
func StripGrouping(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "_", "")
	return strings.TrimSpace(s)
}

// ParseBool matches a case-insensitive boolean word-set, grounded on
// internal/attribute_converter.go's toBoolForEAV, generalized from
// strconv.ParseBool-only to the full word-set spec.md's C1 rule defines.
func ParseBool(raw string) (bool, error) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if trueTokens[lower] {
		return true, nil
	}
	if falseTokens[lower] {
		return false, nil
	}
	return false, fmt.Errorf("value %q is not a recognized boolean token", raw)
}

// ParseEnum resolves raw against allowed case-insensitively, returning the
// canonical (as-declared) member. Grounded on schema_registry.go's
// case-sensitive ValueType constants, generalized to spec.md's
// case-insensitive enum matching rule.
func ParseEnum(raw string, allowed []string) (string, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	for _, a := range allowed {
		if strings.ToLower(a) == norm {
			return a, nil
		}
	}
	return "", fmt.Errorf("value %q is not one of %v", raw, allowed)
}

// ParseTemporal parses raw against the fallback layout chain, in loc when
// the layout carries no explicit offset. Grounded on
// internal/sql_generator.go's parseDateValue, expanded with more layouts and
// explicit timezone handling (spec.md's C1 rule: naive timestamps are
// interpreted in loc, not UTC).
func ParseTemporal(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range temporalLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			if !strings.Contains(layout, "Z07") && !strings.Contains(layout, "-07") {
				return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
			}
			return t, nil
		}
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).In(loc), nil
	}
	return time.Time{}, fmt.Errorf("value %q does not match any recognized temporal format", raw)
}

// DayBounds expands a date-only value into the [start, end) bounds of that
// calendar day in loc — spec.md's C1 "range-aware BETWEEN" rule: a BETWEEN
// whose operands parse as dates (no time component) is widened so the
// comparison includes the entire end day, not just midnight.
func DayBounds(t time.Time, loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	start = time.Date(y, m, d, 0, 0, 0, 0, loc)
	end = start.Add(24 * time.Hour)
	return start, end
}

// IsDateOnly reports whether raw matches a date-only layout (no time
// component), used to decide whether DayBounds widening applies.
func IsDateOnly(raw string) bool {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02", "2006/01/02", "01/02/2006"} {
		if _, err := time.Parse(layout, raw); err == nil {
			return true
		}
	}
	return false
}

// Coerce converts raw (typically a string from the wire format, but passed
// through unchanged if already the target Go type) to the Go representation
// FieldKind demands. enumValues is only consulted for KindEnum.
func Coerce(raw any, kind FieldKind, loc *time.Location, enumValues []string) (any, error) {
	switch kind {
	case KindText:
		if s, ok := raw.(string); ok {
			return NormalizeString(s), nil
		}
		return fmt.Sprintf("%v", raw), nil
	case KindInt:
		switch v := raw.(type) {
		case int, int32, int64:
			return v, nil
		case float64:
			return int64(v), nil
		case string:
			i, err := strconv.ParseInt(StripGrouping(v), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid integer %q: %w", v, err)
			}
			return i, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to integer", raw)
		}
	case KindFloat:
		switch v := raw.(type) {
		case float64, float32:
			return v, nil
		case int:
			return float64(v), nil
		case int32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(StripGrouping(v), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q: %w", v, err)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to number", raw)
		}
	case KindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			return ParseBool(v)
		default:
			return nil, fmt.Errorf("cannot coerce %T to boolean", raw)
		}
	case KindDate, KindDateTime:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case string:
			return ParseTemporal(v, loc)
		default:
			return nil, fmt.Errorf("cannot coerce %T to a temporal value", raw)
		}
	case KindUUID:
		if s, ok := raw.(string); ok {
			return NormalizeString(strings.TrimSpace(s)), nil
		}
		return raw, nil
	case KindEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("enum value must be a string, got %T", raw)
		}
		return ParseEnum(s, enumValues)
	default:
		return nil, fmt.Errorf("unsupported field kind %d", kind)
	}
}
