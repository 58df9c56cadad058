// Package scalars implements the engine's custom GraphQL scalar coercers
// (§6, §11) as graphql-go Scalar types, following the
// graphql.NewScalar(graphql.ScalarConfig{Serialize, ParseValue, ParseLiteral})
// construction the pack's graphql-go users (abiolaogu-LumaDB's jsonScalar,
// roderm-graphql-go's federation scalars) all follow.
package scalars

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

// jsonSafeLongBound is the largest magnitude integer a float64 (and hence a
// JSON number in most client runtimes) can represent exactly.
const jsonSafeLongBound = int64(1) << 53

// ErrInvalidScalar describes a value that failed validation; parseDate,
// parseDateTime, validateLocalTime and DecodeCursor return it. The scalars'
// ParseValue/ParseLiteral functions do not pass it on: they return nil for
// an invalid value.
type ErrInvalidScalar struct {
	Scalar string
	Value  interface{}
	Reason string
}

func (e *ErrInvalidScalar) Error() string {
	return fmt.Sprintf("%s: invalid value %v: %s", e.Scalar, e.Value, e.Reason)
}

func invalid(scalar string, value interface{}, reason string) *ErrInvalidScalar {
	return &ErrInvalidScalar{Scalar: scalar, Value: value, Reason: reason}
}

// Date is an ISO-8601 calendar date with no time component.
var Date = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "Date",
	Description: "An ISO-8601 calendar date, e.g. 2022-11-23.",
	Serialize: func(value interface{}) interface{} {
		t, ok := value.(time.Time)
		if !ok {
			return nil
		}
		return t.Format("2006-01-02")
	},
	ParseValue: func(value interface{}) interface{} {
		s, _ := value.(string)
		t, err := parseDate(s)
		if err != nil {
			return nil
		}
		return t
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		sv, ok := valueAST.(*ast.StringValue)
		if !ok {
			return nil
		}
		t, err := parseDate(sv.Value)
		if err != nil {
			return nil
		}
		return t
	},
})

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, invalid("Date", s, "expected YYYY-MM-DD")
	}
	return t, nil
}

// DateTime is an ISO-8601 timestamp with millisecond precision, a 4-digit
// year, always serialized in UTC (§6).
var DateTime = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "DateTime",
	Description: "An ISO-8601 timestamp with millisecond precision, serialized in UTC.",
	Serialize: func(value interface{}) interface{} {
		t, ok := value.(time.Time)
		if !ok {
			return nil
		}
		return t.UTC().Format("2006-01-02T15:04:05.000Z")
	},
	ParseValue: func(value interface{}) interface{} {
		s, _ := value.(string)
		t, err := parseDateTime(s)
		if err != nil {
			return nil
		}
		return t
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		sv, ok := valueAST.(*ast.StringValue)
		if !ok {
			return nil
		}
		t, err := parseDateTime(sv.Value)
		if err != nil {
			return nil
		}
		return t
	},
})

func parseDateTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, invalid("DateTime", s, "expected RFC3339 timestamp")
	}
	if y := t.Year(); y < 1 || y > 9999 {
		return time.Time{}, invalid("DateTime", s, "year out of range 0001..9999")
	}
	return t, nil
}

// LocalTime is a wall-clock time of day with no date or zone, HH:MM:SS[.sss].
var LocalTime = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "LocalTime",
	Description: "A time of day with no date or zone component: HH:MM:SS[.sss].",
	Serialize: func(value interface{}) interface{} {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		return s
	},
	ParseValue: func(value interface{}) interface{} {
		s, _ := value.(string)
		if err := validateLocalTime(s); err != nil {
			return nil
		}
		return s
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		sv, ok := valueAST.(*ast.StringValue)
		if !ok {
			return nil
		}
		if err := validateLocalTime(sv.Value); err != nil {
			return nil
		}
		return sv.Value
	},
})

func validateLocalTime(s string) error {
	layouts := []string{"15:04:05.000", "15:04:05"}
	for _, layout := range layouts {
		if _, err := time.Parse(layout, s); err == nil {
			return nil
		}
	}
	return invalid("LocalTime", s, "expected HH:MM:SS[.sss]")
}

// JsonSafeLong is an integer constrained to the range a float64/JSON number
// can represent exactly: ±2^53.
var JsonSafeLong = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "JsonSafeLong",
	Description: "An integer within the range a JSON number represents exactly (±2^53).",
	Serialize: func(value interface{}) interface{} {
		n, ok := toInt64(value)
		if !ok {
			return nil
		}
		return n
	},
	ParseValue: func(value interface{}) interface{} {
		n, ok := toInt64(value)
		if !ok || !withinJSONSafeBound(n) {
			return nil
		}
		return n
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		iv, ok := valueAST.(*ast.IntValue)
		if !ok {
			return nil
		}
		n, err := strconv.ParseInt(iv.Value, 10, 64)
		if err != nil || !withinJSONSafeBound(n) {
			return nil
		}
		return n
	},
})

func withinJSONSafeBound(n int64) bool {
	return n <= jsonSafeLongBound && n >= -jsonSafeLongBound
}

func toInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// LongString carries an arbitrary 64-bit integer as a decimal string, for
// values that may exceed JsonSafeLong's range.
var LongString = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "LongString",
	Description: "An arbitrary 64-bit integer encoded as a decimal string.",
	Serialize: func(value interface{}) interface{} {
		n, ok := toInt64(value)
		if !ok {
			return nil
		}
		return strconv.FormatInt(n, 10)
	},
	ParseValue: func(value interface{}) interface{} {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			return nil
		}
		return s
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		switch v := valueAST.(type) {
		case *ast.StringValue:
			if _, err := strconv.ParseInt(v.Value, 10, 64); err != nil {
				return nil
			}
			return v.Value
		case *ast.IntValue:
			return v.Value
		}
		return nil
	},
})

// Cursor is an opaque base64url-encoded pagination token; the scalar only
// validates that it decodes, it does not interpret the payload (that is
// internal/resolve's job).
var Cursor = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "Cursor",
	Description: "An opaque pagination cursor.",
	Serialize: func(value interface{}) interface{} {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		return s
	},
	ParseValue: func(value interface{}) interface{} {
		s, _ := value.(string)
		if _, err := DecodeCursor(s); err != nil {
			return nil
		}
		return s
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		sv, ok := valueAST.(*ast.StringValue)
		if !ok {
			return nil
		}
		if _, err := DecodeCursor(sv.Value); err != nil {
			return nil
		}
		return sv.Value
	},
})

// EncodeCursor produces the opaque, base64url, padding-free cursor string
// for an arbitrary payload.
func EncodeCursor(payload []byte) string {
	return base64.RawURLEncoding.EncodeToString(payload)
}

// DecodeCursor reverses EncodeCursor, returning a GraphQL-surfaceable error
// that echoes the offending value (§4.7: "malformed -> GraphQL error with a
// message echoing the offending value").
func DecodeCursor(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, invalid("Cursor", s, fmt.Sprintf("malformed cursor %q", s))
	}
	return b, nil
}

// Untyped carries arbitrary JSON through unchanged.
var Untyped = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "Untyped",
	Description: "Arbitrary JSON, passed through without schema validation.",
	Serialize: func(value interface{}) interface{} {
		return value
	},
	ParseValue: func(value interface{}) interface{} {
		return value
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		return parseUntypedLiteral(valueAST)
	},
})

func parseUntypedLiteral(v ast.Value) interface{} {
	switch val := v.(type) {
	case *ast.StringValue:
		return val.Value
	case *ast.IntValue:
		n, _ := strconv.ParseInt(val.Value, 10, 64)
		return n
	case *ast.FloatValue:
		f, _ := strconv.ParseFloat(val.Value, 64)
		return f
	case *ast.BooleanValue:
		return val.Value
	case *ast.ListValue:
		out := make([]interface{}, len(val.Values))
		for i, item := range val.Values {
			out[i] = parseUntypedLiteral(item)
		}
		return out
	case *ast.ObjectValue:
		out := map[string]interface{}{}
		for _, f := range val.Fields {
			out[f.Name.Value] = parseUntypedLiteral(f.Value)
		}
		return out
	case *ast.NullValue:
		return nil
	}
	return nil
}

// GeoLocation is {latitude, longitude} — an input object rather than a
// scalar, so this package does not define it; no package of this module
// constructs it.

// allowedTimeZones is a curated allow-list; TimeZone rejects anything not in
// this set rather than deferring to the runtime's tzdata, so that an
// unrecognized identifier is a predictable GraphQL validation error rather
// than an environment-dependent one.
var allowedTimeZones = map[string]bool{
	"UTC": true, "America/Los_Angeles": true, "America/New_York": true,
	"America/Chicago": true, "America/Denver": true, "Europe/London": true,
	"Europe/Paris": true, "Europe/Berlin": true, "Asia/Tokyo": true,
	"Asia/Shanghai": true, "Asia/Kolkata": true, "Australia/Sydney": true,
}

// TimeZone is an IANA zone identifier drawn from a curated allow-list.
var TimeZone = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "TimeZone",
	Description: "An IANA time zone identifier from a curated allow-list.",
	Serialize: func(value interface{}) interface{} {
		s, _ := value.(string)
		return s
	},
	ParseValue: func(value interface{}) interface{} {
		s, _ := value.(string)
		if !ValidTimeZone(s) {
			return nil
		}
		return s
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		sv, ok := valueAST.(*ast.StringValue)
		if !ok || !ValidTimeZone(sv.Value) {
			return nil
		}
		return sv.Value
	},
})

// ValidTimeZone reports whether id is on the curated allow-list.
func ValidTimeZone(id string) bool {
	return allowedTimeZones[strings.TrimSpace(id)]
}
