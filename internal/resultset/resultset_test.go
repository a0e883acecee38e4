package resultset

import (
	"testing"
	"time"
)

func TestInferTypeCoversBothDialects(t *testing.T) {
	cases := map[string]string{
		"INT8":          TypeInteger,
		"BIGINT":        TypeInteger,
		"HUGEINT":       TypeInteger,
		"FLOAT8":        TypeFloat,
		"DOUBLE":        TypeFloat,
		"NUMERIC":       TypeNumeric,
		"DECIMAL(18,3)": TypeNumeric,
		"VARCHAR":       TypeText,
		"text":          TypeText,
		"UUID":          TypeText,
		"BOOL":          TypeBoolean,
		"TIMESTAMPTZ":   TypeTimestamp,
		"TIMESTAMP_NS":  TypeTimestamp,
		"DATE":          TypeDate,
		"TIMETZ":        TypeTime,
		"BYTEA":         TypeBinary,
		"BLOB":          TypeBinary,
		"GEOMETRY":      TypeUnknown,
		"":              TypeUnknown,
	}
	for input, want := range cases {
		if got := InferType(input); got != want {
			t.Fatalf("InferType(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeValues(t *testing.T) {
	loc := time.FixedZone("JST", 9*3600)
	stamp := time.Date(2023, 4, 1, 9, 0, 0, 0, loc)

	got := NormalizeValues([]any{[]byte("ministry of health"), stamp, int64(42), nil})
	if got[0] != "ministry of health" {
		t.Fatalf("byte slice = %#v", got[0])
	}
	normalized, ok := got[1].(time.Time)
	if !ok || normalized.Location() != time.UTC || normalized.Hour() != 0 {
		t.Fatalf("time = %#v", got[1])
	}
	if got[2] != int64(42) || got[3] != nil {
		t.Fatalf("passthrough = %#v", got[2:])
	}
}
