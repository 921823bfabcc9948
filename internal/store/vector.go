package store

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errEmptyVector = errors.New("empty vector")

// Vector is a pgvector column value. It writes the text form "[x,y,...]" and reads it
// back; a NULL column scans to a nil Vector.
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, errEmptyVector
	}
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}

func (v *Vector) Scan(src interface{}) error {
	var text string
	switch s := src.(type) {
	case nil:
		*v = nil
		return nil
	case string:
		text = s
	case []byte:
		text = string(s)
	default:
		return fmt.Errorf("scan vector: unsupported type %T", src)
	}
	text = strings.Trim(strings.TrimSpace(text), "[]")
	if text == "" {
		*v = nil
		return nil
	}
	fields := strings.Split(text, ",")
	out := make(Vector, 0, len(fields))
	for _, field := range fields {
		f, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
		if err != nil {
			return fmt.Errorf("scan vector: %w", err)
		}
		out = append(out, float32(f))
	}
	*v = out
	return nil
}
