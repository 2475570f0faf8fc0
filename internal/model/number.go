package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// number converts the loosely typed values coming from JSON tool calls or
// Go callers into a float64.
func number(key string, value any) (float64, error) {
	var f float64
	switch v := value.(type) {
	case int:
		f = float64(v)
	case int8:
		f = float64(v)
	case int16:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint8:
		f = float64(v)
	case uint16:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		var err error
		f, err = v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrInvalidValue, key, err)
		}
	case string:
		var err error
		f, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %q is not a number", ErrInvalidValue, key, v)
		}
	default:
		return 0, fmt.Errorf("%w: %s: expected a number, got %T", ErrInvalidValue, key, value)
	}
	if math.IsNaN(f) {
		return 0, fmt.Errorf("%w: %s: NaN", ErrInvalidValue, key)
	}
	return f, nil
}

func positiveInt(key string, value any) (int, error) {
	f, err := number(key, value)
	if err != nil {
		return 0, err
	}
	if f < 1 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %v", ErrInvalidValue, key, value)
	}
	return int(f), nil
}
