package base

import (
	"fmt"
	"strconv"
)

// GetLimitFromParameter reads a concurrency limit from a configuration value,
// which may arrive as a YAML number or, through environment overrides, as a
// string. A nil value yields def; anything below min, negatives included,
// yields min.
func GetLimitFromParameter(param interface{}, min, def uint64) (uint64, error) {
	var signed int64
	switch v := param.(type) {
	case nil:
		return clampLimit(def, min), nil
	case string:
		n, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("parameter must be an integer, '%v' invalid", param)
		}
		return clampLimit(n, min), nil
	case uint:
		return clampLimit(uint64(v), min), nil
	case uint32:
		return clampLimit(uint64(v), min), nil
	case uint64:
		return clampLimit(v, min), nil
	case int:
		signed = int64(v)
	case int32:
		signed = int64(v)
	case int64:
		signed = v
	default:
		return 0, fmt.Errorf("invalid value '%#v'", param)
	}

	if signed <= 0 {
		return min, nil
	}
	return clampLimit(uint64(signed), min), nil
}

func clampLimit(n, min uint64) uint64 {
	if n < min {
		return min
	}
	return n
}
