package base

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLimitFromParameter(t *testing.T) {
	tests := []struct {
		Input    interface{}
		Expected uint64
		Min      uint64
		Default  uint64
		Err      error
	}{
		{"foo", 0, 5, 5, fmt.Errorf("parameter must be an integer, 'foo' invalid")},
		{"50", 50, 5, 5, nil},
		{"5", 25, 25, 50, nil}, // lower than Min returns Min
		{nil, 50, 25, 50, nil}, // nil returns default
		{812, 812, 25, 50, nil},
		{-3, 25, 25, 50, nil}, // negative returns Min
		{uint32(40), 40, 25, 50, nil},
		{int64(64), 64, 1, 100, nil},
		{"0x10", 16, 1, 100, nil},
		{3.5, 0, 25, 50, fmt.Errorf("invalid value '3.5'")},
	}

	for _, item := range tests {
		t.Run(fmt.Sprint(item.Input), func(t *testing.T) {
			actual, err := GetLimitFromParameter(item.Input, item.Min, item.Default)
			if item.Err != nil {
				assert.EqualError(t, err, item.Err.Error())
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, item.Expected, actual)
		})
	}
}
