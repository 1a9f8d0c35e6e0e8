package config

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	kb = 1024
	mb = 1024 * kb
	gb = 1024 * mb
)

// ParseSize parses size strings like "1MB", "512KB" or "2048" to bytes.
func ParseSize(size string) (int64, error) {
	upper := strings.ToUpper(strings.TrimSpace(size))
	if upper == "" {
		return 0, fmt.Errorf("size is empty")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = kb
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = mb
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = gb
		upper = strings.TrimSuffix(upper, "GB")
	case strings.HasSuffix(upper, "B"):
		upper = strings.TrimSuffix(upper, "B")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q: %w", size, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive: %q", size)
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large: %q", size)
	}
	return result, nil
}

// FormatSize renders n using the largest unit that divides it evenly.
func FormatSize(n int64) string {
	switch {
	case n > 0 && n%gb == 0:
		return strconv.FormatInt(n/gb, 10) + "GB"
	case n > 0 && n%mb == 0:
		return strconv.FormatInt(n/mb, 10) + "MB"
	case n > 0 && n%kb == 0:
		return strconv.FormatInt(n/kb, 10) + "KB"
	default:
		return strconv.FormatInt(n, 10)
	}
}
