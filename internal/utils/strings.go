package utils

import "fmt"

// MaskString shortens a potentially sensitive or long string for logging,
// keeping a small prefix and suffix.
func MaskString(s string) string {
	const keep = 8
	if len(s) <= keep*2 {
		return s
	}
	return fmt.Sprintf("%s...%s (len=%d)", s[:keep], s[len(s)-keep:], len(s))
}

// LogItem renders a cell value for logging without dumping its content.
func LogItem(v any) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return MaskString(x)
	case []float32:
		return fmt.Sprintf("vector(len=%d)", len(x))
	case []byte:
		return fmt.Sprintf("bytes(len=%d)", len(x))
	default:
		return fmt.Sprintf("type=%T", v)
	}
}
