// Package term holds the formatting helpers of the interactive terminal.
package term

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidHex is returned by ParseHex for input that is not whole bytes of hex.
var ErrInvalidHex = errors.New("term: invalid hex input")

// FormatHex renders b as lower-case hex bytes separated by spaces.
func FormatHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(hex.EncodeToString([]byte{c}))
	}
	return sb.String()
}

// ParseHex decodes hex digits, ignoring whitespace between them:
// "01 ab FF" and "01abff" give the same bytes.
func ParseHex(s string) ([]byte, error) {
	compact := strings.Join(strings.Fields(s), "")
	if compact == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidHex)
	}
	b, err := hex.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHex, err)
	}
	return b, nil
}
