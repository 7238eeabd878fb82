package term

import "fmt"

// LineEnding is appended to every line sent in text mode.
type LineEnding string

const (
	LineNone LineEnding = "none"
	LineCR   LineEnding = "cr"
	LineLF   LineEnding = "lf"
	LineCRLF LineEnding = "crlf"
)

// ParseLineEnding accepts the names used in the config file.
func ParseLineEnding(s string) (LineEnding, error) {
	switch e := LineEnding(s); e {
	case LineNone, LineCR, LineLF, LineCRLF:
		return e, nil
	default:
		return "", fmt.Errorf("term: unknown line ending %q", s)
	}
}

// Suffix returns the bytes the ending stands for.
func (e LineEnding) Suffix() string {
	switch e {
	case LineCR:
		return "\r"
	case LineLF:
		return "\n"
	case LineCRLF:
		return "\r\n"
	default:
		return ""
	}
}

// Apply strips the terminal's own line terminator from line and appends e.
func (e LineEnding) Apply(line string) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return []byte(line + e.Suffix())
}
