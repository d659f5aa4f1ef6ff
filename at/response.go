package at

import "strings"

// Response is the outcome of one exchange: every intermediate line in
// the order received plus the final line that ended it.
type Response struct {
	Success       bool
	Intermediates []string
	Final         string
}

// Err returns the structured error of an unsuccessful response, or nil.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	return ParseError(r.Final)
}

// Value returns the text after prefix on the first intermediate line
// that starts with it, with surrounding space removed.
func (r Response) Value(prefix string) (string, bool) {
	for _, line := range r.Intermediates {
		if v, ok := strings.CutPrefix(line, prefix); ok {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func (r Response) String() string {
	lines := append(append([]string{}, r.Intermediates...), r.Final)
	return strings.Join(lines, "\n")
}
