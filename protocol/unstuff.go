package protocol

import "strings"

// Unstuff reverses NNTP dot-stuffing on a single already-CRLF-stripped
// line: a leading ".." becomes a single leading ".". Lines that don't start
// with "." are returned unchanged.
func Unstuff(line string) string {
	if strings.HasPrefix(line, "..") {
		return line[1:]
	}
	return line
}
