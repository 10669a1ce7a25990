// Package clparser extracts MSVC's /showIncludes output from a
// captured command's stdout, per the deps=msvc contract in spec §6.
package clparser

import "strings"

const defaultPrefix = "Note: including file: "

// Parse scans output line by line. Lines that match prefix (or the
// English default when prefix is empty) contribute one include path
// each and are stripped from the returned filtered text; every other
// line is preserved verbatim.
func Parse(output, prefix string) (includes []string, filtered string) {
	if prefix == "" {
		prefix = defaultPrefix
	}
	seen := map[string]bool{}
	var out strings.Builder
	for _, line := range splitLines(output) {
		if inc := filterShowIncludes(line, prefix); inc != "" {
			if !seen[inc] {
				seen[inc] = true
				includes = append(includes, inc)
			}
			continue
		}
		out.WriteString(line)
		out.WriteString("\n")
	}
	return includes, out.String()
}

func filterShowIncludes(line, prefix string) string {
	if !strings.HasPrefix(line, prefix) {
		return ""
	}
	return strings.TrimPrefix(line[len(prefix):], " ")
}

// splitLines splits on \r\n, \r or \n without dropping a trailing
// unterminated line, matching the line-oriented scan clparser.go does
// over cl.exe's captured output.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
