// Package depfile parses the Make-style dependency files GCC-compatible
// compilers emit: a single "output: input1 input2 ..." rule, with
// backslash-newline line continuations and backslash-escaped special
// characters within tokens.
package depfile

import (
	"fmt"
	"strings"
)

// Parsed holds one depfile's declared output and its list of inputs, in
// the order they appeared.
type Parsed struct {
	Out string
	Ins []string
}

// Parse reads a NUL-or-not-terminated depfile body. Only one output
// target is permitted -- a depfile with several output rules (which
// some older compilers emitted for multiple outputs sharing inputs) is
// rejected the same way upstream does, since the core only ever wants
// the first output's dependency set.
func Parse(content string) (Parsed, error) {
	content = strings.TrimSuffix(content, "\x00")
	joined := joinContinuations(content)

	var result Parsed
	for _, line := range strings.Split(joined, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		colon := strings.Index(line, ":")
		if colon < 0 {
			return Parsed{}, fmt.Errorf("expected ':' in depfile")
		}
		target := unescapeToken(strings.TrimSpace(line[:colon]))
		if result.Out == "" {
			result.Out = target
		} else if target != result.Out {
			return Parsed{}, fmt.Errorf("depfile has multiple outputs: %q and %q", result.Out, target)
		}

		rest := strings.TrimSpace(line[colon+1:])
		for _, tok := range splitTokens(rest) {
			in := unescapeToken(tok)
			if in == result.Out {
				return Parsed{}, fmt.Errorf("inputs may not also have inputs")
			}
			result.Ins = append(result.Ins, in)
		}
	}
	if result.Out == "" {
		return Parsed{}, fmt.Errorf("expected ':' in depfile")
	}
	return result, nil
}

// joinContinuations collapses a trailing "\<newline>" into a single
// space, the Make convention for splitting a long dependency list
// across several physical lines.
func joinContinuations(content string) string {
	var b strings.Builder
	for i := 0; i < len(content); i++ {
		if content[i] == '\\' && i+1 < len(content) && content[i+1] == '\n' {
			b.WriteByte(' ')
			i++
			continue
		}
		b.WriteByte(content[i])
	}
	return b.String()
}

// splitTokens splits on whitespace, honoring backslash-escaped spaces
// as part of a single path token.
func splitTokens(s string) []string {
	var toks []string
	var cur strings.Builder
	escaped := false
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == ' ' || c == '\t':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return toks
}

// unescapeToken removes the backslash escapes splitTokens preserved for
// characters other than whitespace (e.g. "\#" -> "#").
func unescapeToken(tok string) string {
	if !strings.Contains(tok, "\\") {
		return tok
	}
	var b strings.Builder
	escaped := false
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
		} else if c == '\\' {
			escaped = true
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}
