// Package diffpatch applies loosely formatted unified diffs produced by a language
// model to existing text.
//
// Hunk headers carry no line numbers that can be trusted. Instead every hunk is
// located by substring matching of its context, ignoring surrounding whitespace.
// Hunks that cannot be located leave the text untouched and are reported as
// no-ops rather than errors.
package diffpatch

import "strings"

// Kind classifies a hunk line by its leading character.
type Kind int

const (
	Context Kind = iota // ' '
	Remove              // '-'
	Add                 // '+'
)

// Line is one classified hunk line with its marker stripped.
type Line struct {
	Kind Kind
	Text string
}

// Hunk is the body of one "@@" section.
type Hunk struct {
	Lines []Line
}

// Parse splits diff into hunks. Text before the first "@@" header is ignored, and
// a "---" or "+++" file header ends the current hunk. Lines that do not start
// with ' ', '-' or '+' are dropped.
func Parse(diff string) []Hunk {
	var hunks []Hunk
	cur := -1
	for _, raw := range strings.Split(diff, "\n") {
		line := strings.TrimSuffix(raw, "\r")
		switch {
		case strings.HasPrefix(line, "@@"):
			hunks = append(hunks, Hunk{})
			cur = len(hunks) - 1
			continue
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			cur = -1
			continue
		}
		if cur < 0 || line == "" {
			continue
		}
		var kind Kind
		switch line[0] {
		case ' ':
			kind = Context
		case '-':
			kind = Remove
		case '+':
			kind = Add
		default:
			continue
		}
		hunks[cur].Lines = append(hunks[cur].Lines, Line{Kind: kind, Text: line[1:]})
	}
	return hunks
}

// anchor returns the index of the last context line before the first change, or
// -1 when the hunk starts with a change or has no context at all.
func (h Hunk) anchor() int {
	idx := -1
	for i, l := range h.Lines {
		if l.Kind != Context {
			break
		}
		idx = i
	}
	return idx
}

// HasChanges reports whether the hunk adds or removes anything.
func (h Hunk) HasChanges() bool {
	for _, l := range h.Lines {
		if l.Kind != Context {
			return true
		}
	}
	return false
}
