package diffpatch

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/hyperjump/chatdigest/pkg/utils"
)

// Report counts what happened to each hunk of a diff.
type Report struct {
	Hunks   int // hunks found in the diff
	Applied int // hunks that changed the text
	NoOp    int // hunks that left the text unchanged
}

func (r Report) String() string {
	return fmt.Sprintf("%d hunks, %d applied, %d no-op", r.Hunks, r.Applied, r.NoOp)
}

// Apply patches content with diff and returns the new text. Hunks are applied in
// order against the same buffer, so a later hunk sees the edits of earlier ones.
func Apply(content, diff string) (string, Report) {
	lines := splitLines(content)
	hunks := Parse(diff)
	rep := Report{Hunks: len(hunks)}
	for _, h := range hunks {
		var changed bool
		lines, changed = applyHunk(lines, h)
		if changed {
			rep.Applied++
		} else {
			rep.NoOp++
		}
	}
	return strings.Join(lines, ""), rep
}

// ApplyFile patches the file at path in place. The file is replaced atomically and
// left alone when the diff changes nothing.
func ApplyFile(path, diff string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	patched, rep := Apply(string(data), diff)
	if rep.Applied == 0 {
		return rep, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return rep, err
	}
	if err := utils.WriteFileAtomic(path, []byte(patched), info.Mode().Perm()); err != nil {
		return rep, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return rep, nil
}

// splitLines splits s after every newline, keeping the terminators. The last line
// has none when s does not end with a newline.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func applyHunk(lines []string, h Hunk) ([]string, bool) {
	if a := h.anchor(); a >= 0 {
		return applyAnchored(lines, h.Lines[a].Text, h.Lines[a+1:])
	}
	var removals, additions []string
	for _, l := range h.Lines {
		switch l.Kind {
		case Remove:
			removals = append(removals, strings.TrimSpace(l.Text))
		case Add:
			additions = append(additions, l.Text)
		}
	}
	return replaceBlock(lines, removals, additions)
}

// applyAnchored locates the first line containing the anchor text and replays the
// rest of the hunk after it.
func applyAnchored(lines []string, anchor string, rest []Line) ([]string, bool) {
	anchor = strings.TrimSpace(anchor)
	pos := slices.IndexFunc(lines, func(l string) bool { return strings.Contains(l, anchor) })
	if pos < 0 {
		return lines, false
	}

	changed := false
	cursor := pos + 1
	for _, l := range rest {
		switch l.Kind {
		case Remove:
			text := strings.TrimSpace(l.Text)
			for j := cursor; j < len(lines); j++ {
				if strings.Contains(lines[j], text) {
					lines = slices.Delete(lines, j, j+1)
					changed = true
					break
				}
			}
		case Add:
			at := min(cursor, len(lines))
			if at > 0 && !strings.HasSuffix(lines[at-1], "\n") {
				lines[at-1] += "\n"
			}
			lines = slices.Insert(lines, at, terminate(l.Text))
			cursor = at + 1
			changed = true
		case Context:
			cursor++
		}
	}
	return lines, changed
}

// replaceBlock swaps the first run of consecutive lines containing removals, in
// order, for additions.
func replaceBlock(lines, removals, additions []string) ([]string, bool) {
	if len(removals) == 0 {
		return lines, false
	}
	for i := 0; i+len(removals) <= len(lines); i++ {
		match := true
		for j, r := range removals {
			if !strings.Contains(lines[i+j], r) {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		repl := make([]string, 0, len(additions))
		for _, a := range additions {
			repl = append(repl, terminate(a))
		}
		return slices.Replace(lines, i, i+len(removals), repl...), true
	}
	return lines, false
}

func terminate(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
