package parse

import (
	"strings"

	"github.com/cmdwarden/warden/internal/core"
)

// Prefixes models put in front of the command they propose. Stripped
// before any other inspection.
var suggestionPrefixes = []string{
	"i suggest running:",
	"execute:",
	"command:",
	"run:",
}

// Leading tokens accepted as the start of a bare command line. Lines
// inside code fences or behind a "$ " marker bypass this check.
var commandVerbs = map[string]struct{}{
	"ls": {}, "find": {}, "grep": {}, "cat": {}, "echo": {}, "pwd": {},
	"whoami": {}, "df": {}, "du": {}, "ps": {}, "uptime": {}, "date": {},
	"head": {}, "tail": {}, "wc": {}, "mkdir": {}, "touch": {}, "cp": {},
	"mv": {}, "rm": {}, "chmod": {}, "chown": {}, "tar": {}, "curl": {},
	"wget": {}, "git": {}, "go": {}, "python": {}, "python3": {}, "pip": {},
	"npm": {}, "make": {}, "docker": {}, "systemctl": {}, "journalctl": {},
	"kill": {}, "sed": {}, "awk": {}, "sort": {}, "uniq": {}, "which": {},
	"env": {}, "uname": {}, "free": {}, "sh": {}, "bash": {}, "apt": {},
	"apt-get": {}, "dnf": {}, "brew": {}, "ping": {}, "ssh": {}, "scp": {},
}

// Parse extracts a single executable command from raw model output.
// Pure function: identical input yields an identical Suggestion.
//
// Fenced code blocks are preferred over bare lines. When several fenced
// blocks disagree, the first one wins and the suggestion is flagged
// ambiguous so the disagreement stays visible in the audit trail.
func Parse(raw string) core.Suggestion {
	s := core.Suggestion{ModelOutput: raw}

	text := stripPrefixes(strings.TrimSpace(raw))
	if text == "" {
		s.ParseFailure = core.ReasonNoCommand
		return s
	}

	if blocks := fencedBlocks(text); len(blocks) > 0 {
		var candidates []string
		for _, block := range blocks {
			if cmd := firstCommandLine(block); cmd != "" {
				candidates = append(candidates, cmd)
			}
		}
		if len(candidates) == 0 {
			s.ParseFailure = core.ReasonNoCommand
			return s
		}
		s.Command = candidates[0]
		for _, c := range candidates[1:] {
			if c != s.Command {
				s.Ambiguous = true
				break
			}
		}
		return s
	}

	for _, line := range strings.Split(text, "\n") {
		if cmd, ok := commandCandidate(line); ok {
			s.Command = cmd
			return s
		}
	}

	s.ParseFailure = core.ReasonNoCommand
	return s
}

func stripPrefixes(text string) string {
	for changed := true; changed; {
		changed = false
		lower := strings.ToLower(text)
		for _, p := range suggestionPrefixes {
			if strings.HasPrefix(lower, p) {
				text = strings.TrimSpace(text[len(p):])
				changed = true
				break
			}
		}
	}
	return text
}

// fencedBlocks returns the inner text of each ``` fenced region, with
// any language tag on the opening fence discarded.
func fencedBlocks(text string) []string {
	var blocks []string
	lines := strings.Split(text, "\n")
	var inside bool
	var current []string
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inside {
				blocks = append(blocks, strings.Join(current, "\n"))
				current = nil
			}
			inside = !inside
			continue
		}
		if inside {
			current = append(current, line)
		}
	}
	// Unterminated fence: treat the trailing region as a block.
	if inside && len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	return blocks
}

// firstCommandLine picks the first non-blank, non-comment line of a
// fenced block. Fenced content is trusted to be a command, so the verb
// check is skipped.
func firstCommandLine(block string) string {
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.TrimPrefix(line, "$ ")
	}
	return ""
}

// commandCandidate decides whether a bare line reads as a shell command
// rather than prose. A "$ " marker is taken at face value; anything else
// must lead with a known command verb and not end like a sentence.
func commandCandidate(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	if marked, ok := strings.CutPrefix(line, "$ "); ok {
		marked = strings.TrimSpace(marked)
		return marked, marked != ""
	}
	verb, _, _ := strings.Cut(line, " ")
	if _, ok := commandVerbs[verb]; !ok {
		return "", false
	}
	if endsLikeProse(line) {
		return "", false
	}
	return line, true
}

// endsLikeProse flags trailing sentence punctuation after a letter,
// e.g. "cat is a small animal." but not "ls .." or "find .".
func endsLikeProse(line string) bool {
	if len(line) < 2 {
		return false
	}
	last := line[len(line)-1]
	if last != '.' && last != '!' && last != '?' {
		return false
	}
	prev := line[len(line)-2]
	return (prev >= 'a' && prev <= 'z') || (prev >= 'A' && prev <= 'Z')
}
