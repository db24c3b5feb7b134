package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cmdwarden/warden/internal/core"
)

type ruleKind int

const (
	kindDeny ruleKind = iota
	kindApproval
	kindAllow
)

// rule is one entry of the compiled policy. Exactly one of substring,
// prefix or pattern is set depending on kind and origin.
type rule struct {
	kind      ruleKind
	name      string
	substring string
	prefix    string
	pattern   *regexp.Regexp
}

func (r rule) matches(command string) bool {
	switch {
	case r.pattern != nil:
		return r.pattern.MatchString(command)
	case r.substring != "":
		return strings.Contains(command, r.substring)
	case r.prefix != "":
		return command == r.prefix || strings.HasPrefix(command, r.prefix+" ")
	}
	return false
}

// Destructive patterns checked on every command no matter what the
// loaded document says, mirroring the classic footguns: recursive
// root deletion, raw disk writes, device redirects, world-writable
// permission grants and download-pipe-to-shell.
var builtinDangerous = []struct {
	name    string
	pattern string
}{
	{"rm-rf-root", `(^|[;&|]\s*|\s)rm\s+-(rf|fr|r\s+-f|f\s+-r)\s+/`},
	{"dd-raw-write", `(^|[;&|]\s*|\s)dd\s+if=`},
	{"device-redirect", `>\s*/dev/`},
	{"world-writable", `chmod\s+(-R\s+)?0?777\b`},
	{"pipe-to-shell", `(curl|wget)[^|;&]*\|\s*(sudo\s+)?[a-z]*sh\b`},
}

// Ruleset is an immutable compiled policy. Validation walks the rule
// list top to bottom and stops at the first match, so deny rules can
// never be shadowed by the whitelist.
type Ruleset struct {
	rules    []rule
	escalate bool
	compound bool
}

// Compile builds a Ruleset from a policy document. User-supplied
// dangerous patterns must be valid regular expressions; blacklist
// entries are literal substrings and never interpreted.
func Compile(spec Spec) (*Ruleset, error) {
	rs := &Ruleset{
		escalate: spec.escalateOnFlags(),
		compound: spec.AllowCompound,
	}

	for _, b := range builtinDangerous {
		rs.rules = append(rs.rules, rule{
			kind:    kindDeny,
			name:    "dangerous:" + b.name,
			pattern: regexp.MustCompile(b.pattern),
		})
	}
	for _, p := range spec.DangerousPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile dangerous pattern %q: %w", p, err)
		}
		rs.rules = append(rs.rules, rule{kind: kindDeny, name: "dangerous:" + p, pattern: re})
	}
	for _, b := range spec.Blacklist {
		if b == "" {
			continue
		}
		rs.rules = append(rs.rules, rule{kind: kindDeny, name: "blacklist:" + b, substring: b})
	}
	for _, p := range spec.RequireApproval {
		if p == "" {
			continue
		}
		rs.rules = append(rs.rules, rule{kind: kindApproval, name: "approval:" + p, prefix: p})
	}
	for _, p := range spec.Whitelist {
		if p == "" {
			continue
		}
		rs.rules = append(rs.rules, rule{kind: kindAllow, name: "whitelist:" + p, prefix: p})
	}

	return rs, nil
}

// MustCompile is Compile for documents known to be valid, such as the
// built-in default.
func MustCompile(spec Spec) *Ruleset {
	rs, err := Compile(spec)
	if err != nil {
		panic(err)
	}
	return rs
}

// Validate classifies a single command. First matching rule wins;
// unmatched commands default to NEEDS_APPROVAL rather than silent
// allow or silent deny. The sanitization scan always runs and its
// flags ride on the verdict; with escalation enabled a flagged ALLOWED
// becomes NEEDS_APPROVAL.
func (rs *Ruleset) Validate(command string) core.Verdict {
	command = strings.TrimSpace(command)
	v := core.Verdict{
		Command:        command,
		Classification: core.ClassNeedsApproval,
		Flags:          Scan(command, rs.compound),
	}

	for _, r := range rs.rules {
		if !r.matches(command) {
			continue
		}
		v.MatchedRule = r.name
		switch r.kind {
		case kindDeny:
			v.Classification = core.ClassDenied
		case kindApproval:
			v.Classification = core.ClassNeedsApproval
		case kindAllow:
			v.Classification = core.ClassAllowed
		}
		break
	}

	if rs.escalate && v.Classification == core.ClassAllowed && len(v.Flags) > 0 {
		v.Classification = core.ClassNeedsApproval
	}

	return v
}
