package policy

// Spec is the policy section of the config document. Whitelist and
// RequireApproval hold command prefixes, Blacklist holds literal
// substrings, DangerousPatterns holds regular expressions. Matching
// order is fixed: deny rules first, then approval prefixes, then the
// whitelist; anything unmatched requires approval.
type Spec struct {
	Whitelist         []string `yaml:"whitelist" json:"whitelist"`
	Blacklist         []string `yaml:"blacklist" json:"blacklist"`
	RequireApproval   []string `yaml:"require_approval_for" json:"require_approval_for"`
	DangerousPatterns []string `yaml:"dangerous_patterns" json:"dangerous_patterns"`

	// EscalateOnFlags upgrades an ALLOWED verdict to NEEDS_APPROVAL when
	// the sanitization scan raises any flag. Nil means true.
	EscalateOnFlags *bool `yaml:"escalate_on_flags" json:"escalate_on_flags"`

	// AllowCompound suppresses pipe/chaining/substitution flags so
	// compound commands pass the scan unflagged. Redirects into device
	// files are flagged regardless.
	AllowCompound bool `yaml:"allow_compound" json:"allow_compound"`
}

// Default returns the stock policy: a small read-only whitelist, the
// classic destructive patterns denied, and state-changing tools behind
// approval.
func Default() Spec {
	return Spec{
		Whitelist: []string{
			"ls", "cat", "echo", "pwd", "date", "whoami", "uptime",
			"df", "du", "free", "uname", "head", "tail", "wc", "find",
		},
		Blacklist: []string{"rm -rf"},
		RequireApproval: []string{
			"rm", "mv", "cp", "chmod", "chown", "kill", "systemctl",
			"docker", "curl", "wget", "dd",
		},
	}
}

func (s Spec) escalateOnFlags() bool {
	if s.EscalateOnFlags == nil {
		return true
	}
	return *s.EscalateOnFlags
}
