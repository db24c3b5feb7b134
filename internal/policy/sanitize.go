package policy

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/cmdwarden/warden/internal/core"
)

// Scan inspects a command for shell constructs worth surfacing in the
// audit trail: pipes, chaining, command substitution, output redirects
// and writes into device files. The command is parsed as bash; input
// the parser rejects is scanned literally and flagged unparseable.
//
// With allowCompound set, pipe/chaining/background/substitution flags
// are suppressed. Redirect flags are kept either way.
func Scan(command string, allowCompound bool) []core.SanitizationFlag {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}

	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command), "")

	var fs flagSet
	if err != nil {
		fs.add(core.FlagUnparseable)
		literalScan(command, &fs)
		return fs.finish(allowCompound)
	}

	if len(file.Stmts) > 1 {
		fs.add(core.FlagChaining)
	}
	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.Stmt:
			if n.Background {
				fs.add(core.FlagBackground)
			}
		case *syntax.BinaryCmd:
			switch n.Op {
			case syntax.Pipe, syntax.PipeAll:
				fs.add(core.FlagPipe)
			case syntax.AndStmt, syntax.OrStmt:
				fs.add(core.FlagChaining)
			}
		case *syntax.CmdSubst:
			fs.add(core.FlagSubstitution)
		case *syntax.Redirect:
			if isOutputRedirect(n.Op) {
				fs.add(core.FlagRedirect)
				if n.Word != nil && isDeviceTarget(wordText(n.Word)) {
					fs.add(core.FlagDeviceWrite)
				}
			}
		}
		return true
	})

	return fs.finish(allowCompound)
}

func isOutputRedirect(op syntax.RedirOperator) bool {
	switch op {
	case syntax.RdrOut, syntax.AppOut, syntax.RdrAll, syntax.AppAll,
		syntax.DplOut, syntax.ClbOut:
		return true
	}
	return false
}

// isDeviceTarget reports a write into /dev, except the null device
// which is noise rather than signal.
func isDeviceTarget(path string) bool {
	return strings.HasPrefix(path, "/dev/") && path != "/dev/null"
}

func wordText(word *syntax.Word) string {
	var sb strings.Builder
	printer := syntax.NewPrinter()
	printer.Print(&sb, word)
	return sb.String()
}

// literalScan approximates the AST walk with substring checks for
// input bash cannot parse.
func literalScan(command string, fs *flagSet) {
	if strings.Contains(command, ";") {
		fs.add(core.FlagChaining)
	}
	if strings.Contains(command, "&&") || strings.Contains(command, "||") {
		fs.add(core.FlagChaining)
	}
	if strings.Contains(command, "|") {
		fs.add(core.FlagPipe)
	}
	if strings.Contains(command, "`") || strings.Contains(command, "$(") {
		fs.add(core.FlagSubstitution)
	}
	if strings.Contains(command, ">") {
		fs.add(core.FlagRedirect)
	}
	if i := strings.Index(command, "/dev/"); i > 0 && strings.Contains(command[:i], ">") &&
		!strings.HasPrefix(command[i:], "/dev/null") {
		fs.add(core.FlagDeviceWrite)
	}
	if strings.HasSuffix(command, "&") {
		fs.add(core.FlagBackground)
	}
}

// flagSet preserves first-seen order while deduplicating.
type flagSet struct {
	seen  map[core.SanitizationFlag]bool
	flags []core.SanitizationFlag
}

func (fs *flagSet) add(f core.SanitizationFlag) {
	if fs.seen == nil {
		fs.seen = make(map[core.SanitizationFlag]bool)
	}
	if fs.seen[f] {
		return
	}
	fs.seen[f] = true
	fs.flags = append(fs.flags, f)
}

func (fs *flagSet) finish(allowCompound bool) []core.SanitizationFlag {
	if !allowCompound {
		return fs.flags
	}
	var kept []core.SanitizationFlag
	for _, f := range fs.flags {
		switch f {
		case core.FlagPipe, core.FlagChaining, core.FlagBackground, core.FlagSubstitution:
			continue
		}
		kept = append(kept, f)
	}
	return kept
}
