package command

import (
	"regexp"
	"strings"
)

// Intent is the static classification of a command string. The
// orchestrator uses Mutating to decide whether a conflict check is
// required and Destructive to gate simulation/confirmation. Commands
// are otherwise opaque; this table is the single source of truth for
// what the engine believes a command touches.
type Intent struct {
	Verb        string
	Target      string
	Mutating    bool
	Destructive bool
}

// verbRule describes how one recognized leading verb is classified and
// where its target path sits in the argument list.
//
// The rule table is deliberately closed and explicit:
//
//	mkdir, touch          create a path; target = last argument
//	git clone             creates a directory; target = last argument,
//	                      or the repo basename when only a URL is given
//	cp, mv, ln, rsync     write to a destination; target = last argument
//	tee                   writes its file arguments
//	rm, rmdir, shred      destroy paths; destructive
//	dd, mkfs, truncate    rewrite devices/files; destructive
//	chmod, chown          mutate metadata, non-destructive
//	curl -o/-O, wget -O   download to a path
//
// A trailing `> path` or `>> path` redirection marks any command as
// filesystem-mutating with that path as target.
type verbRule struct {
	mutating    bool
	destructive bool
	target      func(args []string) string
}

var verbRules = map[string]verbRule{
	"mkdir":    {mutating: true, target: lastPathArg},
	"touch":    {mutating: true, target: lastPathArg},
	"cp":       {mutating: true, target: lastPathArg},
	"mv":       {mutating: true, target: lastPathArg},
	"ln":       {mutating: true, target: lastPathArg},
	"rsync":    {mutating: true, target: lastPathArg},
	"tee":      {mutating: true, target: lastPathArg},
	"rm":       {mutating: true, destructive: true, target: lastPathArg},
	"rmdir":    {mutating: true, destructive: true, target: lastPathArg},
	"shred":    {mutating: true, destructive: true, target: lastPathArg},
	"dd":       {mutating: true, destructive: true, target: func([]string) string { return "" }},
	"mkfs":     {mutating: true, destructive: true, target: func([]string) string { return "" }},
	"truncate": {mutating: true, destructive: true, target: lastPathArg},
	"chmod":    {mutating: true, target: lastPathArg},
	"chown":    {mutating: true, target: lastPathArg},
	"curl":     {mutating: false, target: outputFlagArg},
	"wget":     {mutating: false, target: outputFlagArg},
}

// readOnlyVerbs is the closed set of commands memoization trusts to
// have no side effects. Caching consults this list, not the mutating
// table above: an unrecognized verb still executes normally, it is
// just never memoized.
var readOnlyVerbs = map[string]bool{
	"ls":       true,
	"cat":      true,
	"head":     true,
	"tail":     true,
	"grep":     true,
	"find":     true,
	"wc":       true,
	"du":       true,
	"df":       true,
	"pwd":      true,
	"echo":     true,
	"which":    true,
	"file":     true,
	"stat":     true,
	"printenv": true,
	"whoami":   true,
	"hostname": true,
	"id":       true,
	"uname":    true,
	"date":     true,
	"ps":       true,
	"free":     true,
	"uptime":   true,
}

// gitReadOnly lists the git subcommands that only inspect the repo.
var gitReadOnly = map[string]bool{
	"status":    true,
	"log":       true,
	"diff":      true,
	"show":      true,
	"branch":    true,
	"remote":    true,
	"rev-parse": true,
}

// prefixWords are wrappers stripped before the verb is read.
var prefixWords = map[string]bool{
	"sudo":  true,
	"nohup": true,
	"nice":  true,
	"time":  true,
	"env":   true,
}

var redirectPattern = regexp.MustCompile(`>>?\s*([^\s&|;]+)`)

// Classify inspects command text against the rule table. For compound
// commands (&&, ;, |) the first mutating segment wins; an unrecognized
// verb classifies as non-mutating, which errs on the side of running
// the conflict-free path and letting execution surface the failure.
func Classify(text string) Intent {
	for _, segment := range SplitSegments(text) {
		if in := classifySegment(segment); in.Mutating {
			return in
		}
	}
	// No mutating segment; still report the leading verb.
	segs := SplitSegments(text)
	if len(segs) == 0 {
		return Intent{}
	}
	return classifySegment(segs[0])
}

// ReadOnly reports whether every segment of text is a known read-only
// command with no redirection. Only such commands are safe to serve
// from a result cache; anything unrecognized must execute every time.
func ReadOnly(text string) bool {
	segs := SplitSegments(text)
	if len(segs) == 0 {
		return false
	}
	for _, seg := range segs {
		if redirectPattern.MatchString(seg) {
			return false
		}
		fields := strings.Fields(seg)
		for len(fields) > 0 && (prefixWords[fields[0]] || strings.Contains(fields[0], "=")) {
			fields = fields[1:]
		}
		if len(fields) == 0 {
			return false
		}
		if fields[0] == "git" {
			if len(fields) < 2 || !gitReadOnly[fields[1]] {
				return false
			}
			continue
		}
		if !readOnlyVerbs[fields[0]] {
			return false
		}
	}
	return true
}

// SplitSegments breaks a compound command on &&, ||, ; and | without
// attempting full shell parsing. Quoted separators are not honored;
// the table errs toward over-detection, which at worst produces an
// extra conflict prompt rather than a missed one.
func SplitSegments(text string) []string {
	parts := regexp.MustCompile(`&&|\|\||[;|]`).Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func classifySegment(segment string) Intent {
	fields := strings.Fields(segment)
	for len(fields) > 0 {
		w := fields[0]
		if prefixWords[w] || strings.Contains(w, "=") {
			fields = fields[1:]
			continue
		}
		break
	}
	if len(fields) == 0 {
		return Intent{}
	}

	verb := fields[0]
	args := fields[1:]

	if verb == "git" && len(args) > 0 && args[0] == "clone" {
		return Intent{
			Verb:     "git clone",
			Target:   cloneTarget(args[1:]),
			Mutating: true,
		}
	}

	in := Intent{Verb: verb}
	if rule, ok := verbRules[verb]; ok {
		in.Mutating = rule.mutating
		in.Destructive = rule.destructive
		in.Target = rule.target(args)
		if in.Target != "" {
			in.Mutating = true
		}
	}

	if m := redirectPattern.FindStringSubmatch(segment); m != nil {
		in.Mutating = true
		if in.Target == "" {
			in.Target = m[1]
		}
	}
	return in
}

// lastPathArg returns the last non-flag argument.
func lastPathArg(args []string) string {
	for i := len(args) - 1; i >= 0; i-- {
		if !strings.HasPrefix(args[i], "-") {
			return args[i]
		}
	}
	return ""
}

// outputFlagArg extracts the path following -o/-O/--output.
func outputFlagArg(args []string) string {
	for i, a := range args {
		switch a {
		case "-o", "-O", "--output", "--output-document":
			if i+1 < len(args) {
				return args[i+1]
			}
		}
	}
	return ""
}

// cloneTarget resolves the directory `git clone` will create: the
// explicit directory argument when present, else the repo basename.
func cloneTarget(args []string) string {
	var positional []string
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			positional = append(positional, a)
		}
	}
	if len(positional) >= 2 {
		return positional[len(positional)-1]
	}
	if len(positional) == 1 {
		base := positional[0]
		base = strings.TrimSuffix(base, "/")
		base = strings.TrimSuffix(base, ".git")
		if idx := strings.LastIndexAny(base, "/:"); idx >= 0 {
			base = base[idx+1:]
		}
		return base
	}
	return ""
}
