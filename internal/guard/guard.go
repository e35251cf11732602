// Package guard decides whether a generated command may run unattended.
package guard

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy lists the programs that must never run automatically. Patterns
// use doublestar syntax and are matched against program base names.
type Policy struct {
	DeniedCommands []string `mapstructure:"denied_commands" yaml:"denied_commands"`
	// AllowedCommands, when set, is an allow list checked after the deny list.
	AllowedCommands []string `mapstructure:"allowed_commands" yaml:"allowed_commands,omitempty"`
}

// DefaultPolicy blocks programs that can take the machine down.
var DefaultPolicy = Policy{
	DeniedCommands: []string{"mkfs*", "shutdown", "reboot", "halt", "poweroff"},
}

// Violation represents a specific breach of policy.
type Violation struct {
	Rule    string
	Program string
	Message string
}

// Guard enforces the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// wrappers run the program given as their first operand.
var wrappers = map[string]bool{
	"sudo": true, "doas": true, "env": true, "nohup": true,
	"time": true, "nice": true, "xargs": true, "exec": true, "command": true,
}

// CheckCommand inspects every program of a shell command line.
func (g *Guard) CheckCommand(cmd string) *Violation {
	if g == nil {
		return nil
	}
	for _, segment := range Segments(cmd) {
		for _, program := range programs(segment) {
			if v := g.checkProgram(program); v != nil {
				return v
			}
		}
	}
	return nil
}

func (g *Guard) checkProgram(program string) *Violation {
	for _, pattern := range g.policy.DeniedCommands {
		if match, err := doublestar.Match(pattern, program); err == nil && match {
			return &Violation{
				Rule:    "denied_commands",
				Program: program,
				Message: "Command not allowed: " + program,
			}
		}
	}

	if len(g.policy.AllowedCommands) == 0 {
		return nil
	}
	for _, pattern := range g.policy.AllowedCommands {
		if match, err := doublestar.Match(pattern, program); err == nil && match {
			return nil
		}
	}
	return &Violation{
		Rule:    "allowed_commands",
		Program: program,
		Message: "Command not in allow list: " + program,
	}
}

// programs returns the base names of the programs a simple command runs:
// the first word after variable assignments, plus the operand of wrappers
// such as sudo.
func programs(segment string) []string {
	var out []string
	fields := strings.Fields(segment)
	for i := 0; i < len(fields); i++ {
		f := strings.Trim(fields[i], `"'()`)
		if f == "" || strings.HasPrefix(f, "-") || isAssignment(f) {
			continue
		}
		name := filepath.Base(f)
		out = append(out, name)
		if !wrappers[name] {
			break
		}
	}
	return out
}

func isAssignment(word string) bool {
	eq := strings.IndexByte(word, '=')
	if eq <= 0 {
		return false
	}
	for _, r := range word[:eq] {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// Segments splits a command line on &&, ||, ; and | outside of quotes.
func Segments(cmd string) []string {
	var (
		segs   []string
		cur    strings.Builder
		quote  rune
		escape bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			segs = append(segs, s)
		}
		cur.Reset()
	}

	runes := []rune(cmd)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case escape:
			escape = false
		case r == '\\' && quote != '\'':
			escape = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ';' || r == '|' || r == '&' && i+1 < len(runes) && runes[i+1] == '&':
			flush()
			if i+1 < len(runes) && (runes[i+1] == '|' || runes[i+1] == '&') {
				i++
			}
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return segs
}
