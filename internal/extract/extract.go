// Package extract isolates a single runnable shell command from free-form
// model output.
package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const (
	fence     = "```"
	shellMeta = "|&;$<>=/`*"
)

var parser = goldmark.New().Parser()

// labelled matches a prose label followed by the command on the same line,
// as in "Command: ls -la".
var labelled = regexp.MustCompile(`^[A-Z][A-Za-z0-9 ,'()-]*:\s+(.+)$`)

var codeSpans = regexp.MustCompile("`[^`]*`")

// proseOpeners are words that start a lowercase sentence but never name a
// program. Shell keywords such as then or do are deliberately absent.
var proseOpeners = map[string]bool{
	"you": true, "to": true, "use": true, "run": true, "try": true,
	"this": true, "that": true, "these": true, "the": true, "here": true,
	"first": true, "next": true, "finally": true, "now": true, "just": true,
	"simply": true, "please": true, "sure": true, "we": true, "i": true,
	"it": true, "your": true, "alternatively": true, "otherwise": true,
	"so": true, "also": true, "a": true, "an": true, "note": true,
}

// Command returns the command contained in raw, or "" when nothing plausible
// remains. The first fenced code block wins; without one the text is scanned
// line by line, skipping prose.
func Command(raw string) string {
	src := []byte(raw)
	doc := parser.Parse(text.NewReader(src))

	if block := firstFencedBlock(doc); block != nil {
		lines := block.Lines()
		out := make([]string, 0, lines.Len())
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			out = append(out, string(seg.Value(src)))
		}
		return finish(joinLines(out))
	}

	return finish(scanLines(raw))
}

// Render is the fenced form used when feeding a command back to a model.
func Render(cmd string) string {
	return fence + "bash\n" + cmd + "\n" + fence
}

func firstFencedBlock(doc ast.Node) *ast.FencedCodeBlock {
	var found *ast.FencedCodeBlock
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if fb, ok := n.(*ast.FencedCodeBlock); ok {
			found = fb
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}

func firstCodeSpan(line string) string {
	src := []byte(line)
	doc := parser.Parse(text.NewReader(src))

	var span string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		cs, ok := n.(*ast.CodeSpan)
		if !ok {
			return ast.WalkContinue, nil
		}
		var sb strings.Builder
		for c := cs.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				sb.Write(t.Segment.Value(src))
			}
		}
		span = sb.String()
		return ast.WalkStop, nil
	})
	return strings.TrimSpace(span)
}

// scanLines keeps the first contiguous run of command-looking lines. Prose
// before the run is skipped; prose after it ends the run. A code span in
// leading prose is the fallback when no command line exists.
func scanLines(raw string) string {
	var (
		run      []string
		fallback string
	)

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(run) > 0 && !strings.HasSuffix(run[len(run)-1], `\`) {
				break
			}
			continue
		}

		if m := labelled.FindStringSubmatch(line); m != nil && !isProse(m[1]) {
			line = m[1]
		} else if isProse(line) {
			if len(run) > 0 {
				break
			}
			if fallback == "" {
				fallback = firstCodeSpan(line)
			}
			continue
		}

		run = append(run, unwrap(line))
	}

	if cmd := joinLines(run); cmd != "" {
		return cmd
	}
	return fallback
}

// isProse reports whether a line reads like an explanatory sentence rather
// than a command.
func isProse(line string) bool {
	if strings.HasSuffix(line, ":") {
		return true
	}

	words := strings.Fields(line)
	if len(words) == 0 {
		return false
	}
	if len(words) >= 4 && strings.HasSuffix(line, ".") && !strings.ContainsAny(line, shellMeta) {
		return true
	}
	if opensSentence(line, words[0]) {
		return true
	}
	first := []rune(words[0])
	if !unicode.IsUpper(first[0]) {
		return false
	}
	for _, r := range first {
		if !unicode.IsLetter(r) && r != ',' && r != '\'' {
			return false
		}
	}

	last := line[len(line)-1]
	return last == '.' || last == '!' || last == '?' || len(words) >= 3
}

// opensSentence reports a lowercase line led by a prose word and free of
// shell syntax outside code spans.
func opensSentence(line, word string) bool {
	word = strings.ToLower(strings.TrimRight(word, ",.:!?"))
	if !proseOpeners[word] {
		return false
	}
	return !strings.ContainsAny(codeSpans.ReplaceAllString(line, ""), shellMeta)
}

// unwrap strips matching backtick runs around a whole line.
func unwrap(s string) string {
	for strings.HasPrefix(s, "`") && strings.HasSuffix(s, "`") && len(s) >= 2 {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// joinLines turns block lines into one invocation: comments and prompts are
// dropped, backslash continuations merged and the rest sequenced with &&.
func joinLines(lines []string) string {
	var (
		out     string
		pending string
		held    string
	)

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if pending == "" && (line == "" || strings.HasPrefix(line, "#")) {
			continue
		}
		if pending == "" {
			line = strings.TrimPrefix(line, "$ ")
		}

		if strings.HasSuffix(line, `\`) {
			held = pending + line
			pending += strings.TrimSpace(strings.TrimSuffix(line, `\`)) + " "
			continue
		}
		line = strings.TrimSpace(pending + line)
		pending = ""
		if line == "" {
			continue
		}

		out = sequence(out, line)
	}

	// A continuation with nothing after it stays as written.
	if pending != "" {
		out = sequence(out, strings.TrimSpace(held))
	}
	return out
}

// sequence appends next to prev, keeping compound shell statements valid.
func sequence(prev, next string) string {
	if prev == "" {
		return next
	}
	if opensStatement(prev) {
		return prev + " " + next
	}
	switch strings.TrimRight(strings.Fields(next)[0], ";") {
	case "done", "fi", "esac", "else", "elif", "then", "do", "}":
		return prev + "; " + next
	}
	return prev + " && " + next
}

func opensStatement(s string) bool {
	for _, op := range []string{"&&", "|", ";", "{"} {
		if strings.HasSuffix(s, op) {
			return true
		}
	}
	fields := strings.Fields(s)
	switch fields[len(fields)-1] {
	case "do", "then", "else":
		return true
	}
	return false
}

func finish(cmd string) string {
	return strings.TrimSpace(strings.ReplaceAll(cmd, fence, ""))
}
