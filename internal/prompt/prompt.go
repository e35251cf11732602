// Package prompt assembles the conversation sent to the model.
package prompt

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/felixgeelhaar/termax/internal/extract"
	"github.com/felixgeelhaar/termax/internal/provider"
)

//go:embed templates/system.md
var systemPromptRaw string

var systemPromptTmpl = template.Must(template.New("system").Parse(systemPromptRaw))

// Exemplar is a past request and the command chosen for it.
type Exemplar struct {
	Query    string
	Response string
}

// Environment describes where the generated command will run.
type Environment struct {
	OS      string
	Arch    string
	Shell   string
	WorkDir string
	User    string
}

// Fence is the language hint requested for the code block.
func (e Environment) Fence() string {
	switch e.Shell {
	case "powershell", "powershell.exe", "pwsh":
		return "powershell"
	case "cmd", "cmd.exe":
		return "bat"
	}
	return "bash"
}

// CurrentEnvironment inspects the running process.
func CurrentEnvironment() Environment {
	env := Environment{
		OS:    runtime.GOOS,
		Arch:  runtime.GOARCH,
		Shell: "sh",
	}
	if runtime.GOOS == "windows" {
		env.Shell = "cmd.exe"
		if os.Getenv("PSModulePath") != "" {
			env.Shell = "powershell"
		}
	} else if sh := os.Getenv("SHELL"); sh != "" {
		env.Shell = filepath.Base(sh)
	}
	env.WorkDir, _ = os.Getwd()
	if u, err := user.Current(); err == nil {
		env.User = u.Username
	}
	return env
}

// DefaultInstructions renders the system prompt for env.
func DefaultInstructions(env Environment) (string, error) {
	var buf bytes.Buffer
	if err := systemPromptTmpl.Execute(&buf, env); err != nil {
		return "", fmt.Errorf("failed to execute system prompt template: %w", err)
	}
	return buf.String(), nil
}

// Build lays out the system instructions, then each exemplar as a user and
// assistant turn in the given order, then the request. history is not
// modified.
func Build(instructions, request string, history []Exemplar) []provider.Message {
	msgs := make([]provider.Message, 0, 2+2*len(history))
	if instructions != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: instructions})
	}
	for _, ex := range history {
		msgs = append(msgs,
			provider.Message{Role: provider.RoleUser, Content: ex.Query},
			provider.Message{Role: provider.RoleAssistant, Content: extract.Render(ex.Response)},
		)
	}
	return append(msgs, provider.Message{Role: provider.RoleUser, Content: request})
}
