package extract

import "testing"

func TestCommand(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"fenced with prose", "Here is the command:\n```bash\nls -la /tmp\n```", "ls -la /tmp"},
		{"bare command", "rm -rf /tmp/cache", "rm -rf /tmp/cache"},
		{"padded bare command", "\n  df -h  \n", "df -h"},
		{"no language hint", "```\npwd\n```", "pwd"},
		{"shell hint", "```sh\nuname -a\n```\nThis prints kernel info.", "uname -a"},
		{"multi line block", "```bash\ncd /tmp\nls\n```", "cd /tmp && ls"},
		{"first block wins", "```bash\necho one\n```\nor\n```bash\necho two\n```", "echo one"},
		{"comments and prompts", "```bash\n# go home\n$ cd ~\n\n$ ls\n```", "cd ~ && ls"},
		{"continuation", "```bash\ndocker run \\\n  -it \\\n  ubuntu bash\n```", "docker run -it ubuntu bash"},
		{"loop", "```bash\nfor f in *.log; do\n  gzip \"$f\"\ndone\n```", "for f in *.log; do gzip \"$f\"; done"},
		{"if block", "```sh\nif [ -f a ]; then\n  cat a\nfi\n```", "if [ -f a ]; then cat a; fi"},
		{"pipe continuation", "```\nps aux |\n  grep nginx\n```", "ps aux | grep nginx"},
		{"unclosed fence", "```bash\nwhoami", "whoami"},
		{"tilde fence", "~~~\nhostname\n~~~", "hostname"},
		{"indented fence in list", "1. Run this:\n\n   ```bash\n   make build\n   ```", "make build"},
		{"inline triple backticks", "```ls -la```", "ls -la"},
		{"labelled", "Command: git status", "git status"},
		{"labelled code span", "Here you go: `git log --oneline`", "git log --oneline"},
		{"prose then commands", "To free space, run the following.\nsudo apt clean\nsudo apt autoremove\nThis removes cached packages.", "sudo apt clean && sudo apt autoremove"},
		{"prose with code span", "Use `du -sh .` to check the size.", "du -sh ."},
		{"command with backticks", "grep `whoami` /etc/passwd", "grep `whoami` /etc/passwd"},
		{"powershell", "Get-ChildItem -Path .", "Get-ChildItem -Path ."},
		{"refusal", "I cannot help with that request.", ""},
		{"lowercase sentence after label", "Note: this will delete all files.", ""},
		{"lowercase prose before command", "you can use the following command\nls -la", "ls -la"},
		{"lowercase prose with comma", "first, run this\nls", "ls"},
		{"lowercase prose with code span", "use `df -h` to see free space", "df -h"},
		{"empty", "", ""},
		{"whitespace", " \n\t ", ""},
		{"empty block", "```bash\n```", ""},
		{"comment only block", "```bash\n# nothing to do\n```", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Command(tt.in); got != tt.want {
				t.Errorf("Command(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRenderRoundTrip(t *testing.T) {
	cmds := []string{
		"ls -la /tmp",
		"find . -name '*.go' | xargs wc -l",
		"echo \"hello world\" > out.txt",
		"tar czf logs.tgz logs && rm -rf logs",
		"Get-Process | Sort-Object CPU",
		"echo hi \\",
	}
	for _, cmd := range cmds {
		if got := Command(Render(cmd)); got != cmd {
			t.Errorf("Command(Render(%q)) = %q", cmd, got)
		}
	}
}

func TestIsProse(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"Here is the command:", true},
		{"Run this.", true},
		{"This lists every file in the directory", true},
		{"ls -la", false},
		{"Get-ChildItem -Path .", false},
		{"sudo reboot", false},
		{"OK", false},
		{"you can use the following command", true},
		{"first, run this", true},
		{"run ./build.sh", false},
		{"time make", false},
	}
	for _, tt := range tests {
		if got := isProse(tt.line); got != tt.want {
			t.Errorf("isProse(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
