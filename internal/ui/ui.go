package ui

// UI receives progress from the pipeline. Release is called before a
// command takes over the terminal.
type UI interface {
	UpdateStatus(status string)
	Log(msg string)
	Release()
}

type SilentUI struct{}

func (s SilentUI) UpdateStatus(status string) {}
func (s SilentUI) Log(msg string)             {}
func (s SilentUI) Release()                   {}
