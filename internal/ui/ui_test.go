package ui

import (
	"testing"
)

func TestSilentUI(t *testing.T) {
	ui := SilentUI{}
	// Should not panic
	ui.UpdateStatus("recalling")
	ui.Log("")
	ui.Release()
	ui.Release()
}

func TestSilentUI_ImplementsInterface(t *testing.T) {
	var _ UI = SilentUI{}
	var _ UI = &SilentUI{}
}

// MockUI implements UI interface for testing
type MockUI struct {
	StatusUpdates []string
	LogMessages   []string
	Released      int
}

func (m *MockUI) UpdateStatus(status string) {
	m.StatusUpdates = append(m.StatusUpdates, status)
}

func (m *MockUI) Log(msg string) {
	m.LogMessages = append(m.LogMessages, msg)
}

func (m *MockUI) Release() {
	m.Released++
}

func TestMockUI(t *testing.T) {
	ui := &MockUI{}

	ui.UpdateStatus("status1")
	ui.UpdateStatus("status2")
	ui.Log("message1")
	ui.Release()

	if len(ui.StatusUpdates) != 2 || ui.StatusUpdates[1] != "status2" {
		t.Errorf("unexpected status updates %v", ui.StatusUpdates)
	}
	if len(ui.LogMessages) != 1 || ui.LogMessages[0] != "message1" {
		t.Errorf("unexpected log messages %v", ui.LogMessages)
	}
	if ui.Released != 1 {
		t.Errorf("expected 1 release, got %d", ui.Released)
	}
}

func TestUI_InterfaceMethods(t *testing.T) {
	uis := []UI{
		SilentUI{},
		&MockUI{},
	}

	for _, ui := range uis {
		ui.UpdateStatus("test")
		ui.Log("test")
		ui.Release()
	}
}
