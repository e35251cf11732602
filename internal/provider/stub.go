package provider

import (
	"context"
	"sync"
)

// StubProvider answers from a queue of canned responses and records every
// conversation it receives. Once the queue is drained it returns Fallback.
type StubProvider struct {
	mu        sync.Mutex
	Responses []Response
	Fallback  Response
	Err       error
	Calls     [][]Message
}

func NewStubProvider(responses ...Response) *StubProvider {
	return &StubProvider{
		Responses: responses,
		Fallback: Response{
			Content: "Dry run, nothing generated:\n```bash\necho termax\n```",
		},
	}
}

func (m *StubProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, append([]Message(nil), messages...))
	if m.Err != nil {
		return nil, generationErr("stub", m.Err)
	}

	if len(m.Responses) == 0 {
		resp := m.Fallback
		return &resp, nil
	}

	resp := m.Responses[0]
	m.Responses = m.Responses[1:]
	return &resp, nil
}

func (m *StubProvider) Name() string {
	return "stub"
}
