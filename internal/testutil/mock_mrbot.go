// mock_mrbot.go - In-memory stand-in for the Mr. Bot API in handler tests
package testutil

import (
	"context"
	"sync"

	"github.com/mrbot-consultas/backend/internal/mrbot"
)

// MockBotClient implements the handler-facing client surface with canned
// responses and call counting.
type MockBotClient struct {
	mu sync.Mutex

	// Response is returned from every call unless an override matches.
	Response *mrbot.Response
	// Err, when set, fails every call.
	Err error
	// ConsultaResponses overrides Response per call index.
	ConsultaResponses []*mrbot.Response

	ConsultaCalls int
	LastPayload   map[string]any
	LastService   string
}

// NewMockBotClient returns a mock answering 200 with an empty body.
func NewMockBotClient() *MockBotClient {
	return &MockBotClient{
		Response: &mrbot.Response{HTTPStatus: 200, Data: map[string]any{}},
	}
}

func (m *MockBotClient) respond() (*mrbot.Response, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Response, nil
}

func (m *MockBotClient) Consulta(_ context.Context, svc mrbot.Service, payload map[string]any) (*mrbot.Response, error) {
	m.mu.Lock()
	call := m.ConsultaCalls
	m.ConsultaCalls++
	m.LastPayload = payload
	m.LastService = svc.Name
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if call < len(m.ConsultaResponses) {
		return m.ConsultaResponses[call], nil
	}
	return m.Response, nil
}

func (m *MockBotClient) CuitIndividual(_ context.Context, cuit string) (*mrbot.Response, error) {
	return m.respond()
}

func (m *MockBotClient) CuitMasivo(_ context.Context, cuits []string) (*mrbot.Response, error) {
	return m.respond()
}

func (m *MockBotClient) ConsultasDisponibles(_ context.Context, email string) (*mrbot.Response, error) {
	return m.respond()
}

func (m *MockBotClient) CreateUser(_ context.Context, mail string) (*mrbot.Response, error) {
	return m.respond()
}

func (m *MockBotClient) ResetAPIKey(_ context.Context, email string) (*mrbot.Response, error) {
	return m.respond()
}

// Calls returns how many batch queries were issued.
func (m *MockBotClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ConsultaCalls
}
