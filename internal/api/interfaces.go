// interfaces.go - Dependencies the handlers need, narrowed for testing
package api

import (
	"context"

	"github.com/mrbot-consultas/backend/internal/mrbot"
)

// BotClient is the slice of the Mr. Bot client the handlers call directly.
// Batch traffic goes through the session manager instead.
type BotClient interface {
	Consulta(ctx context.Context, svc mrbot.Service, payload map[string]any) (*mrbot.Response, error)
	CuitIndividual(ctx context.Context, cuit string) (*mrbot.Response, error)
	CuitMasivo(ctx context.Context, cuits []string) (*mrbot.Response, error)
	ConsultasDisponibles(ctx context.Context, email string) (*mrbot.Response, error)
	CreateUser(ctx context.Context, mail string) (*mrbot.Response, error)
	ResetAPIKey(ctx context.Context, email string) (*mrbot.Response, error)
}
