package probe

import (
	"context"
	"fmt"

	"github.com/casey/netmon/internal/credential"
	"github.com/casey/netmon/internal/domain"
)

// Mux dispatches a check to the strategy for its monitor kind. The kind set
// is closed; an unknown kind is a failed outcome, not a panic.
type Mux struct {
	HTTP Checker
	TCP  Checker
	Ping Checker
	SSH  Checker
}

// NewMux wires the default strategy set.
func NewMux() *Mux {
	return &Mux{
		HTTP: NewHTTPChecker(),
		TCP:  &TCPChecker{},
		Ping: &PingChecker{},
		SSH:  &SSHChecker{},
	}
}

func (m *Mux) Check(ctx context.Context, detail domain.MonitorDetail, sec *credential.Secret) Outcome {
	switch detail.Kind {
	case domain.KindHTTP:
		return m.HTTP.Check(ctx, detail, sec)
	case domain.KindTCP:
		return m.TCP.Check(ctx, detail, sec)
	case domain.KindPing:
		return m.Ping.Check(ctx, detail, sec)
	case domain.KindSSH:
		return m.SSH.Check(ctx, detail, sec)
	default:
		return fail(fmt.Sprintf("unsupported monitor kind %q", detail.Kind))
	}
}
