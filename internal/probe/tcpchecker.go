package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/casey/netmon/internal/credential"
	"github.com/casey/netmon/internal/domain"
)

// TCPChecker attempts a plain connection to host:port. Success is a
// completed connect before the deadline; latency is time to connect.
type TCPChecker struct{}

func (t *TCPChecker) Check(ctx context.Context, detail domain.MonitorDetail, _ *credential.Secret) Outcome {
	addr := net.JoinHostPort(detail.Host, fmt.Sprintf("%d", detail.Port))

	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return fail("timeout")
		}
		return fail(fmt.Sprintf("connect %s: %v", addr, err))
	}
	defer conn.Close()

	return succeed(start, fmt.Sprintf("connected to %s", addr))
}
