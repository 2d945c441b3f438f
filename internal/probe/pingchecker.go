package probe

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/casey/netmon/internal/credential"
	"github.com/casey/netmon/internal/domain"
)

// PingChecker sends ICMP echo requests. Success is at least one reply
// before the deadline; latency is the round-trip of the first reply.
//
// Runs unprivileged (UDP datagram sockets), which works without root on
// Linux when ping_group_range allows it, and on macOS out of the box.
type PingChecker struct {
	// Privileged switches to raw ICMP sockets (needs CAP_NET_RAW).
	Privileged bool
}

func (p *PingChecker) Check(ctx context.Context, detail domain.MonitorDetail, _ *credential.Secret) Outcome {
	pinger, err := probing.NewPinger(detail.Host)
	if err != nil {
		return fail(fmt.Sprintf("ping %s: %v", detail.Host, err))
	}
	pinger.SetPrivileged(p.Privileged)
	pinger.Count = detail.Count
	pinger.Timeout = detail.Timeout()
	pinger.Interval = 200 * time.Millisecond

	if err := pinger.RunWithContext(ctx); err != nil {
		if ctx.Err() != nil {
			return fail("timeout")
		}
		return fail(fmt.Sprintf("ping %s: %v", detail.Host, err))
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return fail(fmt.Sprintf("ping %s: no reply to %d requests", detail.Host, stats.PacketsSent))
	}

	first := stats.Rtts[0]
	ms := float64(first.Microseconds()) / 1000.0
	return Outcome{
		Success:   true,
		LatencyMS: &ms,
		Message: fmt.Sprintf("%d/%d replies from %s", stats.PacketsRecv,
			stats.PacketsSent, stats.Addr),
	}
}
