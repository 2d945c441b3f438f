package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/casey/netmon/internal/credential"
	"github.com/casey/netmon/internal/domain"
)

// SSHChecker performs a transport + authentication handshake. Success is a
// completed authenticated session before the deadline; latency is time to
// authenticated session. Without a credential it attempts a bare handshake
// ("none" auth), which still verifies the target speaks SSH.
type SSHChecker struct{}

func (s *SSHChecker) Check(ctx context.Context, detail domain.MonitorDetail, sec *credential.Secret) Outcome {
	addr := net.JoinHostPort(detail.Host, fmt.Sprintf("%d", detail.Port))

	cfg, err := sshClientConfig(sec)
	if err != nil {
		return fail(fmt.Sprintf("ssh config: %v", err))
	}

	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return fail("timeout")
		}
		return fail(fmt.Sprintf("dial %s: %v", addr, err))
	}
	defer conn.Close()

	// The ssh package has no context hook, so the connection deadline is
	// what keeps the handshake from hanging past the probe timeout.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return fail("timeout")
		}
		return failTimed(start, fmt.Sprintf("handshake %s: %v", addr, err))
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	return succeed(start, fmt.Sprintf("authenticated to %s", addr))
}

// sshClientConfig builds the client config from the resolved secret.
// Monitoring verifies reachability, not identity, so host keys are not
// pinned.
func sshClientConfig(sec *credential.Secret) (*ssh.ClientConfig, error) {
	cfg := &ssh.ClientConfig{
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	if sec == nil {
		return cfg, nil
	}

	cfg.User = sec.Username
	switch sec.Kind {
	case credential.KindPassword:
		cfg.Auth = []ssh.AuthMethod{ssh.Password(string(sec.Password))}
	case credential.KindKey:
		var (
			signer ssh.Signer
			err    error
		)
		if len(sec.Passphrase) > 0 {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(sec.PrivateKey, sec.Passphrase)
		} else {
			signer, err = ssh.ParsePrivateKey(sec.PrivateKey)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	default:
		return nil, fmt.Errorf("unsupported credential kind %q", sec.Kind)
	}
	return cfg, nil
}
