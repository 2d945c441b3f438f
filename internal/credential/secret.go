// Package credential stores probe credentials encrypted at rest and hands
// them out as short-lived secrets that are wiped after use.
package credential

// Kind says how a credential authenticates.
type Kind string

const (
	// KindPassword authenticates with username + password.
	KindPassword Kind = "password"
	// KindKey authenticates with a private key, optionally passphrase
	// protected.
	KindKey Kind = "key"
)

// Secret is decrypted credential material scoped to a single probe. The
// byte fields are the sensitive part; Wipe overwrites them in place.
// Callers must not retain references past the probe call.
type Secret struct {
	Kind       Kind
	Username   string
	Password   []byte
	PrivateKey []byte // PEM-encoded
	Passphrase []byte
}

// Wipe zeroes the secret's backing memory. Safe to call more than once.
func (s *Secret) Wipe() {
	if s == nil {
		return
	}
	zero(s.Password)
	zero(s.PrivateKey)
	zero(s.Passphrase)
	s.Password = nil
	s.PrivateKey = nil
	s.Passphrase = nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Resolver decrypts a credential reference into a scoped secret.
type Resolver interface {
	Resolve(id string) (*Secret, error)
}

// WithSecret resolves id, passes the secret to fn, and wipes it on every
// return path, including a panic inside fn. An empty id means the node has
// no credential configured; fn is called with nil. A resolution error is
// returned without calling fn, so a configured credential is never silently
// skipped.
func WithSecret(r Resolver, id string, fn func(*Secret)) error {
	if id == "" {
		fn(nil)
		return nil
	}
	sec, err := r.Resolve(id)
	if err != nil {
		return err
	}
	defer sec.Wipe()
	fn(sec)
	return nil
}
