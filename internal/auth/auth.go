// Package auth establishes who is calling the ledger. Callers are
// Ethereum-style addresses proven by an EIP-191 personal signature over
// the request; a development mode trusts a plain header instead.
package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/cascade/internal/domain"
)

// Request headers.
const (
	HeaderOwner     = "X-Cascade-Owner"
	HeaderAddress   = "X-Cascade-Address"
	HeaderTimestamp = "X-Cascade-Timestamp"
	HeaderSignature = "X-Cascade-Signature"
)

// Modes accepted by New.
const (
	ModeSignature = "signature"
	ModeHeader    = "header"
)

// DefaultMaxSkew bounds how far a signed timestamp may drift from now.
const DefaultMaxSkew = 5 * time.Minute

// maxSignedBody caps how much of a request body is hashed.
const maxSignedBody = 1 << 20

// Authenticator resolves the caller of an HTTP request. It returns an empty
// owner, and no error, when the request carries no identity.
type Authenticator interface {
	Authenticate(r *http.Request) (domain.Owner, error)
}

// New returns the authenticator for mode. guard is only used in signature
// mode; nil selects a MemoryReplayGuard.
func New(mode string, maxSkew time.Duration, guard ReplayGuard) (Authenticator, error) {
	switch mode {
	case ModeSignature, "":
		v := NewVerifier(maxSkew)
		if guard != nil {
			v.WithReplayGuard(guard)
		}
		return v, nil
	case ModeHeader:
		return HeaderAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("auth: unknown mode %q", mode)
	}
}

// Message is the text a caller signs for a request.
func Message(method, path string, unixTS int64, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("cascade:%s:%s:%d:%s", strings.ToUpper(method), path, unixTS, hex.EncodeToString(sum[:]))
}

// HeaderAuthenticator trusts X-Cascade-Owner. Development only.
type HeaderAuthenticator struct{}

// Authenticate implements Authenticator.
func (HeaderAuthenticator) Authenticate(r *http.Request) (domain.Owner, error) {
	return domain.NormalizeOwner(r.Header.Get(HeaderOwner)), nil
}

// Verifier checks signed requests. A signed write is accepted once: the
// same signed message is rejected until it has aged out of the skew
// window.
type Verifier struct {
	maxSkew time.Duration
	guard   ReplayGuard
	now     func() time.Time
}

// NewVerifier creates a Verifier with an in-process replay guard. A
// non-positive maxSkew selects DefaultMaxSkew.
func NewVerifier(maxSkew time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &Verifier{maxSkew: maxSkew, guard: NewMemoryReplayGuard(0), now: time.Now}
}

// WithReplayGuard replaces the replay guard, e.g. with one shared by every
// server instance.
func (v *Verifier) WithReplayGuard(g ReplayGuard) *Verifier {
	v.guard = g
	return v
}

// Authenticate implements Authenticator. The body is read and replaced so
// handlers can still decode it.
func (v *Verifier) Authenticate(r *http.Request) (domain.Owner, error) {
	sig := r.Header.Get(HeaderSignature)
	addr := r.Header.Get(HeaderAddress)
	if sig == "" && addr == "" {
		return "", nil
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
		if err != nil {
			return "", fmt.Errorf("auth: read body: %w", err)
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: bad %s header", domain.ErrUnauthorized, HeaderTimestamp)
	}
	owner, err := v.Verify(r.Method, r.URL.Path, ts, body, addr, sig)
	if err != nil {
		return "", err
	}
	if err := v.remember(r.Context(), r.Method, r.URL.Path, ts, body, owner); err != nil {
		return "", err
	}
	return owner, nil
}

// remember rejects a signed write that has been served before. Reads are
// idempotent and not tracked. The key covers the signed message rather
// than the signature bytes, so a re-encoded signature is still a replay.
func (v *Verifier) remember(ctx context.Context, method, path string, unixTS int64, body []byte, owner domain.Owner) error {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return nil
	}
	sum := sha256.Sum256([]byte(Message(method, path, unixTS, body)))
	key := string(owner) + ":" + hex.EncodeToString(sum[:])
	fresh, err := v.guard.Remember(ctx, key, 2*v.maxSkew)
	if err != nil {
		return fmt.Errorf("auth: replay guard: %w", err)
	}
	if !fresh {
		return fmt.Errorf("%w: request already served", domain.ErrUnauthorized)
	}
	return nil
}

// Verify checks that sig over the request was produced by addr within the
// allowed clock skew and returns the normalized owner.
func (v *Verifier) Verify(method, path string, unixTS int64, body []byte, addr, sig string) (domain.Owner, error) {
	skew := v.now().Sub(time.Unix(unixTS, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return "", fmt.Errorf("%w: stale request timestamp", domain.ErrUnauthorized)
	}

	recovered, err := RecoverAddress(Message(method, path, unixTS, body), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	owner := domain.NormalizeOwner(addr)
	if recovered != owner {
		return "", fmt.Errorf("%w: signature does not match %s", domain.ErrUnauthorized, addr)
	}
	return owner, nil
}

type callerKey struct{}

// WithCaller returns a context carrying owner.
func WithCaller(ctx context.Context, owner domain.Owner) context.Context {
	return context.WithValue(ctx, callerKey{}, owner)
}

// CallerFrom returns the caller stored in ctx, or "".
func CallerFrom(ctx context.Context) domain.Owner {
	owner, _ := ctx.Value(callerKey{}).(domain.Owner)
	return owner
}
