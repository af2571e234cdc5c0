package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascade/internal/domain"
)

// Well-known development key (hardhat account #0).
const (
	testKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
)

func TestSignerAddress(t *testing.T) {
	s, err := NewSigner("0x" + testKey)
	require.NoError(t, err)
	assert.Equal(t, domain.Owner(testAddress), s.Owner())

	_, err = NewSigner("zz")
	assert.Error(t, err)
}

func TestSignAndRecover(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	sig, err := s.SignMessage("hello")
	require.NoError(t, err)

	got, err := RecoverAddress("hello", sig)
	require.NoError(t, err)
	assert.Equal(t, s.Owner(), got)

	other, err := RecoverAddress("hellO", sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Owner(), other)

	_, err = RecoverAddress("hello", "0x1234")
	assert.Error(t, err)
}

func TestMessage(t *testing.T) {
	assert.Equal(t,
		"cascade:POST:/api/markets:1700000000:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Message("post", "/api/markets", 1700000000, nil))
}

func signedRequest(t *testing.T, s *Signer, at time.Time, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/markets/id_1/bets", bytes.NewBufferString(body))
	h, err := s.Headers(req.Method, req.URL.Path, []byte(body), at)
	require.NoError(t, err)
	for k, v := range h {
		req.Header[k] = v
	}
	return req
}

func TestVerifierAuthenticate(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(time.Minute)
	v.now = func() time.Time { return now }

	req := signedRequest(t, s, now, `{"amount":5}`)
	owner, err := v.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, domain.Owner(testAddress), owner)

	// The body is still readable downstream.
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"amount":5}`, string(body))

	t.Run("stale", func(t *testing.T) {
		_, err := v.Authenticate(signedRequest(t, s, now.Add(-2*time.Minute), "{}"))
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
	t.Run("tampered body", func(t *testing.T) {
		req := signedRequest(t, s, now, `{"amount":5}`)
		req.Body = io.NopCloser(bytes.NewBufferString(`{"amount":500}`))
		_, err := v.Authenticate(req)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
	t.Run("claimed address differs", func(t *testing.T) {
		req := signedRequest(t, s, now, "{}")
		req.Header.Set(HeaderAddress, "0x0000000000000000000000000000000000000001")
		_, err := v.Authenticate(req)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
	t.Run("anonymous", func(t *testing.T) {
		owner, err := v.Authenticate(httptest.NewRequest(http.MethodGet, "/api/markets", nil))
		require.NoError(t, err)
		assert.Empty(t, owner)
	})
}

func TestVerifierRejectsReplayedWrite(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(time.Minute)
	v.now = func() time.Time { return now }

	_, err = v.Authenticate(signedRequest(t, s, now, `{"amount":5}`))
	require.NoError(t, err)

	// The captured request sent again inside the skew window.
	_, err = v.Authenticate(signedRequest(t, s, now, `{"amount":5}`))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))

	// A fresh signature on a different body or second is a new request.
	_, err = v.Authenticate(signedRequest(t, s, now, `{"amount":6}`))
	require.NoError(t, err)
	_, err = v.Authenticate(signedRequest(t, s, now.Add(time.Second), `{"amount":5}`))
	require.NoError(t, err)

	// Reads are not tracked.
	read := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/admin", nil)
		h, err := s.Headers(req.Method, req.URL.Path, nil, now)
		require.NoError(t, err)
		for k, vals := range h {
			req.Header[k] = vals
		}
		return req
	}
	_, err = v.Authenticate(read())
	require.NoError(t, err)
	_, err = v.Authenticate(read())
	require.NoError(t, err)
}

type failingGuard struct{}

func (failingGuard) Remember(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func TestVerifierReplayGuardFailure(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	a, err := New(ModeSignature, time.Minute, failingGuard{})
	require.NoError(t, err)
	v := a.(*Verifier)
	v.now = func() time.Time { return now }

	_, err = v.Authenticate(signedRequest(t, s, now, "{}"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrUnauthorized)
}

func TestMemoryReplayGuard(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	g := NewMemoryReplayGuard(2)
	g.now = func() time.Time { return now }

	fresh, err := g.Remember(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, _ = g.Remember(ctx, "a", time.Minute)
	assert.False(t, fresh)

	now = now.Add(time.Minute)
	fresh, _ = g.Remember(ctx, "a", time.Minute)
	assert.True(t, fresh, "expired keys are forgotten")

	g.Remember(ctx, "b", time.Minute)
	g.Remember(ctx, "c", time.Minute)
	assert.Equal(t, 2, g.Len())
	fresh, _ = g.Remember(ctx, "c", time.Minute)
	assert.False(t, fresh)
}

func TestHeaderAuthenticator(t *testing.T) {
	a, err := New(ModeHeader, 0, nil)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderOwner, " 0xABC ")
	owner, err := a.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, domain.Owner("0xabc"), owner)

	_, err = New("ldap", 0, nil)
	assert.Error(t, err)
}

func TestCallerContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, CallerFrom(ctx))
	assert.Equal(t, domain.Owner("0xabc"), CallerFrom(WithCaller(ctx, "0xabc")))
}

func TestKeyFileRoundTrip(t *testing.T) {
	s, err := GenerateSigner()
	require.NoError(t, err)
	data, err := EncryptKey(s, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := LoadSigner(KeySource{KeyFile: path, Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, s.Address(), loaded.Address())

	_, err = DecryptKey(data, "wrong")
	assert.Error(t, err)

	_, err = LoadSigner(KeySource{})
	assert.Error(t, err)
}
