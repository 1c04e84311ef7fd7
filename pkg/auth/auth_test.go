package auth

import (
	"bytes"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/types"
)

func newTestStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func signedRequest(t *testing.T, hostID string, kp *KeyPair, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "/agent/heartbeat", bytes.NewReader(body))
	require.NoError(t, err)
	SignRequest(req, hostID, kp, body)
	return req
}

func TestAuthenticateSignedRequest(t *testing.T) {
	store := newTestStore(t)

	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	host := &types.Host{
		ID:        "host-1",
		Name:      "node-a",
		Address:   "10.0.0.1",
		Status:    types.HostStatusOnline,
		PublicKey: kp.PublicKeyBase64(),
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateHost(host))

	a := NewAuthenticator(store)
	body := []byte(`{"status":"online"}`)

	got, err := a.Authenticate(signedRequest(t, "host-1", kp, body), body)
	require.NoError(t, err)
	assert.Equal(t, "host-1", got.ID)
}

func TestAuthenticateRejectsStaleTimestamp(t *testing.T) {
	store := newTestStore(t)

	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	host := &types.Host{ID: "host-1", PublicKey: kp.PublicKeyBase64()}
	require.NoError(t, store.CreateHost(host))

	a := NewAuthenticator(store)
	body := []byte(`{}`)

	// Valid signature over a timestamp six minutes in the past.
	stale := strconv.FormatInt(time.Now().Add(-6*time.Minute).UnixMilli(), 10)
	req, err := http.NewRequest(http.MethodPost, "/agent/heartbeat", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(HeaderHostID, "host-1")
	req.Header.Set(HeaderTimestamp, stale)
	req.Header.Set(HeaderSignature, kp.Sign(append([]byte(stale+":"), body...)))

	_, err = a.Authenticate(req, body)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticateRejectsFutureTimestamp(t *testing.T) {
	store := newTestStore(t)

	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	host := &types.Host{ID: "host-1", PublicKey: kp.PublicKeyBase64()}
	require.NoError(t, store.CreateHost(host))

	a := NewAuthenticator(store)
	body := []byte(`{}`)

	future := strconv.FormatInt(time.Now().Add(10*time.Minute).UnixMilli(), 10)
	req, err := http.NewRequest(http.MethodPost, "/agent/heartbeat", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(HeaderHostID, "host-1")
	req.Header.Set(HeaderTimestamp, future)
	req.Header.Set(HeaderSignature, kp.Sign(append([]byte(future+":"), body...)))

	_, err = a.Authenticate(req, body)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticateRejectsWrongKey(t *testing.T) {
	store := newTestStore(t)

	registered, err := GenerateKeyPair()
	require.NoError(t, err)
	imposter, err := GenerateKeyPair()
	require.NoError(t, err)

	host := &types.Host{ID: "host-1", PublicKey: registered.PublicKeyBase64()}
	require.NoError(t, store.CreateHost(host))

	a := NewAuthenticator(store)
	body := []byte(`{}`)

	_, err = a.Authenticate(signedRequest(t, "host-1", imposter, body), body)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticateRejectsTamperedBody(t *testing.T) {
	store := newTestStore(t)

	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	host := &types.Host{ID: "host-1", PublicKey: kp.PublicKeyBase64()}
	require.NoError(t, store.CreateHost(host))

	a := NewAuthenticator(store)
	signed := []byte(`{"replicas":1}`)
	tampered := []byte(`{"replicas":9}`)

	req := signedRequest(t, "host-1", kp, signed)
	_, err = a.Authenticate(req, tampered)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticateUnknownHost(t *testing.T) {
	store := newTestStore(t)
	a := NewAuthenticator(store)

	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	body := []byte(`{}`)

	_, err = a.Authenticate(signedRequest(t, "ghost", kp, body), body)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticateSharedSecret(t *testing.T) {
	store := newTestStore(t)

	host := &types.Host{ID: "host-1", Token: "s3cret"}
	require.NoError(t, store.CreateHost(host))

	a := NewAuthenticator(store)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "matching token", token: "s3cret", wantErr: false},
		{name: "wrong token", token: "nope", wantErr: true},
		{name: "missing token", token: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, "/agent/work-queue", nil)
			require.NoError(t, err)
			req.Header.Set(HeaderHostID, "host-1")
			if tt.token != "" {
				req.Header.Set(HeaderToken, tt.token)
			}

			_, err = a.Authenticate(req, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthorized)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConsumeTokenSingleUse(t *testing.T) {
	store := newTestStore(t)
	tm := NewTokenManager(store)

	jt, err := tm.GenerateToken(time.Hour)
	require.NoError(t, err)

	require.NoError(t, tm.ConsumeToken(jt.Token))

	// Second use must fail: tokens burn on consumption.
	err = tm.ConsumeToken(jt.Token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestConsumeTokenExpired(t *testing.T) {
	store := newTestStore(t)
	tm := NewTokenManager(store)

	jt, err := tm.GenerateToken(-time.Minute)
	require.NoError(t, err)

	err = tm.ConsumeToken(jt.Token)
	assert.Error(t, err)
}
