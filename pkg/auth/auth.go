package auth

import (
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/types"
)

// ErrUnauthorized is returned for any request that fails admission. The
// caller must not mutate any state on this error.
var ErrUnauthorized = errors.New("unauthorized")

// Request headers carried by agent calls
const (
	HeaderHostID    = "X-Host-Id"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
	HeaderToken     = "X-Agent-Token"
)

// ReplayWindow bounds how far an agent's signed timestamp may drift from
// control-plane time in either direction.
const ReplayWindow = 5 * time.Minute

// verifier checks one admission mechanism for one request
type verifier interface {
	verify(host *types.Host, r *http.Request, body []byte, now time.Time) error
}

// Authenticator admits agent requests against registered host credentials.
// No session state is retained; every request is verified independently.
type Authenticator struct {
	store storage.Store
	now   func() time.Time
}

// NewAuthenticator creates an authenticator over the given store
func NewAuthenticator(store storage.Store) *Authenticator {
	return &Authenticator{store: store, now: time.Now}
}

// Authenticate verifies an agent request and returns the calling host.
// body must be the raw request body the signature covers. The verification
// mechanism is selected per host: hosts with a registered public key must
// sign; hosts without one fall back to the shared-secret token.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) (*types.Host, error) {
	hostID := r.Header.Get(HeaderHostID)
	if hostID == "" {
		return nil, fmt.Errorf("missing %s header: %w", HeaderHostID, ErrUnauthorized)
	}

	host, err := a.store.GetHost(hostID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("unknown host %s: %w", hostID, ErrUnauthorized)
		}
		return nil, err
	}

	if err := a.verifierFor(host).verify(host, r, body, a.now()); err != nil {
		return nil, err
	}
	return host, nil
}

func (a *Authenticator) verifierFor(host *types.Host) verifier {
	if host.PublicKey != "" {
		return signatureVerifier{}
	}
	return tokenVerifier{}
}

// signatureVerifier checks an Ed25519 signature over "<timestamp>:<body>"
// with a bounded replay window.
type signatureVerifier struct{}

func (signatureVerifier) verify(host *types.Host, r *http.Request, body []byte, now time.Time) error {
	timestamp := r.Header.Get(HeaderTimestamp)
	signature := r.Header.Get(HeaderSignature)
	if timestamp == "" || signature == "" {
		return fmt.Errorf("missing signature headers: %w", ErrUnauthorized)
	}

	millis, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed timestamp: %w", ErrUnauthorized)
	}

	// Reject outside the window regardless of signature validity.
	sent := time.UnixMilli(millis)
	if drift := now.Sub(sent); drift > ReplayWindow || drift < -ReplayWindow {
		return fmt.Errorf("timestamp outside replay window: %w", ErrUnauthorized)
	}

	pub, err := ParsePublicKey(host.PublicKey)
	if err != nil {
		return fmt.Errorf("host %s has no valid key: %w", host.ID, ErrUnauthorized)
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", ErrUnauthorized)
	}

	message := append([]byte(timestamp+":"), body...)
	if !ed25519.Verify(pub, message, sig) {
		return fmt.Errorf("signature mismatch: %w", ErrUnauthorized)
	}
	return nil
}

// tokenVerifier compares the shared-secret token in constant time
type tokenVerifier struct{}

func (tokenVerifier) verify(host *types.Host, r *http.Request, _ []byte, _ time.Time) error {
	token := r.Header.Get(HeaderToken)
	if token == "" || host.Token == "" {
		return fmt.Errorf("missing agent token: %w", ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(host.Token)) != 1 {
		return fmt.Errorf("token mismatch: %w", ErrUnauthorized)
	}
	return nil
}

// SignRequest attaches the signed-request headers to an outbound agent
// request. Shared with the client so both ends agree on the message format.
func SignRequest(r *http.Request, hostID string, kp *KeyPair, body []byte) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := append([]byte(timestamp+":"), body...)

	r.Header.Set(HeaderHostID, hostID)
	r.Header.Set(HeaderTimestamp, timestamp)
	r.Header.Set(HeaderSignature, kp.Sign(message))
}
