package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// DefaultKeyID is the kid of the key every [Issuer] publishes.
const DefaultKeyID = "abc"

// PoolPath is the path component of every test issuer URL, shaped like a
// Cognito user pool id.
const PoolPath = "/us-east-1_pool1"

// Issuer is a fake identity provider: an httptest server publishing one
// RSA key at {URL}/.well-known/jwks.json, plus helpers to mint tokens
// signed with it.
type Issuer struct {
	Server *httptest.Server
	Key    *rsa.PrivateKey
	KeyID  string

	hits   atomic.Int32
	status atomic.Int32

	mu   sync.Mutex
	gate chan struct{}
	body []byte
}

// NewIssuer starts an Issuer. The server is closed when the test ends.
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key pair")

	iss := &Issuer{Key: key, KeyID: DefaultKeyID}
	iss.body = jwksDocument(t, DefaultKeyID, &key.PublicKey)

	mux := http.NewServeMux()
	mux.HandleFunc(PoolPath+"/.well-known/jwks.json", iss.serveJWKS)
	iss.Server = httptest.NewServer(mux)
	t.Cleanup(iss.Server.Close)
	return iss
}

// URL is the issuer identifier tokens carry in their iss claim.
func (i *Issuer) URL() string {
	return i.Server.URL + PoolPath
}

// Hits returns how many key-set requests the server has received.
func (i *Issuer) Hits() int {
	return int(i.hits.Load())
}

// SetStatus makes the key-set endpoint answer with code (0 restores 200).
func (i *Issuer) SetStatus(code int) {
	i.status.Store(int32(code))
}

// SetBody replaces the served key-set document.
func (i *Issuer) SetBody(body string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.body = []byte(body)
}

// Hold blocks key-set requests until the returned release func is called.
func (i *Issuer) Hold() (release func()) {
	gate := make(chan struct{})
	i.mu.Lock()
	i.gate = gate
	i.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			i.mu.Lock()
			i.gate = nil
			i.mu.Unlock()
			close(gate)
		})
	}
}

func (i *Issuer) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	i.hits.Add(1)

	i.mu.Lock()
	gate, body := i.gate, i.body
	i.mu.Unlock()
	if gate != nil {
		<-gate
	}

	if code := int(i.status.Load()); code != 0 && code != http.StatusOK {
		http.Error(w, http.StatusText(code), code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// IDClaims returns the claims of a valid, unexpired id token for subject.
func (i *Issuer) IDClaims(subject string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":       i.URL(),
		"sub":       subject,
		"token_use": "id",
		"aud":       "client-1",
		"email":     subject + "@example.com",
		"iat":       jwt.NewNumericDate(now),
		"exp":       jwt.NewNumericDate(now.Add(time.Hour)),
	}
}

// Token signs claims with the issuer key under its published kid.
func (i *Issuer) Token(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	return i.TokenWithKid(t, i.KeyID, claims)
}

// TokenWithKid signs claims with the issuer key, advertising kid.
func (i *Issuer) TokenWithKid(t testing.TB, kid string, claims jwt.MapClaims) string {
	t.Helper()
	return SignRS256(t, i.Key, kid, claims)
}

// SignRS256 creates an RS256 token with the given kid header.
func SignRS256(t testing.TB, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err, "failed to sign RSA token")
	return signed
}

// Bearer formats token as an Authorization header value.
func Bearer(token string) string {
	return "Bearer " + token
}

// jwksDocument renders a key-set document holding one RSA key.
func jwksDocument(t testing.TB, kid string, pub *rsa.PublicKey) []byte {
	t.Helper()
	doc, err := json.Marshal(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
	require.NoError(t, err, "failed to marshal JWKS")
	return doc
}
