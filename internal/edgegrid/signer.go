package edgegrid

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timestampFormat renders UTC instants as YYYYMMDDThh:mm:ss+0000.
const timestampFormat = "20060102T15:04:05-0700"

const authScheme = "EG1-HMAC-SHA256"

// Signer computes Authorization header values for one set of
// credentials. The timestamp and nonce sources are injectable so tests
// can pin them.
type Signer struct {
	creds Credentials
	now   func() time.Time
	nonce func() string
}

// NewSigner creates a signer drawing fresh timestamps and UUID nonces.
func NewSigner(creds Credentials) *Signer {
	return &Signer{
		creds: creds,
		now:   time.Now,
		nonce: uuid.NewString,
	}
}

// Sign computes the Authorization value for req with the given body
// bytes, using a fresh timestamp and nonce.
func (s *Signer) Sign(req *http.Request, body []byte) string {
	ts := s.now().UTC().Format(timestampFormat)
	return s.SignAt(req, body, ts, s.nonce())
}

// SignAt computes the Authorization value with a caller-pinned
// timestamp and nonce. The signature is fully determined by
// (credentials, canonical request, timestamp, nonce).
func (s *Signer) SignAt(req *http.Request, body []byte, timestamp, nonce string) string {
	data := authData(s.creds, timestamp, nonce)
	canonical := canonicalString(
		req.Method,
		req.URL.Scheme,
		req.URL.Host,
		req.URL.RequestURI(),
		canonicalHeaders(req.Header, s.creds.HeadersToSign),
		contentHash(req.Method, body, s.creds.maxBody()),
		data,
	)
	key := signingKey(s.creds.ClientSecret, data)
	return data + "signature=" + base64HMAC(key, canonical)
}

// authData is the scheme prefix carrying the token pair, timestamp, and
// nonce. The trailing semicolon is part of the signed bytes.
func authData(c Credentials, timestamp, nonce string) string {
	return fmt.Sprintf("%s client_token=%s;access_token=%s;timestamp=%s;nonce=%s;",
		authScheme, c.ClientToken, c.AccessToken, timestamp, nonce)
}

// signingKey derives the per-request key: the base64 text of
// HMAC-SHA256(secret, auth-data) is itself the key for the final MAC.
func signingKey(clientSecret, data string) []byte {
	mac := hmac.New(sha256.New, []byte(clientSecret))
	mac.Write([]byte(data))
	key := make([]byte, base64.StdEncoding.EncodedLen(sha256.Size))
	base64.StdEncoding.Encode(key, mac.Sum(nil))
	return key
}

func base64HMAC(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// contentHash hashes up to maxBody bytes of the body for methods that
// sign one; the request still carries the full body.
func contentHash(method string, body []byte, maxBody int) string {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return ""
	}
	if len(body) == 0 {
		return ""
	}
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// canonicalHeaders renders the allow-listed headers as
// lowercase-name:collapsed-value pairs. No allow-list means no headers
// are signed.
func canonicalHeaders(h http.Header, names []string) string {
	if len(names) == 0 {
		return ""
	}
	parts := make([]string, 0, len(names))
	for _, name := range names {
		v := h.Get(name)
		if v == "" {
			continue
		}
		parts = append(parts, strings.ToLower(name)+":"+strings.Join(strings.Fields(v), " "))
	}
	return strings.Join(parts, "\t")
}

func canonicalString(method, scheme, host, requestURI, headers, hash, data string) string {
	return strings.Join([]string{method, scheme, host, requestURI, headers, hash, data}, "\t")
}

// CheckSignature verifies an Authorization value against the request it
// claims to sign. Intended for test servers; the comparison is
// constant-time.
func CheckSignature(c Credentials, authorization string, req *http.Request, body []byte) error {
	idx := strings.LastIndex(authorization, "signature=")
	if idx < 0 {
		return fmt.Errorf("malformed authorization header")
	}
	data := authorization[:idx]
	got := authorization[idx+len("signature="):]

	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	host := req.Host
	if req.URL.Host != "" {
		scheme, host = req.URL.Scheme, req.URL.Host
	}

	canonical := canonicalString(
		req.Method,
		scheme,
		host,
		req.URL.RequestURI(),
		canonicalHeaders(req.Header, c.HeadersToSign),
		contentHash(req.Method, body, c.maxBody()),
		data,
	)
	want := base64HMAC(signingKey(c.ClientSecret, data), canonical)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
