package stream

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"strings"
	"sync"

	"github.com/pithecene-io/gatehouse/iox"
)

// AuthMode selects how the device is authenticated.
type AuthMode string

const (
	// AuthDigest answers RFC 7616 challenges. Default for ISAPI devices.
	AuthDigest AuthMode = "digest"
	// AuthBasic sends credentials on every request.
	AuthBasic AuthMode = "basic"
	// AuthNone sends no credentials.
	AuthNone AuthMode = "none"
)

// ParseAuthMode validates a configured auth mode. Empty means digest.
func ParseAuthMode(s string) (AuthMode, error) {
	switch m := AuthMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return AuthDigest, nil
	case AuthDigest, AuthBasic, AuthNone:
		return m, nil
	default:
		return "", fmt.Errorf("unknown auth mode %q (want digest, basic or none)", s)
	}
}

// newAuthTransport wraps next with the credentials for mode.
func newAuthTransport(mode AuthMode, user, pass string, next http.RoundTripper) http.RoundTripper {
	switch mode {
	case AuthBasic:
		return &basicTransport{user: user, pass: pass, next: next}
	case AuthNone:
		return next
	default:
		return &digestTransport{user: user, pass: pass, next: next}
	}
}

type basicTransport struct {
	user, pass string
	next       http.RoundTripper
}

func (t *basicTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.user, t.pass)
	return t.next.RoundTrip(r)
}

// digestTransport answers a Digest challenge and reuses it for later
// requests until the server rejects it. Only body-less requests are
// retried after a challenge.
type digestTransport struct {
	user, pass string
	next       http.RoundTripper

	mu        sync.Mutex
	challenge *challenge
	nc        uint32
}

func (t *digestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if auth, ok := t.authorize(req); ok {
		r := req.Clone(req.Context())
		r.Header.Set("Authorization", auth)
		resp, err := t.next.RoundTrip(r)
		if err != nil || resp.StatusCode != http.StatusUnauthorized {
			return resp, err
		}
		iox.DrainClose(resp.Body, 4<<10)
		t.reset()
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || (req.Body != nil && req.Body != http.NoBody) {
		return resp, err
	}

	ch, ok := parseChallenge(resp.Header.Values("WWW-Authenticate"))
	if !ok {
		return resp, nil
	}
	iox.DrainClose(resp.Body, 4<<10)

	t.mu.Lock()
	t.challenge = ch
	t.nc = 0
	t.mu.Unlock()

	auth, _ := t.authorize(req)
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", auth)
	return t.next.RoundTrip(r)
}

func (t *digestTransport) reset() {
	t.mu.Lock()
	t.challenge = nil
	t.mu.Unlock()
}

func (t *digestTransport) authorize(req *http.Request) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.challenge == nil {
		return "", false
	}
	t.nc++
	return t.challenge.authorization(t.user, t.pass, req.Method, req.URL.RequestURI(), t.nc, newCnonce()), true
}

type challenge struct {
	realm     string
	nonce     string
	opaque    string
	algorithm string
	qop       string
}

// parseChallenge picks the first Digest challenge among header values.
func parseChallenge(values []string) (*challenge, bool) {
	for _, v := range values {
		scheme, rest, _ := strings.Cut(strings.TrimSpace(v), " ")
		if !strings.EqualFold(scheme, "digest") {
			continue
		}
		params := parseParams(rest)
		ch := &challenge{
			realm:     params["realm"],
			nonce:     params["nonce"],
			opaque:    params["opaque"],
			algorithm: params["algorithm"],
		}
		if ch.nonce == "" {
			continue
		}
		for _, q := range strings.Split(params["qop"], ",") {
			if strings.TrimSpace(q) == "auth" {
				ch.qop = "auth"
			}
		}
		return ch, true
	}
	return nil, false
}

// parseParams reads comma-separated key=value pairs, values optionally quoted.
func parseParams(s string) map[string]string {
	out := make(map[string]string)
	for s != "" {
		s = strings.TrimLeft(s, " \t,")
		key, rest, ok := strings.Cut(s, "=")
		if !ok {
			break
		}
		key = strings.ToLower(strings.TrimSpace(key))
		rest = strings.TrimLeft(rest, " \t")

		var val string
		if strings.HasPrefix(rest, `"`) {
			var b strings.Builder
			i := 1
			for ; i < len(rest); i++ {
				c := rest[i]
				if c == '\\' && i+1 < len(rest) {
					i++
					b.WriteByte(rest[i])
					continue
				}
				if c == '"' {
					break
				}
				b.WriteByte(c)
			}
			val = b.String()
			s = rest[min(i+1, len(rest)):]
		} else {
			val, s, _ = strings.Cut(rest, ",")
			val = strings.TrimSpace(val)
		}
		out[key] = val
	}
	return out
}

func (c *challenge) hasher() func() hash.Hash {
	switch strings.TrimSuffix(strings.ToUpper(c.algorithm), "-SESS") {
	case "SHA-256":
		return sha256.New
	default:
		return md5.New
	}
}

func (c *challenge) authorization(user, pass, method, uri string, nc uint32, cnonce string) string {
	newHash := c.hasher()
	h := func(s string) string {
		hh := newHash()
		hh.Write([]byte(s))
		return hex.EncodeToString(hh.Sum(nil))
	}

	ha1 := h(user + ":" + c.realm + ":" + pass)
	if strings.HasSuffix(strings.ToLower(c.algorithm), "-sess") {
		ha1 = h(ha1 + ":" + c.nonce + ":" + cnonce)
	}
	ha2 := h(method + ":" + uri)

	ncs := fmt.Sprintf("%08x", nc)
	var response string
	if c.qop == "auth" {
		response = h(strings.Join([]string{ha1, c.nonce, ncs, cnonce, c.qop, ha2}, ":"))
	} else {
		response = h(ha1 + ":" + c.nonce + ":" + ha2)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username=%q, realm=%q, nonce=%q, uri=%q, response=%q`,
		user, c.realm, c.nonce, uri, response)
	if c.algorithm != "" {
		fmt.Fprintf(&b, `, algorithm=%s`, c.algorithm)
	}
	if c.opaque != "" {
		fmt.Fprintf(&b, `, opaque=%q`, c.opaque)
	}
	if c.qop != "" {
		fmt.Fprintf(&b, `, qop=%s, nc=%s, cnonce=%q`, c.qop, ncs, cnonce)
	}
	return b.String()
}

func newCnonce() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
