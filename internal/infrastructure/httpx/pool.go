package httpx

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// ClientKey identifies a reusable HTTP client. Distinct credentials get
// distinct clients so connections are never shared across API keys; the key
// itself only carries a digest of the credential.
type ClientKey struct {
	BaseURL      string
	Timeout      time.Duration
	MaxConns     int
	MaxKeepalive int
	KeyDigest    string
}

// NewClientKey builds a ClientKey, mixing the API key in as a SHA-256 digest.
func NewClientKey(baseURL string, timeout time.Duration, maxConns, maxKeepalive int, apiKey string) ClientKey {
	sum := sha256.Sum256([]byte(apiKey))
	return ClientKey{
		BaseURL:      baseURL,
		Timeout:      timeout,
		MaxConns:     maxConns,
		MaxKeepalive: maxKeepalive,
		KeyDigest:    hex.EncodeToString(sum[:8]),
	}
}

func (k ClientKey) String() string {
	return fmt.Sprintf("%s|%s|%d|%d|%s", k.BaseURL, k.Timeout, k.MaxConns, k.MaxKeepalive, k.KeyDigest)
}

// Pool is a process-wide map of long-lived HTTP clients keyed by destination,
// timeout and connection limits. Clients are created lazily under the pool
// mutex (double-checked) and survive individual holders; Acquire after
// CleanupAll recreates the client.
type Pool struct {
	mu              sync.Mutex
	clients         map[string]*http.Client
	keepaliveExpiry time.Duration
}

// NewPool creates a client pool. keepaliveExpiry bounds idle connection reuse.
func NewPool(keepaliveExpiry time.Duration) *Pool {
	if keepaliveExpiry <= 0 {
		keepaliveExpiry = 90 * time.Second
	}
	return &Pool{
		clients:         make(map[string]*http.Client),
		keepaliveExpiry: keepaliveExpiry,
	}
}

// Acquire returns the shared client for the key, creating it if needed.
func (p *Pool) Acquire(key ClientKey) *http.Client {
	ks := key.String()

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[ks]; ok {
		return c
	}

	c := newClient(key, p.keepaliveExpiry)
	p.clients[ks] = c
	return c
}

// CleanupAll closes idle connections on every pooled client and drops the map.
// Holders keep working on their references; the next Acquire recreates.
func (p *Pool) CleanupAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		c.CloseIdleConnections()
	}
	p.clients = make(map[string]*http.Client)
}

// Size returns the number of live pooled clients.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func newClient(key ClientKey, keepaliveExpiry time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: key.Timeout,
		IdleConnTimeout:       keepaliveExpiry,
		MaxIdleConns:          key.MaxConns,
		MaxIdleConnsPerHost:   key.MaxKeepalive,
		MaxConnsPerHost:       key.MaxConns,
		ForceAttemptHTTP2:     true,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	// HTTP/2 when the server offers it; failure leaves HTTP/1.1 in place.
	_ = http2.ConfigureTransport(transport)

	return &http.Client{
		Transport: transport,
		Timeout:   key.Timeout,
	}
}

// DefaultPool is the pool shared by all call sites in the process.
var DefaultPool = NewPool(90 * time.Second)
