package circuitbreaker

import (
	"fmt"
	"net/http"
	"time"
)

// Transport is an http.RoundTripper that routes requests through a Breaker.
// Transport errors and 5xx responses count as failures; 4xx do not.
type Transport struct {
	Base    http.RoundTripper
	Breaker *Breaker
}

// NewTransport wraps base (http.DefaultTransport when nil) with b and registers
// b with the metrics collector.
func NewTransport(base http.RoundTripper, b *Breaker) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	Track(b)
	return &Transport{Base: base, Breaker: b}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	done, err := t.Breaker.Allow()
	if err != nil {
		recordRejection(t.Breaker.Name())
		return nil, fmt.Errorf("%s: %w", t.Breaker.Name(), err)
	}
	resp, err := t.Base.RoundTrip(req)
	ok := err == nil && resp.StatusCode < http.StatusInternalServerError
	done(ok)
	recordRequest(t.Breaker.Name(), ok)
	return resp, err
}

// NewHTTPClient returns a client with the given timeout whose transport is guarded by b.
func NewHTTPClient(b *Breaker, timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: NewTransport(nil, b)}
}
