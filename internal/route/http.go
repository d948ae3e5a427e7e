package route

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpRoute is a write-mostly route over an outbound HTTP client, used by
// the "http:" and "https:" drivers (e.g. "http://collector.local/ingest").
// It is an embedded HTTP client, not a generic web-serving surface.
type httpRoute struct {
	client *http.Client
	scheme string
	url    string
	buf    bytes.Buffer
}

func newHTTPDriver(scheme string) Opener {
	return func(opaque, desc string, keep int) (Route, error) {
		return &httpRoute{
			client: &http.Client{Timeout: 10 * time.Second},
			scheme: scheme,
			url:    scheme + ":" + opaque,
		}, nil
	}
}

// RegisterHTTP installs the "http:" and "https:" outbound drivers.
func RegisterHTTP(reg *Registry) {
	reg.Register("http", newHTTPDriver("http"))
	reg.Register("https", newHTTPDriver("https"))
}

func (r *httpRoute) Write(p []byte) (int, error) {
	return r.buf.Write(p)
}

func (r *httpRoute) Read(p []byte) (int, error) {
	resp, err := r.client.Get(r.url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	return copy(p, body), nil
}

func (r *httpRoute) Flush() error {
	if r.buf.Len() == 0 {
		return nil
	}
	resp, err := r.client.Post(r.url, "application/octet-stream", bytes.NewReader(r.buf.Bytes()))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("route: %s: %s", r.url, resp.Status)
	}
	r.buf.Reset()
	return nil
}

func (r *httpRoute) Close() error { return r.Flush() }

func (r *httpRoute) Tell() (int64, int64, time.Time, error) {
	resp, err := r.client.Head(r.url)
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	defer resp.Body.Close()
	modified := time.Now()
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			modified = t
		}
	}
	return 0, resp.ContentLength, modified, nil
}

func (r *httpRoute) ReadSince(int64) ([]Row, error)   { return nil, ErrNotTabular() }
func (r *httpRoute) WriteRow(map[string]string) error { return ErrNotTabular() }
