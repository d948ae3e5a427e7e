package route

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// sqlrsRoute addresses a ring hosted by a remote clockwork/habitat
// repository over HTTP ("sqlrs:host/ring"), posting and fetching JSON row
// batches against the repository's /local/ path. This is the
// remote counterpart of rsRoute: same tabular contract, network-backed
// instead of local-sqlite-backed.
type sqlrsRoute struct {
	client   *http.Client
	base     string
	ring     string
	authUser string
	authPass string
}

// SQLRSConfig carries the repository URL and optional basic-auth
// credentials. The engine fills RepoURL from the route.sqlrs.url
// directive; no directive sets AuthUser or AuthPass.
type SQLRSConfig struct {
	RepoURL  string
	AuthUser string
	AuthPass string
}

// RegisterSQLRS installs the "sqlrs:" driver against the configured
// remote repository.
func RegisterSQLRS(reg *Registry, cfg SQLRSConfig) {
	reg.Register("sqlrs", func(opaque, desc string, keep int) (Route, error) {
		return &sqlrsRoute{
			client:   &http.Client{Timeout: 15 * time.Second},
			base:     cfg.RepoURL,
			ring:     opaque,
			authUser: cfg.AuthUser,
			authPass: cfg.AuthPass,
		}, nil
	})
}

func (r *sqlrsRoute) url(suffix string) string {
	return fmt.Sprintf("%s/local/%s%s", r.base, r.ring, suffix)
}

func (r *sqlrsRoute) authed(req *http.Request) *http.Request {
	if r.authUser != "" {
		req.SetBasicAuth(r.authUser, r.authPass)
	}
	return req
}

func (r *sqlrsRoute) Write(p []byte) (int, error) {
	return len(p), r.WriteRow(map[string]string{"line": string(p)})
}

func (r *sqlrsRoute) Read(p []byte) (int, error) {
	rows, err := r.ReadSince(0)
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	return copy(p, rows[len(rows)-1].Fields["line"]), nil
}

func (r *sqlrsRoute) Flush() error { return nil }
func (r *sqlrsRoute) Close() error { return nil }

func (r *sqlrsRoute) Tell() (int64, int64, time.Time, error) {
	req, err := http.NewRequest(http.MethodHead, r.url(""), nil)
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	resp, err := r.client.Do(r.authed(req))
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	defer resp.Body.Close()
	return 0, resp.ContentLength, time.Now(), nil
}

func (r *sqlrsRoute) ReadSince(since int64) ([]Row, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s?since=%d", r.url(""), since), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(r.authed(req))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("route: sqlrs %s: %s", r.ring, resp.Status)
	}
	var payload []struct {
		Seq    int64             `json:"seq"`
		Time   time.Time         `json:"time"`
		Fields map[string]string `json:"fields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	out := make([]Row, len(payload))
	for i, p := range payload {
		out[i] = Row{Seq: p.Seq, Time: p.Time, Fields: p.Fields}
	}
	return out, nil
}

func (r *sqlrsRoute) WriteRow(fields map[string]string) error {
	enc, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, r.url(""), bytes.NewReader(enc))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(r.authed(req))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("route: sqlrs %s: %s", r.ring, resp.Status)
	}
	return nil
}
