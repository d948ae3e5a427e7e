package httpd

import (
	"fmt"
	"html"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"clockwork/internal/config"
	"clockwork/internal/job"
	"clockwork/internal/ring"
)

// RegisterBuiltins installs the fixed set of endpoints: /ping, /cf,
// /elog, /info, /local/ and /localtsv/. Registration order matters
// (see Daemon.Handle): the more specific /localtsv/ prefix is
// registered ahead of /local/, but since no "/" catch-all is
// registered at all, an unmatched path simply 404s, matching the
// source's httpd_evaluate() default.
func RegisterBuiltins(d *Daemon, cfg config.Config, jobs *job.Table, store *ring.Store) {
	d.Handle("/ping", handlePing)
	d.Handle("/cf", handleConfig(jobs))
	d.Handle("/elog", handleElog(cfg))
	d.Handle("/info", handleInfo)
	d.Handle("/localtsv/", handleRing(store, true))
	d.Handle("/local/", handleRing(store, false))
}

func handlePing(Request) Response {
	return Response{
		Status:  http.StatusOK,
		Body:    []byte("hello, world\nclockwork is running\n"),
		Headers: http.Header{"Content-Type": []string{"text/html"}},
	}
}

func handleConfig(jobs *job.Table) Handler {
	return func(req Request) Response {
		type jobRow struct{ key, method, command, result, errURL string }
		var rows []jobRow
		if jobs != nil {
			for _, row := range jobs.Rows() {
				rows = append(rows, jobRow{row.Inv.Key, row.Inv.Method, row.Inv.Command, row.Inv.ResultURL, row.Inv.ErrorURL})
			}
		}

		if acceptsPlainText(req) {
			var b strings.Builder
			b.WriteString("key\tmethod\tcommand\tresult\terror\n")
			for _, r := range rows {
				fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%s\n", r.key, r.method, r.command, r.result, r.errURL)
			}
			return Response{Status: http.StatusOK, Body: []byte(b.String()), Headers: http.Header{"Content-Type": []string{"text/plain"}}}
		}

		var b strings.Builder
		b.WriteString("<html><body><h1>configuration</h1>\n")
		b.WriteString("<table border=1>\n<tr><th>key</th><th>value</th></tr>\n")
		for _, r := range rows {
			fmt.Fprintf(&b, "<tr><td>%s</td><td>method=%s command=%s result=%s error=%s</td></tr>\n",
				html.EscapeString(r.key), html.EscapeString(r.method),
				html.EscapeString(r.command), html.EscapeString(r.result),
				html.EscapeString(r.errURL))
		}
		b.WriteString("</table></body></html>\n")
		return Response{Status: http.StatusOK, Body: []byte(b.String())}
	}
}

func handleElog(cfg config.Config) Handler {
	return func(req Request) Response {
		keys := make([]string, 0, len(cfg.Elog))
		for k := range cfg.Elog {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		if acceptsPlainText(req) {
			var b strings.Builder
			b.WriteString("directive\tvalue\n")
			for _, k := range keys {
				fmt.Fprintf(&b, "elog.%s\t%s\n", k, cfg.Elog[k])
			}
			return Response{Status: http.StatusOK, Body: []byte(b.String()), Headers: http.Header{"Content-Type": []string{"text/plain"}}}
		}

		var b strings.Builder
		b.WriteString("<html><body><h1>log routing</h1>\n")
		b.WriteString("<table border=1>\n<tr><th>directive</th><th>value</th></tr>\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "<tr><td>elog.%s</td><td>%s</td></tr>\n", html.EscapeString(k), html.EscapeString(cfg.Elog[k]))
		}
		b.WriteString("</table></body></html>\n")
		return Response{Status: http.StatusOK, Body: []byte(b.String())}
	}
}

func handleInfo(req Request) Response {
	host, _ := os.Hostname()
	zone, offset := time.Now().Zone()

	if acceptsPlainText(req) {
		var b strings.Builder
		b.WriteString("key\tvalue\n")
		fmt.Fprintf(&b, "hostname\t%s\n", host)
		fmt.Fprintf(&b, "os\t%s\n", runtime.GOOS)
		fmt.Fprintf(&b, "machine\t%s\n", runtime.GOARCH)
		fmt.Fprintf(&b, "timezone\t%s (%+d)\n", zone, offset/3600)
		return Response{Status: http.StatusOK, Body: []byte(b.String()), Headers: http.Header{"Content-Type": []string{"text/plain"}}}
	}

	var b strings.Builder
	b.WriteString("<html><body><h1>host info</h1>\n<table border=1>\n")
	fmt.Fprintf(&b, "<tr><td>hostname</td><td>%s</td></tr>\n", html.EscapeString(host))
	fmt.Fprintf(&b, "<tr><td>os</td><td>%s</td></tr>\n", runtime.GOOS)
	fmt.Fprintf(&b, "<tr><td>machine</td><td>%s</td></tr>\n", runtime.GOARCH)
	fmt.Fprintf(&b, "<tr><td>timezone</td><td>%s (%+d)</td></tr>\n", zone, offset/3600)
	b.WriteString("</table></body></html>\n")
	return Response{Status: http.StatusOK, Body: []byte(b.String())}
}

// acceptsPlainText reports whether req's Accept header prefers
// text/plain over text/html, generalizing the /local vs /localtsv
// split to /cf, /elog and /info per SPEC_FULL.md.
func acceptsPlainText(req Request) bool {
	accept := req.Headers.Get("Accept")
	if accept == "" {
		return false
	}
	plainQ, htmlQ := -1.0, -1.0
	for _, part := range strings.Split(accept, ",") {
		mtype, q := parseAcceptPart(part)
		switch mtype {
		case "text/plain", "text/*":
			if q > plainQ {
				plainQ = q
			}
		case "text/html":
			if q > htmlQ {
				htmlQ = q
			}
		case "*/*":
			if q > plainQ {
				plainQ = q
			}
			if q > htmlQ {
				htmlQ = q
			}
		}
	}
	return plainQ >= 0 && plainQ > htmlQ
}

// parseAcceptPart splits one comma-separated Accept entry into its
// media type and q value (default 1.0 when absent or unparsable).
func parseAcceptPart(part string) (string, float64) {
	part = strings.TrimSpace(part)
	mtype := part
	q := 1.0
	if idx := strings.Index(part, ";"); idx >= 0 {
		mtype = strings.TrimSpace(part[:idx])
		for _, p := range strings.Split(part[idx+1:], ";") {
			p = strings.TrimSpace(p)
			if v, ok := strings.CutPrefix(p, "q="); ok {
				if parsed, err := strconv.ParseFloat(v, 64); err == nil {
					q = parsed
				}
			}
		}
	}
	return mtype, q
}

// handleRing serves a named ring from the local store, rendering it as
// an HTML table ("/local/") or tab-separated text ("/localtsv/"). The
// ring name is everything after the matched prefix, with an optional
// leading comma and doubled slashes stripped.
func handleRing(store *ring.Store, tsv bool) Handler {
	return func(req Request) Response {
		name := req.Path[req.PrefixLen:]
		name = strings.TrimPrefix(name, ",")
		for strings.HasPrefix(name, "/") {
			name = name[1:]
		}
		if name == "" {
			return Response{Status: http.StatusBadRequest, Body: []byte("missing ring name\n")}
		}

		rows, err := store.Since(name, 0)
		if err != nil {
			return Response{Status: http.StatusNotFound, Body: []byte(fmt.Sprintf("ring %q not found: %s\n", name, err))}
		}

		if tsv {
			return Response{Status: http.StatusOK, Body: []byte(renderTSV(rows)), Headers: http.Header{"Content-Type": []string{"text/plain"}}}
		}
		return Response{Status: http.StatusOK, Body: []byte(renderHTML(name, rows))}
	}
}

func columnNames(rows []ring.Row) []string {
	seen := map[string]bool{}
	var cols []string
	for _, r := range rows {
		for k := range r.Fields {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func renderHTML(name string, rows []ring.Row) string {
	cols := columnNames(rows)
	var b strings.Builder
	fmt.Fprintf(&b, "<html><body><h1>%s</h1>\n<table border=1>\n<tr><th>seq</th><th>time</th>", html.EscapeString(name))
	for _, c := range cols {
		fmt.Fprintf(&b, "<th>%s</th>", html.EscapeString(c))
	}
	b.WriteString("</tr>\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "<tr><td>%d</td><td>%s</td>", r.Seq, r.Time.Format(time.RFC3339))
		for _, c := range cols {
			fmt.Fprintf(&b, "<td>%s</td>", html.EscapeString(r.Fields[c]))
		}
		b.WriteString("</tr>\n")
	}
	b.WriteString("</table></body></html>\n")
	return b.String()
}

func renderTSV(rows []ring.Row) string {
	cols := columnNames(rows)
	var b strings.Builder
	b.WriteString("seq\ttime\t")
	b.WriteString(strings.Join(cols, "\t"))
	b.WriteString("\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%d\t%s", r.Seq, r.Time.Format(time.RFC3339))
		for _, c := range cols {
			fmt.Fprintf(&b, "\t%s", r.Fields[c])
		}
		b.WriteString("\n")
	}
	return b.String()
}
