// Package config reads clockwork's directive file: a flat "key value"
// text format (one directive per line, "#" comments, blank lines
// ignored), in the same spirit as the source's job-table/config file
// parsing and shoal's internal/provisioner/config package (typed,
// validated, env-var-overridable settings with sentinel defaults).
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Config is the validated result of loading a clockwork directive file.
type Config struct {
	// Jobs is the pseudo-URL of the job table route to load at startup
	// (the "jobs" directive), e.g. "file:/etc/clockwork/jobtab".
	Jobs string

	// HTTPDInterface is the address the embedded HTTP daemon binds to
	// ("httpd.interface"); empty means all interfaces.
	HTTPDInterface string

	// HTTPDPort is the embedded HTTP daemon's listening port
	// ("httpd.port").
	HTTPDPort int

	// HTTPDDisable, when true, skips starting the embedded HTTP daemon
	// entirely ("httpd.disable").
	HTTPDDisable bool

	// Elog collects every "elog.*" directive verbatim (e.g. "elog.level",
	// "elog.route"), since the source treats the error-log subsystem's
	// configuration as an open-ended key set.
	Elog map[string]string

	// SQLRSRepoURL is the remote ring repository's base URL
	// ("route.sqlrs.url"), used by the sqlrs: route driver.
	SQLRSRepoURL string
	// SQLRSAuthRoute holds "route.sqlrs.authroute", a pseudo-URL for
	// sqlrs credentials. It is parsed and stored; the sqlrs: driver does
	// not read it.
	SQLRSAuthRoute string
	// SQLRSCookieRoute holds "route.sqlrs.cookieroute", a pseudo-URL for
	// sqlrs session cookies. It is parsed and stored; the sqlrs: driver
	// does not read it.
	SQLRSCookieRoute string
	// SQLRSCookieJar holds "route.sqlrs.cookiejar", a cookie-jar path. It
	// is parsed and stored; the sqlrs: driver does not read it.
	SQLRSCookieJar string
}

// Default returns the configuration clockwork runs with when no
// directive file is supplied.
func Default() Config {
	return Config{
		Jobs:           "",
		HTTPDInterface: "",
		HTTPDPort:      2080,
		HTTPDDisable:   false,
		Elog:           map[string]string{"level": "info"},
	}
}

// Load reads and validates a directive file at path.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	cfg, err := parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func parse(r io.Reader) (Config, error) {
	cfg := Default()
	cfg.Elog = map[string]string{}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return cfg, fmt.Errorf("line %d: directive %q has no value", lineNo, line)
		}
		val = strings.TrimSpace(val)

		switch {
		case key == "jobs":
			cfg.Jobs = val
		case key == "httpd.interface":
			cfg.HTTPDInterface = val
		case key == "httpd.port":
			port, err := strconv.Atoi(val)
			if err != nil {
				return cfg, fmt.Errorf("line %d: invalid httpd.port %q: %w", lineNo, val, err)
			}
			cfg.HTTPDPort = port
		case key == "httpd.disable":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return cfg, fmt.Errorf("line %d: invalid httpd.disable %q: %w", lineNo, val, err)
			}
			cfg.HTTPDDisable = b
		case key == "route.sqlrs.url":
			cfg.SQLRSRepoURL = val
		case key == "route.sqlrs.authroute":
			cfg.SQLRSAuthRoute = val
		case key == "route.sqlrs.cookieroute":
			cfg.SQLRSCookieRoute = val
		case key == "route.sqlrs.cookiejar":
			cfg.SQLRSCookieJar = val
		case strings.HasPrefix(key, "elog."):
			cfg.Elog[strings.TrimPrefix(key, "elog.")] = val
		default:
			return cfg, fmt.Errorf("line %d: unknown directive %q", lineNo, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, err
	}
	if len(cfg.Elog) == 0 {
		cfg.Elog = map[string]string{"level": "info"}
	}
	return cfg, nil
}

// Validate checks Config for internal consistency.
func (c Config) Validate() error {
	if c.HTTPDPort < 0 || c.HTTPDPort > 65535 {
		return fmt.Errorf("httpd.port %d out of range", c.HTTPDPort)
	}
	if c.SQLRSRepoURL != "" && !strings.Contains(c.SQLRSRepoURL, "://") {
		return fmt.Errorf("route.sqlrs.url %q is not an absolute URL", c.SQLRSRepoURL)
	}
	return nil
}
