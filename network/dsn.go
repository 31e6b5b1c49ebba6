package network

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

var passwordOption = regexp.MustCompile(`\s*\bpassword\s*=\s*('(?:[^'\\]|\\.)*'|\S+)`)

// CutPassword removes the password from a DSN in URL or keyword/value form,
// so the result can be logged or used as a metric label.
func CutPassword(dsn string) string {
	if isURLDSN(dsn) {
		u, err := url.Parse(dsn)
		if err != nil {
			return passwordOption.ReplaceAllString(dsn, "")
		}
		if u.User != nil {
			u.User = url.User(u.User.Username())
		}
		q := u.Query()
		if q.Has("password") {
			q.Del("password")
			u.RawQuery = q.Encode()
		}
		return u.String()
	}
	return strings.TrimSpace(passwordOption.ReplaceAllString(dsn, ""))
}

// HostPort extracts "host:port" from a DSN for error reporting. It returns an
// empty string when the DSN does not name a host.
func HostPort(dsn string) string {
	if isURLDSN(dsn) {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		return u.Host
	}

	var host, port string
	for _, field := range strings.Fields(dsn) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "host":
			host = strings.Trim(value, "'")
		case "port":
			port = strings.Trim(value, "'")
		}
	}
	if host == "" {
		return ""
	}
	if port == "" {
		port = "5432"
	}
	return net.JoinHostPort(host, port)
}

func isURLDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
