package utils

import (
	"net/url"
	"regexp"
	"strings"
)

const mask = "***"

// keywordPassword matches the password of a libpq keyword/value DSN.
var keywordPassword = regexp.MustCompile(`(?i)(\bpassword\s*=\s*)('(?:[^'\\]|\\.)*'|\S+)`)

// MaskDSN hides the password of a connection string before it is logged.
// URL forms keep their user name; keyword/value forms keep every other field.
func MaskDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.Host != "" {
		if u.User == nil {
			return dsn
		}
		if _, ok := u.User.Password(); !ok {
			return dsn
		}
		return maskURLPassword(dsn)
	}
	return keywordPassword.ReplaceAllString(dsn, "${1}"+mask)
}

// maskURLPassword replaces the userinfo password of a URL that url.Parse has
// accepted. The user part is kept in its original encoding.
func maskURLPassword(dsn string) string {
	start := strings.Index(dsn, "://") + len("://")
	end := len(dsn)
	if i := strings.IndexAny(dsn[start:], "/?#"); i >= 0 {
		end = start + i
	}
	at := strings.LastIndex(dsn[start:end], "@")
	if at < 0 {
		return dsn
	}
	userinfo := dsn[start : start+at]
	user, _, _ := strings.Cut(userinfo, ":")
	return dsn[:start] + user + ":" + mask + dsn[start+at:]
}
