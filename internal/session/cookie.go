package session

import (
	"net/http"
	"net/url"
)

// CookieName is the session cookie issued by the HTTP authentication layer.
const CookieName = "connect.sid"

// Token reads the session token for the given channel endpoint from the
// cookie jar. The value is URL-decoded before being returned. The second
// return value is false when the jar or cookie is absent or the value cannot
// be decoded; callers treat that as "cannot authenticate now".
func Token(jar http.CookieJar, endpoint *url.URL) (string, bool) {
	if jar == nil || endpoint == nil {
		return "", false
	}

	// Cookie jars are keyed by http(s) origins; map the channel scheme back.
	origin := *endpoint
	switch origin.Scheme {
	case "ws":
		origin.Scheme = "http"
	case "wss":
		origin.Scheme = "https"
	}

	for _, c := range jar.Cookies(&origin) {
		if c.Name != CookieName {
			continue
		}
		v, err := url.QueryUnescape(c.Value)
		if err != nil {
			return "", false
		}
		return v, true
	}
	return "", false
}
