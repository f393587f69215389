package browser

import (
	"net/url"
	"strings"
)

// AboutBlank is the only about: location the renderer accepts.
const AboutBlank = "about:blank"

// NormalizeLocation validates raw against the scheme allow-list
// {http, https, data, about:blank} and returns the location the engine should
// be given. Rejected locations never reach the engine.
func NormalizeLocation(raw string) (string, error) {
	loc := strings.TrimSpace(raw)
	if loc == "" {
		return "", invalidLocation(raw, "location is empty")
	}
	if strings.EqualFold(loc, AboutBlank) {
		return AboutBlank, nil
	}

	u, err := url.Parse(loc)
	if err != nil {
		return "", invalidLocation(raw, "location is malformed")
	}

	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "http", "https":
		if u.Host == "" || u.Hostname() == "" {
			return "", invalidLocation(raw, "location has no host")
		}
		return u.String(), nil
	case "data":
		// data:[<mediatype>][;base64],<data>
		body := loc[len("data:"):]
		if !strings.Contains(body, ",") {
			return "", invalidLocation(raw, "data location has no payload separator")
		}
		return "data:" + body, nil
	case "":
		return "", invalidLocation(raw, "location has no scheme")
	default:
		return "", unsupportedScheme(raw, scheme)
	}
}

// Scheme returns the lowercased scheme of an already normalized location.
func Scheme(location string) string {
	if location == AboutBlank {
		return "about"
	}
	if i := strings.IndexByte(location, ':'); i > 0 {
		return strings.ToLower(location[:i])
	}
	return ""
}
