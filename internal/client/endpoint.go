package client

import (
	"errors"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// DefaultPort is used when no server URL is configured.
const DefaultPort = "8080"

var ErrInvalidServerURL = errors.New("invalid server URL")

// URLError reports a server URL that cannot be turned into an endpoint.
type URLError struct {
	URL string
}

func (e *URLError) Error() string { return "Invalid Server URL: " + e.URL }
func (e *URLError) Unwrap() error { return ErrInvalidServerURL }

// Page is the origin the client runs on. Its scheme and host fill in
// what a server URL leaves out.
type Page struct {
	Host   string
	Secure bool
}

var hasScheme = regexp.MustCompile(`^(?i)(https?|wss?)://`)

// ResolveEndpoint derives the signaling websocket URL. An empty raw URL
// means the page host on DefaultPort. Secure schemes map to wss, the rest
// to ws; a missing path becomes /ws.
func ResolveEndpoint(raw string, page Page) (string, error) {
	host := page.Host
	if host == "" {
		host = "localhost"
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		scheme := "ws"
		if page.Secure {
			scheme = "wss"
		}
		u := url.URL{Scheme: scheme, Host: net.JoinHostPort(stripPort(host), DefaultPort), Path: "/ws"}
		return u.String(), nil
	}

	full := raw
	if !hasScheme.MatchString(full) {
		if page.Secure {
			full = "https://" + full
		} else {
			full = "http://" + full
		}
	}
	u, err := url.Parse(full)
	if err != nil || u.Hostname() == "" {
		return "", &URLError{URL: raw}
	}

	scheme := "ws"
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		scheme = "wss"
	}
	path := u.Path
	if path == "" || path == "/" {
		path = "/ws"
	}

	hostport := u.Hostname()
	if port := u.Port(); port != "" {
		hostport = net.JoinHostPort(hostport, port)
	} else if strings.Contains(hostport, ":") {
		hostport = "[" + hostport + "]"
	}
	out := url.URL{Scheme: scheme, Host: hostport, Path: path}
	return out.String(), nil
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}
