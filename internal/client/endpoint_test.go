package client

import (
	"errors"
	"strings"
	"testing"
)

func TestResolveEndpoint(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		page Page
		want string
	}{
		{"default insecure", "", Page{Host: "studio.local"}, "ws://studio.local:8080/ws"},
		{"default secure", "", Page{Host: "studio.local:443", Secure: true}, "wss://studio.local:8080/ws"},
		{"default no page", "", Page{}, "ws://localhost:8080/ws"},
		{"bare host", "relay.example:9000", Page{}, "ws://relay.example:9000/ws"},
		{"bare host secure page", "relay.example", Page{Secure: true}, "wss://relay.example/ws"},
		{"https maps to wss", "https://relay.example/signal", Page{}, "wss://relay.example/signal"},
		{"ws kept", "ws://10.0.0.2:8080", Page{Secure: true}, "ws://10.0.0.2:8080/ws"},
		{"wss kept", "wss://relay.example:8443/ws", Page{}, "wss://relay.example:8443/ws"},
		{"http maps to ws", "http://relay.example/", Page{}, "ws://relay.example/ws"},
		{"ipv6", "http://[::1]:8080", Page{}, "ws://[::1]:8080/ws"},
		{"query dropped", "ws://relay.example/ws?x=1", Page{}, "ws://relay.example/ws"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveEndpoint(tc.raw, tc.page)
			if err != nil {
				t.Fatalf("ResolveEndpoint(%q): %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("ResolveEndpoint(%q)=%q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestResolveEndpointRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"http://", "ws://:8080/ws", "bad host name", "::bad"} {
		_, err := ResolveEndpoint(raw, Page{})
		if !errors.Is(err, ErrInvalidServerURL) {
			t.Fatalf("ResolveEndpoint(%q) err=%v, want ErrInvalidServerURL", raw, err)
		}
		if !strings.Contains(err.Error(), raw) {
			t.Fatalf("error %q does not name %q", err, raw)
		}
	}
}
