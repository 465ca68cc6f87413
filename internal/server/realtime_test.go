package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRealtimeTokenPrefersQueryParameter(t *testing.T) {
	request := httptest.NewRequest(http.MethodGet, "/ws?token=query-token", http.NoBody)
	request.Header.Set("Authorization", "Bearer header-token")
	if token := realtimeToken(request); token != "query-token" {
		t.Fatalf("expected query token, got %q", token)
	}

	request = httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	request.Header.Set("Authorization", "Bearer header-token")
	if token := realtimeToken(request); token != "header-token" {
		t.Fatalf("expected header token, got %q", token)
	}

	request = httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	if token := realtimeToken(request); token != "" {
		t.Fatalf("expected no token, got %q", token)
	}
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://app.example.com"}
	testCases := []struct {
		name    string
		origin  string
		origins []string
		want    bool
	}{
		{name: "non-browser client", origin: "", origins: allowed, want: true},
		{name: "listed origin", origin: "https://app.example.com", origins: allowed, want: true},
		{name: "unlisted origin", origin: "https://evil.example.com", origins: allowed, want: false},
		{name: "wildcard", origin: "https://anything.example.com", origins: []string{"*"}, want: true},
		{name: "malformed origin", origin: "::", origins: allowed, want: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := originAllowed(testCase.origin, testCase.origins); got != testCase.want {
				t.Fatalf("originAllowed(%q) = %v, want %v", testCase.origin, got, testCase.want)
			}
		})
	}
}

func TestRealtimeOptionsDefaults(t *testing.T) {
	options := RealtimeOptions{}.withDefaults()
	if options.PingPeriod != 30*time.Second {
		t.Fatalf("unexpected ping period %s", options.PingPeriod)
	}
	if options.ReadLimitBytes != defaultReadLimitBytes || options.EventBurst != defaultEventBurst {
		t.Fatalf("unexpected defaults %+v", options)
	}
}
