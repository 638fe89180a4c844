package server

import (
	"net/http/httptest"
	"testing"
)

func TestProxyTrustClientIP(t *testing.T) {
	tests := []struct {
		name       string
		cidrs      []string
		remoteAddr string
		forwarded  string
		realIP     string
		want       string
	}{
		{
			name:       "direct peer, no proxies configured",
			remoteAddr: "203.0.113.9:4711",
			forwarded:  "198.51.100.1",
			want:       "203.0.113.9",
		},
		{
			name:       "untrusted peer cannot spoof via forwarding header",
			cidrs:      []string{"10.0.0.0/8"},
			remoteAddr: "203.0.113.9:4711",
			forwarded:  "198.51.100.1",
			want:       "203.0.113.9",
		},
		{
			name:       "trusted proxy, first forwarded hop wins",
			cidrs:      []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:4711",
			forwarded:  "198.51.100.1, 10.1.2.3",
			want:       "198.51.100.1",
		},
		{
			name:       "trusted proxy falls back to X-Real-IP",
			cidrs:      []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:4711",
			realIP:     "198.51.100.7",
			want:       "198.51.100.7",
		},
		{
			name:       "trusted proxy with no headers keeps direct address",
			cidrs:      []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:4711",
			want:       "10.1.2.3",
		},
		{
			name:       "bare IP in config counts as single-host range",
			cidrs:      []string{"10.1.2.3"},
			remoteAddr: "10.1.2.3:4711",
			forwarded:  "198.51.100.1",
			want:       "198.51.100.1",
		},
		{
			name:       "garbage forwarding values are skipped",
			cidrs:      []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:4711",
			forwarded:  "not-an-ip",
			want:       "10.1.2.3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pt := newProxyTrust(tt.cidrs)
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := pt.clientIP(r); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewProxyTrustIgnoresInvalid(t *testing.T) {
	pt := newProxyTrust([]string{"not-a-cidr", "10.0.0.0/8"})
	if len(pt.networks) != 1 {
		t.Errorf("networks = %d, want 1", len(pt.networks))
	}
}
