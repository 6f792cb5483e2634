package server

import "testing"

func TestAllowList(t *testing.T) {
	list, err := parseAllowList([]string{"127.0.0.0/8", "172.20.0.0/16"})
	if err != nil {
		t.Fatalf("parseAllowList: %v", err)
	}

	tests := []struct {
		name        string
		remoteAddr  string
		expectAllow bool
	}{
		{"localhost IPv4", "127.0.0.1:12345", true},
		{"localhost IPv6", "[::1]:12345", false},
		{"lab network", "172.20.1.10:12345", true},
		{"outside network", "192.168.1.1:12345", false},
		{"invalid address", "invalid", false},
		{"hostname", "localhost:80", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := list.allows(tt.remoteAddr); got != tt.expectAllow {
				t.Errorf("Expected allowed=%v for %s, got %v", tt.expectAllow, tt.remoteAddr, got)
			}
		})
	}
}

func TestAllowListInvalidCIDR(t *testing.T) {
	if _, err := parseAllowList([]string{"10.0.0.0/33"}); err == nil {
		t.Error("Expected error for invalid CIDR")
	}
}

func TestEmptyAllowListRejects(t *testing.T) {
	var list allowList
	if list.allows("127.0.0.1:1") {
		t.Error("Expected empty allowlist to reject")
	}
}
