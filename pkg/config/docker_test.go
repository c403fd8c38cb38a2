package config

import "testing"

func TestResolveHost(t *testing.T) {
	tests := []struct {
		host          string
		containerized bool
		want          string
	}{
		{"localhost", false, "localhost"},
		{"127.0.0.1", false, "127.0.0.1"},
		{"localhost", true, "host.docker.internal"},
		{"127.0.0.1", true, "host.docker.internal"},
		{"::1", true, "host.docker.internal"},
		{"[::1]", true, "host.docker.internal"},
		{"db.internal", true, "db.internal"},
		{"192.168.1.100", true, "192.168.1.100"},
		{"host.docker.internal", true, "host.docker.internal"},
	}

	for _, tt := range tests {
		if got := resolveHost(tt.host, tt.containerized); got != tt.want {
			t.Errorf("resolveHost(%q, %v) = %q, want %q", tt.host, tt.containerized, got, tt.want)
		}
	}
}

func TestResolveHostForDocker_LeavesRemoteHosts(t *testing.T) {
	for _, host := range []string{"db.internal", "10.0.0.5"} {
		if got := ResolveHostForDocker(host); got != host {
			t.Errorf("ResolveHostForDocker(%q) = %q", host, got)
		}
	}
}
