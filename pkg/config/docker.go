package config

import (
	"os"
	"sync"
)

const dockerHostGateway = "host.docker.internal"

// Marker files left by Docker and Podman in every container.
var containerMarkers = []string{"/.dockerenv", "/run/.containerenv"}

var inContainer = sync.OnceValue(func() bool {
	for _, marker := range containerMarkers {
		if _, err := os.Stat(marker); err == nil {
			return true
		}
	}
	return false
})

// IsRunningInDocker reports whether the server runs inside a container.
// The result is cached after the first call.
func IsRunningInDocker() bool {
	return inContainer()
}

// ResolveHostForDocker points a loopback database host at the Docker host
// gateway when the server runs in a container, so a job registry on the
// host stays reachable with the same configuration.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

func resolveHost(host string, containerized bool) string {
	if !containerized {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1", "[::1]":
		return dockerHostGateway
	}
	return host
}
