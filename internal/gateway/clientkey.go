package gateway

import (
	"net"
	"net/http"
	"strings"

	"github.com/AlexKimmel/GateLite/internal/auth"
)

const (
	PartitionByIP     = "ip"
	PartitionByAPIKey = "api_key"

	unknownClient = "unknown"
)

// ClientIP resolves the caller address: the first X-Forwarded-For entry, then
// X-Real-IP, then the connection's remote host. Forwarded headers are only
// read when trustForwarded is set.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return unknownClient
}

// ClientKey returns the partition key for r. With PartitionByAPIKey,
// authenticated callers are keyed by their key id and anonymous callers fall
// back to their address.
func ClientKey(r *http.Request, partitionBy string, trustForwarded bool) string {
	if partitionBy == PartitionByAPIKey {
		if id, ok := auth.KeyIDFrom(r.Context()); ok {
			return "key:" + id
		}
	}
	return ClientIP(r, trustForwarded)
}
