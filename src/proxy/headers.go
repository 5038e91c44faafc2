package proxy

import "net/http"

// isHopByHopHeader checks if a given header name is a hop-by-hop header, and
// hence must not be relayed to the upstream origin. The name must already be
// canonicalized with http.CanonicalHeaderKey().
func isHopByHopHeader(name string) bool {
	switch name {
	case "Connection",
		"Proxy-Connection",
		"Keep-Alive",
		"Te",
		"Trailer",
		"Transfer-Encoding",
		"Upgrade":
		return true
	default:
		return false
	}
}

// buildUpstreamHeaders creates the set of headers forwarded to the upstream
// origin for the given request. Hop-by-hop headers are dropped, everything
// else is preserved as-is, and the forwarding headers are added. The
// X-Forwarded-Proto value is fixed; TLS terminates in front of this gateway,
// so the origin always sees https regardless of the inbound scheme.
func buildUpstreamHeaders(request *http.Request, clientAddr string) http.Header {
	headers := http.Header{}

	for name, values := range request.Header {
		if !isHopByHopHeader(name) {
			headers[name] = values
		}
	}

	headers.Set("X-Forwarded-For", clientAddr)
	headers.Set("X-Forwarded-Proto", "https")

	return headers
}
