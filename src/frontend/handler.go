package frontend

import (
	"log"
	"net"
	"net/http"

	"github.com/gatehouse-proxy/gatehouse/src/config"
	"github.com/gatehouse-proxy/gatehouse/src/filter"
	"github.com/gatehouse-proxy/gatehouse/src/guard"
	"github.com/gatehouse-proxy/gatehouse/src/proxy"
	"github.com/gatehouse-proxy/gatehouse/src/redirect"
)

// Handler is the request admission pipeline. Stages run in a fixed order and
// the first stage to reject a request wins: traffic guard, then agent
// filter, then the forwarding engine. Forwarding is never attempted for a
// rejected request.
type Handler struct {
	Config    *config.Config
	Guard     *guard.Guard
	Filter    *filter.Filter
	Forwarder *proxy.Forwarder
	Logger    *log.Logger
}

// ServeHTTP runs the pipeline for one inbound request.
func (handler *Handler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	clientAddr := clientAddress(request.RemoteAddr)

	switch handler.Guard.Admit(clientAddr) {
	case guard.Banned:
		redirect.Temporary(writer, handler.Config.ErrorRedirects.Banned)
		return
	case guard.RateLimited:
		redirect.Temporary(writer, handler.Config.ErrorRedirects.RateLimited)
		return
	}

	// A missing user-agent header is not treated as suspicious.
	if userAgent := request.Header.Get("User-Agent"); userAgent != "" {
		if handler.Filter.Blocked(userAgent) {
			redirect.Permanent(writer, handler.Filter.RedirectURL())
			return
		}
	}

	handler.Forwarder.Forward(writer, request, clientAddr)
}

// clientAddress extracts the client IP from a RemoteAddr value, falling back
// to the raw string if it does not carry a port.
func clientAddress(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}

	return host
}
