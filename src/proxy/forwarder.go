package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"

	"github.com/gatehouse-proxy/gatehouse/src/config"
	"github.com/gatehouse-proxy/gatehouse/src/redirect"
)

// failure classifies the ways a forward attempt can fail. Every failure
// resolves to a redirect; the client never sees a raw error status.
type failure int

const (
	failureNone failure = iota
	failureBodyTooLarge
	failureReadTimeout
	failureUpstreamTimeout
	failureBadGateway
)

// Forwarder relays admitted requests to the single configured upstream
// origin. Request bodies are fully buffered in memory up to the configured
// cap; this gateway does not stream large payloads.
type Forwarder struct {
	Config *config.Config
	Client *http.Client
	Logger *log.Logger
}

// NewClient creates the HTTP client used for upstream exchanges. Redirects
// issued by the origin are relayed to the client verbatim, not followed.
func NewClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Forward relays a request to the upstream origin and writes the response.
// It never reports a hard error to its caller; any failure resolves to a
// temporary redirect specific to the failure category.
//
// The resolved per-path timeout bounds the body collection and the upstream
// exchange independently, so a single request can take up to twice the
// timeout before a redirect is produced.
func (fwd *Forwarder) Forward(
	writer http.ResponseWriter,
	request *http.Request,
	clientAddr string,
) {
	timeout := fwd.Config.TimeoutFor(request.URL.Path)

	logContext := &LogContext{
		Logger:     fwd.Logger,
		ClientAddr: clientAddr,
		Request:    request,
	}
	logContext.Metrics.Start()

	message := ""
	body, fail := fwd.collectBody(request, clientAddr, timeout)
	if fail == failureNone {
		fail = fwd.exchange(writer, request, clientAddr, body, timeout, logContext)
	}

	if fail != failureNone {
		logContext.Metrics.FirstByteSent()
		redirect.Temporary(writer, fwd.redirectFor(fail))
		logContext.StatusCode = http.StatusFound
		message = fail.String()
	}

	logContext.Metrics.LastByteSent()
	logContext.Log(message)
}

// collectBody buffers the request body, enforcing the configured size cap
// and the resolved timeout. A declared Content-Length over the cap is
// rejected before any body bytes are read; otherwise the actual accumulated
// size is checked, which also catches absent or dishonest length claims.
func (fwd *Forwarder) collectBody(
	request *http.Request,
	clientAddr string,
	timeout time.Duration,
) ([]byte, failure) {
	maxSize := fwd.Config.Limits.MaxBodySize

	if request.ContentLength > 0 && uint64(request.ContentLength) > maxSize {
		fwd.Logger.Printf(
			"proxy: %s from %s declares a %s body, exceeding the %s limit",
			request.URL.Path,
			clientAddr,
			humanize.IBytes(uint64(request.ContentLength)),
			humanize.IBytes(maxSize),
		)
		return nil, failureBodyTooLarge
	}

	type readResult struct {
		body []byte
		err  error
	}

	// The inbound body read can not be cancelled directly, so it runs in its
	// own goroutine. On timeout the read is abandoned; the server closes the
	// request body when the handler returns, which unblocks the goroutine.
	results := make(chan readResult, 1)
	go func() {
		body, err := io.ReadAll(io.LimitReader(request.Body, int64(maxSize)+1))
		results <- readResult{body, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-results:
		if result.err != nil {
			fwd.Logger.Printf(
				"proxy: %s from %s body read failed: %v",
				request.URL.Path,
				clientAddr,
				result.err,
			)
			return nil, failureBadGateway
		}

		if uint64(len(result.body)) > maxSize {
			fwd.Logger.Printf(
				"proxy: %s from %s body exceeds the %s limit",
				request.URL.Path,
				clientAddr,
				humanize.IBytes(maxSize),
			)
			return nil, failureBodyTooLarge
		}

		return result.body, failureNone

	case <-timer.C:
		fwd.Logger.Printf(
			"proxy: %s from %s timed out reading body after %s",
			request.URL.Path,
			clientAddr,
			timeout,
		)
		return nil, failureReadTimeout
	}
}

// exchange sends the rewritten request to the upstream origin, buffers the
// response, and relays it to the client.
func (fwd *Forwarder) exchange(
	writer http.ResponseWriter,
	request *http.Request,
	clientAddr string,
	body []byte,
	timeout time.Duration,
	logContext *LogContext,
) failure {
	target := strings.TrimRight(fwd.Config.Proxy.Upstream, "/") + request.URL.RequestURI()
	if _, err := url.ParseRequestURI(target); err != nil {
		fwd.Logger.Printf(
			"proxy: %s from %s produces a malformed upstream URI: %v",
			request.URL.Path,
			clientAddr,
			err,
		)
		return failureBadGateway
	}

	ctx, cancel := context.WithTimeout(request.Context(), timeout)
	defer cancel()

	upstreamRequest, err := http.NewRequestWithContext(
		ctx,
		request.Method,
		target,
		bytes.NewReader(body),
	)
	if err != nil {
		fwd.Logger.Printf(
			"proxy: %s from %s can not build upstream request: %v",
			request.URL.Path,
			clientAddr,
			err,
		)
		return failureBadGateway
	}

	upstreamRequest.Header = buildUpstreamHeaders(request, clientAddr)
	logContext.UpstreamRequest = upstreamRequest
	logContext.Metrics.BytesIn = int64(len(body))

	response, err := fwd.client().Do(upstreamRequest)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			fwd.Logger.Printf(
				"proxy: %s from %s upstream did not respond within %s",
				request.URL.Path,
				clientAddr,
				timeout,
			)
			return failureUpstreamTimeout
		}

		fwd.Logger.Printf(
			"proxy: %s from %s upstream request failed: %v",
			request.URL.Path,
			clientAddr,
			err,
		)
		return failureBadGateway
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		if ctx.Err() != nil {
			fwd.Logger.Printf(
				"proxy: %s from %s upstream response exceeded %s",
				request.URL.Path,
				clientAddr,
				timeout,
			)
			return failureUpstreamTimeout
		}

		fwd.Logger.Printf(
			"proxy: %s from %s upstream response read failed: %v",
			request.URL.Path,
			clientAddr,
			err,
		)
		return failureBadGateway
	}

	headers := writer.Header()
	for name, values := range response.Header {
		if !isHopByHopHeader(name) {
			headers[name] = values
		}
	}

	logContext.Metrics.FirstByteSent()
	writer.WriteHeader(response.StatusCode)
	written, _ := writer.Write(responseBody)

	logContext.StatusCode = response.StatusCode
	logContext.Metrics.BytesOut = int64(written)

	return failureNone
}

func (fwd *Forwarder) redirectFor(fail failure) string {
	switch fail {
	case failureBodyTooLarge:
		return fwd.Config.ErrorRedirects.BodyTooLarge
	case failureReadTimeout, failureUpstreamTimeout:
		return fwd.Config.ErrorRedirects.Timeout
	default:
		return fwd.Config.ErrorRedirects.BadGateway
	}
}

func (fwd *Forwarder) client() *http.Client {
	if fwd.Client != nil {
		return fwd.Client
	}

	return http.DefaultClient
}

func (fail failure) String() string {
	switch fail {
	case failureBodyTooLarge:
		return "body too large"
	case failureReadTimeout:
		return "body read timeout"
	case failureUpstreamTimeout:
		return "upstream timeout"
	case failureBadGateway:
		return "bad gateway"
	default:
		return ""
	}
}
