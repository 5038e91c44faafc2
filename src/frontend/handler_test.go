package frontend_test

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gatehouse-proxy/gatehouse/src/config"
	"github.com/gatehouse-proxy/gatehouse/src/filter"
	"github.com/gatehouse-proxy/gatehouse/src/frontend"
	"github.com/gatehouse-proxy/gatehouse/src/guard"
	"github.com/gatehouse-proxy/gatehouse/src/proxy"
)

var _ = Describe("Handler", func() {
	var (
		subject   *frontend.Handler
		upstream  *httptest.Server
		forwarded int32
	)

	BeforeEach(func() {
		atomic.StoreInt32(&forwarded, 0)

		upstream = httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&forwarded, 1)
				io.WriteString(w, "origin response")
			},
		))

		cfg := &config.Config{
			Proxy: config.ProxyConfig{Upstream: upstream.URL},
			Limits: config.LimitsConfig{
				MaxBodySize:        1024,
				DefaultTimeoutSecs: 5,
			},
			RateLimit: config.RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         3,
			},
			Filter: config.FilterConfig{
				BlockedUserAgents: []string{"badbot"},
				RedirectURL:       "https://example.org/blocked",
			},
			ErrorRedirects: config.ErrorRedirects{
				RateLimited:  "https://example.org/slow-down",
				Banned:       "https://example.org/banned",
				BodyTooLarge: "https://example.org/too-large",
				Timeout:      "https://example.org/timeout",
				BadGateway:   "https://example.org/unavailable",
			},
		}

		logger := log.New(io.Discard, "", 0)

		agentFilter, err := filter.New(cfg.Filter, logger)
		Expect(err).ShouldNot(HaveOccurred())

		subject = &frontend.Handler{
			Config: cfg,
			Guard:  guard.New(cfg.RateLimit, logger),
			Filter: agentFilter,
			Forwarder: &proxy.Forwarder{
				Config: cfg,
				Client: proxy.NewClient(),
				Logger: logger,
			},
			Logger: logger,
		}
	})

	AfterEach(func() {
		upstream.Close()
	})

	serve := func(remoteAddr, userAgent string) *httptest.ResponseRecorder {
		request := httptest.NewRequest("GET", "/page", nil)
		request.RemoteAddr = remoteAddr
		if userAgent != "" {
			request.Header.Set("User-Agent", userAgent)
		}

		recorder := httptest.NewRecorder()
		subject.ServeHTTP(recorder, request)
		return recorder
	}

	It("forwards admitted requests to the upstream origin", func() {
		recorder := serve("10.0.0.1:40000", "Mozilla/5.0")

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(recorder.Body.String()).To(Equal("origin response"))
		Expect(atomic.LoadInt32(&forwarded)).To(Equal(int32(1)))
	})

	It("admits requests with no user-agent header", func() {
		recorder := serve("10.0.0.1:40000", "")

		Expect(recorder.Code).To(Equal(http.StatusOK))
		Expect(atomic.LoadInt32(&forwarded)).To(Equal(int32(1)))
	})

	It("redirects rate limited clients without forwarding", func() {
		for i := 0; i < 3; i++ {
			serve("10.0.0.1:40000", "Mozilla/5.0")
		}

		recorder := serve("10.0.0.1:40000", "Mozilla/5.0")

		Expect(recorder.Code).To(Equal(http.StatusFound))
		Expect(recorder.Header().Get("Location")).To(Equal("https://example.org/slow-down"))
		Expect(recorder.Header().Get("Content-Length")).To(Equal("0"))
		Expect(recorder.Body.Len()).To(BeZero())
		Expect(atomic.LoadInt32(&forwarded)).To(Equal(int32(3)))
	})

	It("redirects banned clients without forwarding", func() {
		// Exhaust the burst, then accumulate three violations.
		for i := 0; i < 6; i++ {
			serve("10.0.0.1:40000", "Mozilla/5.0")
		}

		recorder := serve("10.0.0.1:40000", "Mozilla/5.0")

		Expect(recorder.Code).To(Equal(http.StatusFound))
		Expect(recorder.Header().Get("Location")).To(Equal("https://example.org/banned"))
		Expect(atomic.LoadInt32(&forwarded)).To(Equal(int32(3)))
	})

	It("checks admission before the agent filter", func() {
		for i := 0; i < 3; i++ {
			serve("10.0.0.1:40000", "Mozilla/5.0")
		}

		// A blocked agent that is also over quota sees the rate limit
		// redirect, not the filter redirect.
		recorder := serve("10.0.0.1:40000", "badbot")

		Expect(recorder.Header().Get("Location")).To(Equal("https://example.org/slow-down"))
	})

	It("permanently redirects blocked user-agents without forwarding", func() {
		recorder := serve("10.0.0.1:40000", "BadBot/2.0")

		Expect(recorder.Code).To(Equal(http.StatusMovedPermanently))
		Expect(recorder.Header().Get("Location")).To(Equal("https://example.org/blocked"))
		Expect(recorder.Header().Get("Content-Length")).To(Equal("0"))
		Expect(recorder.Body.Len()).To(BeZero())
		Expect(atomic.LoadInt32(&forwarded)).To(BeZero())
	})

	It("rate limits per client address", func() {
		for i := 0; i < 4; i++ {
			serve("10.0.0.1:40000", "Mozilla/5.0")
		}

		recorder := serve("10.0.0.2:40000", "Mozilla/5.0")

		Expect(recorder.Code).To(Equal(http.StatusOK))
	})

	It("uses the host part of the remote address as the client identity", func() {
		// Same client, different ephemeral ports.
		serve("10.0.0.1:40000", "Mozilla/5.0")
		serve("10.0.0.1:40001", "Mozilla/5.0")
		serve("10.0.0.1:40002", "Mozilla/5.0")

		recorder := serve("10.0.0.1:40003", "Mozilla/5.0")

		Expect(recorder.Header().Get("Location")).To(Equal("https://example.org/slow-down"))
	})
})
