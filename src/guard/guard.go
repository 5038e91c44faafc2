package guard

import (
	"hash/fnv"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gatehouse-proxy/gatehouse/src/config"
)

// Decision is the outcome of an admission check for a single request.
type Decision int

const (
	// Allowed means the request may proceed to the next pipeline stage.
	Allowed Decision = iota

	// RateLimited means the client has exhausted its token bucket.
	RateLimited

	// Banned means the client has accumulated too many violations and is
	// unconditionally rejected until the ban expires.
	Banned
)

const (
	banDuration   = time.Hour
	maxViolations = 3
	maxClients    = 10000
	shardCount    = 64
)

// client is the complete tracking state for one client address. It is only
// ever accessed while its shard's mutex is held.
type client struct {
	// limiter is the client's token bucket. It is created lazily on the
	// client's first admission check, and nilled out again when the guard
	// resets bucket state after exceeding its size cap.
	limiter *rate.Limiter

	violations     uint32
	firstViolation time.Time

	// banExpiry is the zero time when the client is not banned.
	banExpiry time.Time
}

type shard struct {
	mutex   sync.Mutex
	clients map[string]*client
}

// Guard admits or rejects requests per client address. Each client gets a
// continuously refilled token bucket; clients that keep sending while their
// bucket is empty accumulate violations and are eventually banned for an
// hour. State is sharded by address hash so that unrelated clients never
// contend on the same lock.
type Guard struct {
	shards [shardCount]shard
	limit  rate.Limit
	burst  int
	logger *log.Logger
	now    func() time.Time
}

// New creates a guard for the given quota. Both quota fields must already
// have been validated as non-zero.
func New(quota config.RateLimitConfig, logger *log.Logger) *Guard {
	guard := &Guard{
		limit:  rate.Limit(float64(quota.RequestsPerMinute) / 60.0),
		burst:  int(quota.BurstSize),
		logger: logger,
		now:    time.Now,
	}

	for i := range guard.shards {
		guard.shards[i].clients = map[string]*client{}
	}

	return guard
}

// Admit decides whether a request from addr may proceed. It never blocks on
// I/O; the entire check runs under the address's shard lock so that
// concurrent requests from the same client observe a consistent
// bucket/violation/ban state.
func (guard *Guard) Admit(addr string) Decision {
	shard := guard.shardFor(addr)
	shard.mutex.Lock()
	defer shard.mutex.Unlock()

	now := guard.now()

	c, ok := shard.clients[addr]
	if !ok {
		c = &client{}
		shard.clients[addr] = c
	}

	if !c.banExpiry.IsZero() {
		if now.Before(c.banExpiry) {
			guard.logger.Printf(
				"guard: %s banned client attempted request, %ds remaining",
				addr,
				int(c.banExpiry.Sub(now)/time.Second),
			)
			return Banned
		}

		// The ban has lapsed, so the client starts fresh.
		c.banExpiry = time.Time{}
		c.violations = 0
		c.firstViolation = time.Time{}
	}

	if c.limiter == nil {
		c.limiter = rate.NewLimiter(guard.limit, guard.burst)
	}

	if c.limiter.AllowN(now, 1) {
		return Allowed
	}

	if c.violations == 0 {
		c.firstViolation = now
	}
	c.violations++

	if c.violations >= maxViolations {
		c.banExpiry = now.Add(banDuration)
		guard.logger.Printf(
			"guard: %s banned for %s after %d rate limit violations",
			addr,
			banDuration,
			c.violations,
		)
		return Banned
	}

	guard.logger.Printf(
		"guard: %s exceeded rate limit, violation %d of %d",
		addr,
		c.violations,
		maxViolations,
	)

	return RateLimited
}

// Cleanup compacts tracking state. It removes expired bans, clears the
// violation count of every client that does not currently hold a ban, and if
// more than 10000 clients have live token buckets it discards all bucket
// state outright. The bucket reset is a deliberately blunt bound on memory
// growth, not an eviction policy.
//
// Cleanup is invoked periodically by the server's scheduler and only ever
// takes one shard lock at a time, so it does not stall in-flight admission
// checks on other shards.
func (guard *Guard) Cleanup() {
	now := guard.now()
	buckets := 0

	for i := range guard.shards {
		shard := &guard.shards[i]
		shard.mutex.Lock()

		for addr, c := range shard.clients {
			if !c.banExpiry.IsZero() && !now.Before(c.banExpiry) {
				guard.logger.Printf("guard: %s ban expired, removing", addr)
				c.banExpiry = time.Time{}
			}

			if c.banExpiry.IsZero() {
				c.violations = 0
				c.firstViolation = time.Time{}
			}

			if c.limiter != nil {
				buckets++
			}

			if c.banExpiry.IsZero() && c.violations == 0 && c.limiter == nil {
				delete(shard.clients, addr)
			}
		}

		shard.mutex.Unlock()
	}

	if buckets > maxClients {
		guard.resetBuckets()
	}
}

// resetBuckets discards every client's token bucket. Bans survive the reset;
// banned clients are rejected before their bucket is consulted.
func (guard *Guard) resetBuckets() {
	guard.logger.Printf(
		"guard: tracking more than %d client buckets, discarding all bucket state",
		maxClients,
	)

	for i := range guard.shards {
		shard := &guard.shards[i]
		shard.mutex.Lock()

		for addr, c := range shard.clients {
			c.limiter = nil
			if c.banExpiry.IsZero() && c.violations == 0 {
				delete(shard.clients, addr)
			}
		}

		shard.mutex.Unlock()
	}
}

func (guard *Guard) shardFor(addr string) *shard {
	hash := fnv.New32a()
	hash.Write([]byte(addr))
	return &guard.shards[hash.Sum32()%shardCount]
}
