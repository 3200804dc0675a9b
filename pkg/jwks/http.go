package jwks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/osvaldoandrade/jwtguard/internal/backoff"
	"github.com/osvaldoandrade/jwtguard/pkg/security"
)

const (
	DefaultRefreshInterval = 10 * time.Minute
	DefaultConnectTimeout  = 2 * time.Second
	DefaultReadTimeout     = 3 * time.Second
	DefaultMaxAttempts     = 3
	DefaultBackoffBase     = 200 * time.Millisecond
	DefaultBackoffMax      = 5 * time.Second
	DefaultMinRefreshGap   = 10 * time.Second
)

// HTTPConfig configures an HTTPLoader. Zero values take the defaults above.
type HTTPConfig struct {
	Issuer          string
	URL             string
	RefreshInterval time.Duration
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	MaxAttempts     int
	BackoffPolicy   string
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	// MinRefreshGap bounds how often an unknown kid or an empty cache may
	// trigger a fetch outside the background schedule.
	MinRefreshGap time.Duration
	// Store, when set, receives every successfully fetched document and is
	// consulted when the endpoint fails before any fetch succeeded.
	Store  KeySetStore
	Client *http.Client
	Logger *slog.Logger
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffPolicy == "" {
		c.BackoffPolicy = backoff.PolicyExpFullJitter
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.MinRefreshGap <= 0 {
		c.MinRefreshGap = DefaultMinRefreshGap
	}
	return c
}

// HTTPLoader serves keys from a remote JWKS endpoint. Readers always see the
// last good snapshot; a background task refreshes it every RefreshInterval
// and at most one fetch runs at a time.
type HTTPLoader struct {
	base
	cfg    HTTPConfig
	client *http.Client

	set         atomic.Pointer[keySet]
	group       singleflight.Group
	inflight    atomic.Bool
	lastAttempt atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	// ctx bounds every fetch and is cancelled by Close. Callers only wait on
	// their own context; they never cancel a shared fetch.
	ctx  context.Context
	stop context.CancelFunc

	lifeMu  sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
}

var _ Loader = (*HTTPLoader)(nil)

func NewHTTPLoader(cfg HTTPConfig) (*HTTPLoader, error) {
	cfg = cfg.withDefaults()
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("http jwks for %s: invalid url %q", cfg.Issuer, cfg.URL)
	}
	if !backoff.Valid(cfg.BackoffPolicy) {
		return nil, fmt.Errorf("http jwks for %s: unknown backoff policy %q", cfg.Issuer, cfg.BackoffPolicy)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: cfg.ConnectTimeout + cfg.ReadTimeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
				TLSHandshakeTimeout:   cfg.ConnectTimeout,
				ResponseHeaderTimeout: cfg.ReadTimeout,
				MaxIdleConnsPerHost:   2,
			},
		}
	}

	l := &HTTPLoader{
		cfg:    cfg,
		client: client,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
		sleep:  sleepContext,
		done:   make(chan struct{}),
	}
	l.ctx, l.stop = context.WithCancel(context.Background())
	l.initBase(cfg.Issuer, cfg.Logger)
	return l, nil
}

// Init starts the background refresh task and an initial asynchronous load.
func (l *HTTPLoader) Init(counter *security.Counter) {
	l.setCounter(counter)
	l.lifeMu.Lock()
	defer l.lifeMu.Unlock()
	if l.started || l.closed {
		return
	}
	l.started = true
	go l.run(l.ctx)
}

func (l *HTTPLoader) run(ctx context.Context) {
	defer close(l.done)
	if l.set.Load() == nil {
		_ = l.refresh(ctx, l.cfg.MaxAttempts)
	}
	ticker := time.NewTicker(l.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = l.refresh(ctx, l.cfg.MaxAttempts)
		}
	}
}

// Close stops the background task and waits for it to exit. In-flight
// fetches are abandoned and later Init calls do nothing.
func (l *HTTPLoader) Close() error {
	l.lifeMu.Lock()
	if l.closed {
		l.lifeMu.Unlock()
		return nil
	}
	l.closed = true
	started := l.started
	l.lifeMu.Unlock()

	l.stop()
	if started {
		<-l.done
	}
	return nil
}

func (l *HTTPLoader) Type() Type { return TypeHTTP }

func (l *HTTPLoader) KeyInfo(ctx context.Context, kid string) (*KeyInfo, bool) {
	l.ensureLoaded(ctx)
	set := l.set.Load()
	if k, ok := set.get(kid); ok {
		return k, true
	}
	if set == nil || !l.gapElapsed() {
		return nil, false
	}
	// Unknown kid on a populated cache usually means the issuer rotated keys.
	_ = l.refresh(ctx, 1)
	return l.set.Load().get(kid)
}

func (l *HTTPLoader) Keys(ctx context.Context) []*KeyInfo {
	l.ensureLoaded(ctx)
	return l.set.Load().list()
}

func (l *HTTPLoader) IsHealthy(ctx context.Context) Status {
	if l.set.Load() == nil || l.CurrentStatus() == StatusUndefined {
		_ = l.refresh(ctx, l.cfg.MaxAttempts)
	}
	return l.CurrentStatus()
}

// FetchedAt reports when the current snapshot was fetched; zero when keys
// came from the store or nothing is cached.
func (l *HTTPLoader) FetchedAt() time.Time {
	if s := l.set.Load(); s != nil {
		return s.fetchedAt
	}
	return time.Time{}
}

func (l *HTTPLoader) ensureLoaded(ctx context.Context) {
	if l.set.Load() != nil {
		return
	}
	if l.inflight.Load() || l.gapElapsed() {
		_ = l.refresh(ctx, l.cfg.MaxAttempts)
	}
}

func (l *HTTPLoader) gapElapsed() bool {
	last := l.lastAttempt.Load()
	return last == 0 || l.now().Sub(time.Unix(0, last)) >= l.cfg.MinRefreshGap
}

// refresh joins or starts the shared fetch and waits for it until ctx is
// done. The fetch itself runs on the loader context, so a caller giving up
// leaves it running for everyone else.
func (l *HTTPLoader) refresh(ctx context.Context, attempts int) error {
	ch := l.group.DoChan("refresh", func() (any, error) {
		l.inflight.Store(true)
		defer l.inflight.Store(false)
		return nil, l.fetchWithRetry(l.ctx, attempts)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *HTTPLoader) fetchWithRetry(ctx context.Context, attempts int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.lastAttempt.Store(l.now().UnixNano())

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if serr := l.sleep(ctx, l.delay(attempt-1)); serr != nil {
				err = serr
				break
			}
		}
		if err = l.fetchOnce(ctx); err == nil {
			l.setStatus(StatusOK)
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		l.logger.Warn("jwks fetch failed", "issuer", l.issuer, "attempt", attempt+1, "of", attempts, "err", err)
	}

	// Shutdown is not a load failure.
	if ctx.Err() != nil {
		return err
	}
	l.count(security.JWKSFetchFailed)
	l.setStatus(StatusError)
	if l.set.Load() == nil {
		l.restoreFromStore(ctx)
	}
	return err
}

func (l *HTTPLoader) fetchOnce(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, l.cfg.ConnectTimeout+l.cfg.ReadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, l.cfg.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	prev := l.set.Load()
	if prev != nil && prev.etag != "" {
		req.Header.Set("If-None-Match", prev.etag)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && prev != nil {
		next := *prev
		next.fetchedAt = l.now()
		l.set.Store(&next)
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize+1))
	if err != nil {
		return fmt.Errorf("read jwks response: %w", err)
	}
	set, skipped, err := parseKeySet(body)
	if err != nil {
		l.count(security.JWKSParseFailed)
		return err
	}
	for _, reason := range skipped {
		l.logger.Warn("jwks key skipped", "issuer", l.issuer, "reason", reason)
	}
	set.etag = resp.Header.Get("ETag")
	set.fetchedAt = l.now()
	l.install(set)

	if l.cfg.Store != nil {
		if err := l.cfg.Store.Save(ctx, l.issuer, body); err != nil {
			l.logger.Warn("jwks store save failed", "issuer", l.issuer, "err", err)
		}
	}
	return nil
}

func (l *HTTPLoader) install(set *keySet) {
	prev := l.set.Swap(set)
	if prev != nil && !prev.sameKeyIDs(set) {
		l.count(security.KeyRotationDetected)
		l.logger.Info("jwks key rotation detected", "issuer", l.issuer, "keys", len(set.keys))
	}
}

func (l *HTTPLoader) restoreFromStore(ctx context.Context) {
	if l.cfg.Store == nil {
		return
	}
	doc, err := l.cfg.Store.Load(ctx, l.issuer)
	if err != nil {
		if !errors.Is(err, ErrNotStored) {
			l.logger.Warn("jwks store load failed", "issuer", l.issuer, "err", err)
		}
		return
	}
	set, _, err := parseKeySet(doc)
	if err != nil {
		l.logger.Warn("stored jwks document is invalid", "issuer", l.issuer, "err", err)
		return
	}
	// Only install if a concurrent fetch has not populated the cache meanwhile.
	if l.set.CompareAndSwap(nil, set) {
		l.logger.Info("jwks restored from store", "issuer", l.issuer, "keys", len(set.keys))
	}
}

func (l *HTTPLoader) delay(attempt int) time.Duration {
	l.rngMu.Lock()
	defer l.rngMu.Unlock()
	return backoff.Compute(l.cfg.BackoffPolicy, l.cfg.BackoffBase, l.cfg.BackoffMax, attempt, l.rng)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
