package validator

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/osvaldoandrade/jwtguard/pkg/security"
	"github.com/osvaldoandrade/jwtguard/pkg/token"
)

// resolvedSet is a published snapshot. It is never modified after Store.
type resolvedSet struct {
	configs map[string]*IssuerConfig
	// frozen is set once every config has moved out of pending; lookups on a
	// frozen set never take the lock.
	frozen bool
}

// IssuerConfigResolver maps issuer identifiers to their configuration.
// Configs start in a pending region and move into the published snapshot on
// first use, which is also when their loader is initialised.
type IssuerConfigResolver struct {
	counter *security.Counter
	logger  *slog.Logger
	all     []*IssuerConfig

	mu       sync.Mutex
	pending  map[string]*IssuerConfig
	resolved atomic.Pointer[resolvedSet]
}

// NewIssuerConfigResolver rejects nil, duplicate and empty issuers. Disabled
// configs are dropped; at least one enabled config must remain.
func NewIssuerConfigResolver(configs []*IssuerConfig, counter *security.Counter, logger *slog.Logger) (*IssuerConfigResolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &IssuerConfigResolver{
		counter: counter,
		logger:  logger,
		pending: make(map[string]*IssuerConfig, len(configs)),
	}
	seen := make(map[string]bool, len(configs))
	for i, c := range configs {
		if c == nil {
			return nil, fmt.Errorf("issuer config %d is nil", i)
		}
		if c.Issuer() == "" {
			return nil, fmt.Errorf("issuer config %d has no issuer identifier", i)
		}
		if seen[c.Issuer()] {
			return nil, fmt.Errorf("duplicate issuer config for %s", c.Issuer())
		}
		seen[c.Issuer()] = true
		if !c.Enabled() {
			logger.Info("issuer config disabled", "issuer", c.Issuer())
			continue
		}
		r.pending[c.Issuer()] = c
		r.all = append(r.all, c)
	}
	if len(r.pending) == 0 {
		return nil, errors.New("no enabled issuer configurations")
	}
	sort.Slice(r.all, func(i, j int) bool { return r.all[i].Issuer() < r.all[j].Issuer() })
	r.resolved.Store(&resolvedSet{configs: map[string]*IssuerConfig{}})
	return r, nil
}

// Resolve returns the config for issuer. An unknown issuer yields a
// NoIssuerConfig validation error and is not remembered.
func (r *IssuerConfigResolver) Resolve(issuer string) (*IssuerConfig, error) {
	snap := r.resolved.Load()
	if c, ok := snap.configs[issuer]; ok {
		return c, nil
	}
	if snap.frozen {
		return nil, noIssuerConfig()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have published the config while we waited.
	snap = r.resolved.Load()
	if c, ok := snap.configs[issuer]; ok {
		return c, nil
	}
	c, ok := r.pending[issuer]
	if !ok {
		return nil, noIssuerConfig()
	}

	c.Loader().Init(r.counter)

	next := make(map[string]*IssuerConfig, len(snap.configs)+1)
	for k, v := range snap.configs {
		next[k] = v
	}
	next[issuer] = c
	delete(r.pending, issuer)
	frozen := len(r.pending) == 0
	r.resolved.Store(&resolvedSet{configs: next, frozen: frozen})

	r.logger.Debug("issuer config resolved", "issuer", issuer, "jwks", c.Loader().Type().String(), "frozen", frozen)
	return c, nil
}

// IsFrozen reports whether every config has been resolved at least once.
func (r *IssuerConfigResolver) IsFrozen() bool {
	return r.resolved.Load().frozen
}

// Configs returns every enabled config sorted by issuer, resolved or not.
func (r *IssuerConfigResolver) Configs() []*IssuerConfig {
	return append([]*IssuerConfig(nil), r.all...)
}

// Close releases every loader, including ones never resolved.
func (r *IssuerConfigResolver) Close() error {
	var errs []error
	for _, c := range r.all {
		if err := c.Loader().Close(); err != nil {
			errs = append(errs, fmt.Errorf("close loader for %s: %w", c.Issuer(), err))
		}
	}
	return errors.Join(errs...)
}

func noIssuerConfig() error {
	return token.NewValidationError(security.NoIssuerConfig, "no configuration for token issuer")
}
