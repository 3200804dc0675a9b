package jwks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/osvaldoandrade/jwtguard/pkg/security"
)

// MemoryLoader serves a static key set.
type MemoryLoader struct {
	base
	set *keySet
}

var _ Loader = (*MemoryLoader)(nil)

// NewMemoryLoader parses an inline JWKS document.
func NewMemoryLoader(issuer string, document []byte, logger *slog.Logger) (*MemoryLoader, error) {
	set, skipped, err := parseKeySet(document)
	if err != nil {
		return nil, fmt.Errorf("memory jwks for %s: %w", issuer, err)
	}
	l := &MemoryLoader{set: set}
	l.initBase(issuer, logger)
	for _, reason := range skipped {
		l.logger.Warn("jwks key skipped", "issuer", issuer, "reason", reason)
	}
	l.setStatus(StatusOK)
	return l, nil
}

// NewMemoryLoaderFromKeys serves the given keys as-is.
func NewMemoryLoaderFromKeys(issuer string, keys ...*KeyInfo) *MemoryLoader {
	m := make(map[string]*KeyInfo, len(keys))
	for _, k := range keys {
		m[k.KeyID] = k
	}
	l := &MemoryLoader{set: &keySet{keys: m}}
	l.initBase(issuer, nil)
	l.setStatus(StatusOK)
	return l
}

func (l *MemoryLoader) KeyInfo(_ context.Context, kid string) (*KeyInfo, bool) {
	return l.set.get(kid)
}

func (l *MemoryLoader) Keys(context.Context) []*KeyInfo { return l.set.list() }

func (l *MemoryLoader) IsHealthy(context.Context) Status { return l.CurrentStatus() }

func (l *MemoryLoader) Type() Type { return TypeMemory }

func (l *MemoryLoader) Init(counter *security.Counter) { l.setCounter(counter) }

func (l *MemoryLoader) Close() error { return nil }

// NoopLoader never resolves a key. It stands in for issuers whose key source
// could not be configured so that validation fails closed.
type NoopLoader struct {
	base
}

var _ Loader = (*NoopLoader)(nil)

func NewNoopLoader(issuer string) *NoopLoader {
	l := &NoopLoader{}
	l.initBase(issuer, nil)
	l.setStatus(StatusError)
	return l
}

func (l *NoopLoader) KeyInfo(context.Context, string) (*KeyInfo, bool) { return nil, false }

func (l *NoopLoader) Keys(context.Context) []*KeyInfo { return nil }

func (l *NoopLoader) IsHealthy(context.Context) Status { return StatusError }

func (l *NoopLoader) Type() Type { return TypeNone }

func (l *NoopLoader) Init(counter *security.Counter) { l.setCounter(counter) }

func (l *NoopLoader) Close() error { return nil }
