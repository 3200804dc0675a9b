package jwks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/osvaldoandrade/jwtguard/pkg/security"
)

// FileLoader reads a JWKS document from disk. The file is read on Init and
// again on every IsHealthy call; a failed re-read keeps the previous keys.
// While no read has succeeded, lookups retry at most once per MinRefreshGap.
type FileLoader struct {
	base
	path   string
	minGap time.Duration
	now    func() time.Time

	set         atomic.Pointer[keySet]
	lastAttempt atomic.Int64
	mu          sync.Mutex
}

var _ Loader = (*FileLoader)(nil)

func NewFileLoader(issuer, path string, logger *slog.Logger) (*FileLoader, error) {
	if path == "" {
		return nil, fmt.Errorf("file jwks for %s: path is required", issuer)
	}
	l := &FileLoader{path: path, minGap: DefaultMinRefreshGap, now: time.Now}
	l.initBase(issuer, logger)
	return l, nil
}

func (l *FileLoader) KeyInfo(_ context.Context, kid string) (*KeyInfo, bool) {
	return l.current().get(kid)
}

func (l *FileLoader) Keys(context.Context) []*KeyInfo {
	return l.current().list()
}

func (l *FileLoader) IsHealthy(context.Context) Status {
	l.load()
	return l.CurrentStatus()
}

func (l *FileLoader) Type() Type { return TypeFile }

func (l *FileLoader) Init(counter *security.Counter) {
	l.setCounter(counter)
	l.loadIfMissing()
}

func (l *FileLoader) Close() error { return nil }

func (l *FileLoader) current() *keySet {
	if s := l.set.Load(); s != nil {
		return s
	}
	if !l.retryDue() {
		return nil
	}
	l.loadIfMissing()
	return l.set.Load()
}

func (l *FileLoader) retryDue() bool {
	last := l.lastAttempt.Load()
	return last == 0 || l.now().Sub(time.Unix(0, last)) >= l.minGap
}

func (l *FileLoader) loadIfMissing() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set.Load() == nil && l.retryDue() {
		l.loadLocked()
	}
}

func (l *FileLoader) load() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadLocked()
}

func (l *FileLoader) loadLocked() {
	l.lastAttempt.Store(l.now().UnixNano())

	data, err := readLimited(l.path)
	if err != nil {
		l.count(security.JWKSFileReadFailed)
		l.setStatus(StatusError)
		l.logger.Warn("jwks file read failed", "issuer", l.issuer, "path", l.path, "err", err)
		return
	}
	set, skipped, err := parseKeySet(data)
	if err != nil {
		l.count(security.JWKSParseFailed)
		l.setStatus(StatusError)
		l.logger.Warn("jwks file parse failed", "issuer", l.issuer, "path", l.path, "err", err)
		return
	}
	for _, reason := range skipped {
		l.logger.Warn("jwks key skipped", "issuer", l.issuer, "reason", reason)
	}
	if prev := l.set.Load(); prev != nil && !prev.sameKeyIDs(set) {
		l.count(security.KeyRotationDetected)
	}
	l.set.Store(set)
	l.setStatus(StatusOK)
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxDocumentSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxDocumentSize {
		return nil, fmt.Errorf("file exceeds %d bytes", MaxDocumentSize)
	}
	return data, nil
}
