package jwks

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/osvaldoandrade/jwtguard/pkg/security"
)

// Status reflects the outcome of the last completed load attempt.
type Status int32

const (
	// StatusUndefined means no load has been attempted yet.
	StatusUndefined Status = iota
	StatusOK
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	default:
		return "UNDEFINED"
	}
}

// Type names the key source a loader reads from.
type Type int

const (
	TypeNone Type = iota
	TypeMemory
	TypeFile
	TypeHTTP
)

func (t Type) String() string {
	switch t {
	case TypeMemory:
		return "memory"
	case TypeFile:
		return "file"
	case TypeHTTP:
		return "http"
	default:
		return "none"
	}
}

// ParseType maps a configuration string to a Type.
func ParseType(s string) (Type, bool) {
	switch s {
	case "memory", "inline":
		return TypeMemory, true
	case "file":
		return TypeFile, true
	case "http", "https", "url":
		return TypeHTTP, true
	case "none", "":
		return TypeNone, true
	default:
		return TypeNone, false
	}
}

// Loader resolves key ids to verification keys for one issuer.
type Loader interface {
	// KeyInfo returns the key for kid. kid is an opaque lookup token.
	KeyInfo(ctx context.Context, kid string) (*KeyInfo, bool)
	// Keys returns every currently known key, sorted by key id.
	Keys(ctx context.Context) []*KeyInfo
	// CurrentStatus never blocks and reflects the last completed load only.
	CurrentStatus() Status
	// IsHealthy may block to force a load when none has completed.
	IsHealthy(ctx context.Context) Status
	IssuerIdentifier() string
	Type() Type
	// Init is called once when the owning issuer config is first resolved.
	Init(counter *security.Counter)
	Close() error
}

// base carries the fields every loader shares.
type base struct {
	issuer  string
	logger  *slog.Logger
	status  atomic.Int32
	counter atomic.Pointer[security.Counter]
}

func (b *base) initBase(issuer string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	b.issuer = issuer
	b.logger = logger
}

func (b *base) IssuerIdentifier() string { return b.issuer }

func (b *base) CurrentStatus() Status {
	return Status(b.status.Load())
}

func (b *base) setStatus(s Status) {
	b.status.Store(int32(s))
}

func (b *base) setCounter(c *security.Counter) {
	if c != nil {
		b.counter.Store(c)
	}
}

func (b *base) count(e security.EventType) {
	b.counter.Load().Increment(e)
}
