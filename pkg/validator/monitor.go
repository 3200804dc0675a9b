package validator

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MeasurementType names a timed pipeline stage.
type MeasurementType int

const (
	TokenParsing MeasurementType = iota
	IssuerExtraction
	IssuerConfigResolution
	HeaderValidation
	SignatureValidation
	ClaimsValidation
	TokenBuilding
	CompleteValidation
	JWKSOperations
	measurementTypeCount
)

var measurementNames = [measurementTypeCount]string{
	TokenParsing:           "token_parsing",
	IssuerExtraction:       "issuer_extraction",
	IssuerConfigResolution: "issuer_config_resolution",
	HeaderValidation:       "header_validation",
	SignatureValidation:    "signature_validation",
	ClaimsValidation:       "claims_validation",
	TokenBuilding:          "token_building",
	CompleteValidation:     "complete_validation",
	JWKSOperations:         "jwks_operations",
}

func (m MeasurementType) String() string {
	if m < 0 || m >= measurementTypeCount {
		return "unknown"
	}
	return measurementNames[m]
}

// ParseMeasurementType accepts the snake_case names returned by String.
func ParseMeasurementType(s string) (MeasurementType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range measurementNames {
		if name == s {
			return MeasurementType(m), true
		}
	}
	return 0, false
}

// MeasurementTypes lists every measurement type in declaration order.
func MeasurementTypes() []MeasurementType {
	out := make([]MeasurementType, 0, measurementTypeCount)
	for m := MeasurementType(0); m < measurementTypeCount; m++ {
		out = append(out, m)
	}
	return out
}

const (
	DefaultWindowSize = 100
	DefaultStripes    = 8
)

// MonitorConfig sizes the sample windows. Enabled nil means every type.
type MonitorConfig struct {
	WindowSize int
	Stripes    int
	Enabled    []MeasurementType
}

// Stats summarises the samples currently in the window of one type. Count
// is the lifetime number of recordings; Samples is the window size used for
// the percentiles.
type Stats struct {
	Type    MeasurementType
	Count   int64
	Samples int
	Average time.Duration
	P50     time.Duration
	P95     time.Duration
	P99     time.Duration
}

// Monitor keeps a bounded window of stage durations per measurement type.
// Each type is split into stripes picked round-robin so that concurrent
// recorders rarely contend on the same mutex. A nil Monitor records nothing.
type Monitor struct {
	recorders [measurementTypeCount]*recorder
}

type recorder struct {
	next    atomic.Uint64
	count   atomic.Int64
	stripes []stripe
}

type stripe struct {
	mu      sync.Mutex
	samples []time.Duration
	pos     int
	filled  bool
}

func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.Stripes <= 0 {
		cfg.Stripes = DefaultStripes
	}
	enabled := cfg.Enabled
	if enabled == nil {
		enabled = MeasurementTypes()
	}

	m := &Monitor{}
	for _, t := range enabled {
		if t < 0 || t >= measurementTypeCount || m.recorders[t] != nil {
			continue
		}
		r := &recorder{stripes: make([]stripe, cfg.Stripes)}
		for i := range r.stripes {
			r.stripes[i].samples = make([]time.Duration, cfg.WindowSize)
		}
		m.recorders[t] = r
	}
	return m
}

// IsEnabled reports whether t is being recorded.
func (m *Monitor) IsEnabled(t MeasurementType) bool {
	return m.recorder(t) != nil
}

func (m *Monitor) Record(t MeasurementType, d time.Duration) {
	r := m.recorder(t)
	if r == nil {
		return
	}
	r.count.Add(1)
	s := &r.stripes[r.next.Add(1)%uint64(len(r.stripes))]
	s.mu.Lock()
	s.samples[s.pos] = d
	s.pos++
	if s.pos == len(s.samples) {
		s.pos = 0
		s.filled = true
	}
	s.mu.Unlock()
}

func (m *Monitor) Stats(t MeasurementType) Stats {
	st := Stats{Type: t}
	r := m.recorder(t)
	if r == nil {
		return st
	}
	st.Count = r.count.Load()

	var window []time.Duration
	for i := range r.stripes {
		s := &r.stripes[i]
		s.mu.Lock()
		if s.filled {
			window = append(window, s.samples...)
		} else {
			window = append(window, s.samples[:s.pos]...)
		}
		s.mu.Unlock()
	}
	if len(window) == 0 {
		return st
	}

	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	var total time.Duration
	for _, d := range window {
		total += d
	}
	st.Samples = len(window)
	st.Average = total / time.Duration(len(window))
	st.P50 = percentile(window, 50)
	st.P95 = percentile(window, 95)
	st.P99 = percentile(window, 99)
	return st
}

// AllStats returns stats for every enabled type.
func (m *Monitor) AllStats() []Stats {
	var out []Stats
	for _, t := range MeasurementTypes() {
		if m.IsEnabled(t) {
			out = append(out, m.Stats(t))
		}
	}
	return out
}

// Reset drops all samples and counts.
func (m *Monitor) Reset() {
	if m == nil {
		return
	}
	for _, r := range m.recorders {
		if r == nil {
			continue
		}
		r.count.Store(0)
		for i := range r.stripes {
			s := &r.stripes[i]
			s.mu.Lock()
			s.pos = 0
			s.filled = false
			s.mu.Unlock()
		}
	}
}

func (m *Monitor) recorder(t MeasurementType) *recorder {
	if m == nil || t < 0 || t >= measurementTypeCount {
		return nil
	}
	return m.recorders[t]
}

// percentile uses the nearest-rank method on a sorted slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
