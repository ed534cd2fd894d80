package provider

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SelectorConfig configures circuit breaking for the selector.
type SelectorConfig struct {
	// Threshold is the number of consecutive failures before the circuit opens.
	Threshold int

	// Cooldown is how long an open circuit rejects a candidate before a
	// probe request is allowed through.
	Cooldown time.Duration

	// Logger receives health transitions. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultSelectorConfig returns sensible circuit defaults.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		Threshold: 3,
		Cooldown:  30 * time.Second,
	}
}

// Candidate is one configured backend with its per-provider defaults.
type Candidate struct {
	Name        string
	Provider    Provider
	Model       string
	Temperature float32
	MaxTokens   int
	Streaming   bool
}

// Health is a read-only snapshot of one candidate's circuit state.
type Health struct {
	Name          string
	Failures      int
	LastFailure   time.Time
	LastSuccess   time.Time
	CircuitOpen   bool
	CircuitOpenAt time.Time
}

type candidateState struct {
	failures      int
	lastFailure   time.Time
	lastSuccess   time.Time
	circuitOpen   bool
	circuitOpenAt time.Time
}

// available reports whether the candidate can accept requests. An open
// circuit past its cooldown admits the next request as a half-open probe.
func (s *candidateState) available(cooldown time.Duration) bool {
	if !s.circuitOpen {
		return true
	}
	return time.Since(s.circuitOpenAt) > cooldown
}

// Selector routes each model step to the first healthy candidate in
// configuration order, tracking per-candidate consecutive failures with a
// circuit breaker.
//
// Selection never blocks and never itself performs a request; callers report
// outcomes back via ReportSuccess and ReportFailure.
type Selector struct {
	mu         sync.Mutex
	candidates []Candidate
	states     map[string]*candidateState
	cfg        SelectorConfig
	logger     *slog.Logger
}

// NewSelector creates a selector over an ordered candidate list.
func NewSelector(candidates []Candidate, cfg SelectorConfig) (*Selector, error) {
	if len(candidates) == 0 {
		return nil, ErrNoProviders
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultSelectorConfig().Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultSelectorConfig().Cooldown
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	states := make(map[string]*candidateState, len(candidates))
	for _, c := range candidates {
		if _, dup := states[c.Name]; dup {
			return nil, fmt.Errorf("duplicate provider candidate %q", c.Name)
		}
		states[c.Name] = &candidateState{}
	}

	return &Selector{
		candidates: candidates,
		states:     states,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Select returns the candidate to use for the next model call.
//
// A non-empty forced name bypasses ordering and circuit state but still
// shares the health table, so a misbehaving forced provider keeps
// accumulating failures. With no forced name the first candidate whose
// circuit is closed (or past cooldown, admitting a probe) wins. When every
// circuit is open and inside its cooldown, the least-recently-failed
// candidate is returned rather than an error.
func (s *Selector) Select(forced string) (Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if forced != "" {
		for _, c := range s.candidates {
			if c.Name == forced {
				return c, nil
			}
		}
		return Candidate{}, fmt.Errorf("%w: %q", ErrUnknownProvider, forced)
	}

	for _, c := range s.candidates {
		if s.states[c.Name].available(s.cfg.Cooldown) {
			return c, nil
		}
	}

	// Every circuit is open. Degrade to the candidate that failed longest
	// ago instead of refusing the turn outright.
	best := s.candidates[0]
	bestFailure := s.states[best.Name].lastFailure
	for _, c := range s.candidates[1:] {
		if lf := s.states[c.Name].lastFailure; lf.Before(bestFailure) {
			best, bestFailure = c, lf
		}
	}
	s.logger.Warn("all provider circuits open, using least recently failed",
		"provider", best.Name)
	return best, nil
}

// Next returns the first available candidate other than the named one.
// It backs the single in-turn retry after a model-step failure.
func (s *Selector) Next(failed string) (Candidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.candidates {
		if c.Name == failed {
			continue
		}
		if s.states[c.Name].available(s.cfg.Cooldown) {
			return c, true
		}
	}
	return Candidate{}, false
}

// ReportSuccess resets the candidate's failure count and closes its circuit.
func (s *Selector) ReportSuccess(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[name]
	if !ok {
		return
	}
	if state.circuitOpen {
		s.logger.Info("provider circuit closed", "provider", name)
	}
	state.failures = 0
	state.circuitOpen = false
	state.lastSuccess = time.Now()
}

// ReportFailure records a failed request and returns its classification.
//
// Malformed-response failures are logged but never advance the circuit.
// A failure during a half-open probe reopens the circuit and restarts the
// cooldown window.
func (s *Selector) ReportFailure(name string, err error) FailureClass {
	class := Classify(err)

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[name]
	if !ok {
		return class
	}

	if !class.CountsTowardCircuit() {
		s.logger.Warn("provider returned malformed response",
			"provider", name, "error", err)
		return class
	}

	state.failures++
	state.lastFailure = time.Now()

	if state.circuitOpen {
		// Probe failed. Restart the cooldown window.
		state.circuitOpenAt = time.Now()
		s.logger.Warn("provider probe failed, circuit stays open",
			"provider", name, "class", string(class))
		return class
	}

	if state.failures >= s.cfg.Threshold {
		state.circuitOpen = true
		state.circuitOpenAt = time.Now()
		s.logger.Warn("provider circuit opened",
			"provider", name,
			"failures", state.failures,
			"class", string(class))
	}
	return class
}

// HealthSnapshot returns the circuit state of every candidate in
// configuration order.
func (s *Selector) HealthSnapshot() []Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Health, 0, len(s.candidates))
	for _, c := range s.candidates {
		st := s.states[c.Name]
		out = append(out, Health{
			Name:          c.Name,
			Failures:      st.failures,
			LastFailure:   st.lastFailure,
			LastSuccess:   st.lastSuccess,
			CircuitOpen:   st.circuitOpen,
			CircuitOpenAt: st.circuitOpenAt,
		})
	}
	return out
}
