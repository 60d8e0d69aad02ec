// Package drift implements the drift-control loop: it turns a drift signal
// into an operating zone, the index discipline that zone wants, and the
// escalation the caller must act on (a bounded automatic cascade, or a
// request for human confirmation).
//
// A [Controller] owns the process-wide drift state. Classification and
// feedback are serialized by the controller's mutex so that reading and
// incrementing the recovery-attempt counter is atomic per request.
package drift

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/nadzzz/obivox/internal/atlas"
	"github.com/nadzzz/obivox/internal/nlm"
)

var (
	// ErrInterventionRequired is returned by Classify when recovery attempts
	// are exhausted in the AiStress zone. The accompanying Decision is still
	// populated.
	ErrInterventionRequired = errors.New("drift: intervention required")

	// ErrInvalidInput is returned for a drift value outside [0,1].
	ErrInvalidInput = errors.New("drift: invalid input")
)

const (
	// DefaultCoherenceThreshold is the coherence target outside AiStress.
	DefaultCoherenceThreshold = nlm.DefaultCoherenceThreshold

	// StressedCoherenceThreshold is the lowered target while in AiStress.
	StressedCoherenceThreshold = 0.85

	// MaxRecoveryAttempts bounds automatic cascades between feedback.
	MaxRecoveryAttempts = 3

	// magnitudeScale maps drift in [0,1] onto [-12,+12].
	magnitudeScale = 24
	zoneBound      = 3.0
)

// Zone classifies the current operating drift.
type Zone int

const (
	Green Zone = iota
	AiStress
	HumanStress
)

func (z Zone) String() string {
	switch z {
	case Green:
		return "green"
	case AiStress:
		return "ai-stress"
	case HumanStress:
		return "human-stress"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (z Zone) MarshalText() ([]byte, error) { return []byte(z.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (z *Zone) UnmarshalText(b []byte) error {
	switch string(b) {
	case "green":
		*z = Green
	case "ai-stress":
		*z = AiStress
	case "human-stress":
		*z = HumanStress
	default:
		return fmt.Errorf("unknown zone %q", b)
	}
	return nil
}

// SelectDiscipline returns the index discipline a zone calls for.
func SelectDiscipline(z Zone) atlas.Discipline {
	switch z {
	case AiStress:
		return atlas.RedBlack
	case HumanStress:
		return atlas.AVL
	default:
		return atlas.Hybrid
	}
}

// Magnitude maps a drift value in [0,1] onto the symmetric failure scale.
func Magnitude(drift float64) float64 {
	return drift*magnitudeScale - magnitudeScale/2
}

// ClassifyMagnitude returns the zone for a failure magnitude.
func ClassifyMagnitude(m float64) Zone {
	switch {
	case m < -zoneBound:
		return AiStress
	case m > zoneBound:
		return HumanStress
	default:
		return Green
	}
}

// State is a snapshot of the controller's drift state.
type State struct {
	Magnitude             float64      `json:"magnitude"`
	CoherenceThreshold    float64      `json:"coherence_threshold"`
	Zone                  Zone         `json:"zone"`
	RecoveryAttempts      int          `json:"recovery_attempts"`
	FaultToleranceEnabled bool         `json:"fault_tolerance_enabled"`
	Position              nlm.Position `json:"position"`
}

// ConfirmationRequest asks a human to confirm an interpretation before it is
// acted on.
type ConfirmationRequest struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	Reason              string  `json:"reason"`
}

// Decision is the outcome of one classification.
type Decision struct {
	Zone               Zone             `json:"zone"`
	FailureMagnitude   float64          `json:"failure_magnitude"`
	Discipline         atlas.Discipline `json:"discipline"`
	CoherenceThreshold float64          `json:"coherence_threshold"`
	RecoveryAttempts   int              `json:"recovery_attempts"`

	// ShouldCascade asks the caller to run its self-healing path.
	ShouldCascade bool `json:"should_cascade"`

	// NeedsIntervention is set alongside ErrInterventionRequired.
	NeedsIntervention bool `json:"needs_intervention"`

	Confirmation *ConfirmationRequest `json:"confirmation,omitempty"`
}

// Config tunes a [Controller].
type Config struct {
	// CoherenceThreshold is the Green/HumanStress target. Default: 0.954.
	CoherenceThreshold float64

	// StressedThreshold is the AiStress target. Default: 0.85.
	StressedThreshold float64

	// MaxRecoveryAttempts caps cascades between feedback. Default: 3.
	MaxRecoveryAttempts int

	// ShortfallGain stretches the normalized confidence shortfall around
	// the Green midpoint in DriftInput. Default: 1.
	ShortfallGain float64

	// DisableFaultTolerance suppresses cascades entirely. Classification and
	// the attempt cap still apply.
	DisableFaultTolerance bool
}

func (c Config) withDefaults() Config {
	if c.CoherenceThreshold <= 0 {
		c.CoherenceThreshold = DefaultCoherenceThreshold
	}
	if c.StressedThreshold <= 0 {
		c.StressedThreshold = StressedCoherenceThreshold
	}
	if c.MaxRecoveryAttempts <= 0 {
		c.MaxRecoveryAttempts = MaxRecoveryAttempts
	}
	if c.ShortfallGain <= 0 {
		c.ShortfallGain = 1
	}
	return c
}

// Controller owns the drift state. Create one per process (or per test) and
// share it by pointer.
type Controller struct {
	cfg Config

	mu sync.Mutex
	st State
}

// NewController returns a controller in the Green zone at the neutral
// position.
func NewController(cfg Config) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		cfg: cfg,
		st: State{
			CoherenceThreshold:    cfg.CoherenceThreshold,
			Zone:                  Green,
			FaultToleranceEnabled: !cfg.DisableFaultTolerance,
			Position:              nlm.Neutral(),
		},
	}
}

// DriftInput derives a drift value from a mapped confidence. The shortfall
// against the current coherence threshold is normalized by the widest
// shortfall the mapper produces (nlm.MaxShortfall of the threshold): no
// shortfall reads as 0 (AiStress), the full span as 1 (HumanStress) and the
// midpoint as 0.5 (Green). ShortfallGain stretches the reading around the
// midpoint.
func (c *Controller) DriftInput(confidence float64) float64 {
	threshold := c.CoherenceThreshold()
	s := (threshold - confidence) / (threshold * nlm.MaxShortfall)
	return clamp01(0.5 + c.cfg.ShortfallGain*(s-0.5))
}

// Drift returns the drift value behind the current magnitude. It reads 0.5
// at start and after feedback, and is what requests without an acoustic
// signal carry forward.
func (c *Controller) Drift() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clamp01((c.st.Magnitude + magnitudeScale/2) / magnitudeScale)
}

// Classify records pos as the current position, classifies drift and
// updates the state. Once the recovery attempts are exhausted in AiStress it
// returns ErrInterventionRequired with the decision instead of cascading
// again.
func (c *Controller) Classify(pos nlm.Position, drift float64) (Decision, error) {
	if math.IsNaN(drift) || drift < 0 || drift > 1 {
		return Decision{}, fmt.Errorf("classify: drift %v outside [0,1]: %w", drift, ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	m := Magnitude(drift)
	zone := ClassifyMagnitude(m)
	prev := c.st.Zone

	c.st.Magnitude = m
	c.st.Zone = zone
	c.st.Position = pos.Clamped()

	d := Decision{
		Zone:             zone,
		FailureMagnitude: m,
		Discipline:       SelectDiscipline(zone),
	}

	var err error
	switch zone {
	case AiStress:
		c.st.CoherenceThreshold = c.cfg.StressedThreshold
		if c.st.RecoveryAttempts >= c.cfg.MaxRecoveryAttempts {
			d.NeedsIntervention = true
			err = fmt.Errorf("%d recovery attempts exhausted: %w", c.st.RecoveryAttempts, ErrInterventionRequired)
			slog.Warn("drift intervention required",
				"magnitude", m,
				"recovery_attempts", c.st.RecoveryAttempts)
			break
		}
		d.ShouldCascade = c.st.FaultToleranceEnabled
		c.st.RecoveryAttempts++
		if d.ShouldCascade {
			slog.Warn("drift cascade",
				"magnitude", m,
				"recovery_attempts", c.st.RecoveryAttempts)
		}
	case HumanStress:
		d.Confirmation = &ConfirmationRequest{
			ConfidenceThreshold: c.cfg.CoherenceThreshold,
			Reason:              "human-stress drift",
		}
	default:
		c.st.CoherenceThreshold = c.cfg.CoherenceThreshold
	}

	d.CoherenceThreshold = c.st.CoherenceThreshold
	d.RecoveryAttempts = c.st.RecoveryAttempts

	if zone != prev {
		slog.Info("drift zone changed",
			"from", prev.String(),
			"zone", zone.String(),
			"magnitude", m,
			"discipline", d.Discipline.String())
	}
	return d, err
}

// IncorporateFeedback applies a human correction: the stored position moves
// towards formality and evolution, and magnitude and recovery attempts reset
// to zero regardless of zone.
func (c *Controller) IncorporateFeedback(accepted bool) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.st.Position = c.st.Position.Nudge(0, 0.1, 0.05)
	c.st.Magnitude = 0
	c.st.RecoveryAttempts = 0

	slog.Info("drift feedback incorporated",
		"accepted", accepted,
		"zone", c.st.Zone.String())
	return c.st
}

// SetFaultTolerance enables or disables cascades.
func (c *Controller) SetFaultTolerance(enabled bool) {
	c.mu.Lock()
	c.st.FaultToleranceEnabled = enabled
	c.mu.Unlock()
}

// State returns a snapshot of the drift state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

// Position returns the last stored position.
func (c *Controller) Position() nlm.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.Position
}

// CoherenceThreshold returns the current coherence target.
func (c *Controller) CoherenceThreshold() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.CoherenceThreshold
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
