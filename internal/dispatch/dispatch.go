// Package dispatch implements the obivox routing engine.
//
// The dispatcher receives messages from transports, runs them through the
// drift-aware selection pipeline, invokes the codec backend named by the
// selected atlas entry and returns the result to the sender. When the drift
// controller asks for a cascade the entry's fallback backends are tried in
// order behind per-backend circuit breakers; otherwise only the primary is
// invoked.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nadzzz/obivox/internal/atlas"
	"github.com/nadzzz/obivox/internal/codec"
	"github.com/nadzzz/obivox/internal/drift"
	"github.com/nadzzz/obivox/internal/feedback"
	"github.com/nadzzz/obivox/internal/media"
	"github.com/nadzzz/obivox/internal/message"
	"github.com/nadzzz/obivox/internal/nlm"
	"github.com/nadzzz/obivox/internal/observe"
	"github.com/nadzzz/obivox/internal/resilience"
	"github.com/nadzzz/obivox/internal/variation"
)

// ErrInvalidMessage is returned for messages the pipeline cannot process.
var ErrInvalidMessage = errors.New("dispatch: invalid message")

// Defaults for Options.
const (
	DefaultNormalizeAbove = 0.5
	DefaultPreservation   = 0.7
	DefaultConfirmBelow   = 0.85
	DefaultCostSmoothing  = 0.3
)

// Confirmation reasons.
const (
	ReasonZone         = "zone"
	ReasonConfidence   = "confidence"
	ReasonIntervention = "intervention"
)

// Options tunes a Dispatcher. Zero values take defaults.
type Options struct {
	STTKey atlas.Key // default stt/transcribe
	TTSKey atlas.Key // default tts/synthesize

	NormalizeAbove float64

	// PreservationFactor is the share of the original signal kept by
	// normalization. Nil means DefaultPreservation; 0 is full correction.
	PreservationFactor *float64

	// ConfirmBelow requests confirmation when the backend confidence is
	// lower, whatever the zone.
	ConfirmBelow float64

	// CostSmoothing is the EWMA weight of the newest latency in
	// dynamic_cost.
	CostSmoothing float64

	// CodecTimeout bounds each backend call. Zero means no extra bound.
	CodecTimeout time.Duration

	// DefaultProfile is used for audio messages that carry no profile.
	// Nil means variation.DefaultProfile.
	DefaultProfile *variation.Profile
}

func (o Options) withDefaults() Options {
	if o.STTKey == (atlas.Key{}) {
		o.STTKey = atlas.Key{Service: "stt", Operation: "transcribe"}
	}
	if o.TTSKey == (atlas.Key{}) {
		o.TTSKey = atlas.Key{Service: "tts", Operation: "synthesize"}
	}
	if o.ConfirmBelow <= 0 {
		o.ConfirmBelow = DefaultConfirmBelow
	}
	if o.CostSmoothing <= 0 || o.CostSmoothing > 1 {
		o.CostSmoothing = DefaultCostSmoothing
	}
	if o.DefaultProfile == nil {
		p := variation.DefaultProfile()
		o.DefaultProfile = &p
	}
	return o
}

// Deps are the shared collaborators of a Dispatcher. Index, Control and
// Codecs are required; Media and Feedback may be nil (only WAV input is
// accepted, and confirmation requests are not persisted, respectively).
type Deps struct {
	Index    *atlas.Index
	Control  *drift.Controller
	Codecs   *codec.Registry
	Breakers *resilience.Set
	Media    media.Converter
	Feedback *feedback.Store
	Metrics  *observe.Metrics
}

// Dispatcher is the central routing engine.
type Dispatcher struct {
	orch     *Orchestrator
	index    *atlas.Index
	control  *drift.Controller
	codecs   *codec.Registry
	breakers *resilience.Set
	media    media.Converter
	feedback *feedback.Store
	metrics  *observe.Metrics
	opts     Options
}

// New creates a Dispatcher.
func New(deps Deps, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	if deps.Metrics == nil {
		deps.Metrics = observe.Default()
	}
	if deps.Breakers == nil {
		deps.Breakers = resilience.NewSet(resilience.BreakerConfig{})
	}
	return &Dispatcher{
		orch:     NewOrchestrator(deps.Index, deps.Control, deps.Metrics, opts.NormalizeAbove, opts.PreservationFactor),
		index:    deps.Index,
		control:  deps.Control,
		codecs:   deps.Codecs,
		breakers: deps.Breakers,
		media:    deps.Media,
		feedback: deps.Feedback,
		metrics:  deps.Metrics,
		opts:     opts,
	}
}

// Orchestrator returns the selection pipeline.
func (d *Dispatcher) Orchestrator() *Orchestrator { return d.orch }

// Entries returns the discovery index contents in key order.
func (d *Dispatcher) Entries() []atlas.Entry { return d.index.Entries() }

// Discipline returns the requested and effective index disciplines.
func (d *Dispatcher) Discipline() (requested, effective atlas.Discipline) {
	return d.index.Discipline(), d.index.Effective()
}

// DriftState returns the drift controller's state.
func (d *Dispatcher) DriftState() drift.State { return d.control.State() }

// Breakers reports every backend circuit breaker's state.
func (d *Dispatcher) Breakers() map[string]resilience.State { return d.breakers.States() }

// Pending returns unresolved confirmation requests, oldest first.
func (d *Dispatcher) Pending(ctx context.Context, limit int) ([]feedback.Request, error) {
	if d.feedback == nil {
		return nil, nil
	}
	return d.feedback.Pending(ctx, limit)
}

// Corrections returns recorded human corrections, newest first.
func (d *Dispatcher) Corrections(ctx context.Context, limit int) ([]feedback.Correction, error) {
	if d.feedback == nil {
		return nil, nil
	}
	return d.feedback.Corrections(ctx, limit)
}

// SetFaultTolerance switches automatic cascades on or off and returns the
// resulting drift state.
func (d *Dispatcher) SetFaultTolerance(enabled bool) drift.State {
	d.control.SetFaultTolerance(enabled)
	slog.Info("fault tolerance switched", "enabled", enabled)
	return d.control.State()
}

func (d *Dispatcher) keyFor(msg *message.Message) atlas.Key {
	def := d.opts.TTSKey
	if msg.HasAudio() {
		def = d.opts.STTKey
	}
	k := atlas.Key{Service: msg.Service, Operation: msg.Operation}
	if k.Service == "" {
		k.Service = def.Service
	}
	if k.Operation == "" {
		k.Operation = def.Operation
	}
	return k
}

// Handle processes a single message through the full pipeline. The
// dispatcher is the transport.Service every transport delivers to.
//
// Invalid input, unknown services and decode failures are returned as
// errors alongside a result carrying the message; backend failures are
// reported in the result only.
func (d *Dispatcher) Handle(ctx context.Context, msg *message.Message) (*message.DispatchResult, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "dispatch.Handle")
	defer span.End()
	logger := observe.Logger(ctx).With("message_id", msg.ID, "source", msg.Source)

	result := &message.DispatchResult{MessageID: msg.ID}
	fail := func(err error) (*message.DispatchResult, error) {
		result.Error = err.Error()
		logger.Warn("dispatch rejected", "error", err)
		return result, err
	}

	key := d.keyFor(msg)
	logger = logger.With("service", key.Service, "operation", key.Operation)
	logger.Info("dispatch started")

	var (
		sel   Selection
		input codec.Input
		err   error
	)
	switch {
	case msg.HasAudio():
		wav, convErr := d.toWAV(ctx, msg.Audio, msg.ContentType)
		if convErr != nil {
			return fail(convErr)
		}
		audio, decErr := media.DecodeWAV(wav)
		if decErr != nil {
			return fail(fmt.Errorf("%w: %w", ErrInvalidMessage, decErr))
		}
		prior := *d.opts.DefaultProfile
		if msg.Profile != nil {
			prior = *msg.Profile
		}
		sel, err = d.orch.SelectStrategy(ctx, audio.Samples, audio.SampleRate, key, prior, msg.DriftEstimate)
		if err == nil || errors.Is(err, drift.ErrInterventionRequired) {
			p := sel.Profile
			result.Profile = &p
		}
		input = codec.Input{Audio: wav, ContentType: "audio/wav"}
	case msg.Text != "":
		sel, err = d.orch.SelectForText(ctx, key, msg.DriftEstimate)
		input = codec.Input{Text: msg.Text}
	default:
		return fail(fmt.Errorf("%w: message has no audio and no text", ErrInvalidMessage))
	}

	intervention := errors.Is(err, drift.ErrInterventionRequired)
	if err != nil && !intervention {
		return fail(err)
	}

	result.Service = sel.Entry.Service
	result.Operation = sel.Entry.Operation
	result.Zone = sel.Decision.Zone.String()
	result.Discipline = sel.Entry.Discipline.String()
	result.Position = sel.Position
	result.Confidence = sel.Confidence
	result.ShouldCascade = sel.Decision.ShouldCascade
	logger = logger.With("zone", result.Zone, "discipline", result.Discipline)

	if intervention {
		result.Intervention = true
		result.Error = err.Error()
		result.Confirmation = d.requestConfirmation(ctx, msg, sel, ReasonIntervention,
			d.control.CoherenceThreshold(), 0, "")
		logger.Warn("dispatch halted, intervention required", "recovery_attempts", sel.Decision.RecoveryAttempts)
		return result, nil
	}

	strategy := codec.Strategy{
		Service:    sel.Entry.Service,
		Operation:  sel.Entry.Operation,
		Language:   msg.Language,
		Prompt:     msg.Prompt,
		Voice:      msg.Voice,
		Confidence: sel.Confidence,
	}
	out, backend, err := d.invoke(ctx, sel, strategy, input)
	result.Backend = backend
	if err != nil {
		result.Error = fmt.Sprintf("codec failed: %v", err)
		logger.Error("codec failed", "error", err)
		return result, nil
	}

	result.Transcript = out.Text
	result.Language = out.Language
	result.SetResponseAudioBytes(out.Audio)
	result.ResponseContentType = out.ContentType
	result.BackendConfidence = out.Confidence

	switch {
	case sel.ConfirmationNeeded:
		result.Confirmation = d.requestConfirmation(ctx, msg, sel, ReasonZone,
			sel.Decision.Confirmation.ConfidenceThreshold, out.Confidence, interpretation(msg, out))
	case out.Confidence < d.opts.ConfirmBelow:
		result.Confirmation = d.requestConfirmation(ctx, msg, sel, ReasonConfidence,
			d.opts.ConfirmBelow, out.Confidence, interpretation(msg, out))
	}

	logger.Info("dispatch complete",
		"backend", backend,
		"backend_confidence", out.Confidence,
		"confirmation", result.Confirmation != nil,
		"duration", time.Since(start))
	return result, nil
}

func (d *Dispatcher) toWAV(ctx context.Context, data []byte, contentType string) ([]byte, error) {
	if d.media == nil {
		f, err := media.FormatFromContentType(contentType)
		if err != nil || f != "wav" {
			return nil, fmt.Errorf("%w: no media converter for %q", media.ErrUnsupportedFormat, contentType)
		}
		return data, nil
	}
	return d.media.ToWAV(ctx, data, contentType)
}

// invoke calls the entry's backend, walking the fallbacks only when the
// decision asked for a cascade. A successful call re-costs the entry.
func (d *Dispatcher) invoke(ctx context.Context, sel Selection, s codec.Strategy, in codec.Input) (*codec.Output, string, error) {
	names := []string{sel.Entry.Backend}
	if sel.Decision.ShouldCascade {
		names = append(names, sel.Entry.Fallbacks...)
	}
	if sel.Entry.Backend == "" {
		return nil, "", fmt.Errorf("entry %s: %w: no backend configured", sel.Entry.Key(), codec.ErrUnknownBackend)
	}

	ctx, span := observe.StartSpan(ctx, "dispatch.invoke")
	defer span.End()

	return resilience.Failover(ctx, d.breakers, names, func(ctx context.Context, name string) (*codec.Output, error) {
		b, err := d.codecs.Get(name)
		if err != nil {
			return nil, err
		}
		if d.opts.CodecTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.opts.CodecTimeout)
			defer cancel()
		}
		start := time.Now()
		out, err := b.Invoke(ctx, s, in)
		elapsed := time.Since(start)
		d.metrics.RecordCodec(ctx, name, string(b.Kind()), elapsed, err)
		if err != nil {
			return nil, err
		}
		d.recost(sel.Entry, elapsed, out.Confidence)
		return out, nil
	})
}

// recost folds the observed latency into the entry's dynamic cost.
func (d *Dispatcher) recost(e atlas.Entry, elapsed time.Duration, confidence float64) {
	cost := elapsed.Seconds()
	if e.DynamicCost > 0 {
		a := d.opts.CostSmoothing
		cost = a*cost + (1-a)*e.DynamicCost
	}
	if err := d.index.UpdateMetrics(e.Key(), cost, confidence); err != nil {
		slog.Warn("recost failed", "key", e.Key().String(), "error", err)
	}
}

func interpretation(msg *message.Message, out *codec.Output) string {
	if out.Text != "" {
		return out.Text
	}
	return msg.Text
}

func (d *Dispatcher) requestConfirmation(ctx context.Context, msg *message.Message, sel Selection, reason string, threshold, confidence float64, original string) *message.Confirmation {
	d.metrics.RecordConfirmation(ctx, reason)
	c := &message.Confirmation{ConfidenceThreshold: threshold, Reason: reason}
	if d.feedback == nil {
		return c
	}
	req, err := d.feedback.RecordRequest(ctx, feedback.Request{
		MessageID:              msg.ID,
		Service:                sel.Entry.Service,
		Operation:              sel.Entry.Operation,
		Zone:                   sel.Decision.Zone.String(),
		Reason:                 reason,
		Confidence:             confidence,
		ConfidenceThreshold:    threshold,
		OriginalInterpretation: original,
	})
	if err != nil {
		slog.Error("persisting confirmation request failed", "message_id", msg.ID, "error", err)
		return c
	}
	c.RequestID = req.ID
	return c
}

// Feedback records a human correction and feeds it back into the drift
// controller: the stored position is nudged and recovery attempts reset.
// A correction naming an unknown request fails with feedback.ErrNotFound and
// leaves the controller untouched.
func (d *Dispatcher) Feedback(ctx context.Context, c message.Correction) (*message.FeedbackResult, error) {
	res := &message.FeedbackResult{}
	if d.feedback != nil {
		rec, err := d.feedback.RecordCorrection(ctx, feedback.Correction{
			RequestID:           c.RequestID,
			MessageID:           c.MessageID,
			Accepted:            c.Accepted,
			SuggestedCorrection: c.SuggestedCorrection,
		})
		if err != nil {
			return nil, err
		}
		res.CorrectionID = rec.ID
	}
	res.State = d.control.IncorporateFeedback(c.Accepted)
	slog.Info("feedback incorporated",
		"request_id", c.RequestID,
		"accepted", c.Accepted,
		"position", fmtPosition(res.State.Position))
	return res, nil
}

func fmtPosition(p nlm.Position) string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f) c=%.3f", p.X, p.Y, p.Z, p.Confidence)
}
