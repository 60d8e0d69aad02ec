package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nadzzz/obivox/internal/atlas"
	"github.com/nadzzz/obivox/internal/drift"
	"github.com/nadzzz/obivox/internal/nlm"
	"github.com/nadzzz/obivox/internal/observe"
	"github.com/nadzzz/obivox/internal/variation"
)

// Selection is the strategy chosen for one request.
type Selection struct {
	Entry    atlas.Entry
	Position nlm.Position

	// Confidence is the position confidence handed to the backend.
	Confidence float64

	Decision drift.Decision

	// Profile is the updated accessibility profile; zero for text requests.
	Profile  variation.Profile
	Analysis variation.Analysis

	ConfirmationNeeded bool
	InterventionNeeded bool
}

// Orchestrator runs detection, normalization, mapping, drift control and
// the index lookup in that order. It keeps no state of its own; the index
// and controller are shared by reference.
type Orchestrator struct {
	index   *atlas.Index
	control *drift.Controller
	metrics *observe.Metrics

	normalizeAbove float64
	preservation   float64
}

// NewOrchestrator wires an orchestrator over ix and ctl. A zero
// normalizeAbove means 0.5 and a nil preservation means 0.7; an explicit
// preservation of 0 applies the full correction.
func NewOrchestrator(ix *atlas.Index, ctl *drift.Controller, m *observe.Metrics, normalizeAbove float64, preservation *float64) *Orchestrator {
	if normalizeAbove <= 0 {
		normalizeAbove = DefaultNormalizeAbove
	}
	p := DefaultPreservation
	if preservation != nil {
		p = *preservation
	}
	if m == nil {
		m = observe.Default()
	}
	return &Orchestrator{
		index:          ix,
		control:        ctl,
		metrics:        m,
		normalizeAbove: normalizeAbove,
		preservation:   p,
	}
}

// SelectStrategy analyses samples and picks the entry for key.
//
// samples are not modified; normalization runs on a copy. When driftEstimate
// is nil the drift input is derived from the mapped confidence. If recovery
// is exhausted the returned error wraps drift.ErrInterventionRequired and the
// selection is still fully populated.
func (o *Orchestrator) SelectStrategy(ctx context.Context, samples []float64, sampleRate int, key atlas.Key, prior variation.Profile, driftEstimate *float64) (Selection, error) {
	profile, analysis, err := variation.Detect(samples, prior)
	if err != nil {
		return Selection{}, err
	}

	work := samples
	if profile.VariationScore > o.normalizeAbove {
		work = slices.Clone(samples)
		if err := variation.Normalize(work, profile, o.preservation); err != nil {
			return Selection{}, err
		}
	}

	features := nlm.ExtractFeatures(work, sampleRate, profile.VariationScore)
	features.CoherenceThreshold = o.control.CoherenceThreshold()
	pos, err := nlm.Map(features)
	if err != nil {
		return Selection{}, err
	}

	d := o.control.DriftInput(pos.Confidence)
	if driftEstimate != nil {
		d = *driftEstimate
	}
	sel, err := o.route(ctx, pos, key, d)
	sel.Profile = profile
	sel.Analysis = analysis
	return sel, err
}

// SelectForText picks the entry for key without acoustic analysis, using
// the controller's last position. Without an estimate the current drift is
// carried forward.
func (o *Orchestrator) SelectForText(ctx context.Context, key atlas.Key, driftEstimate *float64) (Selection, error) {
	d := o.control.Drift()
	if driftEstimate != nil {
		d = *driftEstimate
	}
	return o.route(ctx, o.control.Position(), key, d)
}

// route classifies d and looks key up. An unknown key fails before the
// controller or the index is touched.
func (o *Orchestrator) route(ctx context.Context, pos nlm.Position, key atlas.Key, d float64) (Selection, error) {
	if !o.index.Contains(key) {
		o.metrics.RecordLookup(ctx, false)
		return Selection{}, fmt.Errorf("lookup %s: %w", key, atlas.ErrNotFound)
	}

	dec, classifyErr := o.control.Classify(pos, d)
	if classifyErr != nil && !errors.Is(classifyErr, drift.ErrInterventionRequired) {
		return Selection{}, classifyErr
	}
	o.metrics.RecordClassification(ctx, dec.Zone.String(), dec.ShouldCascade, dec.NeedsIntervention)

	start := time.Now()
	if o.index.SetDiscipline(dec.Discipline) {
		o.metrics.RecordRebuild(ctx, o.index.Effective().String(), time.Since(start))
	}

	entry, ok := o.index.Lookup(key)
	o.metrics.RecordLookup(ctx, ok)
	if !ok {
		return Selection{}, fmt.Errorf("lookup %s: %w", key, atlas.ErrNotFound)
	}

	return Selection{
		Entry:              entry,
		Position:           pos.Clamped(),
		Confidence:         pos.Clamped().Confidence,
		Decision:           dec,
		ConfirmationNeeded: dec.Confirmation != nil,
		InterventionNeeded: dec.NeedsIntervention,
	}, classifyErr
}
