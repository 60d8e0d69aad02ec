package feedback

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "feedback.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func request(msg string) Request {
	return Request{
		MessageID:              msg,
		Service:                "stt",
		Operation:              "transcribe",
		Zone:                   "human-stress",
		Reason:                 "human-stress drift",
		Confidence:             0.62,
		ConfidenceThreshold:    0.954,
		OriginalInterpretation: "turn of the lights",
	}
}

func TestRecordAndGetRequest(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	r, err := s.RecordRequest(ctx, request("m1"))
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.CreatedAt.IsZero())

	got, err := s.Request(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r, got)

	_, err = s.Request(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCorrectionResolvesRequest(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	r1, err := s.RecordRequest(ctx, request("m1"))
	require.NoError(t, err)
	r2, err := s.RecordRequest(ctx, request("m2"))
	require.NoError(t, err)

	pending, err := s.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, r1.ID, pending[0].ID)

	c, err := s.RecordCorrection(ctx, Correction{
		RequestID:           r1.ID,
		Accepted:            false,
		SuggestedCorrection: "turn off the lights",
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", c.MessageID, "message id comes from the request")

	pending, err = s.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, r2.ID, pending[0].ID)

	got, err := s.Request(ctx, r1.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved)

	cs, err := s.Corrections(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, "turn off the lights", cs[0].SuggestedCorrection)
	assert.Equal(t, r1.ID, cs[0].RequestID)
}

func TestCorrectionWithoutRequest(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	_, err := s.RecordCorrection(ctx, Correction{MessageID: "m9", Accepted: true})
	require.NoError(t, err)
	_, err = s.RecordCorrection(ctx, Correction{MessageID: "m10", Accepted: false})
	require.NoError(t, err)

	cs, err := s.Corrections(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "m10", cs[0].MessageID, "newest first")
	assert.Empty(t, cs[0].RequestID)
	assert.True(t, cs[1].Accepted)
}

func TestCorrectionUnknownRequest(t *testing.T) {
	s := tempStore(t)
	_, err := s.RecordCorrection(context.Background(), Correction{RequestID: "nope"})
	require.ErrorIs(t, err, ErrNotFound)

	cs, err := s.Corrections(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, cs, "failed correction is rolled back")
}

func TestInMemoryStore(t *testing.T) {
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	r, err := s.RecordRequest(ctx, request("m1"))
	require.NoError(t, err)
	_, err = s.Request(ctx, r.ID)
	require.NoError(t, err)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.db")
	s, err := NewStore(path)
	require.NoError(t, err)
	r, err := s.RecordRequest(context.Background(), request("m1"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Request(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, "m1", got.MessageID)
}
