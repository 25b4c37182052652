package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"aims-coach/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAbsentSessionIsNotAnError(t *testing.T) {
	m := NewMemory(time.Minute)

	s, ok, err := m.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, s)
}

func TestMemoryUpdateCreatesAndRefreshes(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	s, err := m.Update(ctx, "s1", func(s *pkg.Session) error {
		s.Persona = "parent"
		s.Turns = append(s.Turns, pkg.Turn{SessionID: "s1", Index: 0, Message: "hello"})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, "parent", s.Persona)
	assert.False(t, s.LastSeenAt.IsZero())

	got, ok, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Turns, 1)
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	_, err := m.Update(ctx, "s1", func(*pkg.Session) error { return nil })
	require.NoError(t, err)

	// Within TTL.
	_, ok, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Past TTL: absent on read, fresh on write.
	now = now.Add(2 * time.Minute)
	_, ok, err = m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	s, err := m.Update(ctx, "s1", func(s *pkg.Session) error {
		assert.Empty(t, s.Turns, "expired session restarts empty")
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, s.Turns)
}

func TestMemorySnapshotsDoNotAliasStoreState(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	_, err := m.Update(ctx, "s1", func(s *pkg.Session) error {
		s.Turns = append(s.Turns, pkg.Turn{
			Index:   0,
			Message: "original",
			Classification: pkg.ClassificationResult{
				Step:          pkg.StepMirror,
				EvidenceSpans: []string{"it sounds like"},
			},
			Scoring:      pkg.ScoringResult{Score: 3, Reasons: []string{"met: reflective stem"}},
			CoachingTips: []string{"keep it brief"},
		})
		return nil
	})
	require.NoError(t, err)

	snap, ok, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	snap.Turns[0].Message = "mutated"
	snap.Turns[0].Classification.EvidenceSpans[0] = "mutated"
	snap.Turns[0].Scoring.Reasons[0] = "mutated"
	snap.Turns[0].CoachingTips[0] = "mutated"

	again, _, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Turns[0].Message)
	assert.Equal(t, "it sounds like", again.Turns[0].Classification.EvidenceSpans[0])
	assert.Equal(t, "met: reflective stem", again.Turns[0].Scoring.Reasons[0])
	assert.Equal(t, "keep it brief", again.Turns[0].CoachingTips[0])
}

func TestMemoryConcurrentUpdatesKeepIndicesMonotonic(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx := context.Background()

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Update(ctx, "race", func(s *pkg.Session) error {
				s.Turns = append(s.Turns, pkg.Turn{Index: len(s.Turns)})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, ok, err := m.Get(ctx, "race")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Turns, writers)
	for i, turn := range got.Turns {
		assert.Equal(t, i, turn.Index, "strictly increasing, no gaps")
	}
}

func TestTrimTurns(t *testing.T) {
	s := &pkg.Session{}
	for i := 0; i < 10; i++ {
		s.Turns = append(s.Turns, pkg.Turn{Index: i})
	}

	TrimTurns(s, 4)
	require.Len(t, s.Turns, 4)
	assert.Equal(t, 6, s.Turns[0].Index, "oldest turns trimmed first")

	TrimTurns(s, 0)
	assert.Len(t, s.Turns, 4, "zero max means unbounded")
}
