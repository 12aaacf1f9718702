/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateID(t *testing.T) {
	for range 100 {
		id, err := GenerateID()
		require.NoError(t, err)
		require.Len(t, id, IDLength)

		for _, c := range id {
			assert.True(t, strings.ContainsRune(idAlphabet, c), "unexpected character %q in %s", c, id)
		}
	}
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "ABC234", NormalizeID("  abc234 "))
}

func TestCreateSkipsTakenIDs(t *testing.T) {
	queue := []string{"AAAAAA", "AAAAAA", "bbbbbb"}
	gen := func() (string, error) {
		id := queue[0]
		queue = queue[1:]
		return id, nil
	}

	r := NewRegistry(nil, WithIDGenerator(gen))

	first, err := r.Create()
	require.NoError(t, err)
	second, err := r.Create()
	require.NoError(t, err)

	assert.Equal(t, "AAAAAA", first.ID())
	assert.Equal(t, "BBBBBB", second.ID())
	assert.Equal(t, 2, r.Len())
}

func TestCreateGivesUpWhenExhausted(t *testing.T) {
	r := NewRegistry(nil, WithIDGenerator(func() (string, error) { return "SAME00", nil }))

	_, err := r.Create()
	require.NoError(t, err)

	_, err = r.Create()
	assert.Error(t, err)
	assert.Equal(t, 1, r.Len())
}

func TestCreatePropagatesGeneratorErrors(t *testing.T) {
	boom := errors.New("entropy unavailable")
	r := NewRegistry(nil, WithIDGenerator(func() (string, error) { return "", boom }))

	_, err := r.Create()
	assert.ErrorIs(t, err, boom)
}

func TestGetIsCaseInsensitive(t *testing.T) {
	f := newFixture(0)

	s, err := f.registry.Get(strings.ToLower(f.session.ID()))
	require.NoError(t, err)
	assert.Same(t, f.session, s)

	_, err = f.registry.Get("NOPE00")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseRequiresInstructor(t *testing.T) {
	f := newFixture(4)
	id := f.session.ID()

	assert.ErrorIs(t, f.registry.Close(id, "s1"), ErrUnauthorized)
	assert.Equal(t, 1, f.registry.Len())

	require.NoError(t, f.registry.Close(id, f.host))
	assert.Zero(t, f.registry.Len())

	for _, p := range append([]string{f.host}, f.students...) {
		closed, ok := f.rec.last(p, EventSessionClosed).(SessionClosed)
		require.True(t, ok, p)
		assert.NotEmpty(t, closed.Reason)
	}

	assert.ErrorIs(t, f.registry.Close(id, f.host), ErrNotFound)
	assert.ErrorIs(t, f.session.SubmitContribution("s1", 1), ErrNotFound)
	assert.ErrorIs(t, f.session.Register("s9", Registration{Role: RoleStudent}), ErrNotFound)
}

func TestEvictIdle(t *testing.T) {
	f := newFixture(1)
	active := f.session

	f.clock.Advance(3 * time.Hour)
	stale, err := f.registry.Host("host2", "")
	require.NoError(t, err)

	f.clock.Advance(90 * time.Minute)
	require.NoError(t, active.Register("s2", Registration{Role: RoleStudent}))
	f.clock.Advance(3 * time.Hour)

	// stale has been idle for 4h30m, active for 3h.
	evicted := f.registry.EvictIdle(4 * time.Hour)
	assert.Equal(t, []string{stale.ID()}, evicted)
	assert.Equal(t, 1, f.registry.Len())

	_, err = f.registry.Get(stale.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotNil(t, f.rec.last("host2", EventSessionClosed))

	_, err = f.registry.Get(active.ID())
	assert.NoError(t, err)

	assert.Empty(t, f.registry.EvictIdle(4*time.Hour))
}

func TestRegistryForfeitAbsent(t *testing.T) {
	f := newFixture(4)
	require.NoError(t, f.start(DefaultConfig()))

	f.session.Disconnect("s2")
	f.clock.Advance(5 * time.Minute)

	assert.Equal(t, 1, f.registry.ForfeitAbsent(2*time.Minute))
	assert.Zero(t, f.registry.ForfeitAbsent(2*time.Minute))
}

func TestHostDefaultsInstructorName(t *testing.T) {
	r := NewRegistry(nil)

	s, err := r.Host("h", "  ")
	require.NoError(t, err)
	assert.Equal(t, "Instructor", s.Snapshot().Players["h"].Name)
	assert.Equal(t, "h", s.Snapshot().InstructorID)
}

func TestHostFailureLeavesNoTrace(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(rec, WithIDGenerator(sequentialIDs("H")))

	_, err := r.Host("", "Nobody")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, r.Len())
	assert.Empty(t, rec.msgs)

	_, err = r.Get("H001")
	assert.ErrorIs(t, err, ErrNotFound)
}
