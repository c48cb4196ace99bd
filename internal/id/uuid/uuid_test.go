package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestEntityIDStable(t *testing.T) {
	t.Parallel()

	a := EntityID("https://guide.michelin.com/us/en/new-york-state/new-york/restaurant/per-se")
	b := EntityID(" https://guide.michelin.com/us/en/new-york-state/new-york/restaurant/per-se/ ")
	require.Equal(t, a, b)
	require.True(t, Valid(a))
	require.NotEqual(t, a, EntityID("https://guide.michelin.com/us/en/california/napa/restaurant/the-french-laundry"))

	parsed, err := goUUID.Parse(a)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(5), parsed.Version())
}

func TestValid(t *testing.T) {
	t.Parallel()

	require.False(t, Valid("per se"))
	require.False(t, Valid(""))
}
