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
	require.Less(t, id1, id2, "v7 ids sort by creation time")
}

func TestValid(t *testing.T) {
	t.Parallel()

	id, err := New().NewID()
	require.NoError(t, err)
	require.True(t, Valid(id))
	require.False(t, Valid("not-a-run"))
	require.False(t, Valid(""))
}
