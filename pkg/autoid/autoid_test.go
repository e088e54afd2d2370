package autoid

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSeqAllocator(t *testing.T) {
	t.Parallel()

	a := NewSeqAllocator("req-")
	require.Equal(t, "req-1", a.AllocID())
	require.Equal(t, "req-2", a.AllocID())
}

func TestUUIDAllocator(t *testing.T) {
	t.Parallel()

	a := NewUUIDAllocator()
	id1, id2 := a.AllocID(), a.AllocID()
	require.NotEqual(t, id1, id2)
	_, err := uuid.Parse(id1)
	require.NoError(t, err)
}
