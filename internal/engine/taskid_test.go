package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextTaskIDStartsAtZeroPerLabel(t *testing.T) {
	a := NewTaskAllocator()

	require.Equal(t, "create/INSPECT idx 0", a.NextTaskID("create/INSPECT"))
	require.Equal(t, "create/INSPECT idx 1", a.NextTaskID("create/INSPECT"))
	require.Equal(t, "create/REVIEW idx 0", a.NextTaskID("create/REVIEW"))
	require.Equal(t, "create/INSPECT idx 2", a.NextTaskID("create/INSPECT"))
}

func TestNextTaskIDReplaysIdenticallyOnFreshAllocator(t *testing.T) {
	labels := []string{"a", "b", "a", "a", "b"}

	first := NewTaskAllocator()
	second := NewTaskAllocator()
	for _, label := range labels {
		require.Equal(t, first.NextTaskID(label), second.NextTaskID(label))
	}
}
