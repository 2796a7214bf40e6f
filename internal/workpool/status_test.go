package workpool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackerIsIncreaseOnly(t *testing.T) {
	t.Parallel()

	tr := NewTracker([]string{"swift", "llvm"})
	require.Equal(t, Waiting, tr.Status("swift"))

	require.True(t, tr.Advance("swift", Fetching))
	require.False(t, tr.Advance("swift", Fetching))
	require.False(t, tr.Advance("swift", Waiting))
	require.True(t, tr.Advance("swift", Success))

	// Out-of-order deliveries after completion are no-ops.
	require.False(t, tr.Advance("swift", Fetching))
	require.False(t, tr.Advance("swift", Waiting))
	require.False(t, tr.Fail("swift", errors.New("late failure")))
	require.Equal(t, Success, tr.Status("swift"))
	require.NoError(t, tr.Snapshot()[0].Err)

	require.True(t, tr.Fail("llvm", errors.New("timeout")))
	require.False(t, tr.Advance("llvm", Success))
	require.Equal(t, Failed, tr.Status("llvm"))
}

func TestTrackerIgnoresUnknownKeys(t *testing.T) {
	t.Parallel()

	tr := NewTracker([]string{"a"})
	require.False(t, tr.Advance("b", Success))
	require.Len(t, tr.Snapshot(), 1)
}

func TestTrackerOnChange(t *testing.T) {
	t.Parallel()

	tr := NewTracker([]string{"a", "b", "a"})
	calls := 0
	tr.OnChange = func() { calls++ }

	tr.Advance("a", Fetching)
	tr.Advance("a", Waiting)
	tr.Advance("b", Success)

	require.Equal(t, 2, calls)

	snap := tr.Snapshot()
	require.Equal(t, []Entry{{Key: "a", Status: Fetching}, {Key: "b", Status: Success}}, snap)
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, Waiting.Terminal())
	require.False(t, Fetching.Terminal())
	require.True(t, Success.Terminal())
	require.True(t, Failed.Terminal())
	require.Equal(t, "fetching", Fetching.String())
}
