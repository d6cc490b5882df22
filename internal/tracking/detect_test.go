package tracking

import (
	"testing"

	"github.com/BearBump/TrackBot/internal/models"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_StrictlyNewer(t *testing.T) {
	events := []models.TrackingEvent{{EventCode: "A", Timestamp: 100}}

	_, hw, ok := Evaluate(100, events)
	require.False(t, ok)
	require.Equal(t, int64(100), hw)

	_, _, ok = Evaluate(101, events)
	require.False(t, ok)

	ev, hw, ok := Evaluate(99, events)
	require.True(t, ok)
	require.Equal(t, int64(100), hw)
	require.Equal(t, "A", ev.EventCode)
}

func TestEvaluate_PicksNewestOverHighWaterMark(t *testing.T) {
	events := []models.TrackingEvent{
		{EventCode: "A", Timestamp: 100},
		{EventCode: "B", Timestamp: 150},
	}
	ev, hw, ok := Evaluate(100, events)
	require.True(t, ok)
	require.Equal(t, int64(150), hw)
	require.Equal(t, "B", ev.EventCode)
}

func TestEvaluate_Idempotent(t *testing.T) {
	events := []models.TrackingEvent{
		{EventCode: "A", Timestamp: 10},
		{EventCode: "B", Timestamp: 40},
		{EventCode: "C", Timestamp: 25},
	}
	for _, last := range []int64{0, 10, 39} {
		_, hw, ok := Evaluate(last, events)
		require.True(t, ok)
		_, _, again := Evaluate(hw, events)
		require.False(t, again)
	}
}

func TestEvaluate_NoEvents(t *testing.T) {
	_, hw, ok := Evaluate(5, nil)
	require.False(t, ok)
	require.Equal(t, int64(5), hw)
}
