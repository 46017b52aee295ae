package moqtransport

import (
	"errors"
	"testing"

	"github.com/mengelbart/moqtransport/internal/wire"
	"github.com/stretchr/testify/assert"
)

func TestResolveSubscribeWindowLatestObject(t *testing.T) {
	t.Run("empty_track", func(t *testing.T) {
		w, err := resolveSubscribeWindow(&wire.SubscribeMessage{FilterType: wire.FilterLatestObject}, FullSequence{}, false)
		assert.NoError(t, err)
		assert.True(t, w.unbounded())
		assert.Equal(t, FullSequence{}, w.start)
	})

	t.Run("nonempty_track_starts_at_largest", func(t *testing.T) {
		largest := FullSequence{Group: 5, Object: 2}
		w, err := resolveSubscribeWindow(&wire.SubscribeMessage{FilterType: wire.FilterLatestObject}, largest, true)
		assert.NoError(t, err)
		assert.Equal(t, largest, w.start)
	})
}

func TestResolveSubscribeWindowNextGroupStart(t *testing.T) {
	t.Run("empty_track_starts_at_group_zero", func(t *testing.T) {
		w, err := resolveSubscribeWindow(&wire.SubscribeMessage{FilterType: wire.FilterNextGroupStart}, FullSequence{}, false)
		assert.NoError(t, err)
		assert.Equal(t, uint64(0), w.start.Group)
	})

	t.Run("nonempty_track_starts_after_largest_group", func(t *testing.T) {
		w, err := resolveSubscribeWindow(&wire.SubscribeMessage{FilterType: wire.FilterNextGroupStart}, FullSequence{Group: 5}, true)
		assert.NoError(t, err)
		assert.Equal(t, uint64(6), w.start.Group)
	})
}

func TestResolveSubscribeWindowAbsoluteStart(t *testing.T) {
	m := &wire.SubscribeMessage{
		FilterType:    wire.FilterAbsoluteStart,
		StartLocation: wire.Location{Group: 3, Object: 7},
	}
	w, err := resolveSubscribeWindow(m, FullSequence{}, false)
	assert.NoError(t, err)
	assert.True(t, w.unbounded())
	assert.Equal(t, FullSequence{Group: 3, Object: 7}, w.start)
}

func TestResolveSubscribeWindowAbsoluteRange(t *testing.T) {
	t.Run("valid_range", func(t *testing.T) {
		m := &wire.SubscribeMessage{
			FilterType:    wire.FilterAbsoluteRange,
			StartLocation: wire.Location{Group: 3},
			EndGroup:      5,
		}
		w, err := resolveSubscribeWindow(m, FullSequence{}, false)
		assert.NoError(t, err)
		assert.False(t, w.unbounded())
		assert.True(t, w.contains(FullSequence{Group: 5, Object: 1000}))
		assert.False(t, w.contains(FullSequence{Group: 6}))
		assert.False(t, w.contains(FullSequence{Group: 2}))
	})

	t.Run("end_before_start_is_protocol_error", func(t *testing.T) {
		m := &wire.SubscribeMessage{
			FilterType:    wire.FilterAbsoluteRange,
			StartLocation: wire.Location{Group: 5},
			EndGroup:      3,
		}
		_, err := resolveSubscribeWindow(m, FullSequence{}, false)
		var pe ProtocolError
		assert.True(t, errors.As(err, &pe))
		assert.Equal(t, ErrorCodeSubscribeInvalidRange, pe.Code())
	})
}

func TestResolveSubscribeWindowUnknownFilterType(t *testing.T) {
	_, err := resolveSubscribeWindow(&wire.SubscribeMessage{FilterType: wire.FilterType(0xff)}, FullSequence{}, false)
	var pe ProtocolError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrorCodeProtocolViolation, pe.Code())
}

func TestSubscribeWindowContainsRespectsStart(t *testing.T) {
	w := newOpenEndedWindow(FullSequence{Group: 2, Object: 5})
	assert.False(t, w.contains(FullSequence{Group: 2, Object: 4}))
	assert.True(t, w.contains(FullSequence{Group: 2, Object: 5}))
	assert.True(t, w.contains(FullSequence{Group: 100}))
}
