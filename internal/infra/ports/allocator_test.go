package ports

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/asw/internal/app/config"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
)

var defaultRanges = config.PortsConfig{PrimaryBase: 9100, SecondaryBase: 9200, Slots: 15}

// busyProber treats the listed ports as bound by another process
type busyProber map[int]bool

func (b busyProber) Available(port int) bool { return !b[port] }

type staticReservations map[int]string

func (s staticReservations) ReservedPorts(context.Context, string) (map[int]string, error) {
	return s, nil
}

type failingReservations struct{}

func (failingReservations) ReservedPorts(context.Context, string) (map[int]string, error) {
	return nil, errors.New("db locked")
}

func TestAllocate_Deterministic(t *testing.T) {
	a := NewAllocator(defaultRanges, busyProber{}, nil, nil)
	ctx := context.Background()

	first, err := a.Allocate(ctx, "abc12345")
	require.NoError(t, err)
	second, err := a.Allocate(ctx, "abc12345")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.False(t, first.Fallback)
	assert.Equal(t, a.Deterministic("abc12345").Primary, first.Primary)
	assert.Equal(t, first.Primary-9100, first.Secondary-9200, "free ranges keep matching offsets")
}

func TestAllocate_StaysInRanges(t *testing.T) {
	a := NewAllocator(defaultRanges, busyProber{}, nil, nil)
	for _, id := range []string{"a", "bb", "abc12345", "zzzzzzzz", "01234567", "q9q9q9q9"} {
		alloc, err := a.Allocate(context.Background(), id)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, alloc.Primary, 9100)
		assert.LessOrEqual(t, alloc.Primary, 9114)
		assert.GreaterOrEqual(t, alloc.Secondary, 9200)
		assert.LessOrEqual(t, alloc.Secondary, 9214)
	}
}

func TestAllocate_OnlyOnePrimaryFree(t *testing.T) {
	busy := busyProber{}
	for p := 9100; p <= 9114; p++ {
		if p != 9110 {
			busy[p] = true
		}
	}
	a := NewAllocator(defaultRanges, busy, nil, nil)

	alloc, err := a.Allocate(context.Background(), "abc12345")
	require.NoError(t, err)
	assert.Equal(t, 9110, alloc.Primary)
	assert.Equal(t, 9210, alloc.Secondary)
}

func TestAllocate_SecondaryScansIndependently(t *testing.T) {
	a := NewAllocator(defaultRanges, busyProber{}, nil, nil)
	idx := a.Index("abc12345")

	// Matching secondary taken; the next one in the range wins
	busy := busyProber{9200 + idx: true}
	a = NewAllocator(defaultRanges, busy, nil, nil)

	alloc, err := a.Allocate(context.Background(), "abc12345")
	require.NoError(t, err)
	assert.Equal(t, 9100+idx, alloc.Primary)
	assert.Equal(t, 9200+(idx+1)%15, alloc.Secondary)
	assert.True(t, alloc.Fallback)
}

func TestAllocate_ExhaustedRange(t *testing.T) {
	busy := busyProber{}
	for p := 9200; p <= 9214; p++ {
		busy[p] = true
	}
	a := NewAllocator(defaultRanges, busy, nil, nil)

	_, err := a.Allocate(context.Background(), "abc12345")
	require.Error(t, err)
	assert.ErrorIs(t, err, execution.ErrPortsExhausted)
	assert.Contains(t, err.Error(), "secondary range 9200-9214")
	assert.Equal(t, execution.CategoryAllocation, execution.CategoryOf(err))
}

func TestAllocate_ReservationsCountAsOccupied(t *testing.T) {
	a := NewAllocator(defaultRanges, busyProber{}, nil, nil)
	want := a.Deterministic("abc12345")

	res := staticReservations{want.Primary: "other001"}
	a = NewAllocator(defaultRanges, busyProber{}, res, nil)

	alloc, err := a.Allocate(context.Background(), "abc12345")
	require.NoError(t, err)
	assert.NotEqual(t, want.Primary, alloc.Primary)
	assert.True(t, alloc.Fallback)
}

func TestAllocate_ReservationErrorSurfaces(t *testing.T) {
	a := NewAllocator(defaultRanges, busyProber{}, failingReservations{}, nil)
	_, err := a.Allocate(context.Background(), "abc12345")
	assert.ErrorContains(t, err, "db locked")
}

func TestBindProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	assert.False(t, BindProber{}.Available(port))

	require.NoError(t, ln.Close())
	assert.True(t, BindProber{}.Available(port))
}
