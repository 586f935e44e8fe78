// Package ports maps workflow ids onto a primary/secondary port pair drawn
// from two disjoint fixed-size ranges.
package ports

import (
	"context"
	"fmt"
	"hash/fnv"
	"net"
	"strconv"

	"github.com/YoshitsuguKoike/asw/internal/app"
	"github.com/YoshitsuguKoike/asw/internal/app/config"
	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
)

// Prober reports whether a port can be bound right now
type Prober interface {
	Available(port int) bool
}

// ReservationSource lists ports already recorded by other live workflows
type ReservationSource interface {
	ReservedPorts(ctx context.Context, excludeID string) (map[int]string, error)
}

// Allocation is the pair handed to a workflow
type Allocation = output.PortAllocation

// Allocator implements the deterministic-hash-with-scan port policy
type Allocator struct {
	cfg          config.PortsConfig
	prober       Prober
	reservations ReservationSource
	logger       app.Logger
}

// NewAllocator creates an allocator. reservations may be nil.
func NewAllocator(cfg config.PortsConfig, prober Prober, reservations ReservationSource, logger app.Logger) *Allocator {
	if prober == nil {
		prober = BindProber{}
	}
	if logger == nil {
		logger = app.NopLogger{}
	}
	return &Allocator{cfg: cfg, prober: prober, reservations: reservations, logger: logger}
}

// Index is the deterministic slot of workflowID: FNV-1a mod slot count
func (a *Allocator) Index(workflowID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(workflowID))
	return int(h.Sum32() % uint32(a.cfg.Slots))
}

// Deterministic returns the pair the hash alone selects, without probing
func (a *Allocator) Deterministic(workflowID string) Allocation {
	idx := a.Index(workflowID)
	return Allocation{Primary: a.cfg.PrimaryBase + idx, Secondary: a.cfg.SecondaryBase + idx}
}

// Allocate picks a free pair for workflowID. Each range is scanned forward
// from the hashed slot with wrap-around; the secondary range first tries the
// offset of the chosen primary. A range without a free slot yields
// execution.ErrPortsExhausted.
func (a *Allocator) Allocate(ctx context.Context, workflowID string) (Allocation, error) {
	reserved := map[int]string{}
	if a.reservations != nil {
		r, err := a.reservations.ReservedPorts(ctx, workflowID)
		if err != nil {
			return Allocation{}, fmt.Errorf("load port reservations: %w", err)
		}
		reserved = r
	}

	free := func(port int) bool {
		if owner, ok := reserved[port]; ok {
			a.logger.Debug("workflow=%s port %d reserved by %s", workflowID, port, owner)
			return false
		}
		return a.prober.Available(port)
	}

	idx := a.Index(workflowID)

	primaryOffset, ok := a.scan(idx, a.cfg.PrimaryBase, free)
	if !ok {
		return Allocation{}, execution.Wrap(execution.ErrPortsExhausted,
			"primary range %d-%d has no free slot", a.cfg.PrimaryBase, a.cfg.PrimaryBase+a.cfg.Slots-1)
	}

	secondaryOffset, ok := a.scan(primaryOffset, a.cfg.SecondaryBase, free)
	if !ok {
		return Allocation{}, execution.Wrap(execution.ErrPortsExhausted,
			"secondary range %d-%d has no free slot", a.cfg.SecondaryBase, a.cfg.SecondaryBase+a.cfg.Slots-1)
	}

	alloc := Allocation{
		Primary:   a.cfg.PrimaryBase + primaryOffset,
		Secondary: a.cfg.SecondaryBase + secondaryOffset,
		Fallback:  primaryOffset != idx || secondaryOffset != idx,
	}
	if alloc.Fallback {
		a.logger.Info("workflow=%s hashed slot %d occupied, allocated %d/%d", workflowID, idx, alloc.Primary, alloc.Secondary)
	}
	return alloc, nil
}

// scan returns the first free offset starting at start, wrapping once
func (a *Allocator) scan(start, base int, free func(int) bool) (int, bool) {
	for i := 0; i < a.cfg.Slots; i++ {
		off := (start + i) % a.cfg.Slots
		if free(base + off) {
			return off, true
		}
	}
	return 0, false
}

// BindProber checks availability by binding a TCP listener and closing it
type BindProber struct {
	// Host defaults to 127.0.0.1
	Host string
}

// Available reports whether port could be bound
func (p BindProber) Available(port int) bool {
	host := p.Host
	if host == "" {
		host = "127.0.0.1"
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
