// Package schedule grants media files different levels of parallelism based
// on their size class. Small files share the full worker budget, medium
// files half of it, large files run alone and additionally drain the global
// pool to approximate exclusivity, and videos are always strictly serial.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/dodogabrie/space-media-optimizer/optimizer/config"
	"github.com/dodogabrie/space-media-optimizer/optimizer/discover"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Class is a concurrency class. Video is its own class regardless of size.
type Class string

const (
	ClassSmall  Class = "small"
	ClassMedium Class = "medium"
	ClassLarge  Class = "large"
	ClassVideo  Class = "video"
)

// Classify buckets a discovered file into its concurrency class.
func Classify(f discover.File, limits config.Limits) Class {
	if f.Kind == discover.KindVideo {
		return ClassVideo
	}
	switch {
	case f.Size < limits.SmallMaxBytes:
		return ClassSmall
	case f.Size < limits.MediumMaxBytes:
		return ClassMedium
	default:
		return ClassLarge
	}
}

// Timeout returns the processing deadline for this class.
func (c Class) Timeout(limits config.Limits) time.Duration {
	switch c {
	case ClassVideo:
		return limits.VideoTimeout
	case ClassLarge:
		return limits.LargeTimeout
	case ClassMedium:
		return limits.MediumTimeout
	default:
		return limits.SmallTimeout
	}
}

// Permit is the capability to occupy one concurrency slot. Ownership belongs
// to the task that acquired it; Release is idempotent and frees everything
// the acquisition took, including drained global permits.
type Permit struct {
	class   Class
	drained int64
	release func()
	once    sync.Once
}

// Class returns the concurrency class this permit was granted for.
func (p *Permit) Class() Class { return p.class }

// Drained returns how many global permits a large-file acquisition took.
func (p *Permit) Drained() int64 { return p.drained }

// Release frees the permit. Safe to call more than once; tasks defer it so
// the slot is returned regardless of success, failure or cancellation.
func (p *Permit) Release() {
	p.once.Do(p.release)
}

// Scheduler owns the per-class permit pools for one run.
type Scheduler struct {
	budget  int64
	small   *semaphore.Weighted
	medium  *semaphore.Weighted
	large   *semaphore.Weighted
	video   *semaphore.Weighted
	global  *semaphore.Weighted
	asserts *assert.AssertHandler
	logger  zerolog.Logger
}

// New builds a scheduler for a total worker budget.
func New(workers int, asserts *assert.AssertHandler, logger zerolog.Logger) *Scheduler {
	budget := int64(workers)
	s := &Scheduler{
		budget:  budget,
		small:   semaphore.NewWeighted(budget),
		medium:  semaphore.NewWeighted(mediumCapacity(budget)),
		large:   semaphore.NewWeighted(1),
		video:   semaphore.NewWeighted(1),
		global:  semaphore.NewWeighted(budget),
		asserts: asserts,
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}
	s.logger.Debug().
		Int64("small", budget).
		Int64("medium", mediumCapacity(budget)).
		Int64("large", 1).
		Int64("video", 1).
		Msg("concurrency configuration")
	return s
}

func mediumCapacity(budget int64) int64 {
	capacity := budget / 2
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}

// Capacity returns the maximum concurrency for a class.
func (s *Scheduler) Capacity(class Class) int64 {
	switch class {
	case ClassSmall:
		return s.budget
	case ClassMedium:
		return mediumCapacity(s.budget)
	default:
		return 1
	}
}

// Acquire blocks until the class has a free slot and returns the permit.
// It never fails under normal operation; the only error is a cancelled or
// expired context.
//
// Large acquisitions also drain all currently-available global permits so
// that a large file blocks as much new work as there is headroom. Tasks
// already holding permits are not interrupted: this is best-effort soft
// exclusivity, not a strict global lock.
func (s *Scheduler) Acquire(ctx context.Context, class Class) (*Permit, error) {
	switch class {
	case ClassVideo:
		if err := s.video.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		return s.permitFor(class, s.video, 0), nil
	case ClassSmall:
		if err := s.acquireWithGlobal(ctx, s.small); err != nil {
			return nil, err
		}
		return s.permitFor(class, s.small, 1), nil
	case ClassMedium:
		if err := s.acquireWithGlobal(ctx, s.medium); err != nil {
			return nil, err
		}
		return s.permitFor(class, s.medium, 1), nil
	default: // ClassLarge
		if err := s.large.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		var drained int64
		for s.global.TryAcquire(1) {
			drained++
		}
		s.asserts.Assert(ctx, drained <= s.budget, "drained more global permits than the worker budget")
		if drained > 0 {
			s.logger.Debug().Int64("blocked_slots", drained).Msg("exclusive window for large file")
		}
		permit := &Permit{class: class, drained: drained}
		permit.release = func() {
			if drained > 0 {
				s.global.Release(drained)
			}
			s.large.Release(1)
		}
		return permit, nil
	}
}

// acquireWithGlobal takes one class permit plus one global permit, in that
// order. The global pool is what large files drain to starve new work.
func (s *Scheduler) acquireWithGlobal(ctx context.Context, class *semaphore.Weighted) error {
	if err := class.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := s.global.Acquire(ctx, 1); err != nil {
		class.Release(1)
		return err
	}
	return nil
}

func (s *Scheduler) permitFor(class Class, sem *semaphore.Weighted, globals int64) *Permit {
	return &Permit{
		class: class,
		release: func() {
			if globals > 0 {
				s.global.Release(globals)
			}
			sem.Release(1)
		},
	}
}
