// Package scenario scripts visibility changes over a run: scrolling the
// simulated viewport or setting slot levels directly.
package scenario

import (
	"context"
	"fmt"
	"go.uber.org/zap"
	"math/rand"
	"rtc-soak/applog"
	"rtc-soak/observer"
	"rtc-soak/visibility"
	"time"
)

type Scenario struct {
	Name  string
	Steps []Step
}

type Step interface {
	Run(s *Context) error
	String() string
}

// Context is what steps act on.
type Context struct {
	Ctx      context.Context
	Viewport *observer.Viewport
	// Sink receives levels set directly by a step, bypassing the viewport.
	Sink  observer.Sink
	Slots int
}

type ScrollStep struct {
	Offset int
}

type ScrollByStep struct {
	Delta int
}

type VisibilityStep struct {
	Slot  int
	Level visibility.Level
}

type WaitStep struct {
	Delay time.Duration
}

// RepeatStep runs Steps Times times, or until the context ends when Times is
// zero.
type RepeatStep struct {
	Times int
	Steps []Step
}

// SweepStep scrolls the viewport from its current offset down to the bottom
// and back to the top, Stride pixels at a time.
type SweepStep struct {
	Stride   int
	Interval time.Duration
}

// ChurnStep sets random slots to random levels. Events of zero churns until
// the context ends.
type ChurnStep struct {
	Seed     int64
	Events   int
	Interval time.Duration
}

func RunScenario(s *Context, sc Scenario) error {
	applog.Info("Running scenario", zap.String("scenario", sc.Name), zap.Int("steps", len(sc.Steps)))
	for _, step := range sc.Steps {
		applog.Debug("Running scenario step", zap.Stringer("step", step))
		if err := step.Run(s); err != nil {
			return fmt.Errorf("scenario (%s) step %s failed: %w", sc.Name, step.String(), err)
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (st ScrollStep) String() string { return fmt.Sprintf("ScrollStep{offset=%d}", st.Offset) }

func (st ScrollStep) Run(s *Context) error {
	s.Viewport.ScrollTo(st.Offset)
	return nil
}

func (st ScrollByStep) String() string { return fmt.Sprintf("ScrollByStep{delta=%d}", st.Delta) }

func (st ScrollByStep) Run(s *Context) error {
	s.Viewport.ScrollBy(st.Delta)
	return nil
}

func (st VisibilityStep) String() string {
	return fmt.Sprintf("VisibilityStep{slot=%d level=%s}", st.Slot, st.Level)
}

func (st VisibilityStep) Run(s *Context) error {
	s.Sink(st.Slot, st.Level)
	return nil
}

func (st WaitStep) String() string { return fmt.Sprintf("WaitStep{%s}", st.Delay) }

func (st WaitStep) Run(s *Context) error {
	return sleep(s.Ctx, st.Delay)
}

func (st RepeatStep) String() string {
	return fmt.Sprintf("RepeatStep{times=%d steps=%d}", st.Times, len(st.Steps))
}

func (st RepeatStep) Run(s *Context) error {
	for i := 0; st.Times == 0 || i < st.Times; i++ {
		if err := s.Ctx.Err(); err != nil {
			return err
		}
		for _, step := range st.Steps {
			if err := step.Run(s); err != nil {
				return err
			}
		}
	}
	return nil
}

func (st SweepStep) String() string {
	return fmt.Sprintf("SweepStep{stride=%d interval=%s}", st.Stride, st.Interval)
}

func (st SweepStep) Run(s *Context) error {
	stride := max(st.Stride, 1)
	bottom := s.Viewport.MaxOffset()
	if bottom == 0 {
		// Everything fits, there is nothing to sweep.
		<-s.Ctx.Done()
		return s.Ctx.Err()
	}

	for s.Viewport.Offset() < bottom {
		s.Viewport.ScrollBy(stride)
		if err := sleep(s.Ctx, st.Interval); err != nil {
			return err
		}
	}
	for s.Viewport.Offset() > 0 {
		s.Viewport.ScrollBy(-stride)
		if err := sleep(s.Ctx, st.Interval); err != nil {
			return err
		}
	}
	return nil
}

func (st ChurnStep) String() string {
	return fmt.Sprintf("ChurnStep{seed=%d events=%d interval=%s}", st.Seed, st.Events, st.Interval)
}

func (st ChurnStep) Run(s *Context) error {
	if s.Slots == 0 {
		return nil
	}
	rnd := rand.New(rand.NewSource(st.Seed))
	for i := 0; st.Events == 0 || i < st.Events; i++ {
		if err := s.Ctx.Err(); err != nil {
			return err
		}
		s.Sink(rnd.Intn(s.Slots), visibility.Level(rnd.Intn(3)))
		if err := sleep(s.Ctx, st.Interval); err != nil {
			return err
		}
	}
	return nil
}
