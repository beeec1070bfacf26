package scenario

import (
	"fmt"
	"slices"
	"time"
)

const (
	Static = "static"
	Sweep  = "sweep"
	Churn  = "churn"
)

type Options struct {
	ScrollInterval time.Duration
	ScrollStride   int
	ChurnSeed      int64
}

func Names() []string {
	return []string{Static, Sweep, Churn}
}

func IsKnown(name string) bool {
	return slices.Contains(Names(), name)
}

// Builtin returns the named scenario. Static leaves the initial levels alone
// for the whole run, sweep scrolls the viewport down and up until the run
// ends, churn sets random slot levels until the run ends.
func Builtin(name string, opts Options) (Scenario, error) {
	switch name {
	case Static:
		return Scenario{Name: Static}, nil
	case Sweep:
		return Scenario{
			Name: Sweep,
			Steps: []Step{
				RepeatStep{Steps: []Step{
					SweepStep{Stride: opts.ScrollStride, Interval: opts.ScrollInterval},
				}},
			},
		}, nil
	case Churn:
		return Scenario{
			Name: Churn,
			Steps: []Step{
				ChurnStep{Seed: opts.ChurnSeed, Interval: opts.ScrollInterval},
			},
		}, nil
	default:
		return Scenario{}, fmt.Errorf("unknown scenario %q", name)
	}
}
