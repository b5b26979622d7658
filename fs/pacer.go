// Pacer with logging and calculator

package fs

import (
	"context"
	"time"

	"github.com/dco3go/dco3/fs/fserrors"
	"github.com/dco3go/dco3/lib/pacer"
)

// Pacer is a simple wrapper around a pacer.Pacer with logging.
type Pacer struct {
	*pacer.Pacer
	name string
}

type logCalculator struct {
	pacer.Calculator
	name string
}

// NewPacer creates a Pacer named name for the given Calculator.
//
// The number of attempts defaults to ci.LowLevelRetries and can be
// changed with SetRetries.
func NewPacer(ctx context.Context, name string, c pacer.Calculator) *Pacer {
	ci := GetConfig(ctx)
	retries := ci.LowLevelRetries
	if retries <= 0 {
		retries = 1
	}
	p := &Pacer{name: name}
	p.Pacer = pacer.New(
		pacer.InvokerOption(p.invoke),
		pacer.RetriesOption(retries),
	)
	p.SetCalculator(c)
	return p
}

func (d *logCalculator) Calculate(state pacer.State) time.Duration {
	oldSleepTime := state.SleepTime
	newSleepTime := d.Calculator.Calculate(state)
	if newSleepTime != oldSleepTime {
		if state.ConsecutiveRetries > 0 {
			Debugf(d.name, "Retrying, increasing sleep to %v", newSleepTime)
		} else {
			Debugf(d.name, "Reducing sleep to %v", newSleepTime)
		}
	}
	return newSleepTime
}

// SetCalculator sets the pacing algorithm. Don't modify the Calculator object
// afterwards, use the ModifyCalculator method when needed.
//
// It will choose the default algorithm if nil is passed in.
func (p *Pacer) SetCalculator(c pacer.Calculator) {
	switch c.(type) {
	case *logCalculator:
		Logf(p.name, "Invalid Calculator in fs.Pacer.SetCalculator")
	case nil:
		c = &logCalculator{Calculator: pacer.NewDefault(), name: p.name}
	default:
		c = &logCalculator{Calculator: c, name: p.name}
	}
	p.Pacer.SetCalculator(c)
}

// ModifyCalculator calls the given function with the currently configured
// Calculator and the Pacer lock held.
func (p *Pacer) ModifyCalculator(f func(pacer.Calculator)) {
	p.Pacer.ModifyCalculator(func(c pacer.Calculator) {
		switch _c := c.(type) {
		case *logCalculator:
			f(_c.Calculator)
		default:
			Logf(p.name, "Invalid Calculator in fs.Pacer: %T", c)
			f(c)
		}
	})
}

func (p *Pacer) invoke(try, retries int, f pacer.Paced) (retry bool, err error) {
	retry, err = f()
	if retry {
		Debugf(p.name, "low level retry %d/%d (error %v)", try, retries, err)
		err = fserrors.RetryError(err)
	}
	return
}
