// Package poll runs a function immediately and then on a fixed interval,
// owned by whoever started it. Stopping the poller cancels the context handed
// to the running function and prevents any further ticks.
package poll

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "portalcal/internal/log"
)

// Func is one poll tick. ctx is canceled when the poller is stopped.
type Func func(ctx context.Context)

// Options configures a Poller.
type Options struct {
	// Name is used in log lines.
	Name string
	// Interval between tick starts. cron rounds it down to whole seconds
	// with a one-second minimum.
	Interval time.Duration
	// SkipImmediate suppresses the initial run at start.
	SkipImmediate bool
}

// Poller is a running poll loop. The zero value is not usable; create one
// with SchedulePolling.
type Poller struct {
	name   string
	cron   *cron.Cron
	cancel context.CancelFunc

	stopOnce sync.Once
	runMu    sync.Mutex // held for the duration of a tick
	stopped  chan struct{}
}

// SchedulePolling starts fn right away (unless opts.SkipImmediate) and then
// every opts.Interval until Stop is called or parent is canceled. Ticks never
// overlap: a tick that comes due while the previous run is still in flight
// is skipped.
func SchedulePolling(parent context.Context, opts Options, fn Func) (*Poller, error) {
	if fn == nil {
		return nil, errors.New("poll: nil func")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("poll: interval must be > 0")
	}
	if opts.Name == "" {
		opts.Name = "poller"
	}

	ctx, cancel := context.WithCancel(parent)
	logger := cronLogger{name: opts.Name}
	p := &Poller{
		name:    opts.Name,
		cancel:  cancel,
		stopped: make(chan struct{}),
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
	}

	job := cron.NewChain(cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(func() {
		p.runMu.Lock()
		defer p.runMu.Unlock()
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	}))

	p.cron.Schedule(cron.Every(opts.Interval), job)
	p.cron.Start()

	if !opts.SkipImmediate {
		go job.Run()
	}

	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-p.stopped:
		}
	}()

	appLog.Info("poller started", "name", opts.Name, "interval", opts.Interval.String())
	return p, nil
}

// Stop cancels the running tick's context and stops the timer. It returns a
// context that is done once the in-flight tick (if any) has returned. Safe to
// call more than once.
func (p *Poller) Stop() context.Context {
	var done context.Context
	p.stopOnce.Do(func() {
		close(p.stopped)
		p.cancel()
		cronDone := p.cron.Stop()

		ctx, markDone := context.WithCancel(context.Background())
		go func() {
			<-cronDone.Done()
			p.runMu.Lock()
			p.runMu.Unlock()
			markDone()
		}()
		done = ctx
		appLog.Info("poller stopped", "name", p.name)
	})
	if done == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return done
}

// cronLogger routes cron's internal logging to the application logger.
type cronLogger struct {
	name string
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, append([]any{"poller", l.name}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, append([]any{"poller", l.name}, keysAndValues...)...)
}
