package replica

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration returns the time from now until expr next fires. Returns
// 0 on parse error.
func nextCronDuration(expr string, now time.Time) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Schedules names when each job runs. An empty expression disables the job.
type Schedules struct {
	Sync   string
	Expiry string
}

// Run drives the poller and sweeper on their schedules until ctx is done.
// Either job may be nil.
func Run(ctx context.Context, sched Schedules, poller *Poller, sweeper *Sweeper) {
	var syncTimer, expiryTimer *time.Timer
	if poller != nil && sched.Sync != "" {
		if d := nextCronDuration(sched.Sync, time.Now()); d > 0 {
			syncTimer = time.NewTimer(d)
		}
	}
	if sweeper != nil && sched.Expiry != "" {
		if d := nextCronDuration(sched.Expiry, time.Now()); d > 0 {
			expiryTimer = time.NewTimer(d)
		}
	}
	if syncTimer == nil && expiryTimer == nil {
		log.Printf("replica: no jobs scheduled")
		return
	}
	defer func() {
		if syncTimer != nil {
			syncTimer.Stop()
		}
		if expiryTimer != nil {
			expiryTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timerChan(syncTimer):
			if n, err := poller.Poll(ctx); err != nil {
				log.Printf("replica: %v", err)
			} else if n > 0 {
				log.Printf("replica: delivered %d room(s)", n)
			}
			if d := nextCronDuration(sched.Sync, time.Now()); d > 0 {
				syncTimer.Reset(d)
			}
		case <-timerChan(expiryTimer):
			if res, err := sweeper.Sweep(ctx); err != nil {
				log.Printf("replica: %v", err)
			} else if res.Expired > 0 || res.Abandoned > 0 || res.Settled > 0 {
				log.Printf("replica: sweep done [expired=%d abandoned=%d settled=%d]", res.Expired, res.Abandoned, res.Settled)
			}
			if d := nextCronDuration(sched.Expiry, time.Now()); d > 0 {
				expiryTimer.Reset(d)
			}
		}
	}
}

// timerChan returns t's channel, or nil (blocks forever) when t is nil.
func timerChan(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
