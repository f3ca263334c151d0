// cli/poll.go
package cli

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/jeremymoreau/covid19mtl/services"
	"github.com/jeremymoreau/covid19mtl/utils"
)

// poll repeats the auto cycle every interval until every family has
// committed the expected date, maxAttempts cycles have run (0 is no limit)
// or ctx is cancelled. It returns the error of the last cycle.
func poll(ctx context.Context, e *env, opts services.RunOptions, interval time.Duration, maxAttempts int) error {
	scheduler := gocron.NewScheduler(e.cfg.Location())
	scheduler.SingletonModeAll()

	var (
		mu       sync.Mutex
		lastErr  error
		attempts int
		upToDate bool
		once     sync.Once
	)
	done := make(chan struct{})
	stop := func() { once.Do(func() { close(done) }) }

	e.logger.Info("[poll] checking every %s", interval)
	_, err := scheduler.Every(interval).Do(func() {
		report, err := e.pipeline.Run(ctx, opts)
		logReport(e.logger, report)

		mu.Lock()
		defer mu.Unlock()
		attempts++
		lastErr = err
		if errors.Is(err, utils.ErrLocked) {
			e.logger.Warn("[poll] %v, retrying in %s", err, interval)
		}
		switch {
		case report != nil && report.Done():
			upToDate = true
			stop()
		case maxAttempts > 0 && attempts >= maxAttempts:
			stop()
		}
	})
	if err != nil {
		return err
	}

	scheduler.StartAsync()
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Info("[poll] interrupted")
	}
	scheduler.Stop()

	mu.Lock()
	defer mu.Unlock()
	switch {
	case upToDate:
		e.logger.Info("[poll] every family is up to date")
	case ctx.Err() == nil:
		e.logger.Warn("[poll] giving up after %d attempts", attempts)
	}
	return lastErr
}
