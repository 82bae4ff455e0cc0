package tracker

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryan-buckman/noveltracker/internal/model"
)

// MinPollingIntervalMinutes is the minimum allowed interval.
const MinPollingIntervalMinutes = 15

// Poller refreshes online chapter counts in the background when
// POLL_INTERVAL_MINUTES is set above zero.
type Poller struct {
	svc      *Service
	check    time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPoller creates a background poller.
func NewPoller(svc *Service) *Poller {
	return &Poller{
		svc:      svc,
		check:    time.Minute,
		stopChan: make(chan struct{}),
	}
}

// Start begins the polling loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			p.tick()
			select {
			case <-p.stopChan:
				return
			case <-time.After(p.check):
			}
		}
	}()
}

// Stop stops the poller gracefully.
func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}

// tick runs a bulk online refresh when one is due.
func (p *Poller) tick() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	interval, last := p.schedule(ctx)
	if interval <= 0 {
		return
	}
	if !last.IsZero() && p.svc.now().Sub(last) < interval {
		return
	}

	log := p.svc.log.With("component", "poller")
	log.Info("polling online chapters", "interval", interval)
	res, err := p.svc.TryUpdateAll(ctx, model.BulkOptions{OnlineChap: true})
	if errors.Is(err, model.ErrBulkRunning) {
		log.Info("bulk update already running, skipping")
		return
	}
	log.Info("poll finished", "category", res.Status)
}

// schedule reads the configured interval and the time of the last bulk refresh.
func (p *Poller) schedule(ctx context.Context) (time.Duration, time.Time) {
	settings, err := p.svc.store.Settings(ctx)
	if err != nil {
		p.svc.log.Error("poller: load settings", "error", err)
		return 0, time.Time{}
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(settings[model.SettingPollingInterval]))
	if err != nil || minutes <= 0 {
		return 0, time.Time{}
	}
	if minutes < MinPollingIntervalMinutes {
		minutes = MinPollingIntervalMinutes
	}
	last, _ := time.ParseInLocation(timeLayout, settings[model.SettingLastBulkTime], time.Local)
	return time.Duration(minutes) * time.Minute, last
}
