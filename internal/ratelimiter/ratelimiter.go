// Package ratelimiter spaces out summary requests sent to the same model.
package ratelimiter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tldrpost/internal/domain"
	"tldrpost/internal/summarizer"
)

const queueSize = 1000

type request struct {
	ctx      context.Context
	req      domain.SummaryRequest
	response chan response
}

type response struct {
	summary string
	err     error
}

// RateLimiter is a summarizer.Summarizer that delays the start of a request
// until interval has passed since the previous request for the same model.
// Started requests run concurrently.
type RateLimiter struct {
	next     summarizer.Summarizer
	interval time.Duration
	queue    chan request
	lastSent map[string]time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	inflight sync.WaitGroup
	log      *slog.Logger
}

var _ summarizer.Summarizer = (*RateLimiter)(nil)

func New(next summarizer.Summarizer, interval time.Duration, log *slog.Logger) *RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())

	rl := &RateLimiter{
		next:     next,
		interval: max(interval, 0),
		queue:    make(chan request, queueSize),
		lastSent: make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		log:      log,
	}

	go rl.processQueue()

	return rl
}

func (rl *RateLimiter) Summarize(ctx context.Context, req domain.SummaryRequest) (string, error) {
	if err := rl.ctx.Err(); err != nil {
		return "", err
	}

	r := request{
		ctx:      ctx,
		req:      req,
		response: make(chan response, 1),
	}

	select {
	case rl.queue <- r:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-rl.ctx.Done():
		return "", rl.ctx.Err()
	}

	select {
	case resp := <-r.response:
		return resp.summary, resp.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-rl.done:
		return "", rl.ctx.Err()
	}
}

// Stop fails every queued request and waits for started ones to return.
func (rl *RateLimiter) Stop() {
	rl.cancel()
	<-rl.done
	rl.inflight.Wait()
}

func (rl *RateLimiter) processQueue() {
	defer close(rl.done)

	for {
		select {
		case r := <-rl.queue:
			rl.handleRequest(r)
		case <-rl.ctx.Done():
			for {
				select {
				case r := <-rl.queue:
					r.response <- response{err: rl.ctx.Err()}
				default:
					return
				}
			}
		}
	}
}

// handleRequest reserves the next start slot for the request's model and
// waits for it in its own goroutine, so one model's delay never holds back
// another model.
func (rl *RateLimiter) handleRequest(r request) {
	if err := r.ctx.Err(); err != nil {
		r.response <- response{err: err}
		return
	}

	now := time.Now()
	startAt := now
	if lastSent, ok := rl.lastSent[r.req.Model]; ok {
		startAt = later(now, lastSent.Add(rl.interval))
	}
	rl.lastSent[r.req.Model] = startAt

	delay := startAt.Sub(now)
	if delay > 0 {
		rl.log.DebugContext(r.ctx, "Rate limiting summary request",
			"model", r.req.Model,
			"delay", delay,
			"queueLen", len(rl.queue))
	}

	rl.inflight.Go(func() {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()

			select {
			case <-timer.C:
			case <-r.ctx.Done():
				r.response <- response{err: r.ctx.Err()}
				return
			case <-rl.ctx.Done():
				r.response <- response{err: rl.ctx.Err()}
				return
			}
		}

		summary, err := rl.next.Summarize(r.ctx, r.req)
		r.response <- response{summary: summary, err: err}
	})
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}

	return a
}
