// Package discovery finds content blocks in the live document, claims each
// of them once and drives its summary through the annotator.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tldrpost/internal/annotate"
	"tldrpost/internal/domain"
	"tldrpost/internal/extract"
	"tldrpost/internal/metrics"
	"tldrpost/internal/page"
	"tldrpost/internal/summarizer"
)

var ErrLoopStopped = errors.New("discovery loop is stopped")

type Registry interface {
	Ready() bool
	Active() string
	Models() []string
	Select(ctx context.Context, model string) error
}

type Snapshot struct {
	Active  bool                 `json:"active"`
	Claimed int                  `json:"claimed"`
	Blocks  []domain.BlockStatus `json:"blocks"`
}

type opKind int

const (
	opMutate opKind = iota
	opChangeModel
	opRender
	opSnapshot
)

type request struct {
	op      opKind
	batch   page.Batch
	blockID domain.BlockID
	model   string
	reply   chan reply
}

type reply struct {
	html     string
	snapshot Snapshot
	err      error
}

type completion struct {
	ann        *annotate.Annotation
	generation uint64
	model      string
	summary    string
	err        error
	elapsed    time.Duration
}

// Loop owns the document, the claimed set and every annotation. All of them
// are touched from the Run goroutine only; summaries run elsewhere and report
// back through completions.
type Loop struct {
	doc        *page.Document
	registry   Registry
	summarizer summarizer.Summarizer
	annotator  *annotate.Annotator
	active     bool
	claims     Claims
	log        *slog.Logger

	requests    chan request
	completions chan completion
	done        chan struct{}
	inflight    sync.WaitGroup
}

func New(
	doc *page.Document,
	registry Registry,
	s summarizer.Summarizer,
	detailPathMarker string,
	log *slog.Logger,
) *Loop {
	return &Loop{
		doc:         doc,
		registry:    registry,
		summarizer:  s,
		annotator:   annotate.New(registry),
		active:      registry.Ready() && doc.IsDetailView(detailPathMarker),
		claims:      make(Claims),
		log:         log,
		requests:    make(chan request),
		completions: make(chan completion),
		done:        make(chan struct{}),
	}
}

// Active reports whether the loop claims blocks at all. An inactive loop
// still applies mutations so the page can be served.
func (l *Loop) Active() bool {
	return l.active
}

// Run processes mutations, model changes and completions until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		close(l.done)
		l.inflight.Wait()
	}()

	l.log.InfoContext(ctx, "Discovery loop is started",
		"active", l.active,
		"pageURL", l.doc.URL().String())

	l.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			l.log.InfoContext(ctx, "Discovery loop is stopped",
				"error", ctx.Err(),
				"claimed", len(l.claims))
			return ctx.Err()
		case req := <-l.requests:
			req.reply <- l.handle(ctx, req)
		case c := <-l.completions:
			l.complete(ctx, c)
		}
	}
}

// Mutate applies batch to the document and claims any new blocks.
func (l *Loop) Mutate(ctx context.Context, batch page.Batch) error {
	return l.do(ctx, request{op: opMutate, batch: batch}).err
}

// ChangeModel selects model and re-summarizes the given block only.
func (l *Loop) ChangeModel(ctx context.Context, id domain.BlockID, model string) error {
	return l.do(ctx, request{op: opChangeModel, blockID: id, model: model}).err
}

func (l *Loop) Render(ctx context.Context) (string, error) {
	r := l.do(ctx, request{op: opRender})
	return r.html, r.err
}

func (l *Loop) Snapshot(ctx context.Context) (Snapshot, error) {
	r := l.do(ctx, request{op: opSnapshot})
	return r.snapshot, r.err
}

func (l *Loop) do(ctx context.Context, req request) reply {
	req.reply = make(chan reply, 1)

	select {
	case l.requests <- req:
	case <-l.done:
		return reply{err: ErrLoopStopped}
	case <-ctx.Done():
		return reply{err: ctx.Err()}
	}

	select {
	case r := <-req.reply:
		return r
	case <-ctx.Done():
		return reply{err: ctx.Err()}
	}
}

func (l *Loop) handle(ctx context.Context, req request) reply {
	switch req.op {
	case opMutate:
		return reply{err: l.mutate(ctx, req.batch)}
	case opChangeModel:
		return reply{err: l.changeModel(ctx, req.blockID, req.model)}
	case opRender:
		html, err := l.doc.Render()
		if err != nil {
			return reply{err: fmt.Errorf("render document: %w", err)}
		}
		return reply{html: html}
	case opSnapshot:
		return reply{snapshot: Snapshot{
			Active:  l.active,
			Claimed: len(l.claims),
			Blocks:  l.annotator.Snapshot(),
		}}
	default:
		return reply{err: fmt.Errorf("unknown request op %d", req.op)}
	}
}

func (l *Loop) mutate(ctx context.Context, batch page.Batch) error {
	applyErr := l.doc.Apply(batch)
	if applyErr != nil {
		metrics.MutationBatchesTotal.WithLabelValues("error").Inc()
		l.log.WarnContext(ctx, "Failed to apply mutation batch",
			"error", applyErr,
			"mutations", len(batch))
	} else {
		metrics.MutationBatchesTotal.WithLabelValues("ok").Inc()
	}

	// Part of the batch may have landed, so scan either way.
	l.scan(ctx)

	return applyErr
}

func (l *Loop) scan(ctx context.Context) {
	if !l.active {
		return
	}

	var fresh []page.Match
	l.claims, fresh = Claim(l.claims, l.doc.Scan())

	for _, m := range fresh {
		metrics.BlocksClaimedTotal.Inc()
		l.process(ctx, m)
	}
}

func (l *Loop) process(ctx context.Context, m page.Match) {
	text := extract.Text(m.Block)
	if text == "" {
		metrics.BlocksSkippedTotal.Inc()
		l.log.DebugContext(ctx, "Skipping block without text",
			"blockID", m.ID)
		return
	}

	ann := l.annotator.Ensure(m.ID, m.Block)
	l.dispatch(ctx, ann, l.registry.Active(), text)
}

func (l *Loop) changeModel(ctx context.Context, id domain.BlockID, model string) error {
	if !l.active {
		return domain.ErrFeatureDisabled
	}

	ann, ok := l.annotator.Get(id)
	if !ok {
		return fmt.Errorf("block %d: %w", id, domain.ErrUnknownBlock)
	}

	if err := l.registry.Select(ctx, model); err != nil {
		return fmt.Errorf("select model: %w", err)
	}

	text := ""
	if block, found := l.doc.Block(id); found {
		text = extract.Text(block)
	}

	// The annotation keeps showing its last state.
	if text == "" {
		metrics.BlocksSkippedTotal.Inc()
		l.log.InfoContext(ctx, "Block has no text left so no request is sent",
			"blockID", id,
			"model", model)

		return fmt.Errorf("block %d: %w", id, domain.ErrNothingToSummarize)
	}

	l.log.InfoContext(ctx, "Model is changed for block",
		"blockID", id,
		"model", model,
		"previousModel", ann.Model,
		"textLen", len(text))

	l.dispatch(ctx, ann, model, text)

	return nil
}

func (l *Loop) dispatch(ctx context.Context, ann *annotate.Annotation, model string, text string) {
	generation := l.annotator.Begin(ann, model)
	req := domain.SummaryRequest{Model: model, Text: text}

	l.inflight.Go(func() {
		start := time.Now()
		summary, err := l.summarizer.Summarize(ctx, req)

		select {
		case l.completions <- completion{
			ann:        ann,
			generation: generation,
			model:      model,
			summary:    summary,
			err:        err,
			elapsed:    time.Since(start),
		}:
		case <-ctx.Done():
		}
	})
}

func (l *Loop) complete(ctx context.Context, c completion) {
	metrics.SummaryDuration.WithLabelValues(c.model).Observe(c.elapsed.Seconds())

	if !l.annotator.Complete(c.ann, c.generation, c.summary, c.err) {
		metrics.SummariesTotal.WithLabelValues(c.model, metrics.StatusStale).Inc()
		l.log.InfoContext(ctx, "Dropping superseded summary",
			"blockID", c.ann.ID,
			"model", c.model,
			"generation", c.generation)
		return
	}

	if c.err == nil {
		metrics.SummariesTotal.WithLabelValues(c.model, metrics.StatusResult).Inc()
		return
	}

	status := domain.KindServiceUnavailable.String()
	var se *domain.SummaryError
	if errors.As(c.err, &se) {
		status = se.Kind.String()
	}

	metrics.SummariesTotal.WithLabelValues(c.model, status).Inc()
	l.log.ErrorContext(ctx, "Failed to summarize block",
		"error", c.err,
		"blockID", c.ann.ID,
		"model", c.model,
		"kind", status,
		"elapsedSeconds", c.elapsed.Seconds())
}
