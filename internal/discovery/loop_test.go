package discovery_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tldrpost/internal/discovery"
	"tldrpost/internal/domain"
	"tldrpost/internal/page"
)

const (
	detailURL = "https://www.reddit.com/r/golang/comments/abc/title/"
	waitFor   = 2 * time.Second
	tick      = 5 * time.Millisecond
)

var selectors = page.Selectors{Block: "shreddit-post-text-body", Feed: "shreddit-feed"}

type fakeRegistry struct {
	mu     sync.Mutex
	models []string
	active string
}

func (r *fakeRegistry) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.models) > 0
}

func (r *fakeRegistry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *fakeRegistry) Models() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.models...)
}

func (r *fakeRegistry) Select(_ context.Context, model string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.models {
		if m == model {
			r.active = model
			return nil
		}
	}
	return domain.ErrUnknownModel
}

// recordingSummarizer answers "<model>: <text>" unless the text contains a
// configured failure trigger. A non-nil gate blocks calls for that model
// until it is closed.
type recordingSummarizer struct {
	mu    sync.Mutex
	calls []domain.SummaryRequest
	fail  map[string]error
	gates map[string]chan struct{}
}

func (s *recordingSummarizer) Summarize(ctx context.Context, req domain.SummaryRequest) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	gate := s.gates[req.Model]
	var failure error
	for trigger, err := range s.fail {
		if strings.Contains(req.Text, trigger) {
			failure = err
		}
	}
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if failure != nil {
		return "", failure
	}

	return req.Model + ": " + req.Text, nil
}

func (s *recordingSummarizer) setFailures(fail map[string]error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *recordingSummarizer) lastRequest() domain.SummaryRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

func (s *recordingSummarizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func startLoop(t *testing.T, rawURL string, markup string, reg *fakeRegistry, s *recordingSummarizer) *discovery.Loop {
	t.Helper()

	doc, err := page.FromString(rawURL, markup, selectors)
	require.NoError(t, err)

	loop := discovery.New(doc, reg, s, "/comments/", slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(waitFor):
			t.Errorf("loop did not stop")
		}
	})

	return loop
}

func newRegistry() *fakeRegistry {
	return &fakeRegistry{models: []string{"llama3", "qwen"}, active: "llama3"}
}

func snapshot(t *testing.T, loop *discovery.Loop) discovery.Snapshot {
	t.Helper()

	snap, err := loop.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func settled(t *testing.T, loop *discovery.Loop, want int) func() bool {
	return func() bool {
		snap := snapshot(t, loop)
		if len(snap.Blocks) != want {
			return false
		}
		for _, b := range snap.Blocks {
			if b.State == domain.StateLoading.String() {
				return false
			}
		}
		return true
	}
}

const basePage = `<html><body><main id="main">` +
	`<shreddit-post-text-body id="post"><p>Post body</p><ul><li>point</li></ul></shreddit-post-text-body>` +
	`</main></body></html>`

func TestRepeatedBatchesClaimOnce(t *testing.T) {
	reg := newRegistry()
	s := &recordingSummarizer{}
	loop := startLoop(t, detailURL, basePage, reg, s)
	ctx := context.Background()

	require.NoError(t, loop.Mutate(ctx, page.Batch{{
		Op:     page.OpAppend,
		Target: "#main",
		HTML:   `<shreddit-post-text-body id="late"><p>Late body</p></shreddit-post-text-body>`,
	}}))

	for range 5 {
		require.NoError(t, loop.Mutate(ctx, nil))
	}

	require.Eventually(t, settled(t, loop, 2), waitFor, tick)

	snap := snapshot(t, loop)
	assert.True(t, snap.Active)
	assert.Equal(t, 2, snap.Claimed)
	assert.Equal(t, 2, s.callCount())

	for _, b := range snap.Blocks {
		assert.Equal(t, domain.StateResult.String(), b.State)
		assert.Equal(t, "llama3", b.Model)
	}

	html, err := loop.Render(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(html, `class="tm-ollama-summary"`))
	assert.Contains(t, html, "llama3: Post body<br/>point")
}

func TestFeedBlocksAreNeverClaimed(t *testing.T) {
	markup := `<html><body><main id="main"><shreddit-feed id="feed">` +
		`<shreddit-post-text-body><p>in feed</p></shreddit-post-text-body>` +
		`</shreddit-feed></main></body></html>`

	s := &recordingSummarizer{}
	loop := startLoop(t, detailURL, markup, newRegistry(), s)
	ctx := context.Background()

	require.NoError(t, loop.Mutate(ctx, page.Batch{{
		Op:     page.OpAppend,
		Target: "#feed",
		HTML:   `<shreddit-post-text-body><p>later in feed</p></shreddit-post-text-body>`,
	}}))

	snap := snapshot(t, loop)
	assert.Equal(t, 0, snap.Claimed)
	assert.Empty(t, snap.Blocks)
	assert.Equal(t, 0, s.callCount())
}

func TestEmptyBlockIsClaimedWithoutAnnotation(t *testing.T) {
	markup := `<html><body><main id="main">` +
		`<shreddit-post-text-body id="empty"><div>no paragraphs here</div></shreddit-post-text-body>` +
		`</main></body></html>`

	s := &recordingSummarizer{}
	loop := startLoop(t, detailURL, markup, newRegistry(), s)
	ctx := context.Background()

	require.NoError(t, loop.Mutate(ctx, nil))

	snap := snapshot(t, loop)
	assert.Equal(t, 1, snap.Claimed)
	assert.Empty(t, snap.Blocks)
	assert.Equal(t, 0, s.callCount())

	html, err := loop.Render(ctx)
	require.NoError(t, err)
	assert.NotContains(t, html, "tm-ollama-summary")
}

func TestFailuresAreUniformAndLocal(t *testing.T) {
	markup := `<html><body><main id="main">` +
		`<shreddit-post-text-body><p>fine</p></shreddit-post-text-body>` +
		`<shreddit-post-text-body><p>trigger-status</p></shreddit-post-text-body>` +
		`<shreddit-post-text-body><p>trigger-malformed</p></shreddit-post-text-body>` +
		`</main></body></html>`

	s := &recordingSummarizer{fail: map[string]error{
		"trigger-status":    &domain.SummaryError{Kind: domain.KindServiceUnavailable, Detail: "status"},
		"trigger-malformed": &domain.SummaryError{Kind: domain.KindMalformedResponse, Detail: "missing_field"},
	}}
	loop := startLoop(t, detailURL, markup, newRegistry(), s)

	require.Eventually(t, settled(t, loop, 3), waitFor, tick)

	snap := snapshot(t, loop)
	require.Len(t, snap.Blocks, 3)

	byState := map[string][]domain.BlockStatus{}
	for _, b := range snap.Blocks {
		byState[b.State] = append(byState[b.State], b)
	}

	require.Len(t, byState[domain.StateResult.String()], 1)
	assert.Equal(t, "llama3: fine", byState[domain.StateResult.String()][0].Text)

	failed := byState[domain.StateError.String()]
	require.Len(t, failed, 2)
	assert.Equal(t, domain.UserFailureMessage, failed[0].Text)
	assert.Equal(t, failed[0].Text, failed[1].Text)
}

func TestModelChangeReusesAnnotation(t *testing.T) {
	reg := newRegistry()
	s := &recordingSummarizer{}
	loop := startLoop(t, detailURL, basePage, reg, s)
	ctx := context.Background()

	require.Eventually(t, settled(t, loop, 1), waitFor, tick)
	id := snapshot(t, loop).Blocks[0].ID

	require.NoError(t, loop.ChangeModel(ctx, id, "qwen"))
	require.Eventually(t, settled(t, loop, 1), waitFor, tick)

	snap := snapshot(t, loop)
	require.Len(t, snap.Blocks, 1)
	assert.Equal(t, "qwen", snap.Blocks[0].Model)
	assert.Equal(t, "qwen: Post body\npoint", snap.Blocks[0].Text)
	assert.Equal(t, "qwen", reg.Active())
	assert.Equal(t, 2, s.callCount())

	html, err := loop.Render(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(html, `class="tm-ollama-summary"`))
	assert.Contains(t, html, `<option value="qwen" selected="selected">`)
}

func TestModelChangeOnEmptiedBlockSendsNothing(t *testing.T) {
	reg := newRegistry()
	s := &recordingSummarizer{}
	loop := startLoop(t, detailURL, basePage, reg, s)
	ctx := context.Background()

	require.Eventually(t, settled(t, loop, 1), waitFor, tick)
	before := snapshot(t, loop).Blocks[0]

	require.NoError(t, loop.Mutate(ctx, page.Batch{{
		Op:     page.OpSet,
		Target: "#post",
		HTML:   "<div>edited away</div>",
	}}))

	err := loop.ChangeModel(ctx, before.ID, "qwen")
	require.ErrorIs(t, err, domain.ErrNothingToSummarize)

	assert.Equal(t, 1, s.callCount())
	assert.Equal(t, "Post body\npoint", s.lastRequest().Text)

	after := snapshot(t, loop).Blocks[0]
	assert.Equal(t, before, after)
}

func TestSameModelRetriesAfterError(t *testing.T) {
	reg := newRegistry()
	s := &recordingSummarizer{fail: map[string]error{
		"Post body": &domain.SummaryError{Kind: domain.KindServiceUnavailable, Detail: "connection"},
	}}
	loop := startLoop(t, detailURL, basePage, reg, s)
	ctx := context.Background()

	require.Eventually(t, settled(t, loop, 1), waitFor, tick)
	failed := snapshot(t, loop).Blocks[0]
	require.Equal(t, domain.StateError.String(), failed.State)

	s.setFailures(nil)
	require.NoError(t, loop.ChangeModel(ctx, failed.ID, "llama3"))
	require.Eventually(t, settled(t, loop, 1), waitFor, tick)

	snap := snapshot(t, loop)
	require.Len(t, snap.Blocks, 1)
	assert.Equal(t, failed.ID, snap.Blocks[0].ID)
	assert.Equal(t, domain.StateResult.String(), snap.Blocks[0].State)
	assert.Equal(t, "llama3: Post body\npoint", snap.Blocks[0].Text)
	assert.Equal(t, 2, s.callCount())

	html, err := loop.Render(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(html, `class="tm-ollama-summary"`))
}

func TestModelChangeRejectsUnknownInput(t *testing.T) {
	loop := startLoop(t, detailURL, basePage, newRegistry(), &recordingSummarizer{})
	ctx := context.Background()

	require.Eventually(t, settled(t, loop, 1), waitFor, tick)
	id := snapshot(t, loop).Blocks[0].ID

	assert.ErrorIs(t, loop.ChangeModel(ctx, id, "nope"), domain.ErrUnknownModel)
	assert.ErrorIs(t, loop.ChangeModel(ctx, id+100, "qwen"), domain.ErrUnknownBlock)
}

func TestStaleCompletionIsDropped(t *testing.T) {
	reg := newRegistry()
	slow := make(chan struct{})
	s := &recordingSummarizer{gates: map[string]chan struct{}{"llama3": slow}}
	loop := startLoop(t, detailURL, basePage, reg, s)
	ctx := context.Background()

	require.Eventually(t, func() bool { return s.callCount() == 1 }, waitFor, tick)
	id := snapshot(t, loop).Blocks[0].ID

	require.NoError(t, loop.ChangeModel(ctx, id, "qwen"))
	require.Eventually(t, settled(t, loop, 1), waitFor, tick)

	close(slow)
	// The slow llama3 answer arrives after the qwen one and must not win.
	require.Never(t, func() bool {
		return snapshot(t, loop).Blocks[0].Model != "qwen" ||
			snapshot(t, loop).Blocks[0].Text != "qwen: Post body\npoint"
	}, 100*time.Millisecond, tick)
}

func TestInactiveOutsideDetailView(t *testing.T) {
	s := &recordingSummarizer{}
	loop := startLoop(t, "https://www.reddit.com/r/golang/", basePage, newRegistry(), s)
	ctx := context.Background()

	require.NoError(t, loop.Mutate(ctx, nil))

	snap := snapshot(t, loop)
	assert.False(t, snap.Active)
	assert.Equal(t, 0, snap.Claimed)
	assert.Equal(t, 0, s.callCount())
	assert.ErrorIs(t, loop.ChangeModel(ctx, 1, "qwen"), domain.ErrFeatureDisabled)
}

func TestInactiveWithoutModels(t *testing.T) {
	s := &recordingSummarizer{}
	loop := startLoop(t, detailURL, basePage, &fakeRegistry{}, s)

	snap := snapshot(t, loop)
	assert.False(t, snap.Active)
	assert.Equal(t, 0, s.callCount())
}

func TestMutateReportsBadBatchButKeepsGoodPart(t *testing.T) {
	s := &recordingSummarizer{}
	loop := startLoop(t, detailURL, `<html><body><main id="main"></main></body></html>`, newRegistry(), s)
	ctx := context.Background()

	err := loop.Mutate(ctx, page.Batch{
		{Op: page.OpAppend, Target: "#main", HTML: `<shreddit-post-text-body><p>ok</p></shreddit-post-text-body>`},
		{Op: page.OpAppend, Target: "#missing", HTML: `<p>x</p>`},
	})
	require.Error(t, err)

	require.Eventually(t, settled(t, loop, 1), waitFor, tick)
	assert.Equal(t, 1, snapshot(t, loop).Claimed)
}

func TestRequestsAfterStopFail(t *testing.T) {
	doc, err := page.FromString(detailURL, basePage, selectors)
	require.NoError(t, err)

	loop := discovery.New(doc, newRegistry(), &recordingSummarizer{}, "/comments/", slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	_, err = loop.Snapshot(context.Background())
	assert.True(t, errors.Is(err, discovery.ErrLoopStopped))
}
