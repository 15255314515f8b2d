// Package page holds the live HTML document being augmented.
package page

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"tldrpost/internal/domain"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"

	fetchTimeout = 20 * time.Second
)

var ErrInvalidMutation = errors.New("invalid mutation")

type Selectors struct {
	Block string
	Feed  string
}

// Match is one node that matched the block selector during a scan.
type Match struct {
	ID       domain.BlockID
	Eligible bool
	Block    *goquery.Selection
}

// Document is not safe for concurrent use; the discovery loop owns it.
type Document struct {
	url       *url.URL
	doc       *goquery.Document
	selectors Selectors

	ids    map[*html.Node]domain.BlockID
	nodes  map[domain.BlockID]*html.Node
	nextID domain.BlockID
}

func New(pageURL *url.URL, r io.Reader, selectors Selectors) (*Document, error) {
	if strings.TrimSpace(selectors.Block) == "" {
		return nil, errors.New("block selector is empty")
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("create document from reader: %w", err)
	}

	if pageURL == nil {
		pageURL = &url.URL{}
	}

	return &Document{
		url:       pageURL,
		doc:       doc,
		selectors: selectors,
		ids:       make(map[*html.Node]domain.BlockID),
		nodes:     make(map[domain.BlockID]*html.Node),
	}, nil
}

func FromString(rawURL string, markup string, selectors Selectors) (*Document, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}

	return New(u, strings.NewReader(markup), selectors)
}

// Fetch downloads rawURL and parses it as the document to augment.
func Fetch(
	ctx context.Context,
	client *http.Client,
	rawURL string,
	selectors Selectors,
	log *slog.Logger,
) (*Document, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}

	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"pageURL", u.String(),
				"operation", "Fetch")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("do request: unexpected status: %d", resp.StatusCode)
	}

	return New(u, resp.Body, selectors)
}

func (d *Document) URL() *url.URL {
	return d.url
}

// IsDetailView reports whether the page shows a single item, which is the
// only kind of page that gets summaries.
func (d *Document) IsDetailView(marker string) bool {
	marker = strings.TrimSpace(marker)
	if marker == "" {
		return true
	}

	return strings.Contains(d.url.Path, marker)
}

// Scan returns every block currently in the document in document order.
// Nodes get a stable ID the first time they are seen.
func (d *Document) Scan() []Match {
	var matches []Match

	d.doc.Find(d.selectors.Block).Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)

		id, ok := d.ids[node]
		if !ok {
			d.nextID++
			id = d.nextID
			d.ids[node] = id
			d.nodes[id] = node
		}

		matches = append(matches, Match{
			ID:       id,
			Eligible: d.eligible(s),
			Block:    s,
		})
	})

	return matches
}

// Block returns the selection for a previously scanned block. Removed blocks
// are still returned; their subtree is detached from the document.
func (d *Document) Block(id domain.BlockID) (*goquery.Selection, bool) {
	node, ok := d.nodes[id]
	if !ok {
		return nil, false
	}

	return goquery.NewDocumentFromNode(node).Selection, true
}

// Apply runs a mutation batch in order. It stops at the first failing
// mutation; earlier ones stay applied.
func (d *Document) Apply(batch Batch) error {
	for i, m := range batch {
		if err := d.apply(m); err != nil {
			return fmt.Errorf("apply mutation %d: %w: %w", i, ErrInvalidMutation, err)
		}
	}

	return nil
}

func (d *Document) Render() (string, error) {
	return d.doc.Html()
}

func (d *Document) eligible(s *goquery.Selection) bool {
	if strings.TrimSpace(d.selectors.Feed) == "" {
		return true
	}

	return s.Closest(d.selectors.Feed).Length() == 0
}

func (d *Document) apply(m Mutation) error {
	target := strings.TrimSpace(m.Target)
	if target == "" {
		return errors.New("target is empty")
	}

	sel := d.doc.Find(target)
	if sel.Length() == 0 {
		return fmt.Errorf("target %q matched nothing", target)
	}

	switch m.Op {
	case OpAppend:
		sel.AppendHtml(m.HTML)
	case OpSet:
		sel.SetHtml(m.HTML)
	case OpRemove:
		sel.Remove()
	default:
		return fmt.Errorf("unknown op %q", m.Op)
	}

	return nil
}
