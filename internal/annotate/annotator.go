// Package annotate renders the per-block summary annotation and tracks its
// state machine.
package annotate

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"tldrpost/internal/domain"
	"tldrpost/internal/markdown"
)

const (
	annotationClass = "tm-ollama-summary"
	contentClass    = "tm-ollama-summary-content"
	selectClass     = "tm-ollama-summary-model"

	loadingText = "Loading..."

	// Posts the chosen model back to the server and reloads to show Loading.
	changeModelScript = "fetch('/blocks/'+this.dataset.blockId+'/model'," +
		"{method:'POST',headers:{'Content-Type':'application/json'}," +
		"body:JSON.stringify({model:this.value})}).then(function(){location.reload()})"

	annotationStyle = "background-color:#f0f0f0;padding:10px;border-radius:8px;" +
		"border:1px solid #ccc;margin-top:10px;white-space:pre-wrap;width:100%;clear:both"
)

type ModelSource interface {
	Models() []string
	Active() string
}

// Annotation is the companion element of one claimed block.
type Annotation struct {
	ID         domain.BlockID
	State      domain.AnnotationState
	Model      string
	Text       string
	generation uint64
	el         *goquery.Selection
}

// Annotator is owned by the discovery loop and is not safe for concurrent
// use.
type Annotator struct {
	models      ModelSource
	annotations map[domain.BlockID]*Annotation
	order       []domain.BlockID
}

func New(models ModelSource) *Annotator {
	return &Annotator{
		models:      models,
		annotations: make(map[domain.BlockID]*Annotation),
	}
}

// Ensure returns the annotation for block, creating it right after the block
// if none exists yet. Calling it again never creates a second element.
func (a *Annotator) Ensure(id domain.BlockID, block *goquery.Selection) *Annotation {
	if ann, ok := a.annotations[id]; ok {
		return ann
	}

	ann := &Annotation{ID: id, State: domain.StateUninitialized}

	next := block.Next()
	switch {
	case next.HasClass(annotationClass) && usable(next):
		ann.el = next
	case next.HasClass(annotationClass):
		next.ReplaceWithHtml(a.markup(id))
		ann.el = block.Next()
	default:
		block.AfterHtml(a.markup(id))
		ann.el = block.Next()
	}
	ann.el.SetAttr("data-block-id", strconv.FormatUint(uint64(id), 10))

	a.annotations[id] = ann
	a.order = append(a.order, id)

	return ann
}

func (a *Annotator) Get(id domain.BlockID) (*Annotation, bool) {
	ann, ok := a.annotations[id]
	return ann, ok
}

// Begin moves ann to Loading for model and returns the generation a
// completion must carry to be applied.
func (a *Annotator) Begin(ann *Annotation, model string) uint64 {
	ann.generation++
	ann.Model = model
	a.selectModel(ann, model)
	a.SetState(ann, domain.StateLoading, "")

	return ann.generation
}

// Complete applies a finished request. Completions from superseded requests
// are dropped and false is returned.
func (a *Annotator) Complete(ann *Annotation, generation uint64, summary string, err error) bool {
	if generation != ann.generation {
		return false
	}

	if err != nil {
		msg := domain.UserFailureMessage

		var se *domain.SummaryError
		if errors.As(err, &se) {
			msg = se.UserMessage()
		}

		a.SetState(ann, domain.StateError, msg)

		return true
	}

	a.SetState(ann, domain.StateResult, summary)

	return true
}

// SetState renders state into the annotation's own content element only.
func (a *Annotator) SetState(ann *Annotation, state domain.AnnotationState, text string) {
	ann.State = state
	ann.Text = text

	content := ann.el.Find("." + contentClass)
	ann.el.SetAttr("data-state", state.String())

	switch state {
	case domain.StateLoading:
		content.SetText(loadingText)
	case domain.StateResult:
		content.SetHtml(markdown.ToHTML(text))
	case domain.StateError:
		content.SetText(text)
	default:
		content.SetText("")
	}
}

func (a *Annotator) Snapshot() []domain.BlockStatus {
	statuses := make([]domain.BlockStatus, 0, len(a.order))

	for _, id := range a.order {
		ann := a.annotations[id]
		statuses = append(statuses, domain.BlockStatus{
			ID:    ann.ID,
			State: ann.State.String(),
			Model: ann.Model,
			Text:  ann.Text,
		})
	}

	return statuses
}

func (a *Annotator) selectModel(ann *Annotation, model string) {
	options := ann.el.Find("select." + selectClass + " option")

	found := false
	options.Each(func(_ int, opt *goquery.Selection) {
		if opt.AttrOr("value", "") == model {
			opt.SetAttr("selected", "selected")
			found = true
			return
		}
		opt.RemoveAttr("selected")
	})

	if !found && model != "" {
		ann.el.Find("select." + selectClass).AppendHtml(option(model, true))
	}
}

func (a *Annotator) markup(id domain.BlockID) string {
	active := a.models.Active()

	var options strings.Builder
	for _, m := range a.models.Models() {
		options.WriteString(option(m, m == active))
	}

	return fmt.Sprintf(
		`<div class="%s" data-block-id="%d" style="%s">`+
			`<div class="%s-header" style="display:flex;align-items:center;justify-content:space-between;margin-bottom:5px">`+
			`<span style="font-size:14px">✨ <strong>Useful AI Summarization</strong></span>`+
			`<select class="%s" name="model" data-block-id="%d" style="font-size:10px;max-width:150px" onchange="%s">%s</select>`+
			`</div>`+
			`<div class="%s" style="font-size:13px"></div>`+
			`</div>`,
		annotationClass, id, annotationStyle,
		annotationClass,
		selectClass, id, changeModelScript, options.String(),
		contentClass,
	)
}

// usable reports whether an existing element has the parts SetState and
// selectModel write to.
func usable(el *goquery.Selection) bool {
	return el.Find("."+contentClass).Length() > 0 &&
		el.Find("select."+selectClass).Length() > 0
}

func option(model string, selected bool) string {
	escaped := html.EscapeString(model)
	if selected {
		return `<option value="` + escaped + `" selected="selected">` + escaped + `</option>`
	}

	return `<option value="` + escaped + `">` + escaped + `</option>`
}
