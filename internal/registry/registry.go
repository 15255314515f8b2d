package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"tldrpost/internal/domain"
)

type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

type Store interface {
	SelectedModel(ctx context.Context) (string, bool, error)
	SaveSelectedModel(ctx context.Context, model string) error
}

// Registry owns the process-wide model selection.
type Registry struct {
	lister       ModelLister
	store        Store
	defaultModel string
	log          *slog.Logger

	// saveMu orders update-then-persist pairs so storage ends up with the
	// same Active as memory. Taken before mu.
	saveMu    sync.Mutex
	mu        sync.RWMutex
	selection domain.ModelSelection
}

func New(lister ModelLister, store Store, defaultModel string, log *slog.Logger) *Registry {
	return &Registry{
		lister:       lister,
		store:        store,
		defaultModel: strings.TrimSpace(defaultModel),
		log:          log,
	}
}

// Initialize fetches the model list and repairs the persisted selection.
// Any failure leaves the registry empty and wraps domain.ErrRegistryUnavailable.
func (r *Registry) Initialize(ctx context.Context) error {
	selection, err := r.load(ctx)
	if err != nil {
		r.mu.Lock()
		r.selection = domain.ModelSelection{}
		r.mu.Unlock()

		return err
	}

	r.commit(ctx, selection)

	return nil
}

// Refresh re-fetches the model list. On failure the current selection is
// kept.
func (r *Registry) Refresh(ctx context.Context) error {
	selection, err := r.load(ctx)
	if err != nil {
		return err
	}

	r.commit(ctx, selection)

	return nil
}

func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.selection.Available) > 0
}

func (r *Registry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.selection.Active
}

func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.selection.Available)
}

func (r *Registry) Selection() domain.ModelSelection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return domain.ModelSelection{
		Available: slices.Clone(r.selection.Available),
		Active:    r.selection.Active,
	}
}

// Select makes model the active selection and persists it. It does not touch
// requests that are already in flight.
func (r *Registry) Select(ctx context.Context, model string) error {
	model = strings.TrimSpace(model)

	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	if !r.selection.Contains(model) {
		r.mu.Unlock()
		return fmt.Errorf("select %q: %w", model, domain.ErrUnknownModel)
	}
	r.selection.Active = model
	r.mu.Unlock()

	if err := r.store.SaveSelectedModel(ctx, model); err != nil {
		return fmt.Errorf("save selected model: %w", err)
	}

	return nil
}

func (r *Registry) load(ctx context.Context) (domain.ModelSelection, error) {
	models, err := r.lister.ListModels(ctx)
	if err != nil {
		return domain.ModelSelection{}, fmt.Errorf("list models: %w: %w", domain.ErrRegistryUnavailable, err)
	}
	if len(models) == 0 {
		return domain.ModelSelection{}, fmt.Errorf("list models: %w: %w", domain.ErrRegistryUnavailable, errors.New("no models installed"))
	}

	preferred := r.Active()
	if preferred == "" {
		preferred = r.persisted(ctx)
	}

	selection := domain.ModelSelection{Available: models, Active: preferred}
	if !selection.Contains(selection.Active) {
		selection.Active = models[0]
	}

	return selection, nil
}

func (r *Registry) persisted(ctx context.Context) string {
	stored, ok, err := r.store.SelectedModel(ctx)
	if err != nil {
		r.log.WarnContext(ctx, "Failed to read persisted model so default will be used",
			"error", err,
			"defaultModel", r.defaultModel)
	}
	if ok {
		return stored
	}

	return r.defaultModel
}

func (r *Registry) commit(ctx context.Context, selection domain.ModelSelection) {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	previous := r.selection.Active
	// A Select may have landed while the list was being fetched.
	if previous != "" && selection.Contains(previous) {
		selection.Active = previous
	}
	r.selection = selection
	r.mu.Unlock()

	if err := r.store.SaveSelectedModel(ctx, selection.Active); err != nil {
		r.log.ErrorContext(ctx, "Failed to persist selected model",
			"error", err,
			"model", selection.Active)
	}

	r.log.InfoContext(ctx, "Models are loaded",
		"modelCount", len(selection.Available),
		"active", selection.Active,
		"previous", previous)
}
