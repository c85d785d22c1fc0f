package tasks

import (
	"context"
	"strings"

	"kioskd/internal/clock"
	"kioskd/internal/domain"
)

type TemplateStore interface {
	ListTemplates(ctx context.Context, activeOnly bool) ([]domain.TaskTemplate, error)
	GetTemplate(ctx context.Context, id string) (domain.TaskTemplate, error)
	PutTemplate(ctx context.Context, t domain.TaskTemplate) error
	DeleteTemplate(ctx context.Context, id string) error
}

// Templates is the admin surface for recurring task definitions. Edits to
// frequency or active take effect at the next due check.
type Templates struct {
	store TemplateStore
	clk   clock.Clock
}

func NewTemplates(store TemplateStore, clk clock.Clock) *Templates {
	if clk == nil {
		clk = clock.System()
	}
	return &Templates{store: store, clk: clk}
}

// TemplateInput is a create or partial-update request; nil fields are left
// unchanged on update.
type TemplateInput struct {
	Title            *string `json:"title,omitempty"`
	FrequencyMinutes *int    `json:"frequency_minutes,omitempty"`
	Category         *string `json:"category,omitempty"`
	Active           *bool   `json:"active,omitempty"`
}

func (in TemplateInput) apply(t *domain.TaskTemplate) {
	if in.Title != nil {
		t.Title = strings.TrimSpace(*in.Title)
	}
	if in.FrequencyMinutes != nil {
		t.FrequencyMinutes = *in.FrequencyMinutes
	}
	if in.Category != nil {
		t.Category = strings.TrimSpace(*in.Category)
	}
	if in.Active != nil {
		t.Active = *in.Active
	}
}

func (s *Templates) Create(ctx context.Context, in TemplateInput) (domain.TaskTemplate, error) {
	now := s.clk.Now()
	t := domain.TaskTemplate{
		ID:        domain.NewID("tpl"),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.apply(&t)
	if err := t.Validate(); err != nil {
		return domain.TaskTemplate{}, err
	}
	if err := s.store.PutTemplate(ctx, t); err != nil {
		return domain.TaskTemplate{}, err
	}
	return t, nil
}

func (s *Templates) Update(ctx context.Context, id string, in TemplateInput) (domain.TaskTemplate, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return domain.TaskTemplate{}, err
	}
	in.apply(&t)
	if err := t.Validate(); err != nil {
		return domain.TaskTemplate{}, err
	}
	t.UpdatedAt = s.clk.Now()
	if err := s.store.PutTemplate(ctx, t); err != nil {
		return domain.TaskTemplate{}, err
	}
	return t, nil
}

func (s *Templates) Delete(ctx context.Context, id string) error {
	return s.store.DeleteTemplate(ctx, id)
}

func (s *Templates) Get(ctx context.Context, id string) (domain.TaskTemplate, error) {
	return s.store.GetTemplate(ctx, id)
}

func (s *Templates) List(ctx context.Context, activeOnly bool) ([]domain.TaskTemplate, error) {
	return s.store.ListTemplates(ctx, activeOnly)
}
