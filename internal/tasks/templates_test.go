package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"kioskd/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func TestTemplatesCreateAndPatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tpls := NewTemplates(f.st, f.clk)
	ctx := context.Background()

	created, err := tpls.Create(ctx, TemplateInput{Title: ptr(" Face shelves "), FrequencyMinutes: ptr(60)})
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if !created.Active || created.Title != "Face shelves" {
		t.Fatalf("created = %+v", created)
	}

	f.clk.Advance(time.Minute)
	updated, err := tpls.Update(ctx, created.ID, TemplateInput{FrequencyMinutes: ptr(15), Active: ptr(false)})
	if err != nil {
		t.Fatalf("Update error = %v", err)
	}
	if updated.FrequencyMinutes != 15 || updated.Active || updated.Title != "Face shelves" {
		t.Fatalf("updated = %+v", updated)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("updated_at not bumped")
	}

	if _, err := tpls.Update(ctx, created.ID, TemplateInput{FrequencyMinutes: ptr(0)}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Update(freq 0) error = %v, want ErrValidation", err)
	}
	if _, err := tpls.Create(ctx, TemplateInput{Title: ptr("x")}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Create(no freq) error = %v, want ErrValidation", err)
	}
	if _, err := tpls.Update(ctx, "tpl_missing", TemplateInput{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update(missing) error = %v, want ErrNotFound", err)
	}

	active, _ := tpls.List(ctx, true)
	if len(active) != 0 {
		t.Fatalf("active templates = %d, want 0", len(active))
	}
	if err := tpls.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete error = %v", err)
	}
}
