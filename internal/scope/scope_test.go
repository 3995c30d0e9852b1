package scope

import (
	"context"
	"fmt"
	"testing"

	"github.com/arkilian/eventlens/internal/errors"
	"github.com/arkilian/eventlens/internal/store/memory"
	"github.com/arkilian/eventlens/pkg/types"
)

func setup(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	ctx := context.Background()
	for _, p := range []*types.Project{
		{Name: "Shop", Slug: "shop", IsActive: true},
		{Name: "Old", Slug: "old", IsActive: false},
	} {
		if _, err := s.CreateProject(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestResolve(t *testing.T) {
	r := NewResolver(setup(t), false)
	ctx := context.Background()

	all, err := r.Resolve(ctx, "")
	if err != nil || !all.All() || all.Predicate().Project != "" {
		t.Errorf("empty identifier should match all: %+v %v", all, err)
	}

	shop, err := r.Resolve(ctx, " shop ")
	if err != nil {
		t.Fatal(err)
	}
	if shop.All() || shop.Slug() != "shop" || shop.Predicate().Project != "shop" {
		t.Errorf("unexpected scope %+v", shop)
	}

	for _, id := range []string{"old", "missing", "Not A Slug"} {
		if _, err := r.Resolve(ctx, id); !errors.IsNotFound(err) {
			t.Errorf("Resolve(%q): expected NotFound, got %v", id, err)
		}
	}
}

func TestResolve_TenancyRequiresProject(t *testing.T) {
	r := NewResolver(setup(t), true)
	_, err := r.Resolve(context.Background(), "")
	if !errors.IsValidation(err) || errors.GetCode(err) != errors.CodeProjectRequired {
		t.Errorf("expected PROJECT_REQUIRED, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), "shop"); err != nil {
		t.Errorf("named project should resolve: %v", err)
	}
}

type failingGetter struct{ err error }

func (f failingGetter) GetProject(context.Context, string) (*types.Project, error) {
	return nil, f.err
}

func TestResolve_StoreFailure(t *testing.T) {
	r := NewResolver(failingGetter{err: fmt.Errorf("disk I/O error")}, false)
	_, err := r.Resolve(context.Background(), "shop")
	if !errors.IsPersistence(err) {
		t.Errorf("expected persistence error, got %v", err)
	}

	r = NewResolver(failingGetter{err: context.Canceled}, false)
	_, err = r.Resolve(context.Background(), "shop")
	if errors.GetCode(err) != errors.CodeCancelled {
		t.Errorf("expected CANCELLED, got %v", err)
	}
}

func TestValidSlug(t *testing.T) {
	valid := []string{"a", "shop", "my-app-2", "0day"}
	invalid := []string{"", "-lead", "Upper", "has space", "under_score",
		"a123456789012345678901234567890123456789012345678901234567890123"}
	for _, s := range valid {
		if !ValidSlug(s) {
			t.Errorf("ValidSlug(%q) = false", s)
		}
	}
	for _, s := range invalid {
		if ValidSlug(s) {
			t.Errorf("ValidSlug(%q) = true", s)
		}
	}
}
