// Package storetest is a conformance suite run against every store implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	elerrors "github.com/arkilian/eventlens/internal/errors"
	"github.com/arkilian/eventlens/internal/store"
	"github.com/arkilian/eventlens/pkg/types"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the full suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"InsertAssignsIdentity", testInsertAssignsIdentity},
		{"InsertDefaultsTimestamp", testInsertDefaultsTimestamp},
		{"InsertRejectsEmptyName", testInsertRejectsEmptyName},
		{"InsertRejectsUnstorableTimestamp", testInsertRejectsUnstorableTimestamp},
		{"InsertPreservesFields", testInsertPreservesFields},
		{"ScanRecencyOrder", testScanRecencyOrder},
		{"ScanWindow", testScanWindow},
		{"ScanInsertionOrder", testScanInsertionOrder},
		{"CountMatchesScan", testCountMatchesScan},
		{"CountDistinctSkipsNull", testCountDistinctSkipsNull},
		{"GroupCount", testGroupCount},
		{"MinMax", testMinMax},
		{"GroupStats", testGroupStats},
		{"BucketCount", testBucketCount},
		{"PredicateFilters", testPredicateFilters},
		{"Projects", testProjects},
		{"CancelledContext", testCancelledContext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mustInsert(t *testing.T, s store.Store, ev *types.Event) *types.Event {
	t.Helper()
	stored, err := s.Insert(context.Background(), ev)
	if err != nil {
		t.Fatalf("insert %q: %v", ev.EventName, err)
	}
	return stored
}

func event(name, user string, ts time.Time) *types.Event {
	return &types.Event{EventName: name, UserID: types.StringPtr(user), Timestamp: ts}
}

func scanAll(t *testing.T, s store.Store, pred store.Predicate, order store.Order, limit, offset int) []*types.Event {
	t.Helper()
	cur, err := s.Scan(context.Background(), pred, order, limit, offset)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	events, err := store.Collect(cur)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	return events
}

func ids(events []*types.Event) []int64 {
	out := make([]int64, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testInsertAssignsIdentity(t *testing.T, s store.Store) {
	var prev *types.Event
	for i := 0; i < 5; i++ {
		ev := mustInsert(t, s, event("view", "u1", base))
		if ev.ID <= 0 {
			t.Fatalf("expected positive id, got %d", ev.ID)
		}
		if prev != nil {
			if ev.ID <= prev.ID {
				t.Errorf("ids not increasing: %d after %d", ev.ID, prev.ID)
			}
			if ev.CreatedAt.Before(prev.CreatedAt) {
				t.Errorf("created_at went backwards: %v after %v", ev.CreatedAt, prev.CreatedAt)
			}
		}
		prev = ev
	}
}

func testInsertDefaultsTimestamp(t *testing.T, s store.Store) {
	before := time.Now()
	ev := mustInsert(t, s, &types.Event{EventName: "signup"})
	after := time.Now()

	if ev.Timestamp.Before(before.Truncate(time.Microsecond)) || ev.Timestamp.After(after) {
		t.Errorf("default timestamp %v outside [%v, %v]", ev.Timestamp, before, after)
	}

	got := scanAll(t, s, store.Predicate{}, store.OrderRecency, -1, 0)
	if len(got) != 1 || !got[0].Timestamp.Equal(ev.Timestamp) {
		t.Errorf("stored timestamp differs from returned one")
	}
}

func testInsertRejectsEmptyName(t *testing.T, s store.Store) {
	_, err := s.Insert(context.Background(), &types.Event{})
	if !elerrors.IsPersistence(err) || elerrors.GetCode(err) != elerrors.CodeConstraintViolation {
		t.Fatalf("expected constraint violation, got %v", err)
	}
	n, err := s.Count(context.Background(), store.Predicate{})
	if err != nil || n != 0 {
		t.Errorf("rejected insert should store nothing, count=%d err=%v", n, err)
	}
}

func testInsertRejectsUnstorableTimestamp(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, ts := range []time.Time{
		time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC),
	} {
		_, err := s.Insert(ctx, event("x", "u1", ts))
		if !elerrors.IsPersistence(err) || elerrors.GetCode(err) != elerrors.CodeConstraintViolation {
			t.Errorf("insert at %v: expected constraint violation, got %v", ts, err)
		}
	}

	edge := mustInsert(t, s, event("x", "u1", types.MaxTimestamp))
	got := scanAll(t, s, store.Predicate{}, store.OrderRecency, -1, 0)
	if len(got) != 1 || !got[0].Timestamp.Equal(types.MaxTimestamp) || !edge.Timestamp.Equal(types.MaxTimestamp) {
		t.Fatalf("latest storable timestamp did not round-trip: %v", got)
	}
	dr, err := s.MinMax(ctx, store.Predicate{}, store.ColumnTimestamp)
	if err != nil {
		t.Fatal(err)
	}
	if dr.Start == nil || !dr.Start.Equal(types.MaxTimestamp) {
		t.Errorf("unexpected date range %+v", dr)
	}
}

func testInsertPreservesFields(t *testing.T, s store.Store) {
	in := &types.Event{
		EventName:      "purchase",
		UserID:         types.StringPtr("u42"),
		SessionID:      types.StringPtr("s9"),
		Properties:     types.MustProperties(map[string]interface{}{"amount": 12.5, "items": []interface{}{"a", "b"}}),
		UserProperties: types.MustProperties(map[string]interface{}{"plan": "pro"}),
		Timestamp:      base,
		IPAddress:      types.StringPtr("203.0.113.7"),
		UserAgent:      types.StringPtr("curl/8.0"),
		ProjectID:      types.StringPtr("shop"),
	}
	mustInsert(t, s, in)

	got := scanAll(t, s, store.Predicate{}, store.OrderRecency, -1, 0)
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	ev := got[0]
	if ev.EventName != "purchase" || types.StringValue(ev.UserID) != "u42" || types.StringValue(ev.SessionID) != "s9" {
		t.Errorf("identity fields mismatch: %+v", ev)
	}
	if types.StringValue(ev.IPAddress) != "203.0.113.7" || types.StringValue(ev.UserAgent) != "curl/8.0" {
		t.Errorf("provenance fields mismatch: %+v", ev)
	}
	if types.StringValue(ev.ProjectID) != "shop" {
		t.Errorf("project mismatch: %v", ev.ProjectID)
	}
	if !ev.Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", ev.Timestamp, base)
	}
	if !ev.Properties.Equal(in.Properties) || !ev.UserProperties.Equal(in.UserProperties) {
		t.Errorf("properties did not round trip: %v / %v", ev.Properties.AsMap(), ev.UserProperties.AsMap())
	}

	anon := mustInsert(t, s, &types.Event{EventName: "view", Timestamp: base})
	got = scanAll(t, s, store.Predicate{}, store.OrderInsertion, -1, 0)
	last := got[len(got)-1]
	if last.ID != anon.ID || last.UserID != nil || last.SessionID != nil || last.Properties.Len() != 0 {
		t.Errorf("absent fields should stay absent: %+v", last)
	}
}

func testScanRecencyOrder(t *testing.T, s store.Store) {
	a := mustInsert(t, s, event("a", "u1", base.Add(time.Minute)))
	b := mustInsert(t, s, event("b", "u1", base))
	c := mustInsert(t, s, event("c", "u1", base.Add(time.Minute)))
	d := mustInsert(t, s, event("d", "u1", base.Add(-time.Hour)))

	got := ids(scanAll(t, s, store.Predicate{}, store.OrderRecency, -1, 0))
	want := []int64{c.ID, a.ID, b.ID, d.ID}
	if !equalIDs(got, want) {
		t.Errorf("recency order = %v, want %v", got, want)
	}
}

func testScanWindow(t *testing.T, s store.Store) {
	for i := 0; i < 5; i++ {
		mustInsert(t, s, event(fmt.Sprintf("e%d", i), "u1", base.Add(time.Duration(i)*time.Second)))
	}

	first := ids(scanAll(t, s, store.Predicate{}, store.OrderRecency, 2, 0))
	second := ids(scanAll(t, s, store.Predicate{}, store.OrderRecency, 2, 2))
	four := ids(scanAll(t, s, store.Predicate{}, store.OrderRecency, 4, 0))
	if !equalIDs(append(first, second...), four) {
		t.Errorf("pages %v + %v != %v", first, second, four)
	}

	if got := scanAll(t, s, store.Predicate{}, store.OrderRecency, 0, 0); len(got) != 0 {
		t.Errorf("limit 0 should yield nothing, got %d", len(got))
	}
	if got := scanAll(t, s, store.Predicate{}, store.OrderRecency, 10, 50); len(got) != 0 {
		t.Errorf("offset beyond rows should yield nothing, got %d", len(got))
	}
	if got := scanAll(t, s, store.Predicate{}, store.OrderRecency, -1, 3); len(got) != 2 {
		t.Errorf("unbounded scan from offset 3 should yield 2, got %d", len(got))
	}
}

func testScanInsertionOrder(t *testing.T, s store.Store) {
	a := mustInsert(t, s, event("a", "u1", base.Add(time.Hour)))
	b := mustInsert(t, s, event("b", "u1", base))
	got := ids(scanAll(t, s, store.Predicate{}, store.OrderInsertion, -1, 0))
	if !equalIDs(got, []int64{a.ID, b.ID}) {
		t.Errorf("insertion order = %v", got)
	}
}

func testCountMatchesScan(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		mustInsert(t, s, event("view", "", base.Add(time.Duration(i)*time.Minute)))
	}
	n, err := s.Count(ctx, store.Predicate{})
	if err != nil {
		t.Fatal(err)
	}
	if got := scanAll(t, s, store.Predicate{}, store.OrderRecency, -1, 0); int64(len(got)) != n {
		t.Errorf("count %d != scan length %d", n, len(got))
	}
}

func testCountDistinctSkipsNull(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		mustInsert(t, s, event("view", "u1", base))
	}
	mustInsert(t, s, event("view", "", base))
	mustInsert(t, s, &types.Event{EventName: "view", SessionID: types.StringPtr("s1"), Timestamp: base})

	users, err := s.CountDistinct(ctx, store.Predicate{}, store.ColumnUserID)
	if err != nil {
		t.Fatal(err)
	}
	if users != 1 {
		t.Errorf("unique users = %d, want 1", users)
	}
	sessions, err := s.CountDistinct(ctx, store.Predicate{}, store.ColumnSessionID)
	if err != nil {
		t.Fatal(err)
	}
	if sessions != 1 {
		t.Errorf("unique sessions = %d, want 1", sessions)
	}
}

func testGroupCount(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, name := range []string{"a", "b", "a", "c", "a"} {
		mustInsert(t, s, event(name, "u1", base))
	}
	groups, err := s.GroupCount(ctx, store.Predicate{}, store.ColumnEventName)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 3 || groups["a"] != 3 || groups["b"] != 1 || groups["c"] != 1 {
		t.Errorf("unexpected groups %v", groups)
	}

	empty, err := s.GroupCount(ctx, store.Predicate{Project: "nobody"}, store.ColumnEventName)
	if err != nil {
		t.Fatal(err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("empty scope should give an empty non-nil map, got %v", empty)
	}
}

func testMinMax(t *testing.T, s store.Store) {
	ctx := context.Background()
	r, err := s.MinMax(ctx, store.Predicate{}, store.ColumnTimestamp)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Empty() {
		t.Errorf("empty store should have absent bounds, got %+v", r)
	}

	mustInsert(t, s, event("a", "", base.Add(time.Hour)))
	mustInsert(t, s, event("a", "", base.Add(-time.Hour)))
	mustInsert(t, s, event("a", "", base))

	r, err = s.MinMax(ctx, store.Predicate{}, store.ColumnTimestamp)
	if err != nil {
		t.Fatal(err)
	}
	if r.Start == nil || r.End == nil || !r.Start.Equal(base.Add(-time.Hour)) || !r.End.Equal(base.Add(time.Hour)) {
		t.Errorf("unexpected range %+v", r)
	}
}

func testGroupStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustInsert(t, s, event("A", "u1", base))
	mustInsert(t, s, event("A", "u2", base))
	mustInsert(t, s, event("A", "", base))
	mustInsert(t, s, event("B", "u1", base))

	stats, err := s.GroupStats(ctx, store.Predicate{}, store.ColumnEventName, store.ColumnUserID)
	if err != nil {
		t.Fatal(err)
	}
	want := []store.GroupStat{{Key: "A", Count: 3, Distinct: 2}, {Key: "B", Count: 1, Distinct: 1}}
	if len(stats) != len(want) {
		t.Fatalf("got %v, want %v", stats, want)
	}
	for i := range want {
		if stats[i] != want[i] {
			t.Errorf("stats[%d] = %+v, want %+v", i, stats[i], want[i])
		}
	}
}

func testBucketCount(t *testing.T, s store.Store) {
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mustInsert(t, s, event("a", "", day.Add(10*time.Minute)))
	mustInsert(t, s, event("a", "", day.Add(50*time.Minute)))
	mustInsert(t, s, event("a", "", day.Add(3*time.Hour+time.Second)))
	mustInsert(t, s, event("a", "", day.Add(-time.Nanosecond)))

	hours, err := s.BucketCount(ctx, store.Predicate{}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	want := []types.TimeBucket{
		{Start: day.Add(-time.Hour), Count: 1},
		{Start: day, Count: 2},
		{Start: day.Add(3 * time.Hour), Count: 1},
	}
	if len(hours) != len(want) {
		t.Fatalf("got %v, want %v", hours, want)
	}
	for i := range want {
		if !hours[i].Start.Equal(want[i].Start) || hours[i].Count != want[i].Count {
			t.Errorf("bucket[%d] = %+v, want %+v", i, hours[i], want[i])
		}
	}

	days, err := s.BucketCount(ctx, store.Predicate{}, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 2 || days[1].Count != 3 || !days[1].Start.Equal(day) {
		t.Errorf("unexpected day buckets %v", days)
	}
}

func testPredicateFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	shop := &types.Event{EventName: "buy", ProjectID: types.StringPtr("shop"), Timestamp: base}
	mustInsert(t, s, shop)
	mustInsert(t, s, &types.Event{EventName: "view", ProjectID: types.StringPtr("shop"), Timestamp: base.Add(time.Hour)})
	mustInsert(t, s, &types.Event{EventName: "view", ProjectID: types.StringPtr("blog"), Timestamp: base})
	mustInsert(t, s, &types.Event{EventName: "view", Timestamp: base})

	since := base.Add(time.Minute)
	until := base
	cases := []struct {
		name string
		pred store.Predicate
		want int64
	}{
		{"all", store.Predicate{}, 4},
		{"project", store.Predicate{Project: "shop"}, 2},
		{"unknown project", store.Predicate{Project: "none"}, 0},
		{"since", store.Predicate{Since: &since}, 1},
		{"until inclusive", store.Predicate{Until: &until}, 3},
		{"name", store.Predicate{EventName: "view"}, 3},
		{"project and name", store.Predicate{Project: "shop", EventName: "view"}, 1},
	}
	for _, c := range cases {
		n, err := s.Count(ctx, c.pred)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if n != c.want {
			t.Errorf("%s: count = %d, want %d", c.name, n, c.want)
		}
	}
}

func testProjects(t *testing.T, s store.Store) {
	ctx := context.Background()
	p, err := s.CreateProject(ctx, &types.Project{
		Name: "Shop", Slug: "shop", EventRetentionDays: 30, MonthlyEventLimit: 500, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID <= 0 || p.CreatedAt.IsZero() {
		t.Errorf("store should assign id and created_at: %+v", p)
	}

	_, err = s.CreateProject(ctx, &types.Project{Name: "Other", Slug: "shop", IsActive: true})
	if elerrors.GetCode(err) != elerrors.CodeDuplicateSlug {
		t.Errorf("expected duplicate slug, got %v", err)
	}

	if _, err := s.GetProject(ctx, "missing"); !elerrors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}

	desc := "storefront"
	updated, err := s.UpdateProject(ctx, "shop", types.ProjectUpdate{Description: &desc})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Description != desc || updated.Name != "Shop" || updated.EventRetentionDays != 30 {
		t.Errorf("unexpected update result %+v", updated)
	}
	if _, err := s.UpdateProject(ctx, "missing", types.ProjectUpdate{Description: &desc}); !elerrors.IsNotFound(err) {
		t.Errorf("expected not found on update, got %v", err)
	}

	if _, err := s.CreateProject(ctx, &types.Project{Name: "Blog", Slug: "blog", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	off, err := s.SetProjectActive(ctx, "shop", false)
	if err != nil || off.IsActive {
		t.Fatalf("deactivate: %+v %v", off, err)
	}

	got, err := s.GetProject(ctx, "shop")
	if err != nil || got.IsActive || got.Description != desc {
		t.Errorf("get after deactivate: %+v %v", got, err)
	}

	active, err := s.ListProjects(ctx, false)
	if err != nil || len(active) != 1 || active[0].Slug != "blog" {
		t.Errorf("active projects = %v, %v", active, err)
	}
	all, err := s.ListProjects(ctx, true)
	if err != nil || len(all) != 2 || all[0].Slug != "shop" {
		t.Errorf("all projects = %v, %v", all, err)
	}
}

func testCancelledContext(t *testing.T, s store.Store) {
	mustInsert(t, s, event("a", "u1", base))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Count(ctx, store.Predicate{}); !errors.Is(err, context.Canceled) {
		t.Errorf("count: expected context.Canceled, got %v", err)
	}
	if _, err := s.Insert(ctx, event("b", "u1", base)); !errors.Is(err, context.Canceled) {
		t.Errorf("insert: expected context.Canceled, got %v", err)
	}
	n, err := s.Count(context.Background(), store.Predicate{})
	if err != nil || n != 1 {
		t.Errorf("cancelled insert should not persist, count=%d err=%v", n, err)
	}
}
