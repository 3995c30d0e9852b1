package aggregator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/arkilian/eventlens/internal/errors"
	"github.com/arkilian/eventlens/internal/store"
	"github.com/arkilian/eventlens/internal/store/memory"
	"github.com/arkilian/eventlens/pkg/types"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s store.EventStore, events ...*types.Event) {
	t.Helper()
	for _, ev := range events {
		if _, err := s.Insert(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}
}

func ev(name, user string) *types.Event {
	return &types.Event{EventName: name, UserID: types.StringPtr(user), Timestamp: t0}
}

func TestTopEvents_WorkedExample(t *testing.T) {
	s := memory.New()
	seed(t, s, ev("A", "u1"), ev("A", "u2"), ev("B", "u1"))

	got, err := NewEngine(nil).TopEvents(context.Background(), s, store.Predicate{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []types.TopEvent{
		{EventName: "A", Count: 2, UniqueUsers: 2, Percentage: 67},
		{EventName: "B", Count: 1, UniqueUsers: 1, Percentage: 33},
	}
	if len(got) != len(want) {
		t.Fatalf("got %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestTopEvents_ShareOfWholeScope(t *testing.T) {
	s := memory.New()
	seed(t, s, ev("A", "u1"), ev("A", "u1"), ev("B", ""), ev("C", ""))

	got, err := NewEngine(nil).TopEvents(context.Background(), s, store.Predicate{}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].EventName != "A" || got[0].Percentage != 50 || got[0].UniqueUsers != 1 {
		t.Errorf("unexpected top-1 %+v", got)
	}
}

func TestTopEvents_EmptyAndZero(t *testing.T) {
	s := memory.New()
	e := NewEngine(nil)

	got, err := e.TopEvents(context.Background(), s, store.Predicate{}, 10)
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("empty scope: %v %v", got, err)
	}

	seed(t, s, ev("A", "u1"))
	got, err = e.TopEvents(context.Background(), s, store.Predicate{}, 0)
	if err != nil || len(got) != 0 {
		t.Errorf("limit 0: %v %v", got, err)
	}
	if _, err := e.TopEvents(context.Background(), s, store.Predicate{}, -1); !errors.IsValidation(err) {
		t.Errorf("negative limit: expected validation error, got %v", err)
	}
}

func TestSummaryAggregates_EmptyStore(t *testing.T) {
	s := memory.New()
	e := NewEngine(nil)
	ctx := context.Background()

	total, err := e.TotalCount(ctx, s, store.Predicate{})
	if err != nil || total != 0 {
		t.Errorf("total = %d, %v", total, err)
	}
	users, err := e.UniqueUsers(ctx, s, store.Predicate{})
	if err != nil || users != 0 {
		t.Errorf("users = %d, %v", users, err)
	}
	sessions, err := e.UniqueSessions(ctx, s, store.Predicate{})
	if err != nil || sessions != 0 {
		t.Errorf("sessions = %d, %v", sessions, err)
	}
	byType, err := e.EventsByType(ctx, s, store.Predicate{})
	if err != nil || byType == nil || len(byType) != 0 {
		t.Errorf("byType = %v, %v", byType, err)
	}
	r, err := e.DateRange(ctx, s, store.Predicate{})
	if err != nil || !r.Empty() {
		t.Errorf("range = %+v, %v", r, err)
	}
}

func TestUniqueUsers_SharedUser(t *testing.T) {
	s := memory.New()
	for i := 0; i < 10; i++ {
		seed(t, s, ev("view", "same"))
	}
	seed(t, s, ev("view", ""))

	users, err := NewEngine(nil).UniqueUsers(context.Background(), s, store.Predicate{})
	if err != nil || users != 1 {
		t.Errorf("users = %d, %v", users, err)
	}
}

func TestPage(t *testing.T) {
	s := memory.New()
	for i := 0; i < 5; i++ {
		seed(t, s, &types.Event{EventName: fmt.Sprintf("e%d", i), Timestamp: t0.Add(time.Duration(i) * time.Minute)})
	}
	e := NewEngine(nil)
	ctx := context.Background()

	p1, err := e.Page(ctx, s, store.Predicate{}, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := e.Page(ctx, s, store.Predicate{}, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	p4, err := e.Page(ctx, s, store.Predicate{}, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	joined := append(append([]*types.Event{}, p1.Events...), p2.Events...)
	if len(joined) != 4 || len(p4.Events) != 4 {
		t.Fatalf("unexpected lengths %d, %d", len(joined), len(p4.Events))
	}
	for i := range joined {
		if joined[i].ID != p4.Events[i].ID {
			t.Errorf("position %d: %d != %d", i, joined[i].ID, p4.Events[i].ID)
		}
	}
	if p4.Events[0].EventName != "e4" || p1.TotalCount != 5 {
		t.Errorf("expected most recent first and total 5, got %s / %d", p4.Events[0].EventName, p1.TotalCount)
	}

	empty, err := e.Page(ctx, s, store.Predicate{}, 0, 0)
	if err != nil || len(empty.Events) != 0 || empty.TotalCount != 5 {
		t.Errorf("limit 0 page = %+v, %v", empty, err)
	}
	past, err := e.Page(ctx, s, store.Predicate{}, 10, 99)
	if err != nil || len(past.Events) != 0 {
		t.Errorf("offset past end = %+v, %v", past, err)
	}

	if _, err := e.Page(ctx, s, store.Predicate{}, -1, 0); errors.GetCode(err) != errors.CodeNegativeLimit {
		t.Errorf("expected NEGATIVE_LIMIT, got %v", err)
	}
	if _, err := e.Page(ctx, s, store.Predicate{}, 1, -1); errors.GetCode(err) != errors.CodeNegativeOffset {
		t.Errorf("expected NEGATIVE_OFFSET, got %v", err)
	}
}

func TestRange(t *testing.T) {
	s := memory.New()
	for i := 0; i < 6; i++ {
		seed(t, s, &types.Event{EventName: "tick", Timestamp: t0.Add(time.Duration(i) * time.Hour)})
	}
	e := NewEngine(nil)
	ctx := context.Background()

	start, end := t0.Add(time.Hour), t0.Add(3*time.Hour)
	got, err := e.Range(ctx, s, store.Predicate{Since: &start, Until: &end}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || !got[0].Timestamp.Equal(end) || !got[2].Timestamp.Equal(start) {
		t.Errorf("unexpected range result %v", got)
	}

	limited, err := e.Range(ctx, s, store.Predicate{Since: &start, Until: &end}, 2)
	if err != nil || len(limited) != 2 {
		t.Errorf("limited range = %d, %v", len(limited), err)
	}

	if _, err := e.Range(ctx, s, store.Predicate{Since: &end, Until: &start}, 10); errors.GetCode(err) != errors.CodeInvalidDateRange {
		t.Errorf("expected INVALID_DATE_RANGE, got %v", err)
	}
}

func TestTimeSeries(t *testing.T) {
	s := memory.New()
	seed(t, s,
		&types.Event{EventName: "a", Timestamp: t0},
		&types.Event{EventName: "a", Timestamp: t0.Add(20 * time.Minute)},
		&types.Event{EventName: "a", Timestamp: t0.Add(26 * time.Hour)},
	)
	e := NewEngine(nil)

	hourly, err := e.TimeSeries(context.Background(), s, store.Predicate{}, types.PeriodHour)
	if err != nil {
		t.Fatal(err)
	}
	if len(hourly.Data) != 2 || hourly.Data[0].Count != 2 || hourly.TotalEvents != 3 {
		t.Errorf("hourly = %+v", hourly)
	}

	daily, err := e.TimeSeries(context.Background(), s, store.Predicate{}, types.PeriodDay)
	if err != nil {
		t.Fatal(err)
	}
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if len(daily.Data) != 2 || !daily.Data[0].Start.Equal(day) || daily.Data[1].Count != 1 {
		t.Errorf("daily = %+v", daily)
	}

	if _, err := e.TimeSeries(context.Background(), s, store.Predicate{}, "week"); errors.GetCode(err) != errors.CodeInvalidPeriod {
		t.Errorf("expected INVALID_PERIOD, got %v", err)
	}
}

func TestCancellation(t *testing.T) {
	s := memory.New()
	seed(t, s, ev("A", "u1"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEngine(nil)
	checks := map[string]error{}
	_, checks["total"] = e.TotalCount(ctx, s, store.Predicate{})
	_, checks["top"] = e.TopEvents(ctx, s, store.Predicate{}, 5)
	_, checks["page"] = e.Page(ctx, s, store.Predicate{}, 5, 0)
	_, checks["series"] = e.TimeSeries(ctx, s, store.Predicate{}, types.PeriodDay)
	for name, err := range checks {
		if errors.GetCode(err) != errors.CodeCancelled {
			t.Errorf("%s: expected CANCELLED, got %v", name, err)
		}
	}
}

type failingStore struct {
	store.EventStore
}

func (failingStore) Count(context.Context, store.Predicate) (int64, error) {
	return 0, fmt.Errorf("disk I/O error")
}

func TestStoreFailureIsPersistenceError(t *testing.T) {
	_, err := NewEngine(nil).TotalCount(context.Background(), failingStore{memory.New()}, store.Predicate{})
	if !errors.IsPersistence(err) || errors.GetCode(err) != errors.CodeQueryFailed {
		t.Errorf("expected QUERY_FAILED, got %v", err)
	}
}

// buildStore decodes generated codes into events: name = code%5, user = code/5
// where user 0 is anonymous.
func buildStore(codes []int) *memory.Store {
	s := memory.New()
	for i, c := range codes {
		user := ""
		if u := c / 5; u > 0 {
			user = fmt.Sprintf("u%d", u)
		}
		s.Insert(context.Background(), &types.Event{
			EventName: string(rune('A' + c%5)),
			UserID:    types.StringPtr(user),
			Timestamp: t0.Add(time.Duration(i%3) * time.Second),
		})
	}
	return s
}

func TestProperty_AggregateConsistency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	e := NewEngine(nil)
	ctx := context.Background()
	codes := gen.SliceOf(gen.IntRange(0, 19))

	properties.Property("count equals unbounded scan length", prop.ForAll(
		func(cs []int) bool {
			s := buildStore(cs)
			n, err := e.TotalCount(ctx, s, store.Predicate{})
			if err != nil {
				return false
			}
			cur, err := s.Scan(ctx, store.Predicate{}, store.OrderRecency, -1, 0)
			if err != nil {
				return false
			}
			all, err := store.Collect(cur)
			return err == nil && int64(len(all)) == n
		},
		codes,
	))

	properties.Property("events by type sums to count", prop.ForAll(
		func(cs []int) bool {
			s := buildStore(cs)
			byType, err := e.EventsByType(ctx, s, store.Predicate{})
			if err != nil {
				return false
			}
			var sum int64
			for _, n := range byType {
				sum += n
			}
			return sum == int64(len(cs))
		},
		codes,
	))

	properties.Property("top events are ranked with bounded percentages", prop.ForAll(
		func(cs []int, n int) bool {
			s := buildStore(cs)
			top, err := e.TopEvents(ctx, s, store.Predicate{}, n)
			if err != nil || len(top) > n {
				return false
			}
			total := int64(len(cs))
			var countSum, pctSum int64
			for i, te := range top {
				if te.Percentage < 0 || te.Percentage > 100 {
					return false
				}
				if te.UniqueUsers > te.Count {
					return false
				}
				if i > 0 {
					prev := top[i-1]
					if prev.Count < te.Count || (prev.Count == te.Count && prev.EventName >= te.EventName) {
						return false
					}
				}
				countSum += te.Count
				pctSum += te.Percentage
			}
			if countSum > total {
				return false
			}
			return pctSum <= 100+int64(len(top))/2
		},
		codes,
		gen.IntRange(0, 6),
	))

	properties.Property("adjacent pages concatenate to the larger page", prop.ForAll(
		func(cs []int, size int) bool {
			s := buildStore(cs)
			a, err := e.Page(ctx, s, store.Predicate{}, size, 0)
			if err != nil {
				return false
			}
			b, err := e.Page(ctx, s, store.Predicate{}, size, size)
			if err != nil {
				return false
			}
			both, err := e.Page(ctx, s, store.Predicate{}, 2*size, 0)
			if err != nil {
				return false
			}
			joined := append(append([]*types.Event{}, a.Events...), b.Events...)
			if len(joined) != len(both.Events) {
				return false
			}
			for i := range joined {
				if joined[i].ID != both.Events[i].ID {
					return false
				}
			}
			return true
		},
		codes,
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
