package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperties_JSONRoundTrip(t *testing.T) {
	in := `{"page":"/login","count":3,"nested":{"ok":true,"tags":["a","b"]},"missing":null}`

	var p Properties
	if err := json.Unmarshal([]byte(in), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Len() != 4 {
		t.Fatalf("expected 4 keys, got %d", p.Len())
	}

	out, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var again Properties
	if err := json.Unmarshal(out, &again); err != nil {
		t.Fatalf("unmarshal again: %v", err)
	}
	if !p.Equal(again) {
		t.Errorf("round trip changed document: %s", out)
	}
}

func TestProperties_NullAndEmpty(t *testing.T) {
	var ev struct {
		Properties Properties `json:"properties"`
	}
	if err := json.Unmarshal([]byte(`{"properties":null}`), &ev); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if ev.Properties.Len() != 0 {
		t.Errorf("expected empty properties, got %d keys", ev.Properties.Len())
	}

	out, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"properties":{}}` {
		t.Errorf("got %s", out)
	}
}

func TestProperties_RejectsNonObject(t *testing.T) {
	var p Properties
	if err := json.Unmarshal([]byte(`[1,2]`), &p); err == nil {
		t.Error("expected error for array document")
	}
	if err := json.Unmarshal([]byte(`"text"`), &p); err == nil {
		t.Error("expected error for string document")
	}
}

func TestProperties_BinaryRoundTrip(t *testing.T) {
	p := MustProperties(map[string]interface{}{
		"browser": "chrome",
		"amount":  99.5,
		"items":   []interface{}{"x", 1.0, false},
	})

	data, err := p.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var got Properties
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if !p.Equal(got) {
		t.Errorf("binary round trip mismatch: %v vs %v", p.AsMap(), got.AsMap())
	}

	empty, err := Properties{}.MarshalBinary()
	if err != nil || len(empty) != 0 {
		t.Errorf("empty document should encode to nothing, got %v, %v", empty, err)
	}
}

func TestEvent_CloneIsDeep(t *testing.T) {
	ev := &Event{
		EventName:  "signup",
		UserID:     StringPtr("u1"),
		Properties: MustProperties(map[string]interface{}{"plan": "pro"}),
	}
	cp := ev.Clone()
	*cp.UserID = "u2"
	if *ev.UserID != "u1" {
		t.Error("Clone shared the user id pointer")
	}
	if !cp.Properties.Equal(ev.Properties) {
		t.Error("Clone lost properties")
	}
}

func TestProjectUpdate_Apply(t *testing.T) {
	p := Project{Name: "old", EventRetentionDays: 90, IsActive: true}
	name := "new"
	active := false
	ProjectUpdate{Name: &name, IsActive: &active}.Apply(&p)

	if p.Name != "new" || p.IsActive || p.EventRetentionDays != 90 {
		t.Errorf("unexpected project after update: %+v", p)
	}
}

func TestPeriod_Duration(t *testing.T) {
	if PeriodHour.Duration() != time.Hour {
		t.Error("hour period width")
	}
	if PeriodDay.Duration() != 24*time.Hour {
		t.Error("day period width")
	}
	if Period("week").Duration() != 0 {
		t.Error("unknown period should have zero width")
	}
}

func TestULID_StringParseRoundTrip(t *testing.T) {
	g := NewULIDGenerator()
	u, err := g.GenerateWithTime(time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	s := u.String()
	if len(s) != 26 {
		t.Fatalf("expected 26 characters, got %d", len(s))
	}

	parsed, err := ParseULID(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != u {
		t.Errorf("round trip mismatch: %s vs %s", parsed, u)
	}

	lower, err := ParseULID(strings.ToLower(s))
	if err != nil || lower != u {
		t.Errorf("lowercase parse failed: %v", err)
	}

	if _, err := ParseULID("short"); err != ErrInvalidULIDLength {
		t.Errorf("expected ErrInvalidULIDLength, got %v", err)
	}
	if _, err := ParseULID("0000000000000000000000000U"); err != ErrInvalidULIDCharacter {
		t.Errorf("expected ErrInvalidULIDCharacter, got %v", err)
	}
}

func TestProperty_ULIDTimeOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ULIDs for later times sort after earlier ones", prop.ForAll(
		func(t1Ms, t2Ms int64) bool {
			if t1Ms >= t2Ms {
				t1Ms, t2Ms = t2Ms, t1Ms+1
			}
			g := NewULIDGenerator()
			a, err := g.GenerateWithTime(time.UnixMilli(t1Ms))
			if err != nil {
				return false
			}
			b, err := g.GenerateWithTime(time.UnixMilli(t2Ms))
			if err != nil {
				return false
			}
			return a.Compare(b) < 0 && a.String() < b.String()
		},
		gen.Int64Range(1000000000000, 2000000000000),
		gen.Int64Range(1000000000000, 2000000000000),
	))

	properties.Property("ULIDs within one millisecond increase", prop.ForAll(
		func(ms int64) bool {
			g := NewULIDGenerator()
			at := time.UnixMilli(ms)
			prev, err := g.GenerateWithTime(at)
			if err != nil {
				return false
			}
			for i := 0; i < 50; i++ {
				next, err := g.GenerateWithTime(at)
				if err != nil || prev.Compare(next) >= 0 {
					return false
				}
				prev = next
			}
			return prev.Time().UnixMilli() == ms
		},
		gen.Int64Range(1000000000000, 2000000000000),
	))

	properties.TestingRun(t)
}

func TestTimestampInRange(t *testing.T) {
	tests := []struct {
		ts   time.Time
		want bool
	}{
		{time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), true},
		{MinTimestamp, true},
		{MaxTimestamp, true},
		{MaxTimestamp.Add(time.Nanosecond), false},
		{MinTimestamp.Add(-time.Nanosecond), false},
		{time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{time.Time{}, false},
	}
	for _, tt := range tests {
		if got := TimestampInRange(tt.ts); got != tt.want {
			t.Errorf("TimestampInRange(%v) = %v, want %v", tt.ts, got, tt.want)
		}
	}
}
