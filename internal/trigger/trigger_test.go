package trigger

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNextRunInterval(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	s := Interval(5 * time.Minute)

	tests := []struct {
		name    string
		lastRun time.Time
		want    time.Time
	}{
		{name: "never run fires immediately", lastRun: time.Time{}, want: now},
		{name: "mid period", lastRun: now.Add(-3 * time.Minute), want: now.Add(2 * time.Minute)},
		{name: "missed ticks coalesce", lastRun: now.Add(-time.Hour), want: now},
		{name: "exactly one period ago", lastRun: now.Add(-5 * time.Minute), want: now},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := NextRun(s, now, tt.lastRun)
			if !got.Equal(tt.want) {
				t.Fatalf("NextRun = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextRunDaily(t *testing.T) {
	t.Parallel()
	s := Daily(9, 0)

	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) // past today's slot
	got := NextRun(s, now, time.Time{})
	want := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", got, want)
	}

	now = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC) // before today's slot
	got = NextRun(s, now, time.Time{})
	want = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", got, want)
	}
}

func TestNextRunDailyExactlyAtSlot(t *testing.T) {
	t.Parallel()
	// Strictly after: at 09:00 sharp the next slot is tomorrow.
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	got := NextRun(Daily(9, 0), now, time.Time{})
	want := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", got, want)
	}
}

func TestNextRunWeekly(t *testing.T) {
	t.Parallel()
	// 2024-01-03 is a Wednesday.
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	got := NextRun(Weekly(time.Monday, 9, 0), now, time.Time{})
	want := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextRun = %v, want %v (following Monday)", got, want)
	}
	if got.Weekday() != time.Monday {
		t.Fatalf("NextRun weekday = %v", got.Weekday())
	}
}

func TestNextRunWeeklySameDay(t *testing.T) {
	t.Parallel()
	// Wednesday before the Wednesday slot: fires later the same day.
	now := time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)
	got := NextRun(Weekly(time.Wednesday, 9, 30), now, time.Time{})
	want := time.Date(2024, 1, 3, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		sched   Schedule
		wantErr bool
	}{
		{name: "interval ok", sched: Interval(5 * time.Minute)},
		{name: "interval zero", sched: Interval(0), wantErr: true},
		{name: "interval negative", sched: Interval(-time.Minute), wantErr: true},
		{name: "interval sub-second", sched: Interval(100 * time.Millisecond), wantErr: true},
		{name: "daily ok", sched: Daily(23, 59)},
		{name: "daily bad hour", sched: Daily(24, 0), wantErr: true},
		{name: "daily bad minute", sched: Daily(9, 60), wantErr: true},
		{name: "weekly ok", sched: Weekly(time.Monday, 9, 0)},
		{name: "weekly bad weekday", sched: Schedule{Kind: KindWeekly, Weekday: 7, Hour: 9}, wantErr: true},
		{name: "unknown kind", sched: Schedule{Kind: Kind(42)}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sched.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestScheduleJSONRoundTrip(t *testing.T) {
	t.Parallel()
	for _, s := range []Schedule{
		Interval(15 * time.Minute),
		Daily(9, 30),
		Weekly(time.Friday, 17, 0),
	} {
		b, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal %v: %v", s, err)
		}
		var got Schedule
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if got != s {
			t.Fatalf("round trip = %+v, want %+v", got, s)
		}
	}
}

func TestScheduleJSONRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	var s Schedule
	if err := json.Unmarshal([]byte(`{"kind":"cron","every":"* * * * *"}`), &s); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
