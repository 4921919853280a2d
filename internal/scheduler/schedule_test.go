package scheduler

import (
	"testing"
	"time"
)

func TestIntervalScheduleNext(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := Every(15 * time.Minute)
	if got := s.Next(now); !got.Equal(now.Add(15 * time.Minute)) {
		t.Errorf("Next() = %v, want %v", got, now.Add(15*time.Minute))
	}
}

func TestDailyScheduleNext(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "later today",
			now:  time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC),
			want: time.Date(2025, 6, 1, 3, 30, 0, 0, time.UTC),
		},
		{
			name: "already passed, tomorrow",
			now:  time.Date(2025, 6, 1, 4, 0, 0, 0, time.UTC),
			want: time.Date(2025, 6, 2, 3, 30, 0, 0, time.UTC),
		},
		{
			name: "exactly due rolls over",
			now:  time.Date(2025, 6, 1, 3, 30, 0, 0, time.UTC),
			want: time.Date(2025, 6, 2, 3, 30, 0, 0, time.UTC),
		},
		{
			name: "month boundary",
			now:  time.Date(2025, 6, 30, 23, 0, 0, 0, time.UTC),
			want: time.Date(2025, 7, 1, 3, 30, 0, 0, time.UTC),
		},
	}

	s := Daily(3, 30)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Next(tt.now); !got.Equal(tt.want) {
				t.Errorf("Next(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}
