package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo(t *testing.T) {
	ref := time.Date(2026, 3, 14, 10, 37, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		last time.Time
		next time.Time
	}{
		{
			name: "daily midnight",
			expr: "0 0 * * *",
			last: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
			next: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "every ten minutes",
			expr: "*/10 * * * *",
			last: time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
			next: time.Date(2026, 3, 14, 10, 40, 0, 0, time.UTC),
		},
		{
			name: "with seconds field",
			expr: "30 15 * * * *",
			last: time.Date(2026, 3, 14, 10, 15, 30, 0, time.UTC),
			next: time.Date(2026, 3, 14, 11, 15, 30, 0, time.UTC),
		},
		{
			name: "descriptor",
			expr: "@hourly",
			last: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
			next: time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := GetTriggerInfo(tt.expr, ref)
			require.NoError(t, err)
			assert.Equal(t, tt.last, info.Last)
			assert.Equal(t, tt.next, info.Next)
			assert.Equal(t, ref.Sub(tt.last), info.TimeSinceLast)
			assert.Equal(t, tt.next.Sub(ref), info.TimeUntilNext)
		})
	}
}

func TestGetTriggerInfo_ActivationAtRefTime(t *testing.T) {
	ref := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	info, err := GetTriggerInfo("*/10 * * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, ref, info.Last)
	assert.Zero(t, info.TimeSinceLast)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("*/5 * * * *"))
	assert.NoError(t, Validate("0 */5 * * * *"))
	assert.Error(t, Validate(""))
	assert.Error(t, Validate("bad cron"))
	assert.Error(t, Validate("* * *"))
}
