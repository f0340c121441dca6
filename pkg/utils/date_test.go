package utils_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agorabot/agora/pkg/utils"
)

func TestWeekdayIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		date utils.Date
		want int
	}{
		{name: "monday", date: utils.NewDate(2024, time.April, 1), want: 0},
		{name: "wednesday", date: utils.NewDate(2024, time.April, 3), want: 2},
		{name: "sunday", date: utils.NewDate(2024, time.April, 7), want: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.date.WeekdayIndex())
		})
	}
}

func TestAddDaysAndDaysUntil(t *testing.T) {
	t.Parallel()

	start := utils.NewDate(2024, time.February, 27)
	end := start.AddDays(3)

	// Crosses the leap day.
	assert.Equal(t, utils.NewDate(2024, time.March, 1), end)
	assert.Equal(t, 3, start.DaysUntil(end))
	assert.Equal(t, -3, end.DaysUntil(start))
}

func TestDateJSONRoundTrip(t *testing.T) {
	t.Parallel()

	date := utils.NewDate(2024, time.April, 5)

	data, err := date.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2024-04-05"`, string(data))

	var decoded utils.Date
	require.NoError(t, decoded.UnmarshalJSON(data))
	assert.True(t, date.Equal(decoded))
}

func TestDateJSONInvalid(t *testing.T) {
	t.Parallel()

	var decoded utils.Date

	assert.Error(t, decoded.UnmarshalJSON([]byte(`"not a date"`)))
	assert.Error(t, decoded.UnmarshalJSON([]byte(`42`)))
}

func TestNextMidnight(t *testing.T) {
	t.Parallel()

	noon := time.Date(2024, time.April, 1, 12, 30, 0, 0, time.Local)
	midnight := time.Date(2024, time.April, 1, 0, 0, 0, 0, time.Local)

	assert.Equal(t, time.Date(2024, time.April, 2, 0, 0, 0, 0, time.Local), utils.NextMidnight(noon))
	assert.Equal(t, time.Date(2024, time.April, 2, 0, 0, 0, 0, time.Local), utils.NextMidnight(midnight))
	assert.Equal(t, midnight, utils.Midnight(noon))
}
