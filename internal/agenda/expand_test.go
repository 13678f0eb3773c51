package agenda

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portalcal/internal/model"
)

func TestExpand_SingleAndWeekly(t *testing.T) {
	loc := time.UTC
	events := []model.Event{
		{ID: "exam", Title: "Midterm", Date: "2025-03-12", Time: "09:00", Type: model.EventExam},
		{ID: "class", Title: "Algorithms", Date: "2025-03-03", Time: "10:00", Type: model.EventClass,
			Recurrence: "FREQ=WEEKLY;COUNT=12"},
		{ID: "past", Title: "Old", Date: "2025-01-01", Time: "09:00", Type: model.EventMeeting},
		{ID: "bad", Title: "Bad", Date: "soon", Time: "09:00", Type: model.EventMeeting},
	}

	res, err := Expand(events, Config{
		Location:   loc,
		RangeStart: time.Date(2025, 3, 1, 0, 0, 0, 0, loc),
		RangeEnd:   time.Date(2025, 3, 21, 23, 59, 59, 0, loc),
	})
	require.NoError(t, err)

	var keys []string
	for _, o := range res.Occurrences {
		keys = append(keys, o.EventID+" "+o.Start.Format("01-02 15:04"))
	}
	assert.Equal(t, []string{
		"class 03-03 10:00",
		"class 03-10 10:00",
		"exam 03-12 09:00",
		"class 03-17 10:00",
	}, keys)
	assert.Empty(t, res.TruncatedEvents)
}

func TestExpand_CapsRunawayRecurrence(t *testing.T) {
	loc := time.UTC
	events := []model.Event{
		{ID: "daily", Title: "Standup", Date: "2025-01-01", Time: "09:00", Type: model.EventMeeting, Recurrence: "FREQ=DAILY"},
	}
	res, err := Expand(events, Config{
		Location:               loc,
		RangeStart:             time.Date(2025, 1, 1, 0, 0, 0, 0, loc),
		RangeEnd:               time.Date(2025, 12, 31, 0, 0, 0, 0, loc),
		MaxOccurrencesPerEvent: 10,
	})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 10)
	assert.Equal(t, []string{"daily"}, res.TruncatedEvents)
}

func TestExpand_RejectsInvertedRange(t *testing.T) {
	now := time.Now()
	_, err := Expand(nil, Config{RangeStart: now, RangeEnd: now.Add(-time.Hour)})
	assert.Error(t, err)
}

func TestWindow(t *testing.T) {
	loc := time.UTC
	now := time.Date(2025, 3, 12, 15, 30, 0, 0, loc)
	start, end := Window(now, loc, 7, 1)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, loc), start)
	assert.Equal(t, time.Date(2025, 3, 19, 0, 0, 0, 0, loc).Add(-time.Nanosecond), end)
}
