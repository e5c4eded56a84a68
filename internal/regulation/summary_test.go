package regulation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"npa-monitor/pkg/npa"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	day := func(value string) time.Time {
		parsed, err := time.Parse(time.DateOnly, value)
		require.NoError(t, err)
		return parsed
	}
	filings := []npa.Filing{
		{ID: "1", Department: "Минфин", PublicationDate: day("2025-03-01")},
		{ID: "2", Department: "Минфин", CreationDate: day("2025-03-02")},
		{ID: "3", Department: "Минтруд", PublicationDate: day("2025-03-02")},
		{ID: "4", Department: "Минцифры"},
	}

	summary := Summarize(filings, 2, 10)
	require.Equal(t, 4, summary.Total)
	require.Equal(t, []Count{{Key: "Минфин", Count: 2}, {Key: "Минтруд", Count: 1}}, summary.Departments)
	require.Equal(t, []Count{{Key: "2025-03-02", Count: 2}, {Key: "2025-03-01", Count: 1}}, summary.Dates)
}

func TestDedupKeepsFirstPosition(t *testing.T) {
	t.Parallel()

	got := Dedup([]npa.Filing{
		{ID: "a", Title: "1"},
		{ID: "b", Title: "2"},
		{ID: "a", Title: "3"},
	})
	require.Equal(t, []npa.Filing{{ID: "a", Title: "3"}, {ID: "b", Title: "2"}}, got)
	require.Nil(t, Dedup(nil))
}
