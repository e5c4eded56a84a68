package regulation

import (
	"sort"

	"npa-monitor/pkg/npa"
)

// Count is one bucket of a Summary.
type Count struct {
	Key   string
	Count int
}

// Summary aggregates a fetched listing for operators.
type Summary struct {
	Total       int
	Departments []Count
	Dates       []Count
}

// Summarize counts filings per department, busiest first, and per effective
// date, newest first. Undated filings only count towards Total.
func Summarize(filings []npa.Filing, topDepartments int, topDates int) Summary {
	departments := make(map[string]int)
	dates := make(map[string]int)
	for _, filing := range filings {
		departments[filing.Department]++
		if filing.HasDate() {
			dates[filing.DateLabel()]++
		}
	}

	departmentCounts := toCounts(departments)
	sort.SliceStable(departmentCounts, func(i, j int) bool {
		if departmentCounts[i].Count != departmentCounts[j].Count {
			return departmentCounts[i].Count > departmentCounts[j].Count
		}
		return departmentCounts[i].Key < departmentCounts[j].Key
	})

	dateCounts := toCounts(dates)
	sort.Slice(dateCounts, func(i, j int) bool {
		return dateCounts[i].Key > dateCounts[j].Key
	})

	return Summary{
		Total:       len(filings),
		Departments: limitCounts(departmentCounts, topDepartments),
		Dates:       limitCounts(dateCounts, topDates),
	}
}

func toCounts(buckets map[string]int) []Count {
	counts := make([]Count, 0, len(buckets))
	for key, count := range buckets {
		counts = append(counts, Count{Key: key, Count: count})
	}

	return counts
}

func limitCounts(counts []Count, limit int) []Count {
	if limit > 0 && len(counts) > limit {
		return counts[:limit]
	}

	return counts
}
