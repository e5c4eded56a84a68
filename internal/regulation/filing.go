package regulation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"npa-monitor/pkg/npa"
)

var errMissingID = errors.New("filing has no id")

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// looseString accepts a JSON string or number and keeps its text form. Any
// other JSON value reads as empty.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return fmt.Errorf("decode string: %w", err)
		}
		*s = looseString(strings.TrimSpace(text))
		return nil
	}

	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		*s = ""
		return nil
	}
	*s = looseString(number.String())

	return nil
}

type rawReference struct {
	ID          looseString `json:"id"`
	Description looseString `json:"description"`
}

type rawFiling struct {
	ID                            looseString   `json:"id"`
	Title                         looseString   `json:"title"`
	DevelopedDepartment           *rawReference `json:"developedDepartment"`
	ProjectType                   *rawReference `json:"projectType"`
	Procedure                     *rawReference `json:"procedure"`
	Stage                         looseString   `json:"stage"`
	Status                        looseString   `json:"status"`
	CreationDate                  looseString   `json:"creationDate"`
	PublicationDate               looseString   `json:"publicationDate"`
	StartPublicDiscussion         looseString   `json:"startPublicDiscussion"`
	EndPublicDiscussion           looseString   `json:"endPublicDiscussion"`
	StartParallelPublicDiscussion looseString   `json:"startParallelPublicDiscussion"`
	EndParallelPublicDiscussion   looseString   `json:"endParallelPublicDiscussion"`
	Deadline                      looseString   `json:"deadline"`
}

// toFiling validates one listing item. Missing text fields get defaults and
// unparseable dates become zero; only a missing ID rejects the item.
func (raw rawFiling) toFiling(location *time.Location) (npa.Filing, error) {
	id := string(raw.ID)
	if id == "" {
		return npa.Filing{}, errMissingID
	}

	filing := npa.Filing{
		ID:              id,
		Title:           string(raw.Title),
		Department:      raw.DevelopedDepartment.description(),
		ProjectType:     raw.ProjectType.reference(),
		Procedure:       raw.Procedure.reference(),
		Stage:           string(raw.Stage),
		Status:          string(raw.Status),
		CreationDate:    parseTimestamp(string(raw.CreationDate), location),
		PublicationDate: parseTimestamp(string(raw.PublicationDate), location),
		PublicDiscussion: npa.Period{
			Start: parseTimestamp(string(raw.StartPublicDiscussion), location),
			End:   parseTimestamp(string(raw.EndPublicDiscussion), location),
		},
		ParallelDiscussion: npa.Period{
			Start: parseTimestamp(string(raw.StartParallelPublicDiscussion), location),
			End:   parseTimestamp(string(raw.EndParallelPublicDiscussion), location),
		},
		Deadline: parseTimestamp(string(raw.Deadline), location),
	}
	if filing.Title == "" {
		filing.Title = npa.DefaultTitle
	}
	if filing.Department == "" {
		filing.Department = npa.DefaultDepartment
	}

	return filing, nil
}

func (ref *rawReference) description() string {
	if ref == nil {
		return ""
	}

	return string(ref.Description)
}

func (ref *rawReference) reference() npa.Reference {
	if ref == nil {
		return npa.Reference{}
	}

	return npa.Reference{ID: string(ref.ID), Description: string(ref.Description)}
}

// parseTimestamp reads upstream timestamps, falling back to the leading
// YYYY-MM-DD. Offset-less values are read in location.
func parseTimestamp(value string, location *time.Location) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, value, location); err == nil {
			return parsed
		}
	}
	if len(value) >= len(time.DateOnly) {
		if parsed, err := time.ParseInLocation(time.DateOnly, value[:len(time.DateOnly)], location); err == nil {
			return parsed
		}
	}

	return time.Time{}
}
