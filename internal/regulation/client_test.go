package regulation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"npa-monitor/pkg/npa"
)

type listingServer struct {
	mu       sync.Mutex
	requests []int
	pages    map[int]string
	statuses map[int]int
}

func (s *listingServer) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	var body listRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	page := body.ListParams.FilterModel.Page

	s.mu.Lock()
	s.requests = append(s.requests, page)
	status := s.statuses[page]
	payload, ok := s.pages[page]
	s.mu.Unlock()

	if status != 0 {
		writer.WriteHeader(status)
		return
	}
	if !ok {
		payload = `{"result":[]}`
	}
	writer.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(writer, payload)
}

func (s *listingServer) requestedPages() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]int(nil), s.requests...)
}

func pageOf(firstID int, count int) string {
	items := make([]string, 0, count)
	for index := 0; index < count; index++ {
		id := firstID + index
		items = append(items, fmt.Sprintf(
			`{"id":"%d","title":"Проект %d","developedDepartment":{"description":"Минфин"},"publicationDate":"2025-03-01T10:00:00"}`,
			id, id,
		))
	}

	return `{"result":[` + strings.Join(items, ",") + `]}`
}

func newTestClient(t *testing.T, server *listingServer) *Client {
	t.Helper()

	httpServer := httptest.NewServer(server)
	t.Cleanup(httpServer.Close)

	return NewClient(
		WithEndpoint(httpServer.URL),
		WithHTTPClient(httpServer.Client()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestFetchAllStopsAtEmptyPage(t *testing.T) {
	t.Parallel()

	server := &listingServer{pages: map[int]string{
		1: pageOf(1, 20),
		2: pageOf(21, 20),
		3: `{"result":[]}`,
		4: pageOf(41, 20),
	}}
	client := newTestClient(t, server)

	filings, err := client.FetchAll(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, filings, 40)
	require.Equal(t, []int{1, 2, 3}, server.requestedPages())
	require.Equal(t, "1", filings[0].ID)
	require.Equal(t, "40", filings[39].ID)
}

func TestFetchAllContinuesPastMalformedPage(t *testing.T) {
	t.Parallel()

	server := &listingServer{pages: map[int]string{
		1: pageOf(1, 20),
		2: `{"result":[{"title":"без идентификатора"},{"id":"","title":"пустой"}]}`,
		3: pageOf(21, 5),
	}}
	client := newTestClient(t, server)

	filings, err := client.FetchAll(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, filings, 25)
	require.Equal(t, []int{1, 2, 3, 4}, server.requestedPages())
}

func TestFetchAllKeepsPartialResultsOnFailure(t *testing.T) {
	t.Parallel()

	server := &listingServer{
		pages:    map[int]string{1: pageOf(1, 20), 3: pageOf(41, 20)},
		statuses: map[int]int{2: http.StatusBadGateway},
	}
	client := newTestClient(t, server)

	filings, err := client.FetchAll(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, filings, 20)
	require.Equal(t, []int{1, 2}, server.requestedPages())
}

func TestFetchAllFirstPageFailureIsEmpty(t *testing.T) {
	t.Parallel()

	server := &listingServer{statuses: map[int]int{1: http.StatusInternalServerError}}
	client := newTestClient(t, server)

	filings, err := client.FetchAll(context.Background(), 5)
	require.NoError(t, err)
	require.Empty(t, filings)
}

func TestFetchAllRespectsPageCeiling(t *testing.T) {
	t.Parallel()

	server := &listingServer{pages: map[int]string{
		1: pageOf(1, 20),
		2: pageOf(21, 20),
		3: pageOf(41, 20),
	}}
	client := newTestClient(t, server)

	filings, err := client.FetchAll(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, filings, 40)
	require.Equal(t, []int{1, 2}, server.requestedPages())
}

func TestFetchAllDeduplicatesAcrossPages(t *testing.T) {
	t.Parallel()

	server := &listingServer{pages: map[int]string{
		1: `{"result":[{"id":"a","title":"старое"},{"id":"b","title":"b"}]}`,
		2: `{"result":[{"id":"a","title":"новое"},{"id":"c","title":"c"}]}`,
	}}
	client := newTestClient(t, server)

	filings, err := client.FetchAll(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, filings, 3)

	titles := map[string]string{}
	for _, filing := range filings {
		titles[filing.ID] = filing.Title
	}
	require.Equal(t, map[string]string{"a": "новое", "b": "b", "c": "c"}, titles)
}

func TestFetchAllRejectsInvalidArguments(t *testing.T) {
	t.Parallel()

	client := NewClient()
	_, err := client.FetchAll(context.Background(), 0)
	require.Error(t, err)
}

func TestFetchPageSendsListingRequest(t *testing.T) {
	t.Parallel()

	var (
		captured  listRequest
		headers   http.Header
		method    string
		decodeErr error
	)
	httpServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		headers = request.Header.Clone()
		method = request.Method
		decodeErr = json.NewDecoder(request.Body).Decode(&captured)
		_, _ = io.WriteString(writer, `{"result":[]}`)
	}))
	t.Cleanup(httpServer.Close)

	client := NewClient(WithEndpoint(httpServer.URL), WithUserAgent("npa-test"))
	filings, err := client.FetchPage(context.Background(), 3)
	require.NoError(t, err)
	require.Empty(t, filings)

	require.NoError(t, decodeErr)
	require.Equal(t, http.MethodPost, method)
	require.Equal(t, 3, captured.ListParams.FilterModel.Page)
	require.Equal(t, DefaultPageSize, captured.ListParams.FilterModel.PageSize)
	require.Equal(t, orderedFields, captured.OrderedFields)
	require.Equal(t, "npa-test", headers.Get("User-Agent"))
	require.Equal(t, "https://regulation.gov.ru", headers.Get("Origin"))
}

func TestFetchPageTimesOut(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	httpServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		select {
		case <-release:
		case <-request.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		httpServer.Close()
	})

	client := NewClient(
		WithEndpoint(httpServer.URL),
		WithRequestTimeout(50*time.Millisecond),
	)
	_, err := client.FetchPage(context.Background(), 1)
	require.Error(t, err)
}

func TestFetchPageValidatesItems(t *testing.T) {
	t.Parallel()

	server := &listingServer{pages: map[int]string{1: `{"result":[
		{"id":"","title":"без id"},
		{"id":148001,"title":"  ","publicationDate":"не дата","creationDate":"2025-02-03T08:00:00",
		 "projectType":{"id":2,"description":"Проект приказа"},"procedure":{"id":"3"},
		 "stage":"Discussion","status":"Evaluation",
		 "startPublicDiscussion":"2025-02-04T00:00:00","endPublicDiscussion":"2025-02-18T00:00:00",
		 "deadline":"2025-02-18"}
	]}`}}
	client := newTestClient(t, server)

	filings, err := client.FetchPage(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, filings, 1)

	filing := filings[0]
	require.Equal(t, "148001", filing.ID)
	require.Equal(t, "Без названия", filing.Title)
	require.Equal(t, "Не указано", filing.Department)
	require.True(t, filing.PublicationDate.IsZero())
	require.Equal(t, "2025-02-03", filing.DateLabel())
	require.Equal(t, "2", filing.ProjectType.ID)
	require.Equal(t, "3", filing.Procedure.ID)
	require.True(t, filing.PublicDiscussion.Complete())
	require.Equal(t, "2025-02-18", filing.Deadline.Format(time.DateOnly))
	require.Equal(t, "https://regulation.gov.ru/projects#npa=148001", filing.URL())
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "local timestamp", value: "2025-03-01T23:30:00", want: "2025-03-01T23:30:00+03:00"},
		{name: "fractional seconds", value: "2025-03-01T10:00:00.123", want: "2025-03-01T10:00:00+03:00"},
		{name: "with offset", value: "2025-03-01T10:00:00Z", want: "2025-03-01T10:00:00Z"},
		{name: "date only", value: "2025-03-01", want: "2025-03-01T00:00:00+03:00"},
		{name: "date prefix", value: "2025-03-01 garbage", want: "2025-03-01T00:00:00+03:00"},
		{name: "garbage", value: "вчера", want: ""},
		{name: "empty", value: "", want: ""},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			parsed := parseTimestamp(testCase.value, npa.PublicationZone)
			got := ""
			if !parsed.IsZero() {
				got = parsed.Format(time.RFC3339)
			}
			if got != testCase.want {
				t.Fatalf("parseTimestamp(%q) = %q, want %q", testCase.value, got, testCase.want)
			}
		})
	}
}
