package jira

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqops/seqaudit/pkg/audit"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(testLogger(), Options{
		BaseURL:       srv.URL,
		Email:         "audit@example.com",
		Token:         "api-token",
		ServiceDeskID: "4",
		AssayFieldID:  "customfield_10070",
	})
}

func TestClient_ListQueue(t *testing.T) {
	page := 0

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(
			t,
			"/rest/servicedeskapi/servicedesk/4/queue/35/issue",
			r.URL.Path,
		)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "audit@example.com", user)
		assert.Equal(t, "api-token", pass)

		start := r.URL.Query().Get("start")
		page++

		if start == "0" {
			fmt.Fprintf(w, `{"isLastPage": false, "values": [%s]}`,
				issueJSON("10001", "EBH-1", "230601_A01295",
					"All samples released",
					`{"value": "CEN"}`),
			)

			return
		}

		fmt.Fprintf(w, `{"isLastPage": true, "values": [%s]}`,
			issueJSON("10002", "EBH-2", "230610_A01295",
				"Data not received", `"TWE"`),
		)
	})

	tickets, err := client.ListQueue(context.Background(), 35)
	require.NoError(t, err)

	require.Len(t, tickets, 2)
	assert.Equal(t, 2, page)

	assert.Equal(t, "10001", tickets[0].ID)
	assert.Equal(t, "EBH-1", tickets[0].Key)
	assert.Equal(t, "230601_A01295", tickets[0].Title)
	assert.Equal(t, "All samples released", tickets[0].Status)
	assert.Equal(t, "CEN", tickets[0].AssayType)
	assert.Equal(
		t,
		time.Date(2023, 6, 1, 9, 30, 0, 0, time.UTC),
		tickets[0].Created,
	)

	// Assay field as a plain string.
	assert.Equal(t, "TWE", tickets[1].AssayType)
}

func issueJSON(id, key, summary, status, assay string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"key": %q,
		"fields": {
			"summary": %q,
			"status": {"name": %q},
			"created": "2023-06-01T10:30:00.000+0100",
			"customfield_10070": %s
		}
	}`, id, key, summary, status, assay)
}

func TestClient_ListQueueSkipsUnparsable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"isLastPage": true, "values": [
			{"id": "1", "key": "EBH-1", "fields": {
				"summary": "bad", "created": "not a date"
			}},
			%s
		]}`, issueJSON("2", "EBH-2", "230601_A01295", "New", `"CEN"`))
	})

	tickets, err := client.ListQueue(context.Background(), 34)
	require.NoError(t, err)

	require.Len(t, tickets, 1)
	assert.Equal(t, "EBH-2", tickets[0].Key)
}

func TestClient_Transitions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/3/issue/10001/changelog", r.URL.Path)

		_, _ = w.Write([]byte(`{
			"isLast": true,
			"values": [
				{
					"created": "2023-06-01T10:00:00.000+0000",
					"items": [
						{"field": "status", "toString": "Data Received"},
						{"field": "assignee", "toString": "someone"}
					]
				},
				{
					"created": "2023-06-03T09:00:00.000+0000",
					"items": [
						{"field": "status", "toString": "All samples released"}
					]
				},
				{
					"created": "2023-06-04T09:00:00.000+0000",
					"items": [
						{"field": "status", "toString": "All samples released"}
					]
				}
			]
		}`))
	})

	transitions, err := client.Transitions(context.Background(), "10001")
	require.NoError(t, err)

	// Non-status items are ignored; repeated transitions keep the latest.
	require.Len(t, transitions, 2)
	assert.Equal(
		t,
		time.Date(2023, 6, 4, 9, 0, 0, 0, time.UTC),
		transitions["All samples released"],
	)
	assert.Equal(
		t,
		time.Date(2023, 6, 1, 10, 0, 0, 0, time.UTC),
		transitions["Data Received"],
	)
}

func TestClient_ErrorResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := client.ListQueue(context.Background(), 35)
	require.Error(t, err)

	var provErr *audit.ProviderError

	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "jira", provErr.Provider)
	assert.Contains(t, provErr.Error(), "429")
}

func TestClient_ContextTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"isLast": true, "values": []}`))
	})

	ctx, cancel := context.WithTimeout(
		context.Background(), 20*time.Millisecond,
	)
	defer cancel()

	_, err := client.Transitions(ctx, "10001")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
