package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type batchBody struct {
	ValueInputOption string `json:"valueInputOption"`
	Data             []struct {
		Range  string     `json:"range"`
		Values [][]string `json:"values"`
	} `json:"data"`
}

func newTestPublisher(t *testing.T, h http.HandlerFunc) *Publisher {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	p, err := NewWithOptions(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return p
}

func TestPublish(t *testing.T) {
	var gotPath, gotMethod string
	var body batchBody

	p := newTestPublisher(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"spreadsheetId":"sheet-1","totalUpdatedCells":6}`)
	})

	err := p.Publish(context.Background(), "sheet-1", []RangeUpdate{
		{Range: "student_profile_info", Rows: [][]string{{"user_id", "name"}, {"1", "=SUM(A1)"}}},
		{Range: "problem_responses", Rows: [][]string{{"username"}, {"ada"}}},
	})
	require.NoError(t, err)

	if gotMethod != http.MethodPost {
		t.Errorf("Expected POST, got %s", gotMethod)
	}
	if gotPath != "/v4/spreadsheets/sheet-1/values:batchUpdate" {
		t.Errorf("Unexpected path %s", gotPath)
	}
	if body.ValueInputOption != "RAW" {
		t.Errorf("Expected RAW input option, got %q", body.ValueInputOption)
	}

	type rng struct {
		Range  string
		Values [][]string
	}
	var got []rng
	for _, d := range body.Data {
		got = append(got, rng{d.Range, d.Values})
	}
	want := []rng{
		{"student_profile_info", [][]string{{"user_id", "name"}, {"1", "=SUM(A1)"}}},
		{"problem_responses", [][]string{{"username"}, {"ada"}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("request data mismatch (-want +got):\n%s", diff)
	}
}

func TestPublishEmptyMakesNoCall(t *testing.T) {
	calls := 0
	p := newTestPublisher(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})

	require.NoError(t, p.Publish(context.Background(), "sheet-1", nil))
	if calls != 0 {
		t.Errorf("Expected no request, got %d", calls)
	}
}

func TestPublishError(t *testing.T) {
	p := newTestPublisher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"caller does not have permission"}}`)
	})

	err := p.Publish(context.Background(), "sheet-1", []RangeUpdate{{Range: "problem_responses", Rows: [][]string{{"x"}}}})
	if err == nil {
		t.Fatal("Expected error for a 403 response")
	}
}

func TestToValues(t *testing.T) {
	got := toValues([][]string{{"a", "b"}, {}})
	want := [][]interface{}{{"a", "b"}, {}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("toValues mismatch (-want +got):\n%s", diff)
	}
}
