package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("path = %q, want /api/health", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health() failed: %v", err)
	}
}

func TestClientPush(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/api/sync/push" {
			t.Errorf("path = %q, want /api/sync/push", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want Bearer test-key", got)
		}

		var req PushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode push request: %v", err)
		}
		if req.OrganizationID != 23 {
			t.Errorf("organizationId = %d, want 23", req.OrganizationID)
		}
		if len(req.Farms) != 1 {
			t.Fatalf("len(farms) = %d, want 1", len(req.Farms))
		}

		resp := PushResponse{Acks: []Ack{
			{Table: "farms", ClientID: req.Farms[0].ClientID, ServerID: 101},
		}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "test-key"})
	resp, err := client.Push(context.Background(), &PushRequest{
		OrganizationID: 23,
		Farms: []PushFarm{
			{ClientID: "farm-1", Name: "North Coop", UpdatedAt: time.Now()},
		},
	})
	if err != nil {
		t.Fatalf("Push() failed: %v", err)
	}
	if len(resp.Acks) != 1 {
		t.Fatalf("len(acks) = %d, want 1", len(resp.Acks))
	}
	if resp.Acks[0].ServerID != 101 {
		t.Errorf("ack server id = %d, want 101", resp.Acks[0].ServerID)
	}
}

func TestClientPull(t *testing.T) {
	since := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("organizationId"); got != "23" {
			t.Errorf("organizationId = %q, want 23", got)
		}
		if got := r.URL.Query().Get("since"); got != since.Format(time.RFC3339) {
			t.Errorf("since = %q, want %q", got, since.Format(time.RFC3339))
		}

		resp := PullResponse{
			Farms:      []Farm{{ID: 101, OrganizationID: 23, Name: "North Coop"}},
			ServerTime: time.Now().UTC(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	resp, err := client.Pull(context.Background(), 23, since)
	if err != nil {
		t.Fatalf("Pull() failed: %v", err)
	}
	if len(resp.Farms) != 1 || resp.Farms[0].ID != 101 {
		t.Errorf("unexpected farms: %+v", resp.Farms)
	}
}

func TestClientExport(t *testing.T) {
	want := "batch,eggs\nA,85\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode export request: %v", err)
		}
		if req.Type != "production" || req.Format != "csv" {
			t.Errorf("export request = %+v", req)
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(want))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	data, err := client.Export(context.Background(), &ExportRequest{
		OrganizationID: 23,
		Type:           "production",
		Format:         "csv",
	})
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if string(data) != want {
		t.Errorf("export body = %q, want %q", data, want)
	}
}

func TestClientStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "organization not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	_, err := client.FetchDashboard(context.Background(), 99)
	if err == nil {
		t.Fatal("expected an error for a 404 response")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %T, want *StatusError", err)
	}
	if statusErr.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", statusErr.Status)
	}
}

func TestClientNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := New(Config{BaseURL: server.URL})
	err := client.Health(context.Background())
	if err == nil {
		t.Fatal("expected an error against a closed server")
	}

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %T, want *NetworkError", err)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", &NetworkError{Op: "GET /api/health", Err: errors.New("refused")}, true},
		{"server error", &StatusError{Status: 503}, true},
		{"rate limited", &StatusError{Status: 429}, true},
		{"request timeout", &StatusError{Status: 408}, true},
		{"bad request", &StatusError{Status: 400}, false},
		{"unauthorized", &StatusError{Status: 401}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
