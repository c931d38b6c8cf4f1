package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"carecall-platform/internal/config"
)

func testClient(srv *httptest.Server) *HTTPClient {
	return NewHTTPClient(config.ProviderConfig{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		RequestTimeout: 2 * time.Second,
	})
}

func TestInitiate(t *testing.T) {
	var gotReq CallRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/calls" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(CallResult{ProviderCallID: "prov-123"})
	}))
	defer srv.Close()

	res, err := testClient(srv).Initiate(context.Background(), CallRequest{
		PatientPhone: "+15550100",
		PatientName:  "Ada Moreno",
		ScriptTitle:  "Morning check-in",
		Metadata:     map[string]string{"call_run_id": "run-1"},
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if res.ProviderCallID != "prov-123" {
		t.Fatalf("provider call id = %q", res.ProviderCallID)
	}
	if gotReq.PatientPhone != "+15550100" || gotReq.Metadata["call_run_id"] != "run-1" {
		t.Fatalf("request body: %+v", gotReq)
	}
}

func TestInitiate_MissingCallID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(CallResult{})
	}))
	defer srv.Close()

	_, err := testClient(srv).Initiate(context.Background(), CallRequest{PatientPhone: "+15550100"})
	if !errors.Is(err, ErrNoCallID) {
		t.Fatalf("err = %v, want ErrNoCallID", err)
	}
}

func TestInitiate_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := testClient(srv).Initiate(context.Background(), CallRequest{}); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestFetchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/calls/prov-123" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(StatusSnapshot{
			ProviderCallID:      "prov-123",
			Status:              "ended",
			DisconnectionReason: "user_hangup",
			DurationSeconds:     37,
		})
	}))
	defer srv.Close()

	snap, err := testClient(srv).FetchStatus(context.Background(), "prov-123")
	if err != nil {
		t.Fatalf("FetchStatus: %v", err)
	}
	if snap.Status != "ended" || snap.DurationSeconds != 37 {
		t.Fatalf("snapshot: %+v", snap)
	}
}
