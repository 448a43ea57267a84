package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tracdap/platform-gateway/internal/audit"
	"github.com/tracdap/platform-gateway/internal/orch/cache"
	"github.com/tracdap/platform-gateway/internal/orch/executor"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	audit.SetGlobal(&audit.NoopLogger{})
	engine := cache.NewMemoryEngine(time.Hour)
	t.Cleanup(engine.Close)
	exec := executor.NewLocalExecutor(t.TempDir(), 10)
	router := New(&API{Cache: engine, Executor: exec})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestTicketLifecycle_OpenAddGet(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/cache/jobs/tickets", "application/json",
		bytes.NewReader([]byte(`{"key":"job-1","ttl_seconds":60}`)))
	if err != nil {
		t.Fatalf("open ticket: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open ticket status = %d, want 201", resp.StatusCode)
	}
	var ticket cache.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if ticket.ID == "" {
		t.Fatal("ticket ID is empty")
	}

	addResp, err := http.Post(srv.URL+"/api/v1/tickets/"+ticket.ID+"/entry", "application/json",
		bytes.NewReader([]byte(`{"status":"READY","value":"cGF5bG9hZA=="}`)))
	if err != nil {
		t.Fatalf("add entry: %v", err)
	}
	defer addResp.Body.Close()
	if addResp.StatusCode != http.StatusOK {
		t.Fatalf("add entry status = %d, want 200", addResp.StatusCode)
	}

	getResp, err := http.Get(srv.URL + "/api/v1/cache/jobs/entries/job-1")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	defer getResp.Body.Close()
	var entry cache.Entry
	if err := json.NewDecoder(getResp.Body).Decode(&entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.Revision != 1 {
		t.Errorf("entry revision = %d, want 1", entry.Revision)
	}
	if string(entry.Value) != "payload" {
		t.Errorf("entry value = %q, want payload", entry.Value)
	}
	if entry.Status != "READY" {
		t.Errorf("entry status = %q, want READY", entry.Status)
	}
}

func TestQueryStatus_FiltersByStatus(t *testing.T) {
	srv := newTestServer(t)

	for _, key := range []string{"job-1", "job-2"} {
		ticketResp, err := http.Post(srv.URL+"/api/v1/cache/jobs/tickets", "application/json",
			bytes.NewReader([]byte(`{"key":"`+key+`","ttl_seconds":60}`)))
		if err != nil {
			t.Fatalf("open ticket: %v", err)
		}
		var ticket cache.Ticket
		if err := json.NewDecoder(ticketResp.Body).Decode(&ticket); err != nil {
			t.Fatalf("decode ticket: %v", err)
		}
		ticketResp.Body.Close()

		addResp, err := http.Post(srv.URL+"/api/v1/tickets/"+ticket.ID+"/entry", "application/json",
			bytes.NewReader([]byte(`{"status":"READY","value":""}`)))
		if err != nil {
			t.Fatalf("add entry: %v", err)
		}
		addResp.Body.Close()
	}

	queryResp, err := http.Get(srv.URL + "/api/v1/cache/jobs/entries?status=READY")
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	defer queryResp.Body.Close()
	if queryResp.StatusCode != http.StatusOK {
		t.Fatalf("query status = %d, want 200", queryResp.StatusCode)
	}
	var body struct {
		Entries []cache.Entry `json:"entries"`
	}
	if err := json.NewDecoder(queryResp.Body).Decode(&body); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	if len(body.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(body.Entries))
	}
}

func TestOpenNewTicket_KeyExistsReturnsConflict(t *testing.T) {
	srv := newTestServer(t)

	body := []byte(`{"key":"job-1"}`)
	first, err := http.Post(srv.URL+"/api/v1/cache/jobs/tickets", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	var ticket cache.Ticket
	decodeErr := json.NewDecoder(first.Body).Decode(&ticket)
	first.Body.Close()
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first open status = %d, want 201", first.StatusCode)
	}
	if decodeErr != nil {
		t.Fatalf("decode ticket: %v", decodeErr)
	}

	addResp, _ := http.Post(srv.URL+"/api/v1/tickets/"+ticket.ID+"/entry", "application/json", bytes.NewReader(nil))
	addResp.Body.Close()

	second, err := http.Post(srv.URL+"/api/v1/cache/jobs/tickets", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("second open status = %d, want 409", second.StatusCode)
	}
}

func TestBatchLifecycle_CreateStartPoll(t *testing.T) {
	srv := newTestServer(t)

	createResp, err := http.Post(srv.URL+"/api/v1/batches", "application/json",
		bytes.NewReader([]byte(`{"job_key":"job-1","command":"true","args":[]}`)))
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	defer createResp.Body.Close()
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("create batch status = %d, want 201", createResp.StatusCode)
	}
	var batch executor.BatchState
	if err := json.NewDecoder(createResp.Body).Decode(&batch); err != nil {
		t.Fatalf("decode batch: %v", err)
	}

	startResp, err := http.Post(srv.URL+"/api/v1/batches/"+batch.ID+"/start", "application/json", nil)
	if err != nil {
		t.Fatalf("start batch: %v", err)
	}
	startResp.Body.Close()
	if startResp.StatusCode != http.StatusAccepted {
		t.Fatalf("start batch status = %d, want 202", startResp.StatusCode)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		pollResp, err := http.Get(srv.URL + "/api/v1/batches/" + batch.ID)
		if err != nil {
			t.Fatalf("poll batch: %v", err)
		}
		var polled executor.BatchState
		_ = json.NewDecoder(pollResp.Body).Decode(&polled)
		pollResp.Body.Close()
		if polled.Status == executor.StatusComplete {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("batch did not complete within timeout")
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
}
