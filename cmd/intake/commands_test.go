package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/intake/internal/config"
	"github.com/kalambet/intake/internal/pipeline"
	"github.com/kalambet/intake/internal/storage"
	"github.com/kalambet/intake/internal/validate"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"record not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// useTestServer points the commands at ts for the duration of the test.
func useTestServer(t *testing.T, ts *testServer) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })
}

var ctx = context.Background()

func TestProcessCommand_Wait(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/process": `{"record_id":"rec-123","status":"completed"}`,
	})
	useTestServer(t, ts)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"process", "--text", "నాకు ఎగరాలి అని ఉంది", "--user", "u1", "--session", "s1", "--wait"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/v1/process?wait=true" {
		t.Errorf("request = %s %s, want POST /v1/process?wait=true", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var sub pipeline.Submission
	if err := json.Unmarshal([]byte(r.Body), &sub); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sub.Text != "నాకు ఎగరాలి అని ఉంది" || sub.UserID != "u1" || sub.SessionID != "s1" {
		t.Errorf("submission = %+v", sub)
	}
}

func TestValidateCommand_MissingInput(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"validate"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing input")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestStatusRequest_Detailed(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/status/rec-1": `{
			"record_id":"rec-1","status":"completed","current_phase":"preprocessing","progress":100,
			"detected_language":"te","language_confidence":"1.00",
			"translation":{"translated_text":"I want to fly.","provider":"google","confidence":"0.90","source_language":"te","target_language":"en"},
			"phases":[{"phase":"validation","status":"completed","progress":100}]
		}`,
	})

	resp, err := ts.client().get(ctx, "/v1/status/rec-1?detailed=true")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var view pipeline.StatusView
	if err := decodeJSON(resp, &view); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if view.Status != storage.RecordCompleted || view.Progress != 100 {
		t.Errorf("view = %+v", view)
	}
	if view.Translation == nil || view.Translation.Provider != "google" {
		t.Errorf("translation = %+v", view.Translation)
	}
	if ts.requests[0].Path != "/v1/status/rec-1?detailed=true" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestStatusCommand_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	useTestServer(t, ts)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"status", "missing"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for unknown record")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "record not found") {
		t.Errorf("error = %q, want status and server message", err.Error())
	}
}

func TestAPIClient_ServerDown(t *testing.T) {
	client := &apiClient{baseURL: "http://127.0.0.1:1", httpClient: http.DefaultClient}
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestAPIClient_NoTokenNoHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /health": `{"status":"ok"}`})
	client := ts.client()
	client.token = ""

	if _, err := client.get(ctx, "/health"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want empty", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"invalid or missing bearer token","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "bad-token", httpClient: ts.Client()}
	resp, err := client.get(ctx, "/v1/providers")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "bearer token") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(colorGreen, "test message"); got != "test message" {
		t.Errorf("result = %q, want %q", got, "test message")
	}

	noColor = false
	if got := colorize(colorGreen, "test message"); !strings.Contains(got, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", got)
	}
}

func TestWriteStatus(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	var buf bytes.Buffer
	writeStatus(&buf, pipeline.StatusView{
		RecordID:     "rec-9",
		Status:       storage.RecordFailed,
		CurrentPhase: storage.PhaseTranslation,
		Progress:     50,
		Error:        "all translation providers failed",
		Phases: []pipeline.PhaseView{
			{Phase: storage.PhaseTranslation, Status: storage.PhaseFailed, Error: &pipeline.PhaseErrorView{Kind: "translation_provider", Message: "all translation providers failed"}},
		},
	})

	out := buf.String()
	for _, want := range []string{"rec-9", "failed", "50%", "translation_provider: all translation providers failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteValidation(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	res := validate.New(validate.Rules{MinLength: 10, MaxLength: 100}).Validate("short")
	var buf bytes.Buffer
	writeValidation(&buf, res)

	if !strings.Contains(buf.String(), "Valid: no") {
		t.Errorf("output = %q, want it to report invalid text", buf.String())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4100
	cfg.Translation.TargetLanguage = "en"

	found := false
	for _, k := range config.ShowAll(cfg) {
		if k.Key == "server.port" && k.Value == "4100" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4100 in ShowAll output")
	}
}

func TestSetupLogging_Level(t *testing.T) {
	logger := setupLogging(config.LogConfig{Level: "warn", Format: "json"})
	if logger.Enabled(ctx, -4) {
		t.Error("debug enabled at warn level")
	}
	if !logger.Enabled(ctx, 8) {
		t.Error("error disabled at warn level")
	}
}
