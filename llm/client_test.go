package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeCompletions serves an OpenAI-style chat completions endpoint that
// replies with a fixed assistant message and records the request body.
func fakeCompletions(t *testing.T, reply string, got *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if got != nil {
			if err := json.Unmarshal(body, got); err != nil {
				t.Errorf("request body: %v", err)
			}
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": reply}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Model:   "test-model",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestChat_DecodesAssistantContent(t *testing.T) {
	var req map[string]any
	srv := fakeCompletions(t, "olá", &req)
	defer srv.Close()

	got, err := testClient(t, srv.URL).Chat(context.Background(), "sys", "user", false)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got != "olá" {
		t.Errorf("content: %q", got)
	}
	if req["model"] != "test-model" {
		t.Errorf("model: %v", req["model"])
	}
	if _, ok := req["response_format"]; ok {
		t.Error("response_format must be absent without jsonMode")
	}
	msgs, _ := req["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages: %v", req["messages"])
	}
}

func TestChat_JSONModeSetsResponseFormat(t *testing.T) {
	var req map[string]any
	srv := fakeCompletions(t, `{}`, &req)
	defer srv.Close()

	if _, err := testClient(t, srv.URL).Chat(context.Background(), "s", "u", true); err != nil {
		t.Fatalf("chat: %v", err)
	}
	rf, _ := req["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format: %v", req["response_format"])
	}
}

func TestChat_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Chat(context.Background(), "s", "u", false)
	if err == nil {
		t.Fatal("want error on 429")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should name the status: %v", err)
	}
}

func TestChat_EmptyChoicesIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Chat(context.Background(), "s", "u", false)
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Errorf("want no-choices error, got %v", err)
	}
}

func TestChat_SendsBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	if _, err := testClient(t, srv.URL).Chat(context.Background(), "s", "u", false); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if auth != "Bearer test-key" {
		t.Errorf("authorization: %q", auth)
	}
}
