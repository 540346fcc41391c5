package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"emochat/internal/app"
	"emochat/pkg/store"
)

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	st, err := store.NewGormStore("sqlite", filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	appCore, err := app.New(app.Config{
		Store:    st,
		Sessions: store.NewJWTSessionStore("test-secret", time.Hour),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg.App = appCore
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = appCore.Close()
	})
	return ts
}

func doRequest(t *testing.T, method, url, token string, payload any) (int, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, data
}

func decodeMap(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode object %q: %v", data, err)
	}
	return out
}

func decodeList(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode array %q: %v", data, err)
	}
	return out
}

func signUp(t *testing.T, baseURL, name, email string) (token, userID string) {
	t.Helper()
	status, data := doRequest(t, http.MethodPost, baseURL+"/api/auth/signup", "", map[string]string{
		"name":     name,
		"email":    email,
		"password": "secret1",
	})
	if status != http.StatusCreated {
		t.Fatalf("signup %s status = %d, body %s", email, status, data)
	}
	body := decodeMap(t, data)
	token, _ = body["token"].(string)
	user, _ := body["user"].(map[string]any)
	userID, _ = user["id"].(string)
	if token == "" || userID == "" {
		t.Fatalf("signup %s returned token %q user id %q", email, token, userID)
	}
	return token, userID
}

func TestSignupLoginVerifyFlow(t *testing.T) {
	ts := newTestServer(t, Config{})

	token, userID := signUp(t, ts.URL, "Alice", "alice@example.com")

	status, data := doRequest(t, http.MethodGet, ts.URL+"/api/auth/verify", token, nil)
	if status != http.StatusOK {
		t.Fatalf("verify status = %d, body %s", status, data)
	}
	body := decodeMap(t, data)
	if body["success"] != true {
		t.Fatalf("verify success = %v, want true", body["success"])
	}
	user, _ := body["user"].(map[string]any)
	if user["id"] != userID || user["email"] != "alice@example.com" {
		t.Fatalf("verify user = %v", user)
	}

	status, data = doRequest(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "secret1",
	})
	if status != http.StatusOK {
		t.Fatalf("login status = %d, body %s", status, data)
	}
	body = decodeMap(t, data)
	if body["success"] != true || body["token"] == "" {
		t.Fatalf("login body = %v", body)
	}

	status, data = doRequest(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong-password",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, body %s", status, data)
	}
	if msg := decodeMap(t, data)["error"]; msg != "Invalid email or password" {
		t.Fatalf("bad login error = %v", msg)
	}
}

func TestAuthGuards(t *testing.T) {
	ts := newTestServer(t, Config{})

	status, data := doRequest(t, http.MethodGet, ts.URL+"/api/conversations", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, body %s", status, data)
	}
	if msg := decodeMap(t, data)["error"]; msg != "Access token required" {
		t.Fatalf("missing token error = %v", msg)
	}

	status, data = doRequest(t, http.MethodGet, ts.URL+"/api/conversations", "garbage-token", nil)
	if status != http.StatusForbidden {
		t.Fatalf("bad token status = %d, body %s", status, data)
	}
	if msg := decodeMap(t, data)["error"]; msg != "Invalid token" {
		t.Fatalf("bad token error = %v", msg)
	}

	// Signed with a different secret, so verification fails.
	foreign, err := store.NewJWTSessionStore("other-secret", time.Hour).NewSession("user-1", "a@b.c")
	if err != nil {
		t.Fatalf("sign foreign token: %v", err)
	}
	status, data = doRequest(t, http.MethodGet, ts.URL+"/api/conversations", foreign, nil)
	if status != http.StatusForbidden {
		t.Fatalf("foreign token status = %d, body %s", status, data)
	}
}

func TestConversationLifecycle(t *testing.T) {
	ts := newTestServer(t, Config{})
	token, _ := signUp(t, ts.URL, "Alice", "alice@example.com")

	// Create with no title defaults to the sentinel.
	status, data := doRequest(t, http.MethodPost, ts.URL+"/api/conversations", token, map[string]string{})
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", status, data)
	}
	conv := decodeMap(t, data)
	convID, _ := conv["id"].(string)
	if convID == "" || conv["title"] != "New Chat" {
		t.Fatalf("created conversation = %v", conv)
	}

	// The first user message derives the title.
	status, data = doRequest(t, http.MethodPost, ts.URL+"/api/conversations/"+convID+"/messages", token, map[string]string{
		"role":    "user",
		"content": "Hello world",
	})
	if status != http.StatusCreated {
		t.Fatalf("add message status = %d, body %s", status, data)
	}
	msg := decodeMap(t, data)
	if msg["messageOrder"] != float64(1) || msg["role"] != "user" {
		t.Fatalf("created message = %v", msg)
	}

	status, data = doRequest(t, http.MethodGet, ts.URL+"/api/conversations/"+convID, token, nil)
	if status != http.StatusOK {
		t.Fatalf("get conversation status = %d, body %s", status, data)
	}
	detail := decodeMap(t, data)
	if detail["title"] != "Hello world" {
		t.Fatalf("derived title = %v, want %q", detail["title"], "Hello world")
	}
	messages, _ := detail["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("messages in detail = %d, want 1", len(messages))
	}

	status, data = doRequest(t, http.MethodPut, ts.URL+"/api/conversations/"+convID, token, map[string]string{
		"title": "Renamed",
	})
	if status != http.StatusOK {
		t.Fatalf("rename status = %d, body %s", status, data)
	}
	if decodeMap(t, data)["title"] != "Renamed" {
		t.Fatalf("rename body = %s", data)
	}

	status, data = doRequest(t, http.MethodPost, ts.URL+"/api/conversations/"+convID+"/messages/bulk", token, map[string]any{
		"messages": []map[string]string{
			{"role": "ai", "content": "Hi there"},
			{"role": "user", "content": "How are you?"},
		},
	})
	if status != http.StatusCreated {
		t.Fatalf("bulk status = %d, body %s", status, data)
	}
	bulk := decodeMap(t, data)
	if bulk["success"] != true {
		t.Fatalf("bulk body = %s", data)
	}
	inserted, _ := bulk["messages"].([]any)
	if len(inserted) != 2 {
		t.Fatalf("bulk inserted = %d, want 2", len(inserted))
	}
	second, _ := inserted[1].(map[string]any)
	if second["messageOrder"] != float64(3) {
		t.Fatalf("last order = %v, want 3", second["messageOrder"])
	}

	status, data = doRequest(t, http.MethodGet, ts.URL+"/api/conversations/"+convID+"/messages", token, nil)
	if status != http.StatusOK {
		t.Fatalf("list messages status = %d, body %s", status, data)
	}
	if got := decodeList(t, data); len(got) != 3 {
		t.Fatalf("listed messages = %d, want 3", len(got))
	}

	status, data = doRequest(t, http.MethodGet, ts.URL+"/api/conversations", token, nil)
	if status != http.StatusOK {
		t.Fatalf("list conversations status = %d, body %s", status, data)
	}
	list := decodeList(t, data)
	if len(list) != 1 || list[0]["messageCount"] != float64(3) {
		t.Fatalf("conversation list = %s", data)
	}

	status, data = doRequest(t, http.MethodDelete, ts.URL+"/api/conversations/"+convID, token, nil)
	if status != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", status, data)
	}
	del := decodeMap(t, data)
	want := fmt.Sprintf("Conversation and %d message(s) deleted successfully", 3)
	if del["success"] != true || del["message"] != want {
		t.Fatalf("delete body = %s", data)
	}

	status, data = doRequest(t, http.MethodGet, ts.URL+"/api/conversations/"+convID, token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, body %s", status, data)
	}
	if msg := decodeMap(t, data)["error"]; msg != "Conversation not found" {
		t.Fatalf("get after delete error = %v", msg)
	}
}

func TestForeignConversationIsNotFound(t *testing.T) {
	ts := newTestServer(t, Config{})
	aliceToken, _ := signUp(t, ts.URL, "Alice", "alice@example.com")
	bobToken, _ := signUp(t, ts.URL, "Bob", "bob@example.com")

	status, data := doRequest(t, http.MethodPost, ts.URL+"/api/conversations", aliceToken, map[string]string{
		"title": "Private",
	})
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", status, data)
	}
	convID, _ := decodeMap(t, data)["id"].(string)

	status, data = doRequest(t, http.MethodGet, ts.URL+"/api/conversations/"+convID, bobToken, nil)
	if status != http.StatusNotFound {
		t.Fatalf("foreign get status = %d, body %s", status, data)
	}
	status, data = doRequest(t, http.MethodDelete, ts.URL+"/api/conversations/"+convID, bobToken, nil)
	if status != http.StatusNotFound {
		t.Fatalf("foreign delete status = %d, body %s", status, data)
	}
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t, Config{})
	token, _ := signUp(t, ts.URL, "Alice", "alice@example.com")

	status, data := doRequest(t, http.MethodPost, ts.URL+"/api/conversations", token, map[string]string{})
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", status, data)
	}
	convID, _ := decodeMap(t, data)["id"].(string)

	status, data = doRequest(t, http.MethodPost, ts.URL+"/api/conversations/"+convID+"/messages", token, map[string]string{
		"role":    "robot",
		"content": "beep",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("bad role status = %d, body %s", status, data)
	}
	if msg := decodeMap(t, data)["error"]; msg != "Role must be user, ai, or system" {
		t.Fatalf("bad role error = %v", msg)
	}

	status, data = doRequest(t, http.MethodPut, ts.URL+"/api/conversations/"+convID, token, map[string]string{
		"title": "   ",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("blank title status = %d, body %s", status, data)
	}

	status, data = doRequest(t, http.MethodPost, ts.URL+"/api/conversations/"+convID+"/messages/bulk", token, map[string]any{
		"messages": []map[string]string{},
	})
	if status != http.StatusBadRequest {
		t.Fatalf("empty bulk status = %d, body %s", status, data)
	}
	if msg := decodeMap(t, data)["error"]; msg != "Messages array is required" {
		t.Fatalf("empty bulk error = %v", msg)
	}

	status, data = doRequest(t, http.MethodPost, ts.URL+"/api/auth/signup", "", map[string]string{
		"name":     "Shorty",
		"email":    "short@example.com",
		"password": "abc",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("short password status = %d, body %s", status, data)
	}
	if msg := decodeMap(t, data)["error"]; !strings.Contains(msg.(string), "at least 6 characters") {
		t.Fatalf("short password error = %v", msg)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	ts := newTestServer(t, Config{})
	token, _ := signUp(t, ts.URL, "Alice", "alice@example.com")

	status, data := doRequest(t, http.MethodGet, ts.URL+"/api/settings", token, nil)
	if status != http.StatusOK {
		t.Fatalf("get settings status = %d, body %s", status, data)
	}
	settings := decodeMap(t, data)
	if settings["preferredModel"] != "gemini-pro" || settings["useBuiltinKey"] != true {
		t.Fatalf("default settings = %s", data)
	}

	status, data = doRequest(t, http.MethodPut, ts.URL+"/api/settings", token, map[string]any{
		"preferredModel": "gpt-4",
		"useBuiltinKey":  false,
	})
	if status != http.StatusOK {
		t.Fatalf("put settings status = %d, body %s", status, data)
	}
	settings = decodeMap(t, data)
	if settings["preferredModel"] != "gpt-4" || settings["useBuiltinKey"] != false {
		t.Fatalf("updated settings = %s", data)
	}

	// Omitted fields reset to defaults.
	status, data = doRequest(t, http.MethodPut, ts.URL+"/api/settings", token, map[string]any{})
	if status != http.StatusOK {
		t.Fatalf("reset settings status = %d, body %s", status, data)
	}
	settings = decodeMap(t, data)
	if settings["preferredModel"] != "gemini-pro" || settings["useBuiltinKey"] != true {
		t.Fatalf("reset settings = %s", data)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{})
	status, data := doRequest(t, http.MethodGet, ts.URL+"/api/health", "", nil)
	if status != http.StatusOK {
		t.Fatalf("health status = %d, body %s", status, data)
	}
	body := decodeMap(t, data)
	if body["status"] != "ok" || body["database"] != "connected" {
		t.Fatalf("health body = %s", data)
	}
	if stamp, _ := body["timestamp"].(string); stamp == "" {
		t.Fatalf("health timestamp missing, body %s", data)
	}
}

func TestUnknownEndpointAndMethods(t *testing.T) {
	ts := newTestServer(t, Config{})

	status, data := doRequest(t, http.MethodGet, ts.URL+"/api/nope", "", nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown endpoint status = %d, body %s", status, data)
	}
	if msg := decodeMap(t, data)["error"]; msg != "Endpoint not found" {
		t.Fatalf("unknown endpoint error = %v", msg)
	}

	status, data = doRequest(t, http.MethodDelete, ts.URL+"/api/auth/signup", "", nil)
	if status != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method status = %d, body %s", status, data)
	}
}
