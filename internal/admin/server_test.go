package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/digkill/TGKeyBot/internal/repository"
	"github.com/digkill/TGKeyBot/internal/service"
	"github.com/digkill/TGKeyBot/internal/storage"
)

type fakeBroadcaster struct {
	messages []string
}

func (f *fakeBroadcaster) BroadcastText(ctx context.Context, text string) service.BroadcastResult {
	f.messages = append(f.messages, text)
	return service.BroadcastResult{Sent: 2, Total: 3}
}

type testServer struct {
	srv         *httptest.Server
	users       *service.UserService
	broadcaster *fakeBroadcaster
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	store := storage.NewStore(storage.NewMemoryBackend())
	userRepo, err := repository.NewUserRepository(ctx, store)
	if err != nil {
		t.Fatalf("user repo: %v", err)
	}
	keyRepo, err := repository.NewKeyRepository(ctx, store)
	if err != nil {
		t.Fatalf("key repo: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := service.NewUserService(userRepo)
	keys := service.NewKeyService(keyRepo, userRepo, log, service.KeyOptions{Prefix: "PFX", MaxBatch: 10})
	b := &fakeBroadcaster{}
	s := NewServer(":0", "admin", "secret", log, users, keys, b)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, users: users, broadcaster: b}
}

func (ts *testServer) do(t *testing.T, method, path, body string, auth bool) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if auth {
		req.SetBasicAuth("admin", "secret")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestRequiresBasicAuth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/keys", "", false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("missing auth challenge")
	}
}

func TestIssueAndListKeys(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/keys", `{"kind":"credit","value":50,"count":2}`, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue status = %d", resp.StatusCode)
	}
	var issued struct {
		Codes []string `json:"codes"`
	}
	decode(t, resp, &issued)
	if len(issued.Codes) != 2 || !strings.HasPrefix(issued.Codes[0], "PFX-CR50-") {
		t.Fatalf("codes = %v", issued.Codes)
	}

	resp = ts.do(t, http.MethodGet, "/keys", "", true)
	var listed keysResponse
	decode(t, resp, &listed)
	if len(listed.Credits) != 2 || len(listed.Subscriptions) != 0 {
		t.Fatalf("listed = %+v", listed)
	}
}

func TestIssueKeysRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)
	for _, body := range []string{
		`{"kind":"subscription","value":4,"count":1}`,
		`{"kind":"credit","value":10,"count":11}`,
		`{"kind":"gold","value":1,"count":1}`,
		`not json`,
	} {
		resp := ts.do(t, http.MethodPost, "/keys", body, true)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, resp.StatusCode)
		}
	}
}

func TestUserEndpoints(t *testing.T) {
	ts := newTestServer(t)
	if _, err := ts.users.Register(context.Background(), "42", "alice", "Alice A"); err != nil {
		t.Fatalf("register: %v", err)
	}

	resp := ts.do(t, http.MethodGet, "/users/42", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var got map[string]any
	decode(t, resp, &got)
	if got["id"] != "42" || got["full_name"] != "Alice A" || got["status"] != "active" {
		t.Fatalf("user = %v", got)
	}

	if resp := ts.do(t, http.MethodPost, "/users/42/ban", "", true); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("ban status = %d", resp.StatusCode)
	}
	user, _ := ts.users.GetProfile(context.Background(), "42")
	if !user.Banned() {
		t.Fatal("user not banned")
	}
	if resp := ts.do(t, http.MethodPost, "/users/42/unban", "", true); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unban status = %d", resp.StatusCode)
	}

	if resp := ts.do(t, http.MethodGet, "/users/404", "", true); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing user status = %d", resp.StatusCode)
	}
	if resp := ts.do(t, http.MethodPost, "/users/404/ban", "", true); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing user ban status = %d", resp.StatusCode)
	}
}

func TestBroadcastEndpoint(t *testing.T) {
	ts := newTestServer(t)
	if resp := ts.do(t, http.MethodPost, "/broadcast", `{"message":"  "}`, true); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty message status = %d", resp.StatusCode)
	}

	resp := ts.do(t, http.MethodPost, "/broadcast", `{"message":"maintenance at 5"}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var result struct {
		Sent  int `json:"sent"`
		Total int `json:"total"`
	}
	decode(t, resp, &result)
	if result.Sent != 2 || result.Total != 3 {
		t.Fatalf("result = %+v", result)
	}
	if len(ts.broadcaster.messages) != 1 || ts.broadcaster.messages[0] != "maintenance at 5" {
		t.Fatalf("messages = %v", ts.broadcaster.messages)
	}
}
