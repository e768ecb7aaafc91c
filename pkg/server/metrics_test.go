package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatal(err)
	}
	return rec.Code, string(body)
}

func TestMetricsHandler(t *testing.T) {
	srv, st := newTestServer(t)
	alice := loggedIn(t, srv, st, "alice")
	alice.mustOK(t, `{"cmd":"join","room":"general"}`)
	alice.mustOK(t, `{"cmd":"msg","room":"general","text":"hi"}`)
	newTestClient(srv).do(t, `{"cmd":"login","username":"alice","password":"wrong"}`)

	h := srv.MetricsHandler()

	code, body := get(t, h, "/metrics")
	if code != http.StatusOK {
		t.Fatalf("/metrics status = %d", code)
	}
	for _, line := range []string{
		"roomchat_connections_active 2",
		"roomchat_connections_total 2",
		"roomchat_auth_success_total 1",
		"roomchat_auth_failed_total 1",
		"roomchat_users_online 1",
		"roomchat_rooms 1",
		"roomchat_room_messages_total 1",
		"roomchat_joins_total 1",
		"# TYPE roomchat_uptime_seconds gauge",
	} {
		if !strings.Contains(body, line+"\n") {
			t.Errorf("/metrics missing %q", line)
		}
	}

	code, body = get(t, h, "/metrics.json")
	if code != http.StatusOK {
		t.Fatalf("/metrics.json status = %d", code)
	}
	var snap MetricsSnapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		t.Fatalf("decode /metrics.json: %v", err)
	}
	if snap.RoomMessages != 1 || snap.SuccessfulAuths != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	code, body = get(t, h, "/healthz")
	if code != http.StatusOK || body != "ok\n" {
		t.Fatalf("/healthz = %d %q", code, body)
	}
}
