package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/windrunne/6ix-app/internal/app"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{}, nil)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	server := httptest.NewServer(NewHandler(application))
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, payload map[string]interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestIntroLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/intros", map[string]interface{}{
		"requester_id":  "alice",
		"target_id":     "bob",
		"query_context": "we both shoot film photography",
		"mutual_ids":    []string{"carol", "dave"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var created struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		MutualCount int    `json:"mutual_count"`
	}
	decodeBody(t, resp, &created)
	if created.ID == "" || created.Status != "pending" || created.MutualCount != 2 {
		t.Fatalf("created = %+v", created)
	}

	// Duplicate pending pair.
	resp = postJSON(t, server.URL+"/intros", map[string]interface{}{
		"requester_id":  "alice",
		"target_id":     "bob",
		"query_context": "asking again",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp.StatusCode)
	}
	var dup struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &dup)
	if dup.Code != "duplicate_request" {
		t.Fatalf("duplicate code = %q", dup.Code)
	}

	resp = postJSON(t, fmt.Sprintf("%s/intros/%s/respond", server.URL, created.ID), map[string]interface{}{
		"responder_id": "bob",
		"accept":       true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("respond status = %d, want 200", resp.StatusCode)
	}
	var resolved struct {
		Status string `json:"status"`
		ChatID string `json:"chat_id"`
	}
	decodeBody(t, resp, &resolved)
	if resolved.Status != "accepted" || resolved.ChatID == "" {
		t.Fatalf("resolved = %+v", resolved)
	}

	// The requester sees the accepted intro and its notification.
	listResp, err := http.Get(server.URL + "/users/alice/intros")
	if err != nil {
		t.Fatalf("list intros: %v", err)
	}
	var intros struct {
		Sent []struct {
			Status string `json:"status"`
		} `json:"sent"`
	}
	decodeBody(t, listResp, &intros)
	if len(intros.Sent) != 1 || intros.Sent[0].Status != "accepted" {
		t.Fatalf("sent = %+v", intros.Sent)
	}

	notifResp, err := http.Get(server.URL + "/users/alice/notifications?unread=true")
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	var notifs []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	decodeBody(t, notifResp, &notifs)
	if len(notifs) != 1 || notifs[0].Type != "intro_accepted" {
		t.Fatalf("notifications = %+v", notifs)
	}

	readResp := postJSON(t, fmt.Sprintf("%s/notifications/%s/read", server.URL, notifs[0].ID), map[string]interface{}{})
	readResp.Body.Close()
	if readResp.StatusCode != http.StatusNoContent {
		t.Fatalf("mark read status = %d, want 204", readResp.StatusCode)
	}
}

func TestIntroQuotaOverHTTP(t *testing.T) {
	server := newTestServer(t)

	for i, target := range []string{"bob", "carol", "dave"} {
		resp := postJSON(t, server.URL+"/intros", map[string]interface{}{
			"requester_id":  "alice",
			"target_id":     target,
			"query_context": "we share three mutual friends",
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("request %d status = %d, want 201", i, resp.StatusCode)
		}
	}

	resp := postJSON(t, server.URL+"/intros", map[string]interface{}{
		"requester_id":  "alice",
		"target_id":     "erin",
		"query_context": "fourth request this hour",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("429 must carry Retry-After")
	}
	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &body)
	if body.Code != "rate_limited" {
		t.Fatalf("code = %q, want rate_limited", body.Code)
	}
}

func TestGhostAskOverHTTP(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/ghost-asks", map[string]interface{}{
		"sender_id":    "alice",
		"recipient_id": "bob",
		"message":      "are you going to the gallery opening?",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var ask struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &ask)

	// Locked: attempts accumulate.
	resp = postJSON(t, fmt.Sprintf("%s/ghost-asks/%s/attempt", server.URL, ask.ID), map[string]interface{}{
		"sender_id": "alice",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("locked attempt status = %d, want 409", resp.StatusCode)
	}
	var locked struct {
		Code      string `json:"code"`
		Attempts  int    `json:"attempts"`
		Threshold int    `json:"threshold"`
	}
	decodeBody(t, resp, &locked)
	if locked.Code != "threshold_not_met" || locked.Attempts != 1 || locked.Threshold != 10 {
		t.Fatalf("locked = %+v", locked)
	}

	// Unlock within the window, then send.
	resp = postJSON(t, fmt.Sprintf("%s/ghost-asks/%s/unlock-event", server.URL, ask.ID), map[string]interface{}{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unlock status = %d, want 200", resp.StatusCode)
	}
	var unlock struct {
		Unlocked bool `json:"unlocked"`
	}
	decodeBody(t, resp, &unlock)
	if !unlock.Unlocked {
		t.Fatal("event now should unlock a fresh ask")
	}

	resp = postJSON(t, fmt.Sprintf("%s/ghost-asks/%s/attempt", server.URL, ask.ID), map[string]interface{}{
		"sender_id": "alice",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d, want 200", resp.StatusCode)
	}
	var sent struct {
		Ask struct {
			Status string `json:"status"`
		} `json:"ask"`
		Forced bool `json:"forced"`
	}
	decodeBody(t, resp, &sent)
	if sent.Ask.Status != "sent" || sent.Forced {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
