package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aetherlab/ai-hub/internal/ratelimit"
	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newLimitsRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ratelimit.ConversationSession{}, &ratelimit.ConversationLog{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	h := &Handler{LimitSvc: ratelimit.NewService(ratelimit.NewRepo(db), nil, nil)}

	r := gin.New()
	r.POST("/v1/conversation-limits", h.ConversationLimits)
	return r
}

func postLimits(t *testing.T, r *gin.Engine, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/conversation-limits", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestConversationLimits_UnknownAction(t *testing.T) {
	r := newLimitsRouter(t)

	w := postLimits(t, r, map[string]any{
		"ip_address": "203.0.113.10",
		"action":     "destroy",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	body := decodeBody(t, w)
	if body["error"] != "Invalid action" {
		t.Fatalf("error = %v, want %q", body["error"], "Invalid action")
	}
}

func TestConversationLimits_MissingFields(t *testing.T) {
	r := newLimitsRouter(t)

	w := postLimits(t, r, map[string]any{"ip_address": "203.0.113.11"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestConversationLimits_CheckAllowsFreshIP(t *testing.T) {
	r := newLimitsRouter(t)

	w := postLimits(t, r, map[string]any{
		"ip_address": "203.0.113.12",
		"action":     "check",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decodeBody(t, w)
	if body["allowed"] != true {
		t.Fatalf("allowed = %v, want true", body["allowed"])
	}
	if body["restriction_reason"] != nil {
		t.Fatalf("restriction_reason = %v, want null", body["restriction_reason"])
	}
	if _, ok := body["limits"].(map[string]any); !ok {
		t.Fatalf("limits missing from response: %v", body)
	}
	if body["reset_time"] == "" || body["reset_time"] == nil {
		t.Fatalf("reset_time missing from response: %v", body)
	}
}

func TestConversationLimits_StartDeniedOverQuota(t *testing.T) {
	r := newLimitsRouter(t)
	ip := "203.0.113.13"

	for i := 0; i < ratelimit.IPHourlyLimit; i++ {
		w := postLimits(t, r, map[string]any{"ip_address": ip, "action": "start"})
		if w.Code != http.StatusOK {
			t.Fatalf("start %d: status = %d, body %s", i+1, w.Code, w.Body.String())
		}
		body := decodeBody(t, w)
		if body["allowed"] != true {
			t.Fatalf("start %d: body %v", i+1, body)
		}
		if sid, _ := body["session_id"].(string); sid == "" {
			t.Fatalf("start %d returned no session_id: %v", i+1, body)
		}
	}

	w := postLimits(t, r, map[string]any{"ip_address": ip, "action": "start"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	body := decodeBody(t, w)
	if body["allowed"] != false {
		t.Fatalf("allowed = %v, want false", body["allowed"])
	}
	if msg, _ := body["message"].(string); msg == "" {
		t.Fatalf("denial carries no message: %v", body)
	}
	if rt, _ := body["reset_time"].(string); rt == "" {
		t.Fatalf("denial carries no reset_time: %v", body)
	}
	limits, ok := body["limits"].(map[string]any)
	if !ok {
		t.Fatalf("denial carries no limits: %v", body)
	}
	if limits["hourly_count"].(float64) != float64(ratelimit.IPHourlyLimit) {
		t.Fatalf("hourly_count = %v, want %d", limits["hourly_count"], ratelimit.IPHourlyLimit)
	}
}

func TestConversationLimits_MessageAndEnd(t *testing.T) {
	r := newLimitsRouter(t)

	w := postLimits(t, r, map[string]any{"ip_address": "203.0.113.14", "action": "start"})
	if w.Code != http.StatusOK {
		t.Fatalf("start: status = %d", w.Code)
	}
	sessionID, _ := decodeBody(t, w)["session_id"].(string)
	if sessionID == "" {
		t.Fatal("start returned no session_id")
	}

	w = postLimits(t, r, map[string]any{
		"ip_address":    "203.0.113.14",
		"action":        "message",
		"session_id":    sessionID,
		"message_count": 4,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("message: status = %d, body %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["success"] != true {
		t.Fatalf("message reply: %s", w.Body.String())
	}

	w = postLimits(t, r, map[string]any{
		"ip_address": "203.0.113.14",
		"action":     "end",
		"session_id": sessionID,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("end: status = %d, body %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["success"] != true {
		t.Fatalf("end reply: %s", w.Body.String())
	}
}

func TestConversationLimits_MessageRequiresSessionAndCount(t *testing.T) {
	r := newLimitsRouter(t)

	for i, body := range []map[string]any{
		{"ip_address": "203.0.113.15", "action": "message", "message_count": 2},
		{"ip_address": "203.0.113.15", "action": "message", "session_id": "sess-no-count"},
		{"ip_address": "203.0.113.15", "action": "end"},
	} {
		w := postLimits(t, r, body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("case %d: status = %d, want %d", i, w.Code, http.StatusBadRequest)
		}
	}
}
