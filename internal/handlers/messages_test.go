package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BluceCao2018/funbenchmark.com/pkg/clock/clocktest"
	"github.com/BluceCao2018/funbenchmark.com/pkg/logging"
	"github.com/BluceCao2018/funbenchmark.com/pkg/models"
)

type messagesHarness struct {
	router  *gin.Engine
	gateway *gatewayStub
}

func setupMessagesHandler() *messagesHarness {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	gateway := newGatewayStub()
	clk := clocktest.NewFake(time.Unix(1_700_000_000, 0))
	handler := NewMessagesHandler(gateway, clk, logging.NewLogger(), nil)
	router.POST("/api/messages", handler.Create)
	router.GET("/api/messages", handler.Get)
	router.PATCH("/api/messages", handler.RecordAttempt)
	return &messagesHarness{router: router, gateway: gateway}
}

func postMessageForm(t *testing.T, h *messagesHarness, fields map[string]string, mediaName string, media []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		w.WriteField(k, v)
	}
	if mediaName != "" {
		fw, err := w.CreateFormFile("media", mediaName)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		fw.Write(media)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/messages", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	return resp
}

func textMessageFields() map[string]string {
	return map[string]string{
		"title":           "catch me",
		"messageType":     models.MessageTypeText,
		"content":         "you were fast enough",
		"visibleDuration": "500",
		"maxAttempts":     "3",
		"creatorId":       "author-1",
	}
}

func TestCreateTextMessage(t *testing.T) {
	h := setupMessagesHandler()
	resp := postMessageForm(t, h, textMessageFields(), "", nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var out struct {
		Message models.TimedMessage `json:"message"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Message.ID == "" {
		t.Fatal("message has no id")
	}
	if out.Message.Content != "you were fast enough" || out.Message.MediaURL != "" {
		t.Fatalf("content/media mismatch: %+v", out.Message)
	}
	if out.Message.VisibleDurationMs != 500 || out.Message.MaxAttempts != 3 {
		t.Fatalf("gate params lost: %+v", out.Message)
	}
	if len(h.gateway.messages.Messages) != 1 {
		t.Fatalf("store holds %d messages", len(h.gateway.messages.Messages))
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	h := setupMessagesHandler()

	cases := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{"missing title", func(f map[string]string) { delete(f, "title") }},
		{"bad type", func(f map[string]string) { f["messageType"] = "AUDIO" }},
		{"zero duration", func(f map[string]string) { f["visibleDuration"] = "0" }},
		{"non-numeric duration", func(f map[string]string) { f["visibleDuration"] = "soon" }},
		{"zero attempts", func(f map[string]string) { f["maxAttempts"] = "0" }},
		{"text without content", func(f map[string]string) { delete(f, "content") }},
	}
	for _, tc := range cases {
		fields := textMessageFields()
		tc.mutate(fields)
		resp := postMessageForm(t, h, fields, "", nil)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, resp.Code)
		}
	}
	if len(h.gateway.messages.Messages) != 0 {
		t.Fatal("invalid input reached the store")
	}
}

func TestCreateImageMessageStoresMedia(t *testing.T) {
	h := setupMessagesHandler()
	fields := textMessageFields()
	fields["messageType"] = models.MessageTypeImage
	delete(fields, "content")

	resp := postMessageForm(t, h, fields, "surprise.png", []byte("pngbytes"))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	if len(h.gateway.mediaCalls) != 1 {
		t.Fatalf("media calls = %d, want 1", len(h.gateway.mediaCalls))
	}
	call := h.gateway.mediaCalls[0]
	if call.ownerID != "author-1" || call.filename != "surprise.png" || call.size != len("pngbytes") {
		t.Fatalf("media call = %+v", call)
	}

	var out struct {
		Message models.TimedMessage `json:"message"`
	}
	json.Unmarshal(resp.Body.Bytes(), &out)
	if out.Message.MediaURL != h.gateway.mediaURL {
		t.Fatalf("mediaUrl = %q, want %q", out.Message.MediaURL, h.gateway.mediaURL)
	}
}

func TestCreateRejectsTraversalCreatorID(t *testing.T) {
	h := setupMessagesHandler()
	fields := textMessageFields()
	fields["messageType"] = models.MessageTypeImage
	fields["creatorId"] = "../../escape"
	delete(fields, "content")

	resp := postMessageForm(t, h, fields, "pic.png", []byte("pngbytes"))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(h.gateway.messages.Messages) != 0 {
		t.Fatalf("message must not be stored, got %d", len(h.gateway.messages.Messages))
	}
}

func TestCreateImageWithoutFileRejected(t *testing.T) {
	h := setupMessagesHandler()
	fields := textMessageFields()
	fields["messageType"] = models.MessageTypeImage
	delete(fields, "content")

	resp := postMessageForm(t, h, fields, "", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func seedMessage(h *messagesHarness, maxAttempts int) string {
	msg := models.TimedMessage{
		ID:                "msg-1",
		Title:             "catch me",
		MessageType:       models.MessageTypeText,
		Content:           "secret",
		VisibleDurationMs: 500,
		MaxAttempts:       maxAttempts,
	}
	h.gateway.messages.Messages = append(h.gateway.messages.Messages, msg)
	return msg.ID
}

func TestGetUnknownMessageIs404(t *testing.T) {
	h := setupMessagesHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/messages?id=nope&viewerId=v1", nil)
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestGetRequiresID(t *testing.T) {
	h := setupMessagesHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestGetNewViewerHasZeroAttempts(t *testing.T) {
	h := setupMessagesHandler()
	id := seedMessage(h, 3)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/messages?id=%s&viewerId=fresh", id), nil)
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var out struct {
		Viewer viewerResponse `json:"viewer"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Viewer.AttemptsUsed != 0 || out.Viewer.Exhausted {
		t.Fatalf("fresh viewer = %+v", out.Viewer)
	}
}

func TestGetHidesOtherViewersState(t *testing.T) {
	h := setupMessagesHandler()
	id := seedMessage(h, 3)
	h.gateway.messages.Messages[0].PerUserState = map[string]models.ViewerState{
		"other": {AttemptsUsed: 2, LastReactionTimeMs: 450},
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/messages?id=%s&viewerId=v1", id), nil)
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)

	var out struct {
		Message models.TimedMessage `json:"message"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Message.PerUserState != nil {
		t.Fatalf("per-user state leaked: %+v", out.Message.PerUserState)
	}
}

func patchAttempt(t *testing.T, h *messagesHarness, id, viewerID string, reactionTime int64) *httptest.ResponseRecorder {
	t.Helper()
	url := fmt.Sprintf("/api/messages?id=%s&viewerId=%s&time=%d", id, viewerID, reactionTime)
	req := httptest.NewRequest(http.MethodPatch, url, nil)
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	return resp
}

func TestRecordAttemptIncrementsOnce(t *testing.T) {
	h := setupMessagesHandler()
	id := seedMessage(h, 3)

	resp := patchAttempt(t, h, id, "v1", 300)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var out struct {
		Viewer viewerResponse `json:"viewer"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Viewer.AttemptsUsed != 1 || out.Viewer.LastReactionTimeMs != 300 || out.Viewer.Exhausted {
		t.Fatalf("viewer after first attempt = %+v", out.Viewer)
	}
	if h.gateway.messageWrites != 1 {
		t.Fatalf("writes = %d, want 1", h.gateway.messageWrites)
	}
}

func TestRecordAttemptValidation(t *testing.T) {
	h := setupMessagesHandler()
	id := seedMessage(h, 3)

	for _, url := range []string{
		"/api/messages?viewerId=v1&time=300",            // no id
		fmt.Sprintf("/api/messages?id=%s&time=300", id), // no viewer
		fmt.Sprintf("/api/messages?id=%s&viewerId=v1&time=-5", id),
		fmt.Sprintf("/api/messages?id=%s&viewerId=v1&time=slow", id),
	} {
		req := httptest.NewRequest(http.MethodPatch, url, nil)
		resp := httptest.NewRecorder()
		h.router.ServeHTTP(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", url, resp.Code)
		}
	}
	if resp := patchAttempt(t, h, "missing", "v1", 300); resp.Code != http.StatusNotFound {
		t.Fatalf("unknown id: expected 404, got %d", resp.Code)
	}
	if h.gateway.messageWrites != 0 {
		t.Fatal("validation failures must not write")
	}
}

// Walks the whole attempt budget: a fast reveal, a too-slow one, a timeout,
// then lockout.
func TestAttemptBudgetExhaustion(t *testing.T) {
	h := setupMessagesHandler()
	id := seedMessage(h, 3)

	latencies := []int64{300, 700, 10_500}
	for i, l := range latencies {
		resp := patchAttempt(t, h, id, "v1", l)
		if resp.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i+1, resp.Code)
		}
		var out struct {
			Viewer viewerResponse `json:"viewer"`
		}
		json.Unmarshal(resp.Body.Bytes(), &out)
		if out.Viewer.AttemptsUsed != i+1 {
			t.Fatalf("attempt %d: attemptsUsed = %d", i+1, out.Viewer.AttemptsUsed)
		}
	}

	// Budget spent: GET reports exhaustion, further PATCHes are refused
	// without mutating anything.
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/messages?id=%s&viewerId=v1", id), nil)
	getResp := httptest.NewRecorder()
	h.router.ServeHTTP(getResp, req)
	var getOut struct {
		Viewer viewerResponse `json:"viewer"`
	}
	json.Unmarshal(getResp.Body.Bytes(), &getOut)
	if !getOut.Viewer.Exhausted {
		t.Fatalf("viewer not exhausted after %d attempts: %+v", len(latencies), getOut.Viewer)
	}

	writesBefore := h.gateway.messageWrites
	resp := patchAttempt(t, h, id, "v1", 100)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	if h.gateway.messageWrites != writesBefore {
		t.Fatal("refused attempt mutated the store")
	}
	if got := h.gateway.messages.Find(id).ViewerStateFor("v1").AttemptsUsed; got != 3 {
		t.Fatalf("attemptsUsed = %d after refusal, want 3", got)
	}
}

func TestAttemptBudgetsAreIndependentPerViewer(t *testing.T) {
	h := setupMessagesHandler()
	id := seedMessage(h, 1)

	if resp := patchAttempt(t, h, id, "v1", 200); resp.Code != http.StatusOK {
		t.Fatalf("v1: expected 200, got %d", resp.Code)
	}
	if resp := patchAttempt(t, h, id, "v1", 200); resp.Code != http.StatusConflict {
		t.Fatalf("v1 second attempt: expected 409, got %d", resp.Code)
	}
	// A different viewer still has a full budget.
	if resp := patchAttempt(t, h, id, "v2", 200); resp.Code != http.StatusOK {
		t.Fatalf("v2: expected 200, got %d", resp.Code)
	}
}
