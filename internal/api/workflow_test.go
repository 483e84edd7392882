package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"gearhead-backend/internal/api"
	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/config"
	"gearhead-backend/internal/messaging"
	"gearhead-backend/internal/models"
	"gearhead-backend/internal/notifications"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func testConfig() *config.Config {
	return &config.Config{
		Port:        "8080",
		DemoMode:    true,
		CORSOrigins: []string{"*"},
		Storage:     config.StorageConfig{SignedURLTTL: time.Hour},
		Attachments: config.AttachmentsConfig{MaxBytes: 10 << 20, MaxWidth: 1920, Quality: 80},
		RateLimit:   config.RateLimitConfig{Rate: time.Second, Limit: 1000},
	}
}

func setupTestServer(t *testing.T) (*gin.Engine, *api.MemoryBackend) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	backend := api.NewMemoryBackend(cfg, zerolog.Nop())
	t.Cleanup(backend.Close)

	router := gin.New()
	api.SetupRoutes(router, backend, cfg, api.NewMemorySendGuard(time.Minute), zerolog.Nop())
	return router, backend
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func login(t *testing.T, router http.Handler, email, password string) models.LoginResponse {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp models.LoginResponse
	decodeBody(t, w, &resp)
	return resp
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func TestMessagingWorkflow(t *testing.T) {
	router, backend := setupTestServer(t)

	// 1. Two members sign in.
	sellerID := backend.AddUser("seller@example.com", "password123", "Seller")
	buyerID := backend.AddUser("buyer@example.com", "password123", "Buyer")
	seller := login(t, router, "seller@example.com", "password123")
	buyer := login(t, router, "buyer@example.com", "password123")
	assert.Equal(t, sellerID, seller.UserID)
	assert.Equal(t, buyerID, buyer.UserID)

	// 2. The buyer opens a conversation with the seller; repeats reuse it.
	w := doJSON(t, router, http.MethodPost, "/api/v1/conversations", buyer.AccessToken, map[string]string{"participant_id": sellerID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created messaging.Resolution
	decodeBody(t, w, &created)
	convID := created.Conversation.ID
	require.NotEmpty(t, convID)

	w = doJSON(t, router, http.MethodPost, "/api/v1/conversations", seller.AccessToken, map[string]string{"participant_id": buyerID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"outcome":"already_exists"`)
	assert.Contains(t, w.Body.String(), convID)

	// 3. An open bid locks the conversation.
	backend.Store.PutBid(models.Bid{ID: "bid-1", Status: models.BidStatusOpen, BidderID: buyerID, SellerID: sellerID})
	require.NoError(t, backend.Store.LinkBid(convID, "bid-1"))

	w = doJSON(t, router, http.MethodGet, "/api/v1/conversations/"+convID+"/unlock", buyer.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var decision messaging.Decision
	decodeBody(t, w, &decision)
	assert.False(t, decision.Unlocked)
	assert.Equal(t, "bid-1", decision.BidID)

	path := "/api/v1/conversations/" + convID + "/messages"
	w = doJSON(t, router, http.MethodPost, path, buyer.AccessToken, map[string]string{"content": "hello"})
	require.Equal(t, http.StatusLocked, w.Code, w.Body.String())
	var locked errorBody
	decodeBody(t, w, &locked)
	assert.Equal(t, "messaging_locked", locked.Kind)
	assert.Equal(t, 0, backend.Store.Calls("InsertMessage"))

	// 4. Accepting the bid unlocks sending.
	require.NoError(t, backend.Store.SetBidStatus("bid-1", models.BidStatusAccepted))
	w = doJSON(t, router, http.MethodPost, path, buyer.AccessToken, map[string]string{"content": "  deal  "})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var sent models.Message
	decodeBody(t, w, &sent)
	assert.Equal(t, "deal", sent.Content)
	assert.Equal(t, buyerID, sent.SenderID)

	// An identical send right after is a duplicate.
	w = doJSON(t, router, http.MethodPost, path, buyer.AccessToken, map[string]string{"content": "deal"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, path, buyer.AccessToken, map[string]string{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 5. The seller sees the message and one unread.
	w = doJSON(t, router, http.MethodGet, path, seller.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history messaging.History
	decodeBody(t, w, &history)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "deal", history.Messages[0].Content)
	assert.Equal(t, messaging.StreamReady, history.Status)

	w = doJSON(t, router, http.MethodGet, "/api/v1/conversations", seller.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list messaging.ConversationList
	decodeBody(t, w, &list)
	require.Len(t, list.Conversations, 1)
	assert.True(t, list.Available)
	assert.Equal(t, 1, list.Conversations[0].UnreadCount)
	require.NotNil(t, list.Conversations[0].LastMessage)
	assert.Equal(t, "deal", *list.Conversations[0].LastMessage)

	// 6. Reading clears the unread count.
	w = doJSON(t, router, http.MethodPost, "/api/v1/conversations/"+convID+"/read", seller.AccessToken,
		map[string][]string{"message_ids": {sent.ID}})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodGet, "/api/v1/conversations", seller.AccessToken, nil)
	decodeBody(t, w, &list)
	assert.Equal(t, 0, list.Conversations[0].UnreadCount)

	// 7. The seller was notified.
	var feed notifications.Feed
	require.Eventually(t, func() bool {
		w := doJSON(t, router, http.MethodGet, "/api/v1/notifications", seller.AccessToken, nil)
		if w.Code != http.StatusOK {
			return false
		}
		feed = notifications.Feed{}
		decodeBody(t, w, &feed)
		return len(feed.Notifications) == 1
	}, waitFor, tick)
	assert.Equal(t, models.NotificationTypeNewMessage, feed.Notifications[0].Type)
	assert.Equal(t, "deal", feed.Notifications[0].Message)
	assert.Equal(t, 1, feed.Unread)

	w = doJSON(t, router, http.MethodPost, "/api/v1/notifications/read", seller.AccessToken, map[string]bool{"all": true})
	require.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, router, http.MethodGet, "/api/v1/notifications", seller.AccessToken, nil)
	decodeBody(t, w, &feed)
	assert.Equal(t, 0, feed.Unread)
}

func TestOutsiderCannotUseConversation(t *testing.T) {
	router, backend := setupTestServer(t)
	a := backend.AddUser("a@example.com", "pw", "A")
	b := backend.AddUser("b@example.com", "pw", "B")
	backend.AddUser("c@example.com", "pw", "C")
	tokenA := login(t, router, "a@example.com", "pw").AccessToken
	tokenC := login(t, router, "c@example.com", "pw").AccessToken

	w := doJSON(t, router, http.MethodPost, "/api/v1/conversations", tokenA, map[string]string{"participant_id": b})
	require.Equal(t, http.StatusCreated, w.Code)
	var res messaging.Resolution
	decodeBody(t, w, &res)
	assert.ElementsMatch(t, []string{a, b}, res.Conversation.ParticipantIDs)

	w = doJSON(t, router, http.MethodPost, "/api/v1/conversations/"+res.Conversation.ID+"/messages", tokenC, map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/conversations/"+res.Conversation.ID+"/unlock", tokenC, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Reads degrade to an unavailable, empty history.
	w = doJSON(t, router, http.MethodGet, "/api/v1/conversations/"+res.Conversation.ID+"/messages", tokenC, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history messaging.History
	decodeBody(t, w, &history)
	assert.Empty(t, history.Messages)
	assert.Equal(t, messaging.StreamUnavailable, history.Status)
}

func TestHistoryDegradesWhenBackendIsUnreachable(t *testing.T) {
	router, backend := setupTestServer(t)
	a := backend.AddUser("a@example.com", "pw", "A")
	b := backend.AddUser("b@example.com", "pw", "B")
	token := login(t, router, "a@example.com", "pw").AccessToken

	w := doJSON(t, router, http.MethodPost, "/api/v1/conversations", token, map[string]string{"participant_id": b})
	require.Equal(t, http.StatusCreated, w.Code)
	var res messaging.Resolution
	decodeBody(t, w, &res)
	require.Contains(t, res.Conversation.ParticipantIDs, a)

	backend.Store.Fail("ListMessages", apperr.New(apperr.KindTransient, "messages.list", "backend unreachable"))
	w = doJSON(t, router, http.MethodGet, "/api/v1/conversations/"+res.Conversation.ID+"/messages", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var history messaging.History
	decodeBody(t, w, &history)
	assert.Empty(t, history.Messages)
	assert.Equal(t, messaging.StreamDegraded, history.Status)
	assert.Equal(t, "backend unreachable", history.Error)
}

func TestResolveRejectsSelfAndMissingParticipant(t *testing.T) {
	router, backend := setupTestServer(t)
	id := backend.AddUser("a@example.com", "pw", "A")
	token := login(t, router, "a@example.com", "pw").AccessToken

	w := doJSON(t, router, http.MethodPost, "/api/v1/conversations", token, map[string]string{"participant_id": id})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/conversations", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthRequired(t *testing.T) {
	router, backend := setupTestServer(t)
	backend.AddUser("a@example.com", "pw", "A")

	w := doJSON(t, router, http.MethodGet, "/api/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/conversations", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "a@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "not-an-email", "password": "pw"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	router, _ := setupTestServer(t)
	w := doJSON(t, router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"backend":"demo"`)
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartUpload(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, data := range files {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadAndDelete(t *testing.T) {
	router, backend := setupTestServer(t)
	userID := backend.AddUser("a@example.com", "pw", "A")
	token := login(t, router, "a@example.com", "pw").AccessToken

	body, ctype := multipartUpload(t,
		map[string]string{"bucket": "marketplace"},
		map[string][]byte{"car.png": pngBytes(t, 64, 32)})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Files    []map[string]interface{} `json:"files"`
		URLs     []string                 `json:"urls"`
		Progress []models.UploadProgress  `json:"progress"`
	}
	decodeBody(t, w, &resp)
	require.Len(t, resp.URLs, 1)
	assert.Contains(t, resp.URLs[0], "/storage/v1/object/sign/marketplace/listings/"+userID+"/")
	assert.Equal(t, models.UploadStatusComplete, resp.Progress[0].Status)

	objectPath := resp.Files[0]["path"].(string)
	_, ok := backend.Objects.Get("marketplace", objectPath)
	require.True(t, ok)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/uploads?url="+url.QueryEscape(resp.URLs[0]), token, nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	_, ok = backend.Objects.Get("marketplace", objectPath)
	assert.False(t, ok)
}

func TestUploadRejectsDisallowedType(t *testing.T) {
	router, backend := setupTestServer(t)
	backend.AddUser("a@example.com", "pw", "A")
	token := login(t, router, "a@example.com", "pw").AccessToken

	body, ctype := multipartUpload(t, nil, map[string][]byte{"notes.txt": []byte("plain text is not an attachment")})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"error"`)
	assert.Equal(t, 0, backend.Objects.Calls("Upload"))
}

func TestSignedUploadEndpoint(t *testing.T) {
	router, backend := setupTestServer(t)
	backend.AddUser("a@example.com", "pw", "A")
	token := login(t, router, "a@example.com", "pw").AccessToken

	tests := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{"missing file name", map[string]string{"bucket": "community"}, http.StatusBadRequest},
		{"missing bucket", map[string]string{"file_name": "a.png"}, http.StatusBadRequest},
		{"escaping path", map[string]string{"bucket": "community", "file_name": "../a.png"}, http.StatusBadRequest},
		{"unknown bucket", map[string]string{"bucket": "nope", "file_name": "a.png"}, http.StatusNotFound},
		{"issued", map[string]string{"bucket": "community", "file_name": "posts/a.png"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/api/v1/storage/signed-upload", token, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status == http.StatusOK {
				var out map[string]string
				decodeBody(t, w, &out)
				assert.Equal(t, "posts/a.png", out["path"])
				assert.NotEmpty(t, out["token"])
			}
		})
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	var f map[string]interface{}
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestChatSocket(t *testing.T) {
	router, backend := setupTestServer(t)
	a := backend.AddUser("a@example.com", "pw", "A")
	b := backend.AddUser("b@example.com", "pw", "B")
	tokenA := login(t, router, "a@example.com", "pw").AccessToken
	tokenB := login(t, router, "b@example.com", "pw").AccessToken

	w := doJSON(t, router, http.MethodPost, "/api/v1/conversations", tokenA, map[string]string{"participant_id": b})
	require.Equal(t, http.StatusCreated, w.Code)
	var res messaging.Resolution
	decodeBody(t, w, &res)
	convID := res.Conversation.ID

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		fmt.Sprintf("/api/v1/conversations/%s/ws?access_token=%s", convID, tokenA)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	snapshot := readFrame(t, conn)
	assert.Equal(t, "snapshot", snapshot["type"])
	assert.Equal(t, "ready", snapshot["status"])

	lock := readFrame(t, conn)
	require.Equal(t, "lock", lock["type"])
	assert.Equal(t, true, lock["lock"].(map[string]interface{})["unlocked"])

	// A message from the other side arrives live.
	w = doJSON(t, router, http.MethodPost, "/api/v1/conversations/"+convID+"/messages", tokenB, map[string]string{"content": "from b"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	live := readFrame(t, conn)
	assert.Equal(t, "message", live["type"])
	assert.Equal(t, "inserted", live["event"])
	assert.Equal(t, "from b", live["message"].(map[string]interface{})["content"])

	// Sending over the socket is acked and echoed through the stream.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "send", "ref": "r1", "content": "from a"}))
	var acked, echoed bool
	for i := 0; i < 2; i++ {
		f := readFrame(t, conn)
		switch f["type"] {
		case "ack":
			acked = f["ref"] == "r1"
		case "message":
			echoed = f["message"].(map[string]interface{})["sender_id"] == a
		}
	}
	assert.True(t, acked)
	assert.True(t, echoed)

	// Bad frames are answered with an error, not a disconnect.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "send", "ref": "r2", "content": " "}))
	f := readFrame(t, conn)
	assert.Equal(t, "error", f["type"])
	assert.Equal(t, "r2", f["ref"])
	assert.Equal(t, "validation", f["kind"])
}

func TestChatSocketOutsiderRejectedBeforeUpgrade(t *testing.T) {
	router, backend := setupTestServer(t)
	backend.AddUser("a@example.com", "pw", "A")
	b := backend.AddUser("b@example.com", "pw", "B")
	backend.AddUser("c@example.com", "pw", "C")
	tokenA := login(t, router, "a@example.com", "pw").AccessToken
	tokenC := login(t, router, "c@example.com", "pw").AccessToken

	w := doJSON(t, router, http.MethodPost, "/api/v1/conversations", tokenA, map[string]string{"participant_id": b})
	var res messaging.Resolution
	decodeBody(t, w, &res)

	srv := httptest.NewServer(router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		fmt.Sprintf("/api/v1/conversations/%s/ws?access_token=%s", res.Conversation.ID, tokenC)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestInboxSocketPushesListChanges(t *testing.T) {
	router, backend := setupTestServer(t)
	a := backend.AddUser("a@example.com", "pw", "A")
	backend.AddUser("b@example.com", "pw", "B")
	tokenA := login(t, router, "a@example.com", "pw").AccessToken
	tokenB := login(t, router, "b@example.com", "pw").AccessToken

	srv := httptest.NewServer(router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/inbox/ws?access_token=" + tokenA
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readFrame(t, conn)
	assert.Equal(t, "conversations", first["type"])
	assert.Equal(t, true, first["available"])
	assert.Equal(t, "ready", first["status"])
	assert.Nil(t, first["conversations"])

	w := doJSON(t, router, http.MethodPost, "/api/v1/conversations", tokenB, map[string]string{"participant_id": a})
	require.Equal(t, http.StatusCreated, w.Code)
	var res messaging.Resolution
	decodeBody(t, w, &res)
	w = doJSON(t, router, http.MethodPost, "/api/v1/conversations/"+res.Conversation.ID+"/messages", tokenB, map[string]string{"content": "is it still available?"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Reloads coalesce, so read until the list shows the unread message.
	var unread float64
	for i := 0; i < 5 && unread == 0; i++ {
		f := readFrame(t, conn)
		require.Equal(t, "conversations", f["type"])
		convs, _ := f["conversations"].([]interface{})
		if len(convs) == 1 {
			conv := convs[0].(map[string]interface{})
			assert.Equal(t, res.Conversation.ID, conv["id"])
			unread, _ = conv["unread_count"].(float64)
		}
	}
	assert.Equal(t, float64(1), unread)
}

func TestRepeatedReplyWithDistinctIdempotencyKeys(t *testing.T) {
	router, backend := setupTestServer(t)
	backend.AddUser("a@example.com", "pw", "A")
	b := backend.AddUser("b@example.com", "pw", "B")
	token := login(t, router, "a@example.com", "pw").AccessToken

	w := doJSON(t, router, http.MethodPost, "/api/v1/conversations", token, map[string]string{"participant_id": b})
	require.Equal(t, http.StatusCreated, w.Code)
	var res messaging.Resolution
	decodeBody(t, w, &res)
	path := "/api/v1/conversations/" + res.Conversation.ID + "/messages"

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"content":"ok"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", key)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusCreated, send("k1"))
	assert.Equal(t, http.StatusCreated, send("k2"), "same text, new submission")
	assert.Equal(t, http.StatusConflict, send("k2"), "retry of a submission")
	assert.Equal(t, 2, backend.Store.Calls("InsertMessage"))
}
