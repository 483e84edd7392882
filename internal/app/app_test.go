package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gearhead-backend/internal/api"
	"gearhead-backend/internal/config"
	"gearhead-backend/internal/messaging"
	"gearhead-backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func demoConfig() *config.Config {
	return &config.Config{
		Port:        "8080",
		DemoMode:    true,
		CORSOrigins: []string{"*"},
		Storage:     config.StorageConfig{SignedURLTTL: time.Hour},
		Attachments: config.AttachmentsConfig{MaxBytes: 10 << 20, MaxWidth: 1920, Quality: 80},
		Messaging:   config.MessagingConfig{SendGuardTTL: time.Second},
		RateLimit:   config.RateLimitConfig{Rate: time.Second, Limit: 1000},
	}
}

func request(t *testing.T, router http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
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

func loginAs(t *testing.T, router http.Handler, acc DemoAccount) string {
	t.Helper()
	w := request(t, router, http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{Email: acc.Email, Password: acc.Password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out models.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, acc.UserID, out.UserID)
	return out.AccessToken
}

func conversations(t *testing.T, router http.Handler, token string) []models.Conversation {
	t.Helper()
	w := request(t, router, http.MethodGet, "/api/v1/conversations", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list messaging.ConversationList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.True(t, list.Available)
	return list.Conversations
}

func TestDemoModeServesSeededData(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	a, err := New(ctx, demoConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NotNil(t, a.Demo)
	assert.IsType(t, &api.MemorySendGuard{}, a.Guard)

	accounts, err := SeedDemo(ctx, a.Demo, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	seller, buyer, bidder := accounts[0], accounts[1], accounts[2]

	router := a.Router()

	sellerConvs := conversations(t, router, loginAs(t, router, seller))
	assert.Len(t, sellerConvs, 2)

	buyerConvs := conversations(t, router, loginAs(t, router, buyer))
	require.Len(t, buyerConvs, 1)
	require.NotNil(t, buyerConvs[0].LastMessage)
	assert.Contains(t, *buyerConvs[0].LastMessage, "still available")

	bidderToken := loginAs(t, router, bidder)
	bidderConvs := conversations(t, router, bidderToken)
	require.Len(t, bidderConvs, 1)

	w := request(t, router, http.MethodGet, "/api/v1/conversations/"+bidderConvs[0].ID+"/unlock", bidderToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var decision messaging.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.False(t, decision.Unlocked)

	w = request(t, router, http.MethodPost, "/api/v1/conversations/"+bidderConvs[0].ID+"/messages", bidderToken,
		map[string]string{"content": "any update?"})
	assert.Equal(t, http.StatusLocked, w.Code)
}

func TestSeedDemoIsRepeatableForAccounts(t *testing.T) {
	b := api.NewMemoryBackend(demoConfig(), zerolog.Nop())
	t.Cleanup(b.Close)

	first := b.AddUser("seller@gearhead.test", demoPassword, "Sam Seller")
	accounts, err := SeedDemo(context.Background(), b, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, first, accounts[0].UserID)
}
