package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
	"github.com/nsridhar76/go-checkoutsvc/internal/orders"
)

type mockPublisher struct {
	PublishFunc func(ctx context.Context, order domain.OrderMessage) (string, error)
	published   []domain.OrderMessage
}

func (m *mockPublisher) Publish(ctx context.Context, order domain.OrderMessage) (string, error) {
	m.published = append(m.published, order)
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, order)
	}
	return "delivery-1", nil
}

type mockReader struct {
	GetFunc  func(ctx context.Context, orderID string) (domain.OrderRecord, error)
	FindFunc func(ctx context.Context, slug string, limit int) ([]domain.OrderRecord, error)
}

func (m *mockReader) Get(ctx context.Context, orderID string) (domain.OrderRecord, error) {
	return m.GetFunc(ctx, orderID)
}

func (m *mockReader) FindByProductSlug(ctx context.Context, slug string, limit int) ([]domain.OrderRecord, error) {
	return m.FindFunc(ctx, slug, limit)
}

const validOrder = `{
	"orderId": "pi_1",
	"customerEmail": "ana@example.com",
	"customerName": null,
	"items": [{"productName": "Comic A", "productSlug": "comic-a", "amount": 2500}],
	"total": 4300,
	"paymentMethod": "card",
	"sessionId": "cs_1"
}`

func do(h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPublishOrder(t *testing.T) {
	pub := &mockPublisher{}
	h := NewRouter(Config{Publisher: pub})

	rec := do(h, http.MethodPost, "/orders", validOrder, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"orderId":"pi_1","message":"order published"}`, rec.Body.String())
	require.Len(t, pub.published, 1)
	assert.Equal(t, "pi_1", pub.published[0].OrderID)
	assert.Nil(t, pub.published[0].CustomerName)
	assert.False(t, pub.published[0].CreatedAt.IsZero())
}

func TestPublishOrderRejectsInvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{`},
		{name: "missing email", body: `{"orderId":"pi_1","items":[{"productName":"A","productSlug":"a","amount":1}],"total":1,"paymentMethod":"card"}`},
		{name: "no items", body: `{"orderId":"pi_1","customerEmail":"a@b.c","items":[],"total":1,"paymentMethod":"card"}`},
		{name: "string amount", body: `{"orderId":"pi_1","customerEmail":"a@b.c","items":[{"productName":"A","productSlug":"a","amount":"1"}],"total":1,"paymentMethod":"card"}`},
		{name: "bad createdAt", body: `{"orderId":"pi_1","customerEmail":"a@b.c","items":[{"productName":"A","productSlug":"a","amount":1}],"total":1,"paymentMethod":"card","createdAt":"yesterday"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{}
			h := NewRouter(Config{Publisher: pub})

			rec := do(h, http.MethodPost, "/orders", tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp publishResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Empty(t, pub.published)
		})
	}
}

func TestPublishOrderFailure(t *testing.T) {
	pub := &mockPublisher{
		PublishFunc: func(context.Context, domain.OrderMessage) (string, error) {
			return "", errors.New("broker unavailable")
		},
	}
	h := NewRouter(Config{Publisher: pub})

	rec := do(h, http.MethodPost, "/orders", validOrder, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"orderId":"pi_1","message":"failed to publish order"}`, rec.Body.String())
}

func TestGetOrder(t *testing.T) {
	reader := &mockReader{
		GetFunc: func(_ context.Context, orderID string) (domain.OrderRecord, error) {
			if orderID != "pi_1" {
				return domain.OrderRecord{}, orders.ErrNotFound
			}
			return domain.OrderRecord{
				Order:     domain.OrderMessage{OrderID: "pi_1"},
				Processed: true,
			}, nil
		},
	}
	h := NewRouter(Config{Orders: reader})

	rec := do(h, http.MethodGet, "/orders/pi_1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.OrderRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "pi_1", got.Order.OrderID)
	assert.True(t, got.Processed)
	assert.False(t, got.Confirmed)

	rec = do(h, http.MethodGet, "/orders/pi_missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOrdersByProduct(t *testing.T) {
	var gotSlug string
	var gotLimit int
	reader := &mockReader{
		FindFunc: func(_ context.Context, slug string, limit int) ([]domain.OrderRecord, error) {
			gotSlug, gotLimit = slug, limit
			return nil, nil
		},
	}
	h := NewRouter(Config{Orders: reader})

	rec := do(h, http.MethodGet, "/orders?product=comic-a&limit=5000", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"orders":[]}`, rec.Body.String())
	assert.Equal(t, "comic-a", gotSlug)
	assert.Equal(t, maxListLimit, gotLimit)

	rec = do(h, http.MethodGet, "/orders", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodGet, "/orders?product=comic-a&limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func signToken(t *testing.T, secret string, method jwt.SigningMethod) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAdminAuth(t *testing.T) {
	pub := &mockPublisher{}
	h := NewRouter(Config{Publisher: pub, AdminSecret: "s3cret"})

	rec := do(h, http.MethodPost, "/orders", validOrder, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodPost, "/orders", validOrder, map[string]string{
		"Authorization": "Bearer " + signToken(t, "wrong", jwt.SigningMethodHS256),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodPost, "/orders", validOrder, map[string]string{
		"Authorization": "Bearer " + signToken(t, "s3cret", jwt.SigningMethodHS512),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodPost, "/orders", validOrder, map[string]string{
		"Authorization": "Bearer " + signToken(t, "s3cret", jwt.SigningMethodHS256),
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, pub.published, 1)
}

func TestWebhookAndHealthBypassAuth(t *testing.T) {
	webhook := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	})
	h := NewRouter(Config{Webhook: webhook, Publisher: &mockPublisher{}, AdminSecret: "s3cret"})

	rec := do(h, http.MethodPost, "/webhooks/stripe", `{}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	rec = do(h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrdersRateLimited(t *testing.T) {
	h := NewRouter(Config{Publisher: &mockPublisher{}, OrdersRate: rate.Every(time.Hour), OrdersBurst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(h, http.MethodPost, "/orders", validOrder, nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
