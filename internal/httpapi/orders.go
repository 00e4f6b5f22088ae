package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xeipuuv/gojsonschema"

	"github.com/nsridhar76/go-checkoutsvc/internal/domain"
	"github.com/nsridhar76/go-checkoutsvc/internal/messaging"
	"github.com/nsridhar76/go-checkoutsvc/internal/orders"
)

const orderSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["orderId", "customerEmail", "items", "total", "paymentMethod"],
  "properties": {
    "orderId": { "type": "string", "minLength": 1 },
    "customerEmail": { "type": "string", "minLength": 3 },
    "customerName": { "type": ["string", "null"] },
    "items": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["productName", "productSlug", "amount"],
        "properties": {
          "productName": { "type": "string" },
          "productImage": { "type": "string" },
          "productSlug": { "type": "string" },
          "amount": { "type": "integer", "minimum": 0 }
        }
      }
    },
    "total": { "type": "integer", "minimum": 0 },
    "paymentMethod": { "type": "string", "minLength": 1 },
    "createdAt": { "type": "string", "format": "date-time" },
    "sessionId": { "type": "string" }
  }
}`

var orderSchemaLoader = gojsonschema.NewStringLoader(orderSchema)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type orderHandler struct {
	publisher messaging.Publisher
	reader    orders.Reader
	log       *slog.Logger
}

type publishResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId,omitempty"`
	Message string `json:"message"`
}

func (h *orderHandler) publish(w http.ResponseWriter, r *http.Request) {
	log := h.log
	if claims, ok := ClaimsFrom(r.Context()); ok {
		if sub, _ := claims.GetSubject(); sub != "" {
			log = log.With("actor", sub)
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, publishResponse{Message: "cannot read body"})
		return
	}
	if err := validateJSONSchema(orderSchemaLoader, body); err != nil {
		log.Warn("Invalid order body received", "error", err)
		writeJSON(w, http.StatusBadRequest, publishResponse{Message: err.Error()})
		return
	}

	var order domain.OrderMessage
	if err := json.Unmarshal(body, &order); err != nil {
		writeJSON(w, http.StatusBadRequest, publishResponse{Message: "invalid order: " + err.Error()})
		return
	}
	if err := order.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, publishResponse{OrderID: order.OrderID, Message: err.Error()})
		return
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	deliveryID, err := h.publisher.Publish(r.Context(), order)
	if err != nil {
		log.Error("Error publishing order", "order_id", order.OrderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, publishResponse{
			OrderID: order.OrderID,
			Message: "failed to publish order",
		})
		return
	}

	log.Info("Order published", "order_id", order.OrderID, "delivery_id", deliveryID)
	writeJSON(w, http.StatusOK, publishResponse{
		Success: true,
		OrderID: order.OrderID,
		Message: "order published",
	})
}

func (h *orderHandler) get(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	rec, err := h.reader.Get(r.Context(), orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.log.Error("Error reading order", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read order")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *orderHandler) list(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(r.URL.Query().Get("product"))
	if slug == "" {
		writeError(w, http.StatusBadRequest, "product query parameter is required")
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	recs, err := h.reader.FindByProductSlug(r.Context(), slug, limit)
	if err != nil {
		h.log.Error("Error listing orders", "product", slug, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if recs == nil {
		recs = []domain.OrderRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": recs})
}

func validateJSONSchema(schemaLoader gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var sb strings.Builder
		for i, e := range result.Errors() {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(e.String())
		}
		return fmt.Errorf("request does not conform to schema: %s", sb.String())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
