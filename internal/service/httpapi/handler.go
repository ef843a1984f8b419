package httpapi

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/craftshop/internal/cache"
	"github.com/vladislavdragonenkov/craftshop/internal/domain"
	"github.com/vladislavdragonenkov/craftshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/craftshop/internal/service/sweeper"
)

const idempotencyTTL = 24 * time.Hour

// Handler обслуживает REST API витрины.
type Handler struct {
	coordinator checkout.Coordinator
	catalog     domain.CatalogRepository
	orders      domain.OrderRepository
	timeline    domain.TimelineRepository
	idempotency domain.IdempotencyRepository
	sweeper     *sweeper.Worker
	deduper     *cache.EventDeduper
	sweepSecret string
	logger      *log.Entry
}

// NewHandler создаёт HTTP-обработчик API.
func NewHandler(
	coordinator checkout.Coordinator,
	catalog domain.CatalogRepository,
	orders domain.OrderRepository,
	timeline domain.TimelineRepository,
	idempotency domain.IdempotencyRepository,
	sweepWorker *sweeper.Worker,
	deduper *cache.EventDeduper,
	sweepSecret string,
	logger *log.Entry,
) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "httpapi")
	}
	return &Handler{
		coordinator: coordinator,
		catalog:     catalog,
		orders:      orders,
		timeline:    timeline,
		idempotency: idempotency,
		sweeper:     sweepWorker,
		deduper:     deduper,
		sweepSecret: sweepSecret,
		logger:      logger,
	}
}

// Router собирает chi-маршрутизатор API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/checkout", h.handleCheckout)
		r.Get("/items", h.handleListItems)
		r.Get("/items/{sku}", h.handleGetItem)
		r.Route("/orders/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetOrder)
			r.Get("/timeline", h.handleGetTimeline)
			r.Post("/capture", h.handleCapture)
		})
	})
	r.Post("/internal/sweep", h.handleSweep)

	return r
}

type shippingPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	City    string `json:"city"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

type checkoutRequest struct {
	BuyerID  string          `json:"buyer_id"`
	Method   string          `json:"method"`
	Shipping shippingPayload `json:"shipping"`
	Lines    []struct {
		SKU string `json:"sku"`
		Qty int32  `json:"qty"`
	} `json:"lines"`
}

type orderItemPayload struct {
	SKU        string `json:"sku"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

type orderPayload struct {
	ID          string             `json:"id"`
	BuyerID     string             `json:"buyer_id"`
	Status      string             `json:"status"`
	Currency    string             `json:"currency"`
	AmountMinor int64              `json:"amount_minor"`
	Method      string             `json:"method"`
	PaymentRef  string             `json:"payment_ref,omitempty"`
	Items       []orderItemPayload `json:"items"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func toOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			SKU:        item.SKU,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}
	return orderPayload{
		ID:          order.ID,
		BuyerID:     order.BuyerID,
		Status:      string(order.Status),
		Currency:    order.Currency,
		AmountMinor: order.AmountMinor,
		Method:      string(order.Method),
		PaymentRef:  order.PaymentRef,
		Items:       items,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_request", "cannot read request body")
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey != "" && h.idempotency != nil {
		if done := h.beginIdempotent(w, idemKey, body); done {
			return
		}
	}

	status, payload := h.performCheckout(r.Context(), req)

	if idemKey != "" && h.idempotency != nil {
		h.finishIdempotent(idemKey, status, payload)
	}

	h.writeJSON(w, status, payload)
}

// beginIdempotent регистрирует idempotency-key. Возвращает true, если
// ответ уже отдан (replay сохранённого результата или конфликт).
func (h *Handler) beginIdempotent(w http.ResponseWriter, key string, body []byte) bool {
	hash := sha256.Sum256(body)
	requestHash := hex.EncodeToString(hash[:])

	_, err := h.idempotency.CreateProcessing(key, requestHash, time.Now().UTC().Add(idempotencyTTL))
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		h.writeError(w, http.StatusUnprocessableEntity, "idempotency_mismatch", "idempotency key reused with a different request body")
		return true
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		record, getErr := h.idempotency.Get(key)
		if getErr != nil {
			h.writeError(w, http.StatusInternalServerError, "internal", "idempotency lookup failed")
			return true
		}
		if record.Status == domain.IdempotencyStatusProcessing {
			h.writeError(w, http.StatusConflict, "request_in_flight", "a request with this idempotency key is still being processed")
			return true
		}
		// Повтор завершённого запроса: отдаём сохранённый ответ как есть.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(record.HTTPStatus)
		_, _ = w.Write(record.ResponseBody)
		return true
	default:
		h.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return true
	}
}

func (h *Handler) finishIdempotent(key string, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).WithField("idempotency_key", key).Error("marshal idempotent response failed")
		return
	}
	// Первый ответ уходит через json.Encoder с переводом строки в конце;
	// replay должен совпадать с ним байт в байт.
	data = append(data, '\n')

	var markErr error
	if status >= 200 && status < 300 {
		markErr = h.idempotency.MarkDone(key, data, status)
	} else {
		markErr = h.idempotency.MarkFailed(key, data, status)
	}
	if markErr != nil {
		h.logger.WithError(markErr).WithField("idempotency_key", key).Warn("mark idempotency record failed")
	}
}

// performCheckout выполняет полный checkout-поток и возвращает HTTP-статус
// с телом ответа. Карточная оплата подтверждается синхронно; PayPal-заказ
// остаётся pending до capture.
func (h *Handler) performCheckout(ctx context.Context, req checkoutRequest) (int, interface{}) {
	method := domain.PaymentMethod(req.Method)
	if method != domain.PaymentMethodCard && method != domain.PaymentMethodPayPal {
		return http.StatusBadRequest, errorPayload{Error: "bad_request", Message: "method must be card or paypal"}
	}

	draft := domain.OrderDraft{
		BuyerID: req.BuyerID,
		Method:  method,
		Shipping: domain.ShippingInfo{
			Name:    req.Shipping.Name,
			Email:   req.Shipping.Email,
			Address: req.Shipping.Address,
			City:    req.Shipping.City,
			Zip:     req.Shipping.Zip,
			Country: req.Shipping.Country,
		},
	}
	for _, line := range req.Lines {
		draft.Lines = append(draft.Lines, domain.CartLine{SKU: line.SKU, Qty: line.Qty})
	}

	order, err := h.coordinator.CreatePendingOrder(ctx, draft)
	if err != nil {
		return h.checkoutErrorStatus(err)
	}

	order, err = h.coordinator.BeginPayment(ctx, order.ID)
	if err != nil {
		if domain.IsGatewayFailure(err) {
			return http.StatusPaymentRequired, errorPayload{Error: "payment_failed", Message: "payment provider rejected the order"}
		}
		return http.StatusInternalServerError, errorPayload{Error: "internal", Message: err.Error()}
	}

	// Карточный симулятор подтверждает в том же запросе.
	if !method.RequiresExternalConfirmation() {
		order, err = h.coordinator.CapturePayment(ctx, order.ID)
		if err != nil {
			return http.StatusInternalServerError, errorPayload{Error: "internal", Message: err.Error()}
		}
	}

	return http.StatusCreated, toOrderPayload(order)
}

func (h *Handler) checkoutErrorStatus(err error) (int, interface{}) {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, errorPayload{Error: "insufficient_stock", Message: err.Error()}
	case errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound, errorPayload{Error: "item_not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrSKURequired),
		errors.Is(err, domain.ErrBuyerRequired),
		errors.Is(err, domain.ErrCurrencyMismatch):
		return http.StatusBadRequest, errorPayload{Error: "bad_request", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorPayload{Error: "internal", Message: err.Error()}
	}
}

func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	if eventID := strings.TrimSpace(r.Header.Get("X-Event-Id")); eventID != "" {
		if h.deduper.Seen(r.Context(), eventID) {
			h.logger.WithFields(log.Fields{
				"order_id": orderID,
				"event_id": eventID,
			}).Info("duplicate capture event ignored")
			h.respondWithOrder(w, orderID)
			return
		}
	}

	order, err := h.coordinator.CapturePayment(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "order_not_found", err.Error())
		case errors.Is(err, domain.ErrPaymentRefMissing):
			h.writeError(w, http.StatusConflict, "payment_not_started", err.Error())
		case domain.IsGatewayFailure(err):
			h.writeError(w, http.StatusPaymentRequired, "payment_failed", err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderPayload(order))
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	h.respondWithOrder(w, chi.URLParam(r, "id"))
}

func (h *Handler) respondWithOrder(w http.ResponseWriter, orderID string) {
	order, err := h.orders.Get(orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "order_not_found", err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, toOrderPayload(order))
}

func (h *Handler) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	if _, err := h.orders.Get(orderID); err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "order_not_found", err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	events, err := h.timeline.List(orderID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	type eventPayload struct {
		Type     string    `json:"type"`
		Reason   string    `json:"reason,omitempty"`
		Occurred time.Time `json:"occurred"`
	}
	payload := make([]eventPayload, 0, len(events))
	for _, e := range events {
		payload = append(payload, eventPayload{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id": orderID,
		"events":   payload,
	})
}

type itemPayload struct {
	SKU        string `json:"sku"`
	Title      string `json:"title"`
	PriceMinor int64  `json:"price_minor"`
	Currency   string `json:"currency"`
	Stock      int32  `json:"stock"`
}

func toItemPayload(item domain.CatalogItem) itemPayload {
	return itemPayload{
		SKU:        item.SKU,
		Title:      item.Title,
		PriceMinor: item.PriceMinor,
		Currency:   item.Currency,
		Stock:      item.Stock,
	}
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.List(0)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	payload := make([]itemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, toItemPayload(item))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"items": payload})
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.Get(chi.URLParam(r, "sku"))
	if err != nil {
		if errors.Is(err, domain.ErrItemNotFound) {
			h.writeError(w, http.StatusNotFound, "item_not_found", err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, toItemPayload(item))
}

// handleSweep запускает внеочередной проход sweeper. Доступ закрыт общим
// секретом: эндпоинт предназначен для cron и админки, не для покупателей.
func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweepSecret == "" || h.sweeper == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "sweep endpoint is disabled")
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.sweepSecret)) != 1 {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "invalid sweep token")
		return
	}

	summary := h.sweeper.SweepOnce(r.Context(), time.Now().UTC())
	h.writeJSON(w, http.StatusOK, summary)
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Warn("write response failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, errorPayload{Error: code, Message: message})
}
