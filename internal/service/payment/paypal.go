package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
)

// PayPalConfig — параметры подключения к PayPal REST API.
type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPTimeout  time.Duration
}

// PayPalGateway реализует PaymentGateway поверх PayPal Orders v2 API.
// Любой транспортный сбой, не-2xx ответ или кривое тело отображается в
// ошибку шлюза: шлюз никогда не решает судьбу заказа сам.
type PayPalGateway struct {
	cfg    PayPalConfig
	client *http.Client
	logger *log.Entry

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPayPalGateway создаёт клиент PayPal с кешированием OAuth-токена.
func NewPayPalGateway(cfg PayPalConfig, logger *log.Entry) *PayPalGateway {
	if logger == nil {
		logger = log.New().WithField("component", "paypal-gateway")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PayPalGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// CreateRemoteIntent создаёт PayPal order на сумму заказа.
func (g *PayPalGateway) CreateRemoteIntent(ctx context.Context, order domain.Order) (string, error) {
	token, err := g.token(ctx)
	if err != nil {
		return "", err
	}

	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"reference_id": order.ID,
				"amount": map[string]string{
					"currency_code": order.Currency,
					"value":         formatAmount(order.AmountMinor),
				},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal create order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v2/checkout/orders", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build create order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.WithError(err).WithField("order_id", order.ID).Warn("create paypal order transport failure")
		return "", fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.WithFields(log.Fields{
			"order_id":    order.ID,
			"http_status": resp.StatusCode,
		}).Warn("create paypal order rejected")
		return "", fmt.Errorf("%w: http %d", domain.ErrGatewayRejected, resp.StatusCode)
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.ID == "" {
		return "", fmt.Errorf("%w: malformed create order response", domain.ErrGatewayRejected)
	}

	g.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"remote_id": parsed.ID,
	}).Debug("paypal order created")

	return parsed.ID, nil
}

// CaptureRemoteIntent подтверждает PayPal order. В Captured отображается
// только статус "COMPLETED"; всё остальное — Failed.
func (g *PayPalGateway) CaptureRemoteIntent(ctx context.Context, remoteID string) (domain.CaptureOutcome, error) {
	token, err := g.token(ctx)
	if err != nil {
		return domain.OutcomeFailed, err
	}

	url := fmt.Sprintf("%s/v2/checkout/orders/%s/capture", g.cfg.BaseURL, remoteID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return domain.OutcomeFailed, fmt.Errorf("build capture request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.WithError(err).WithField("remote_id", remoteID).Warn("capture transport failure")
		return domain.OutcomeFailed, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.OutcomeFailed, fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.WithFields(log.Fields{
			"remote_id":   remoteID,
			"http_status": resp.StatusCode,
		}).Warn("capture rejected")
		return domain.OutcomeFailed, fmt.Errorf("%w: http %d", domain.ErrGatewayRejected, resp.StatusCode)
	}

	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.OutcomeFailed, fmt.Errorf("%w: malformed capture response", domain.ErrGatewayRejected)
	}
	if parsed.Status != "COMPLETED" {
		g.logger.WithFields(log.Fields{
			"remote_id": remoteID,
			"status":    parsed.Status,
		}).Warn("capture not completed")
		return domain.OutcomeFailed, fmt.Errorf("%w: status %s", domain.ErrGatewayRejected, parsed.Status)
	}

	return domain.OutcomeCaptured, nil
}

// token возвращает действующий OAuth-токен, запрашивая новый по истечении.
func (g *PayPalGateway) token(ctx context.Context) (string, error) {
	g.tokenMu.Lock()
	defer g.tokenMu.Unlock()

	if g.accessToken != "" && time.Now().Before(g.tokenExpiry) {
		return g.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/oauth2/token", bytes.NewReader([]byte("grant_type=client_credentials")))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(g.cfg.ClientID, g.cfg.ClientSecret)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: token http %d", domain.ErrGatewayRejected, resp.StatusCode)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || parsed.AccessToken == "" {
		return "", fmt.Errorf("%w: malformed token response", domain.ErrGatewayRejected)
	}

	g.accessToken = parsed.AccessToken
	// Запас в минуту, чтобы не поймать истечение токена посреди запроса.
	g.tokenExpiry = time.Now().Add(time.Duration(parsed.ExpiresIn)*time.Second - time.Minute)

	return g.accessToken, nil
}

// formatAmount переводит минорные единицы в строку вида "12.50".
func formatAmount(minor int64) string {
	return strconv.FormatInt(minor/100, 10) + "." + fmt.Sprintf("%02d", minor%100)
}

var _ domain.PaymentGateway = (*PayPalGateway)(nil)
