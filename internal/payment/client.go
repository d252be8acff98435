// Package payment предоставляет клиент платёжного провайдера для оплаты штрафов.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/bookworm/internal/model"
)

var (
	// ErrDeclined возвращается, если провайдер отклонил платёж.
	ErrDeclined = errors.New("payment declined")
	// ErrUnavailable возвращается, если провайдер недоступен или ответил ошибкой.
	ErrUnavailable = errors.New("payment processor unavailable")
	// ErrNotConfigured возвращается, если не задан ключ API провайдера.
	ErrNotConfigured = errors.New("payment client not configured")
)

const statusSucceeded = "succeeded"

// Charge описывает запрос на списание.
type Charge struct {
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	Description   string
	FineID        int64

	// IdempotencyKey повторяется при повторной оплате того же штрафа тем же
	// средством, чтобы провайдер не списал деньги дважды. Пустой ключ генерируется.
	IdempotencyKey string
}

// IdempotencyKey возвращает стабильный ключ для оплаты штрафа на сумму amount
// платёжным средством paymentMethod.
func IdempotencyKey(fineID int64, amount decimal.Decimal, paymentMethod string) string {
	name := fmt.Sprintf("bookworm:fine:%d:%d:%s", fineID, model.Cents(amount), paymentMethod)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// Client инкапсулирует HTTP-взаимодействие с платёжным провайдером.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	newKey     func() string
}

// paymentIntent описывает ответ провайдера по одному платежу.
type paymentIntent struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`

	LastPaymentError *apiError `json:"last_payment_error,omitempty"`
}

type apiError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// NewClient создаёт клиент провайдера по адресу API, ключу и таймауту запроса.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = timeout

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		newKey:     uuid.NewString,
	}
}

// Charge списывает сумму с платёжного средства, заданного токеном. Повторов нет.
func (c *Client) Charge(ctx context.Context, ch Charge) (*model.Payment, error) {
	if c == nil || c.baseURL == "" || c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	cents := model.Cents(ch.Amount)
	if cents <= 0 {
		return nil, fmt.Errorf("charge amount must be positive, got %s", ch.Amount)
	}
	currency := strings.ToLower(ch.Currency)

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(cents, 10))
	form.Set("currency", currency)
	form.Set("payment_method", ch.PaymentMethod)
	form.Set("confirm", "true")
	form.Set("description", ch.Description)
	form.Set("metadata[fine_id]", strconv.FormatInt(ch.FineID, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	key := ch.IdempotencyKey
	if key == "" {
		key = c.newKey()
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		var er errorResponse
		_ = json.Unmarshal(body, &er)
		return nil, declined(&er.Error)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var intent paymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	if intent.Status != statusSucceeded {
		if intent.LastPaymentError != nil {
			return nil, declined(intent.LastPaymentError)
		}
		return nil, fmt.Errorf("%w: status %s", ErrDeclined, intent.Status)
	}

	return &model.Payment{
		ExternalRef:    intent.ID,
		Amount:         model.FromCents(cents),
		Currency:       currency,
		IdempotencyKey: key,
	}, nil
}

func declined(e *apiError) error {
	if e == nil || e.Message == "" {
		return ErrDeclined
	}
	return fmt.Errorf("%w: %s", ErrDeclined, e.Message)
}
