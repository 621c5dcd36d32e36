package pix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ggmarket/ggmarket-backend/pkg/config"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"

	tokenExpirySlack = 30 * time.Second
)

var (
	errClientIDRequired     = errors.New("pix client id is required")
	errClientSecretRequired = errors.New("pix client secret is required")
	errReceiverKeyRequired  = errors.New("pix receiver key is required")
	errInvalidPixEnv        = fmt.Errorf("pix environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired       = errors.New("pix logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://pix-h.api.efipay.com.br",
	productionEnv: "https://pix.api.efipay.com.br",
}

// Client exposes Pix gateway primitives with centralized auth, logging,
// idempotency, and error mapping. Access tokens come from the OAuth
// client-credentials flow and are cached until shortly before expiry.
type Client struct {
	httpClient  *http.Client
	clientID    string
	secret      string
	receiverKey string
	environment string
	baseURL     string
	logger      *logger.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient initializes the Pix wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.PixConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, errClientIDRequired
	}
	secret := strings.TrimSpace(cfg.ClientSecret)
	if secret == "" {
		return nil, errClientSecretRequired
	}
	receiverKey := strings.TrimSpace(cfg.ReceiverKey)
	if receiverKey == "" {
		return nil, errReceiverKeyRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		httpClient:  &http.Client{Timeout: timeout},
		clientID:    clientID,
		secret:      secret,
		receiverKey: receiverKey,
		environment: env,
		baseURL:     baseURLs[env],
		logger:      logg,
	}

	logg.Info(ctx, "pix client initialized")
	return c, nil
}

func normalizeEnv(env string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(env)) {
	case "", sandboxEnv:
		return sandboxEnv, nil
	case productionEnv:
		return productionEnv, nil
	default:
		return "", errInvalidPixEnv
	}
}

// Environment reports the normalized Pix environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// ReceiverKey returns the platform's receiving Pix key.
func (c *Client) ReceiverKey() string {
	if c == nil {
		return ""
	}
	return c.receiverKey
}

// NewIdempotencyKey returns a unique key for gateway operations.
func NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "gg"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

// CreateCharge registers an immediate Pix charge (cob) and returns the
// gateway txid plus the copy-and-paste QR payload.
func (c *Client) CreateCharge(ctx context.Context, params ChargeCreateParams) (*Charge, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	txid := strings.TrimSpace(params.TxID)
	if txid == "" {
		txid = NewTxID()
	}

	body := map[string]any{
		"calendario": map[string]any{"expiracao": int(params.Expiry.Seconds())},
		"valor":      map[string]any{"original": CentsToAmount(params.AmountCents)},
		"chave":      c.receiverKey,
	}
	if params.Description != "" {
		body["solicitacaoPagador"] = params.Description
	}

	c.log(ctx, "request", "create_charge", map[string]any{
		"txid":   txid,
		"amount": params.AmountCents,
	})

	var resp chargeResponse
	if err := c.do(ctx, http.MethodPut, "/v2/cob/"+txid, body, "", &resp); err != nil {
		c.log(ctx, "error", "create_charge", map[string]any{"error": err.Error()})
		return nil, err
	}

	charge := resp.toCharge()
	c.log(ctx, "response", "create_charge", map[string]any{
		"txid":   charge.TxID,
		"status": charge.Status,
	})
	return charge, nil
}

// GetCharge fetches the gateway's view of a charge by txid.
func (c *Client) GetCharge(ctx context.Context, txid string) (*Charge, error) {
	txid = strings.TrimSpace(txid)
	if txid == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "txid is required")
	}

	c.log(ctx, "request", "get_charge", map[string]any{"txid": txid})

	var resp chargeResponse
	if err := c.do(ctx, http.MethodGet, "/v2/cob/"+txid, nil, "", &resp); err != nil {
		c.log(ctx, "error", "get_charge", map[string]any{"error": err.Error()})
		return nil, err
	}

	charge := resp.toCharge()
	c.log(ctx, "response", "get_charge", map[string]any{
		"txid":   charge.TxID,
		"status": charge.Status,
	})
	return charge, nil
}

// RefundCharge returns funds to the payer for a confirmed charge. The
// refund id doubles as the idempotency key; retrying with the same id is
// safe.
func (c *Client) RefundCharge(ctx context.Context, params RefundParams) (*Refund, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	refundID := strings.TrimSpace(params.RefundID)
	if refundID == "" {
		refundID = uuid.NewString()
	}

	body := map[string]any{"valor": CentsToAmount(params.AmountCents)}
	path := fmt.Sprintf("/v2/pix/%s/devolucao/%s", params.EndToEndID, refundID)

	c.log(ctx, "request", "refund_charge", map[string]any{
		"e2e_id":    params.EndToEndID,
		"refund_id": refundID,
		"amount":    params.AmountCents,
	})

	var resp refundResponse
	if err := c.do(ctx, http.MethodPut, path, body, "", &resp); err != nil {
		c.log(ctx, "error", "refund_charge", map[string]any{"error": err.Error()})
		return nil, err
	}

	refund := resp.toRefund()
	c.log(ctx, "response", "refund_charge", map[string]any{
		"refund_id": refund.ID,
		"status":    refund.Status,
	})
	return refund, nil
}

// CashOut sends funds to an external Pix key. IdempotencyKey is mandatory;
// the gateway treats a replay with the same key as the original request.
func (c *Client) CashOut(ctx context.Context, params CashOutParams) (*CashOut, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	body := map[string]any{
		"valor": CentsToAmount(params.AmountCents),
		"pagador": map[string]any{
			"chave": c.receiverKey,
		},
		"favorecido": map[string]any{
			"chave": params.DestinationKey,
		},
	}
	if params.Description != "" {
		body["infoPagador"] = params.Description
	}

	c.log(ctx, "request", "cash_out", map[string]any{
		"idempotency_key": params.IdempotencyKey,
		"destination_key": params.DestinationKey,
		"amount":          params.AmountCents,
	})

	var resp cashOutResponse
	if err := c.do(ctx, http.MethodPost, "/v3/gn/pix/enviar", body, params.IdempotencyKey, &resp); err != nil {
		c.log(ctx, "error", "cash_out", map[string]any{"error": err.Error()})
		return nil, err
	}

	out := resp.toCashOut()
	c.log(ctx, "response", "cash_out", map[string]any{
		"e2e_id": out.EndToEndID,
		"status": out.Status,
	})
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode pix request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build pix request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pix request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read pix response")
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return c.mapAPIError(resp.StatusCode, raw)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode pix response")
		}
	}
	return nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-tokenExpirySlack)) {
		return c.accessToken, nil
	}

	body := bytes.NewReader([]byte(`{"grant_type":"client_credentials"}`))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", body)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build pix token request")
	}
	req.SetBasicAuth(c.clientID, c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pix token request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read pix token response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.mapAPIError(resp.StatusCode, raw)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode pix token response")
	}
	if payload.AccessToken == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "pix token response missing access_token")
	}

	c.accessToken = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

func (c *Client) mapAPIError(status int, raw []byte) error {
	var payload struct {
		Nome     string `json:"nome"`
		Mensagem string `json:"mensagem"`
	}
	_ = json.Unmarshal(raw, &payload)

	msg := strings.TrimSpace(payload.Mensagem)
	if msg == "" {
		msg = fmt.Sprintf("pix gateway returned status %d", status)
	}

	err := pkgerrors.New(domainCodeForStatus(status), msg)
	if payload.Nome != "" {
		err = err.WithDetails(map[string]any{"gateway_error": payload.Nome})
	}
	return err
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("pix %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("pix %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"secret", "token", "chave", "key", "cpf", "cnpj", "email", "phone"} {
		if strings.Contains(lower, sensitive) && lower != "idempotency_key" {
			return "[REDACTED]"
		}
	}
	return value
}
