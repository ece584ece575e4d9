package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"printshop-checkout/internal/domain"
)

const maxReplyBytes = 64 << 10

type PaymentGateway interface {
	CreatePayment(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentInstructions, error)
	// Available reports whether the method has a credential configured.
	Available(method domain.Method) bool
}

type Config struct {
	BaseURL         string
	Keys            map[domain.Method]string
	Timeout         time.Duration
	VoucherValidity time.Duration
	LinkValidity    time.Duration
	ReturnURL       string
	Language        string
}

type httpGateway struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewPaymentGateway(cfg Config, logger *slog.Logger) PaymentGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	if cfg.Language == "" {
		cfg.Language = "pt"
	}
	return &httpGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
	}
}

func (g *httpGateway) Available(method domain.Method) bool {
	_, ok := methodSpecs[method]
	return ok && g.cfg.Keys[method] != ""
}

func (g *httpGateway) CreatePayment(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentInstructions, error) {
	spec, ok := methodSpecs[req.Method]
	if !ok {
		return nil, &Error{Kind: KindInvalidRequest, Method: req.Method, Message: "unknown payment method"}
	}
	key := g.cfg.Keys[req.Method]
	if key == "" {
		return nil, &Error{Kind: KindConfiguration, Method: req.Method, Message: "method unavailable"}
	}
	if !req.Amount.IsPositive() {
		return nil, &Error{Kind: KindInvalidRequest, Method: req.Method, Message: "amount must be positive"}
	}
	if !req.Amount.Equal(req.Amount.Truncate(2)) {
		return nil, &Error{Kind: KindInvalidRequest, Method: req.Method, Message: "amount has more than two decimals"}
	}
	if req.OrderID == "" {
		return nil, &Error{Kind: KindInvalidRequest, Method: req.Method, Message: "order id is required"}
	}

	fields, err := spec.build(g, key, req)
	if err != nil {
		return nil, err
	}

	body, err := g.post(ctx, req.Method, spec, fields)
	if err != nil {
		return nil, err
	}

	r, err := parseReply(body, spec.schema)
	if err != nil || !isNumeric(r.status) {
		g.logger.Error("Malformed gateway response",
			"order_id", req.OrderID, "method", req.Method, "raw_body", string(body), "error", err)
		return nil, &Error{Kind: KindMalformed, Method: req.Method, Raw: string(body), Err: err}
	}
	if !r.ok() {
		g.logger.Warn("Gateway rejected payment",
			"order_id", req.OrderID, "method", req.Method, "status", r.status, "message", r.message)
		return nil, &Error{Kind: KindRejected, Method: req.Method, Code: r.status, Message: r.message}
	}
	for _, name := range spec.required {
		if r.fields[name] == "" {
			g.logger.Error("Gateway response missing field",
				"order_id", req.OrderID, "method", req.Method, "field", name, "raw_body", string(body))
			return nil, &Error{Kind: KindMalformed, Method: req.Method, Raw: string(body), Message: "missing " + name}
		}
	}

	in := &domain.PaymentInstructions{
		Method:  req.Method,
		OrderID: req.OrderID,
		Amount:  req.Amount,
	}
	spec.finish(g, req, r, in)

	g.logger.Info("Payment instructions created", "order_id", req.OrderID, "method", req.Method, "amount", req.Amount.StringFixed(2))
	return in, nil
}

func (g *httpGateway) post(ctx context.Context, method domain.Method, spec methodSpec, fields map[string]string) ([]byte, error) {
	var (
		payload     io.Reader
		contentType string
	)
	switch spec.encoding {
	case encodeForm:
		form := url.Values{}
		for k, v := range fields {
			form.Set(k, v)
		}
		payload = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		b, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		payload = bytes.NewReader(b)
		contentType = "application/json"
	}

	endpoint := strings.TrimRight(g.cfg.BaseURL, "/") + spec.path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, &Error{Kind: KindConfiguration, Method: method, Message: "invalid gateway url", Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json, text/plain")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Method: method, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, &Error{Kind: KindTransient, Method: method, Err: err}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &Error{Kind: KindTransient, Method: method, Code: resp.Status, Raw: string(body)}
	}
	return body, nil
}
