package payment

import (
	"net/url"
	"time"

	"printshop-checkout/internal/domain"
)

type encoding int

const (
	encodeForm encoding = iota + 1
	encodeJSON
)

// methodSpec describes how one payment method talks to the gateway.
type methodSpec struct {
	path     string
	encoding encoding
	// schema names the positional fields of a pipe-delimited success reply.
	schema   []string
	required []string
	build    func(g *httpGateway, key string, req domain.PaymentRequest) (map[string]string, error)
	finish   func(g *httpGateway, req domain.PaymentRequest, r *reply, in *domain.PaymentInstructions)
}

var methodSpecs = map[domain.Method]methodSpec{
	domain.MethodOfflineReference: {
		path:     "/multibanco/reference/init",
		encoding: encodeForm,
		schema:   []string{"entity", "reference"},
		required: []string{"entity", "reference"},
		build: func(g *httpGateway, key string, req domain.PaymentRequest) (map[string]string, error) {
			body := map[string]string{
				"mbKey":   key,
				"orderId": req.OrderID,
				"amount":  req.Amount.StringFixed(2),
			}
			addContact(body, req.Contact, "clientEmail", "clientPhone")
			return body, nil
		},
		finish: func(_ *httpGateway, _ domain.PaymentRequest, r *reply, in *domain.PaymentInstructions) {
			in.Entity = r.fields["entity"]
			in.Reference = r.fields["reference"]
		},
	},
	domain.MethodPushToPhone: {
		path:     "/mbway/init",
		encoding: encodeJSON,
		schema:   []string{"requestId"},
		required: []string{"requestId"},
		build: func(g *httpGateway, key string, req domain.PaymentRequest) (map[string]string, error) {
			if req.Contact == nil || req.Contact.Phone == "" {
				return nil, &Error{Kind: KindInvalidRequest, Method: req.Method, Message: "mobile number is required"}
			}
			body := map[string]string{
				"mbWayKey":     key,
				"orderId":      req.OrderID,
				"amount":       req.Amount.StringFixed(2),
				"mobileNumber": req.Contact.Phone,
			}
			if req.Contact.Email != "" {
				body["email"] = req.Contact.Email
			}
			return body, nil
		},
		finish: func(_ *httpGateway, _ domain.PaymentRequest, r *reply, in *domain.PaymentInstructions) {
			in.RequestID = r.fields["requestId"]
			in.PushStatus = domain.PushPending
		},
	},
	domain.MethodCashVoucher: {
		path:     "/payshop/reference",
		encoding: encodeForm,
		schema:   []string{"reference", "requestId"},
		required: []string{"reference"},
		build: func(g *httpGateway, key string, req domain.PaymentRequest) (map[string]string, error) {
			return map[string]string{
				"payshopKey": key,
				"id":         req.OrderID,
				"amount":     req.Amount.StringFixed(2),
				"validity":   g.voucherDeadline().Format("20060102"),
			}, nil
		},
		finish: func(g *httpGateway, _ domain.PaymentRequest, r *reply, in *domain.PaymentInstructions) {
			in.Reference = r.fields["reference"]
			in.RequestID = r.fields["requestId"]
			until := g.voucherDeadline()
			in.ValidUntil = &until
		},
	},
	domain.MethodHostedCard: {
		path:     "/creditcard/init",
		encoding: encodeJSON,
		schema:   []string{"requestId", "paymentUrl"},
		required: []string{"requestId", "paymentUrl"},
		build: func(g *httpGateway, key string, req domain.PaymentRequest) (map[string]string, error) {
			return map[string]string{
				"ccardKey":   key,
				"orderId":    req.OrderID,
				"amount":     req.Amount.StringFixed(2),
				"successUrl": g.returnURL(req.OrderID, "success"),
				"errorUrl":   g.returnURL(req.OrderID, "error"),
				"cancelUrl":  g.returnURL(req.OrderID, "cancel"),
				"language":   g.cfg.Language,
			}, nil
		},
		finish: hostedFinish,
	},
	domain.MethodHostedLink: {
		path:     "/gateway/link",
		encoding: encodeJSON,
		schema:   []string{"requestId", "paymentUrl"},
		required: []string{"paymentUrl"},
		build: func(g *httpGateway, key string, req domain.PaymentRequest) (map[string]string, error) {
			body := map[string]string{
				"linkKey":     key,
				"id":          req.OrderID,
				"amount":      req.Amount.StringFixed(2),
				"description": "Order " + req.OrderID,
				"expiryDate":  g.linkDeadline().Format("20060102"),
			}
			addContact(body, req.Contact, "email", "phone")
			return body, nil
		},
		finish: func(g *httpGateway, req domain.PaymentRequest, r *reply, in *domain.PaymentInstructions) {
			hostedFinish(g, req, r, in)
			until := g.linkDeadline()
			in.ValidUntil = &until
		},
	},
}

func hostedFinish(_ *httpGateway, _ domain.PaymentRequest, r *reply, in *domain.PaymentInstructions) {
	in.RequestID = r.fields["requestId"]
	in.PaymentURL = r.fields["paymentUrl"]
}

func addContact(body map[string]string, c *domain.CustomerContact, emailField, phoneField string) {
	if c == nil {
		return
	}
	if emailField != "" && c.Email != "" {
		body[emailField] = c.Email
	}
	if phoneField != "" && c.Phone != "" {
		body[phoneField] = c.Phone
	}
}

func (g *httpGateway) voucherDeadline() time.Time {
	return endOfDay(g.now().Add(g.cfg.VoucherValidity))
}

// linkDeadline is the last moment of the expiryDate sent for a hosted link.
func (g *httpGateway) linkDeadline() time.Time {
	return endOfDay(g.now().Add(g.cfg.LinkValidity))
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

func (g *httpGateway) returnURL(orderID, outcome string) string {
	if g.cfg.ReturnURL == "" {
		return ""
	}
	q := url.Values{}
	q.Set("order", orderID)
	q.Set("outcome", outcome)
	return g.cfg.ReturnURL + "?" + q.Encode()
}
