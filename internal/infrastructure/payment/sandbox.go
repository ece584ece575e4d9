package payment

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"printshop-checkout/internal/domain"
)

// issued is what the sandbox handed out for one order.
type issued struct {
	method    domain.Method
	amount    string
	entity    string
	reference string
	requestID string
}

// Sandbox imitates the gateway over HTTP. It answers in either encoding,
// declines some requests, stalls others past the client timeout and
// remembers what it issued so settlements can be replayed as callbacks.
type Sandbox struct {
	Entity string
	Stall  time.Duration
	// Chance returns 0-99; below 70 succeeds, below 90 declines, otherwise stalls.
	Chance func() int

	mu     sync.RWMutex
	orders map[string]issued
	served int
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		Entity: "12345",
		Stall:  15 * time.Second,
		Chance: func() int { return rand.IntN(100) },
		orders: make(map[string]issued),
	}
}

func (s *Sandbox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	method, ok := s.methodFor(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	fields, err := readFields(r)
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	orderID := fields["orderId"]
	if orderID == "" {
		orderID = fields["id"]
	}

	// Replays of the same order get the same answer.
	s.mu.RLock()
	prev, seen := s.orders[orderID]
	s.mu.RUnlock()
	if seen && prev.method == method {
		s.write(w, method, prev)
		return
	}

	chance := s.Chance()
	switch {
	case chance < 70:
		out := issued{
			method:    method,
			amount:    fields["amount"],
			entity:    s.Entity,
			reference: fmt.Sprintf("%09d", rand.IntN(1_000_000_000)),
			requestID: fmt.Sprintf("req-%d", rand.Int64()),
		}
		s.mu.Lock()
		s.orders[orderID] = out
		s.mu.Unlock()
		s.write(w, method, out)

	case chance < 90:
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"Status":"999","Message":"Payment declined"}`)

	default:
		// The order is registered, but the caller times out before hearing about it.
		s.mu.Lock()
		s.orders[orderID] = issued{
			method:    method,
			amount:    fields["amount"],
			entity:    s.Entity,
			reference: fmt.Sprintf("%09d", rand.IntN(1_000_000_000)),
			requestID: fmt.Sprintf("req-%d", rand.Int64()),
		}
		s.mu.Unlock()
		select {
		case <-time.After(s.Stall):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusGatewayTimeout)
	}
}

// Settle returns the callback query the gateway would send once orderID is paid.
func (s *Sandbox) Settle(orderID, secret string, paidAt time.Time) (url.Values, bool) {
	s.mu.RLock()
	out, ok := s.orders[orderID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	q := url.Values{}
	q.Set("chave", secret)
	q.Set("orderId", orderID)
	q.Set("valor", out.amount)
	q.Set("datahorapag", paidAt.Format("2006-01-02T15:04:05"))
	q.Set("payment_method", string(out.method))
	if out.method == domain.MethodOfflineReference {
		q.Set("entidade", out.entity)
		q.Set("referencia", out.reference)
	}
	if out.method == domain.MethodCashVoucher {
		q.Set("referencia", out.reference)
	}
	return q, true
}

func (s *Sandbox) methodFor(path string) (domain.Method, bool) {
	for m, spec := range methodSpecs {
		if strings.HasSuffix(path, spec.path) {
			return m, true
		}
	}
	return "", false
}

// write alternates between the JSON and the pipe encoding.
func (s *Sandbox) write(w http.ResponseWriter, method domain.Method, out issued) {
	s.mu.Lock()
	s.served++
	pipe := s.served%2 == 0
	s.mu.Unlock()

	if pipe {
		w.Header().Set("Content-Type", "text/plain")
		var parts []string
		for _, name := range methodSpecs[method].schema {
			parts = append(parts, out.field(name))
		}
		_, _ = io.WriteString(w, "000|"+strings.Join(parts, "|"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"Status":     "000",
		"Message":    "Success",
		"Entity":     out.entity,
		"Reference":  out.reference,
		"RequestId":  out.requestID,
		"PaymentUrl": out.field("paymentUrl"),
	})
}

func (i issued) field(name string) string {
	switch name {
	case "entity":
		return i.entity
	case "reference":
		return i.reference
	case "requestId":
		return i.requestID
	case "paymentUrl":
		return "https://sandbox.gateway.local/pay/" + i.requestID
	}
	return ""
}

func readFields(r *http.Request) (map[string]string, error) {
	fields := map[string]string{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			return nil, err
		}
		return fields, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	for k := range r.PostForm {
		fields[k] = r.PostForm.Get(k)
	}
	return fields, nil
}
