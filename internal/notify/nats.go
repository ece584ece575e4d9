package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"printshop-checkout/internal/domain"
)

const SubjectOrderPaid = "orders.paid"

// FulfillmentPublisher hands paid orders to production.
type FulfillmentPublisher interface {
	PublishOrderPaid(ctx context.Context, order domain.Order) error
}

type OrderPaidMessage struct {
	OrderID string          `json:"order_id"`
	Amount  string          `json:"amount"`
	Method  string          `json:"method"`
	PaidAt  time.Time       `json:"paid_at"`
	Items   json.RawMessage `json:"items"`
}

type natsPublisher struct {
	conn *nats.Conn
}

func ConnectNATS(url string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name("printshop-checkout"), nats.MaxReconnects(-1))
}

func NewNATSPublisher(conn *nats.Conn) FulfillmentPublisher {
	return &natsPublisher{conn: conn}
}

func (p *natsPublisher) PublishOrderPaid(ctx context.Context, order domain.Order) error {
	if p.conn == nil {
		return nats.ErrConnectionClosed
	}
	msg := OrderPaidMessage{
		OrderID: order.ID,
		Amount:  order.Amount.StringFixed(2),
		Method:  string(order.Method),
		Items:   order.Items,
	}
	if order.PaidAt != nil {
		msg.PaidAt = *order.PaidAt
	}
	if len(msg.Items) == 0 {
		msg.Items = json.RawMessage("[]")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal order paid message: %w", err)
	}
	// Msg-Id lets a JetStream stream drop duplicates of the same order.
	m := nats.NewMsg(SubjectOrderPaid)
	m.Header.Set(nats.MsgIdHdr, order.ID)
	m.Data = data
	if err := p.conn.PublishMsg(m); err != nil {
		return err
	}
	return p.conn.FlushWithContext(ctx)
}

type noopPublisher struct{}

// NoopPublisher is used when no broker is configured.
func NoopPublisher() FulfillmentPublisher { return noopPublisher{} }

func (noopPublisher) PublishOrderPaid(context.Context, domain.Order) error { return nil }
