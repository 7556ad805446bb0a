package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/negomaq/storefront-backend/pkg/db/models"
	"github.com/negomaq/storefront-backend/pkg/logger"
	"github.com/negomaq/storefront-backend/pkg/mail"
)

// userFinder resolves the recipient for an order's lifecycle emails.
type userFinder interface {
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Emailer sends order lifecycle emails. Every method is fire and forget:
// delivery problems are logged and never surface to the calling flow.
type Emailer struct {
	sender mail.Sender
	users  userFinder
	log    *logger.Logger
}

// NewEmailer builds the lifecycle emailer. A nil sender disables delivery
// while keeping the notifier wiring intact.
func NewEmailer(sender mail.Sender, users userFinder, log *logger.Logger) (*Emailer, error) {
	if users == nil {
		return nil, fmt.Errorf("user finder required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Emailer{sender: sender, users: users, log: log}, nil
}

func (e *Emailer) OrderCreated(ctx context.Context, order *models.Order) {
	e.send(ctx, order,
		"Recebemos o seu pedido",
		fmt.Sprintf("Seu pedido %s foi criado no valor de R$ %s. Finalize o pagamento para darmos sequencia.",
			shortID(order.ID), order.TotalAmount.StringFixed(2)))
}

func (e *Emailer) OrderPaid(ctx context.Context, order *models.Order) {
	e.send(ctx, order,
		"Pagamento confirmado",
		fmt.Sprintf("O pagamento do pedido %s foi aprovado. Estamos preparando o envio.", shortID(order.ID)))
}

func (e *Emailer) OrderCancelled(ctx context.Context, order *models.Order) {
	e.send(ctx, order,
		"Pedido cancelado",
		fmt.Sprintf("O pedido %s foi cancelado. Se houve pagamento, o estorno segue pelo mesmo meio.", shortID(order.ID)))
}

func (e *Emailer) OrderShipped(ctx context.Context, order *models.Order) {
	body := fmt.Sprintf("O pedido %s foi postado.", shortID(order.ID))
	if order.TrackingCode != nil {
		body = fmt.Sprintf("O pedido %s foi postado. Codigo de rastreio: %s.", shortID(order.ID), *order.TrackingCode)
	}
	e.send(ctx, order, "Pedido enviado", body)
}

func (e *Emailer) OrderDelivered(ctx context.Context, order *models.Order) {
	e.send(ctx, order,
		"Pedido entregue",
		fmt.Sprintf("O pedido %s foi entregue. Obrigado pela compra!", shortID(order.ID)))
}

func (e *Emailer) send(ctx context.Context, order *models.Order, subject, body string) {
	if e.sender == nil {
		return
	}
	lctx := e.log.WithOrderID(ctx, order.ID.String())

	user, err := e.users.FindUser(ctx, order.UserID)
	if err != nil {
		e.log.Error(lctx, "lifecycle email recipient lookup failed", err)
		return
	}
	err = e.sender.Send(ctx, mail.Message{
		To:       user.Email,
		Subject:  subject,
		TextBody: body,
	})
	if err != nil {
		e.log.Error(lctx, "lifecycle email delivery failed", err)
	}
}

func shortID(id uuid.UUID) string {
	return "#" + id.String()[:8]
}
