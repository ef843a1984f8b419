package payment

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
)

// CardSimGateway — детерминированный симулятор карточной оплаты.
// Подтверждение происходит синхронно в том же запросе, поэтому такие
// заказы не попадают под sweep по времени.
type CardSimGateway struct {
	logger *log.Entry

	// DeclineFn позволяет тестам и демо-стендам отклонять отдельные заказы.
	DeclineFn func(order domain.Order) bool
}

// NewCardSimGateway создаёт симулятор, подтверждающий все платежи.
func NewCardSimGateway(logger *log.Entry) *CardSimGateway {
	if logger == nil {
		logger = log.New().WithField("component", "cardsim-gateway")
	}
	return &CardSimGateway{logger: logger}
}

func (g *CardSimGateway) CreateRemoteIntent(_ context.Context, order domain.Order) (string, error) {
	if g.DeclineFn != nil && g.DeclineFn(order) {
		g.logger.WithField("order_id", order.ID).Info("card simulator declined intent")
		return "", domain.ErrGatewayRejected
	}
	return "cardsim-" + uuid.NewString(), nil
}

func (g *CardSimGateway) CaptureRemoteIntent(_ context.Context, remoteID string) (domain.CaptureOutcome, error) {
	g.logger.WithField("remote_id", remoteID).Debug("card simulator captured")
	return domain.OutcomeCaptured, nil
}

var _ domain.PaymentGateway = (*CardSimGateway)(nil)
