package notify

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
)

// LogNotifier пишет уведомления покупателю в лог. Подходит для dev-стенда
// и как заглушка до подключения почтового провайдера.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт notifier, пишущий в лог.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.New().WithField("component", "notifier")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) OrderPaid(order domain.Order) {
	n.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"buyer_email":  order.Shipping.Email,
		"amount_minor": order.AmountMinor,
		"currency":     order.Currency,
	}).Info("order paid notification")
}

func (n *LogNotifier) OrderCanceled(order domain.Order, reason string) {
	n.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"buyer_email": order.Shipping.Email,
		"reason":      reason,
	}).Info("order canceled notification")
}

var _ domain.Notifier = (*LogNotifier)(nil)
