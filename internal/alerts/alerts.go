// Package alerts delivers operator notifications when the refresh pipeline
// gives up on a shipment.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/spediware/trackhub/internal/broker/messages"
)

// Sink receives one alert per shipment moved to EXCEPTION.
type Sink interface {
	Notify(ctx context.Context, alert messages.ShipmentAlert) error
}

type publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// KafkaSink publishes alerts to the shipment.alerts topic.
type KafkaSink struct {
	p publisher
}

func NewKafkaSink(p publisher) *KafkaSink {
	return &KafkaSink{p: p}
}

func (s *KafkaSink) Notify(ctx context.Context, alert messages.ShipmentAlert) error {
	b, err := json.Marshal(alert)
	if err != nil {
		return errors.Wrap(err, "marshal alert")
	}
	key := fmt.Sprintf("%s|%s", alert.CarrierCode, alert.TrackingNumber)
	return s.p.Publish(ctx, messages.TopicShipmentAlerts, []byte(key), b)
}

// LogSink writes alerts to the structured log. Used when no broker is
// configured (single-binary setups, tests).
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Notify(_ context.Context, alert messages.ShipmentAlert) error {
	s.log.Warn("shipment moved to EXCEPTION",
		"shipment_id", alert.ShipmentID,
		"carrier", alert.CarrierCode,
		"tracking_number", alert.TrackingNumber,
		"reason", alert.Reason,
		"fail_count", alert.FailCount,
	)
	return nil
}

// Noop discards alerts.
type Noop struct{}

func (Noop) Notify(context.Context, messages.ShipmentAlert) error { return nil }
