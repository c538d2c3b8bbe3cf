package outbound

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alarmpipe/alarmpipe/internal/alerting"
	"github.com/alarmpipe/alarmpipe/internal/datastore/repository"
	"github.com/alarmpipe/alarmpipe/internal/logger"
	"github.com/alarmpipe/alarmpipe/internal/observability"
)

const storeTimeout = 3 * time.Second

// StoreSink indexes every alarm event by its id in the alarm collection.
type StoreSink struct {
	repo    repository.DocumentRepository
	metrics *observability.Metrics
	log     logger.Logger
}

func NewStoreSink(repo repository.DocumentRepository, metrics *observability.Metrics, log logger.Logger) *StoreSink {
	return &StoreSink{
		repo:    repo,
		metrics: metrics,
		log:     log.With(logger.String("component", "store_sink")),
	}
}

func (s *StoreSink) HandleAlarm(ev *alerting.AlarmEvent) {
	body, err := json.Marshal(ev)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		err = s.repo.Index(ctx, ev.ID, body)
		cancel()
	}
	if err != nil {
		s.metrics.OutboundError("store")
		s.log.Error("failed to store alarm event",
			logger.String("definition_id", ev.Definition.ID),
			logger.String("alarm_id", ev.ID),
			logger.Error(err))
	}
}
