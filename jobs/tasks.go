package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypePopulateCache resolves and caches every principal's attribute
	// set for one service, scheduled after a manifest registration.
	TaskTypePopulateCache = "attrcache:populate"
)

// PopulateCachePayload names the service whose schema changed.
type PopulateCachePayload struct {
	Service string `json:"service"`
}

// NewPopulateCacheTask constructs an Asynq task.
func NewPopulateCacheTask(payload PopulateCachePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePopulateCache, data), nil
}

// Populator performs the bulk cache walk.
type Populator interface {
	PopulateAll(ctx context.Context, service string) error
}

// PopulateCacheHandler processes TaskTypePopulateCache tasks.
type PopulateCacheHandler struct {
	populator Populator
	logger    *slog.Logger
}

// NewPopulateCacheHandler constructs the handler.
func NewPopulateCacheHandler(populator Populator, logger *slog.Logger) *PopulateCacheHandler {
	return &PopulateCacheHandler{populator: populator, logger: logger}
}

// ProcessTask runs one population walk. Per-principal failures are handled
// inside PopulateAll; only a failure to enumerate principals is retried.
func (h *PopulateCacheHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload PopulateCachePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	h.logger.Info("populating attribute cache", slog.String("service", payload.Service))
	return h.populator.PopulateAll(ctx, payload.Service)
}
