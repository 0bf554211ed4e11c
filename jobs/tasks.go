package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueBackfill holds import runs. Runs are long, so they get their own queue.
	QueueBackfill = "backfill"
	// TaskBackfillRun imports a historical extract for one target actor.
	TaskBackfillRun = "backfill:run"
)

// ErrInvalidPayload marks a backfill payload that can never succeed.
var ErrInvalidPayload = errors.New("invalid backfill payload")

// BackfillRunPayload describes where the extract lives and how to import it.
type BackfillRunPayload struct {
	ExtractURI        string    `json:"extract_uri"`
	Format            string    `json:"format,omitempty"`
	TargetActor       uuid.UUID `json:"target_actor"`
	GenerateDocuments bool      `json:"generate_documents"`
	OverwriteExisting bool      `json:"overwrite_existing"`
	BatchSize         int       `json:"batch_size,omitempty"`
}

func (p BackfillRunPayload) validate() error {
	if p.ExtractURI == "" {
		return fmt.Errorf("%w: extract_uri is required", ErrInvalidPayload)
	}
	if p.TargetActor == uuid.Nil {
		return fmt.Errorf("%w: target_actor is required", ErrInvalidPayload)
	}
	if p.BatchSize < 0 {
		return fmt.Errorf("%w: batch_size must not be negative", ErrInvalidPayload)
	}
	return nil
}

// NewBackfillRunTask constructs an Asynq task for an import run. A failed run
// may have committed earlier phases, so only one retry is allowed and the
// handler skips it once the pipeline has started.
func NewBackfillRunTask(payload BackfillRunPayload) (*asynq.Task, error) {
	if err := payload.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBackfillRun, body,
		asynq.Queue(QueueBackfill),
		asynq.MaxRetry(1),
		asynq.Timeout(2*time.Hour),
	), nil
}
