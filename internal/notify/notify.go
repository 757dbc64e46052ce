// Package notify tells other collaborators that an action was executed.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-intel/internal/config"
	"github.com/sells-group/pipeline-intel/internal/model"
	"github.com/sells-group/pipeline-intel/internal/resilience"
)

// EventActionExecuted is the type of events emitted after Execute.
const EventActionExecuted = "action.executed"

// Event is the payload delivered to notifiers.
type Event struct {
	Type         string                `json:"type"`
	ExecutionID  string                `json:"execution_id"`
	QueueEntryID string                `json:"queue_entry_id,omitempty"`
	OwnerID      string                `json:"owner_id,omitempty"`
	EntityID     string                `json:"entity_id"`
	ActionType   model.ActionType      `json:"action_type"`
	Result       model.ExecutionResult `json:"result"`
	Artifact     model.Artifact        `json:"artifact"`
	OccurredAt   time.Time             `json:"occurred_at"`
}

// ExecutedEvent builds the event for an execution record.
func ExecutedEvent(x *model.ActionExecution) Event {
	return Event{
		Type:         EventActionExecuted,
		ExecutionID:  x.ID,
		QueueEntryID: x.QueueEntryID,
		OwnerID:      x.OwnerID,
		EntityID:     x.EntityID,
		ActionType:   x.ActionType,
		Result:       x.Result,
		Artifact:     x.Artifact,
		OccurredAt:   x.ExecutedAt,
	}
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// New returns a webhook notifier when notify.webhook_url is set, otherwise
// a log notifier.
func New(cfg config.NotifyConfig) Notifier {
	if cfg.WebhookURL == "" {
		return NewLogNotifier()
	}
	return NewWebhookNotifier(cfg)
}

// LogNotifier writes events to the log.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a LogNotifier on the global logger.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: zap.L().With(zap.String("component", "notify"))}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.log.Info("notify: action executed",
		zap.String("execution_id", ev.ExecutionID),
		zap.String("entity_id", ev.EntityID),
		zap.String("action_type", string(ev.ActionType)),
		zap.String("result", string(ev.Result)),
	)
	return nil
}

// WebhookNotifier posts events as JSON and retries transient failures.
type WebhookNotifier struct {
	url    string
	client *http.Client
	policy resilience.RetryPolicy
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(cfg config.NotifyConfig) *WebhookNotifier {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: timeout},
		policy: resilience.NotifyPolicy(cfg),
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}
	return resilience.Retry(ctx, n.policy, func(ctx context.Context) error {
		return n.post(ctx, payload)
	})
}

func (n *WebhookNotifier) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		err := eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.Transient(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
