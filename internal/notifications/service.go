package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quizsync/internal/config"
)

const userAgent = "QuizSync-Go/0.1.0"

// Event identifies a sync lifecycle milestone worth telling the operator about.
type Event string

const (
	// EventSyncStarted fires when a job begins uploading. Suppressed by
	// default; a started push for every run is noise on short storyboards.
	EventSyncStarted Event = "sync_started"
	// EventSyncCompleted fires when a job reaches complete or
	// partially_failed. Payload keys: quizTitle, confirmed, failed,
	// conflicts, duration.
	EventSyncCompleted Event = "sync_completed"
	// EventSyncFailed fires when a job fails outright, which only happens
	// when quiz creation never succeeded. Payload keys: quizTitle, error.
	EventSyncFailed Event = "sync_failed"
	// EventError fires for a notable mid-run error that did not end the
	// job. Payload keys: context, error.
	EventError Event = "error"
	// EventTest is the probe sent by `quizsync notify test`.
	EventTest Event = "test"
)

// Payload carries event-specific values into the message formatter.
type Payload map[string]any

// Service defines the notification surface exposed to workflow components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		prefs:    cfg.Notifications,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	prefs    config.Notifications
}

// Publish formats and delivers the event. Events the operator has switched
// off, and events with no push representation, return nil without a request.
func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventSyncCompleted:
		if !n.prefs.JobComplete {
			return message{}, false
		}
		return formatSyncCompleted(payload), true
	case EventSyncFailed:
		if !n.prefs.JobFailed {
			return message{}, false
		}
		return formatSyncFailed(payload), true
	case EventError:
		if !n.prefs.Errors {
			return message{}, false
		}
		return formatError(payload), true
	case EventTest:
		return message{
			title:    "QuizSync - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"quizsync", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func formatSyncCompleted(payload Payload) message {
	quizTitle := payload.text("quizTitle")
	confirmed := payload.count("confirmed")
	failed := payload.count("failed")
	conflicts := payload.count("conflicts")
	durationText := payload.spanText("duration")

	if failed == 0 && conflicts == 0 {
		return message{
			title:    "QuizSync - Sync Complete",
			body:     fmt.Sprintf("✅ %s: %d items confirmed in %s", quizTitle, confirmed, durationText),
			tags:     []string{"quizsync", "sync", "completed"},
			priority: "high",
		}
	}

	var issues []string
	if failed > 0 {
		issues = append(issues, fmt.Sprintf("%d failed", failed))
	}
	if conflicts > 0 {
		issues = append(issues, fmt.Sprintf("%d conflicts", conflicts))
	}
	return message{
		title:    "QuizSync - Sync Complete (with issues)",
		body:     fmt.Sprintf("⚠️ %s: %d confirmed, %s in %s", quizTitle, confirmed, strings.Join(issues, ", "), durationText),
		tags:     []string{"quizsync", "sync", "issues"},
		priority: "high",
	}
}

func formatSyncFailed(payload Payload) message {
	return message{
		title:    "QuizSync - Sync Failed",
		body:     fmt.Sprintf("❌ Sync failed: %s: %s", payload.text("quizTitle"), payload.text("error")),
		tags:     []string{"quizsync", "sync", "failed"},
		priority: "high",
	}
}

func formatError(payload Payload) message {
	var builder strings.Builder
	builder.WriteString("❌ Error")
	if contextLabel := payload.text("context"); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if errText := payload.text("error"); errText != "" {
		builder.WriteString(errText)
	} else {
		builder.WriteString("unknown")
	}
	return message{
		title:    "QuizSync - Error",
		body:     builder.String(),
		tags:     []string{"quizsync", "error", "alert"},
		priority: "high",
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) text(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (p Payload) count(key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (p Payload) spanText(key string) string {
	duration := time.Duration(0)
	if p != nil {
		if v, ok := p[key].(time.Duration); ok {
			duration = v
		}
	}
	duration = duration.Round(time.Second)
	if duration <= 0 {
		return "0s"
	}
	return duration.String()
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
