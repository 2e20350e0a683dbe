package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lumenlearn/coursegen-backend/internal/clients/redis"
	"github.com/lumenlearn/coursegen-backend/internal/domain"
	"github.com/lumenlearn/coursegen-backend/internal/pkg/logger"
	"github.com/lumenlearn/coursegen-backend/internal/sse"
)

// Notifier fans generation events out through the redis bus so every
// instance's SSE hub sees them. All publishes are fire-and-forget: a slow
// or down bus never blocks the pipeline.
type Notifier struct {
	log *logger.Logger
	bus redis.EventBus
}

func NewNotifier(baseLog *logger.Logger, bus redis.EventBus) *Notifier {
	return &Notifier{
		log: baseLog.With("service", "Notifier"),
		bus: bus,
	}
}

type progressPayload struct {
	RunID    uuid.UUID `json:"run_id"`
	CourseID uuid.UUID `json:"course_id"`
	Phase    string    `json:"phase"`
	Progress int       `json:"progress"`
}

type donePayload struct {
	RunID    uuid.UUID `json:"run_id"`
	CourseID uuid.UUID `json:"course_id"`
	Title    string    `json:"title,omitempty"`
	Sections int       `json:"sections,omitempty"`
	Lessons  int       `json:"lessons,omitempty"`
}

type failedPayload struct {
	RunID    uuid.UUID `json:"run_id"`
	CourseID uuid.UUID `json:"course_id"`
	Code     string    `json:"code"`
	Error    string    `json:"error"`
}

func (n *Notifier) Progress(runID, courseID uuid.UUID, phase domain.Phase, percent int) {
	n.publish(sse.Message{
		Channel: sse.CourseChannel(courseID),
		Event:   sse.EventGenerationProgress,
		Data: progressPayload{
			RunID:    runID,
			CourseID: courseID,
			Phase:    string(phase),
			Progress: percent,
		},
	})
}

func (n *Notifier) Completed(runID uuid.UUID, result *domain.GenerationResult) {
	n.publish(sse.Message{
		Channel: sse.CourseChannel(result.CourseID),
		Event:   sse.EventGenerationCompleted,
		Data: donePayload{
			RunID:    runID,
			CourseID: result.CourseID,
			Title:    result.Metadata.Title,
			Sections: len(result.Sections),
			Lessons:  result.TotalLessons(),
		},
	})
}

func (n *Notifier) Failed(runID, courseID uuid.UUID, code string, message string) {
	n.publish(sse.Message{
		Channel: sse.CourseChannel(courseID),
		Event:   sse.EventGenerationFailed,
		Data: failedPayload{
			RunID:    runID,
			CourseID: courseID,
			Code:     code,
			Error:    message,
		},
	})
}

func (n *Notifier) publish(msg sse.Message) {
	if n.bus == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := n.bus.Publish(ctx, msg); err != nil {
			n.log.Warn("Event publish failed", "channel", msg.Channel, "event", msg.Event, "error", err.Error())
		}
	}()
}
