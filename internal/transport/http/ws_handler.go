package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// WSHandler runs one attempt session per connection: it replays resume
// state on attach, accepts answer saves and the manual submit, and
// pushes the authoritative remaining time on every reconcile so the
// client's local tick never drifts far from the server's deadline.
type WSHandler struct {
	coordinator  *app.SessionCoordinator
	syncInterval time.Duration
	upgrader     websocket.Upgrader
}

func NewWSHandler(coordinator *app.SessionCoordinator, syncInterval time.Duration) *WSHandler {
	if syncInterval <= 0 {
		syncInterval = 10 * time.Second
	}
	return &WSHandler{
		coordinator:  coordinator,
		syncInterval: syncInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	AnswerText string `json:"answerText"`
}

type submitPayload struct {
	Answers []domain.AnswerSubmission `json:"answers"`
}

type tickPayload struct {
	RemainingSeconds int64 `json:"remainingSeconds"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and drives the attempt session.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	attemptID := r.URL.Query().Get("attemptId")
	userID := r.URL.Query().Get("userId")
	if attemptID == "" || userID == "" {
		http.Error(w, "missing attemptId or userId", http.StatusBadRequest)
		return
	}
	role := domain.Role(r.URL.Query().Get("role"))
	switch role {
	case domain.RoleTeacher, domain.RoleAdmin:
	default:
		role = domain.RoleStudent
	}
	identity := domain.Identity{ID: userID, Role: role}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	resume, err := h.coordinator.Resume(r.Context(), identity, attemptID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "resumed", Payload: resume}

	countdownCtx, stopCountdown := context.WithCancel(r.Context())
	defer stopCountdown()
	countdownDone := make(chan struct{})

	// A terminal attempt never re-enters countdown: the client gets the
	// persisted result and the session stays open read-only.
	if resume.Attempt.State.Terminal() {
		close(countdownDone)
		if resume.Attempt.Result != nil {
			send <- outboundMessage[any]{Type: "result", Payload: *resume.Attempt.Result}
		}
	} else {
		countdown := app.NewCountdownSync(
			func(ctx context.Context) (int64, error) {
				return h.coordinator.RemainingTime(ctx, attemptID)
			},
			func(ctx context.Context) (domain.SubmissionResult, error) {
				return h.coordinator.Finalize(ctx, attemptID, domain.TriggerTimeout, nil)
			},
			app.WithIntervals(time.Second, h.syncInterval),
			app.WithOnTick(func(seconds int64) {
				select {
				case send <- outboundMessage[any]{Type: "remainingTime", Payload: tickPayload{RemainingSeconds: seconds}}:
				case <-closeSignals:
				}
			}),
			app.WithOnResult(func(result domain.SubmissionResult) {
				select {
				case send <- outboundMessage[any]{Type: "result", Payload: result}:
				case <-closeSignals:
				}
			}),
		)
		go func() {
			defer close(countdownDone)
			if err := countdown.Run(countdownCtx); err != nil && countdownCtx.Err() == nil {
				log.Printf("countdown for attempt %s: %v", attemptID, err)
			}
		}()
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			if err := h.coordinator.RecordAnswer(r.Context(), identity, attemptID, payload.QuestionID, payload.AnswerText); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "answerSaved", Payload: answerPayload{QuestionID: payload.QuestionID}}
		case "submit":
			var payload submitPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid submit payload"}}
				continue
			}
			result, err := h.coordinator.Submit(r.Context(), identity, attemptID, payload.Answers)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "result", Payload: result}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	stopCountdown()
	<-countdownDone
	close(send)
	<-writerDone
}
