package http

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// closeGrace bounds how long we wait for the client to acknowledge our close frame.
const closeGrace = time.Second

type WSHandler struct {
	attempts *app.AttemptService
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

func NewWSHandler(attempts *app.AttemptService) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logrus.WithField("component", "ws"),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
	// final closes the connection once written.
	final bool
}

// ServeWS upgrades the request and drives one attempt: it resumes the countdown, streams
// ticks, accepts answer/submit messages and ends with the result. When the last socket
// watching the attempt disconnects the attempt is abandoned so it can be resumed later.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	attemptID := r.URL.Query().Get("attemptId")
	if attemptID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "missing attemptId"})
		return
	}
	userID := UserID(r.Context())
	log := h.log.WithFields(logrus.Fields{"attempt_id": attemptID, "user_id": userID})

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	attempt, err := h.attempts.Resume(ctx, attemptID, userID)
	if err != nil {
		h.writeFinal(conn, h.resultOrError(ctx, attemptID, userID, err))
		return
	}
	if attempt.State != domain.StateInProgress {
		h.writeFinal(conn, h.resultMessage(ctx, attemptID, userID))
		return
	}
	ticks, cancel, err := h.attempts.Watch(ctx, attemptID, userID)
	if err != nil {
		h.writeFinal(conn, h.resultOrError(ctx, attemptID, userID, err))
		return
	}
	defer cancel()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	ticksDone := make(chan struct{})

	emit := func(msg outboundMessage) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := writeMessage(conn, msg); err != nil {
				log.WithError(err).Debug("ws write failed")
				return
			}
			if msg.final {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "attempt finished"),
					time.Now().Add(closeGrace))
				// unblock the reader if the client never answers the close frame
				_ = conn.SetReadDeadline(time.Now().Add(closeGrace))
				return
			}
		}
	}()

	go func() {
		defer close(ticksDone)
		for {
			select {
			case tick, ok := <-ticks:
				if !ok {
					// scored or detached: tell the client how it ended
					select {
					case send <- h.resultMessage(context.Background(), attemptID, userID):
					case <-closeSignals:
					case <-writerDone:
					}
					return
				}
				select {
				case send <- outboundMessage{Type: "tick", Payload: tick}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	emit(outboundMessage{Type: "attempt", Payload: newAttemptView(attempt, h.attempts.TimeRemaining(attempt))})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var inbound inboundMessage
		if err := json.Unmarshal(data, &inbound); err != nil {
			emit(errorMessage(errorResponse{Error: "bad_request", Message: "invalid message"}))
			continue
		}
		switch inbound.Type {
		case "answer":
			var payload answerRequest
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				emit(errorMessage(errorResponse{Error: "bad_request", Message: "invalid answer payload"}))
				continue
			}
			updated, err := h.attempts.RecordAnswer(ctx, attemptID, userID, payload.QuestionID, payload.SelectedIndices)
			if err != nil {
				_, body := toErrorResponse(err)
				emit(errorMessage(body))
				continue
			}
			selected := updated.Answers[payload.QuestionID]
			if selected == nil {
				selected = []int{}
			}
			emit(outboundMessage{Type: "answerAck", Payload: answerAck{
				AttemptID:            attemptID,
				QuestionID:           payload.QuestionID,
				SelectedIndices:      selected,
				TimeRemainingSeconds: h.attempts.TimeRemaining(updated),
			}})
		case "submit":
			// the countdown closes the tick stream once scored, which sends the result
			if _, err := h.attempts.Submit(ctx, attemptID, userID); err != nil {
				_, body := toErrorResponse(err)
				emit(errorMessage(body))
			}
		default:
			emit(errorMessage(errorResponse{Error: "bad_request", Message: "unsupported message type"}))
		}
	}

	close(closeSignals)
	<-ticksDone
	close(send)
	<-writerDone

	// another socket may still be watching the same attempt
	cancel()
	abandoned, err := h.attempts.Detach(context.Background(), attemptID, userID)
	if err != nil {
		log.WithError(err).Debug("detach failed")
	} else if abandoned {
		log.Info("attempt abandoned on disconnect")
	}
}

func (h *WSHandler) resultMessage(ctx context.Context, attemptID, userID string) outboundMessage {
	report, err := h.attempts.Report(ctx, attemptID, userID)
	if err != nil {
		_, body := toErrorResponse(err)
		msg := errorMessage(body)
		msg.final = true
		return msg
	}
	return outboundMessage{Type: "result", Payload: report, final: true}
}

func (h *WSHandler) resultOrError(ctx context.Context, attemptID, userID string, err error) outboundMessage {
	if msg := h.resultMessage(ctx, attemptID, userID); msg.Type == "result" {
		return msg
	}
	_, body := toErrorResponse(err)
	return errorMessage(body)
}

func (h *WSHandler) writeFinal(conn *websocket.Conn, msg outboundMessage) {
	if err := writeMessage(conn, msg); err != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace))
}

func errorMessage(body errorResponse) outboundMessage {
	return outboundMessage{Type: "error", Payload: body}
}

func writeMessage(conn *websocket.Conn, msg outboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
