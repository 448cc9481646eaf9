package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"chatcore/db/entities"
	"chatcore/metrics"
	"chatcore/store"
	"chatcore/utils"
)

// Outcome is the decision taken on a message candidate.
type Outcome string

const (
	OutcomeAccepted  Outcome = metrics.OutcomeAccepted
	OutcomeDuplicate Outcome = metrics.OutcomeDuplicate
	OutcomeWrongRoom Outcome = metrics.OutcomeWrongRoom
	OutcomeBlocked   Outcome = metrics.OutcomeBlocked
	OutcomeInactive  Outcome = metrics.OutcomeInactive
)

const (
	reasonReady  = "ready"
	reasonSafety = "safety"

	sendTimeout = 10 * time.Second
)

// Send shows the message locally at once, then hands it to the broadcast
// and the durable store concurrently. Transmission failures are logged and
// never reported back.
func (e *Session) Send(ctx context.Context, body string) (*entities.Message, error) {
	result, err := e.ask(ctx, &sendRequest{Body: body})
	if err != nil {
		return nil, err
	}
	sent := result.(*sendReply)
	return sent.Message, sent.Err
}

func (e *Session) send(body string) *sendReply {
	if e.state != STATE_ACTIVE {
		return &sendReply{Err: ErrNotActive}
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return &sendReply{Err: ErrEmptyBody}
	}
	msg := &entities.Message{
		Id:     utils.NewMessageId(),
		Room:   e.view.room,
		Sender: e.self,
		Body:   body,
		SentAt: e.now(),
	}
	e.view.accept(msg)
	metrics.Deliveries.WithLabelValues(entities.SOURCE_LOCAL.String(), metrics.OutcomeAccepted).Inc()
	e.transmit(*msg)

	out := *msg
	return &sendReply{Message: &out}
}

func (e *Session) transmit(msg entities.Message) {
	log := e.log.With().Str("message_id", msg.Id).Logger()
	if e.backend.Broadcast != nil {
		payload, err := json.Marshal(msg)
		if err != nil {
			log.Error().Err(err).Msg("encode broadcast payload")
		} else {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
				defer cancel()
				if err := e.backend.Broadcast.PublishBroadcast(ctx, msg.Room.Channel(), store.MessageEvent, payload); err != nil {
					metrics.SendFailures.WithLabelValues("broadcast").Inc()
					log.Warn().Err(err).Msg("broadcast publish failed")
				}
			}()
		}
	}
	if e.backend.Messages != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			if err := e.backend.Messages.InsertMessage(ctx, &msg); err != nil {
				metrics.SendFailures.WithLabelValues("store").Inc()
				log.Warn().Err(err).Msg("durable insert failed")
			}
		}()
	}
	if e.backend.Presence != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			if err := e.register.StopTyping(ctx); err != nil {
				log.Debug().Err(err).Msg("typing flag not cleared on send")
			}
		}()
	}
}

// Deliver offers msg to the session as if it had arrived on source. Every
// path funnels through here, so a message shows at most once.
func (e *Session) Deliver(ctx context.Context, msg *entities.Message, source entities.MessageSource) (Outcome, error) {
	row := *msg
	result, err := e.ask(ctx, &incoming{Message: &row, Source: source})
	if err != nil {
		return "", err
	}
	return result.(Outcome), nil
}

func (e *Session) consider(msg *entities.Message, source entities.MessageSource) Outcome {
	outcome := e.considerIncoming(msg)
	metrics.Deliveries.WithLabelValues(source.String(), string(outcome)).Inc()
	if outcome != OutcomeAccepted {
		e.log.Debug().Str("message_id", msg.Id).Str("source", source.String()).Str("outcome", string(outcome)).Msg("message rejected")
		return outcome
	}
	e.view.accept(msg)
	if msg.Sender != e.self && e.sound {
		e.notifier.MessageReceived(msg)
	}
	return outcome
}

// considerIncoming checks in order: lifecycle, room, block list, seen ids.
func (e *Session) considerIncoming(msg *entities.Message) Outcome {
	if e.state != STATE_ACTIVE {
		return OutcomeInactive
	}
	if msg.Room != e.view.room {
		return OutcomeWrongRoom
	}
	if e.isBlocked(msg.Sender) {
		return OutcomeBlocked
	}
	if _, ok := e.view.seen[msg.Id]; ok {
		return OutcomeDuplicate
	}
	return OutcomeAccepted
}

func (e *Session) onBroadcast(payload []byte) {
	var msg entities.Message
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Id == "" {
		e.log.Debug().Err(err).Msg("ignoring malformed broadcast payload")
		return
	}
	e.tell(&incoming{Message: &msg, Source: entities.SOURCE_BROADCAST})
}

// Poll fetches rows newer than the cursor right away and returns how many
// were new.
func (e *Session) Poll(ctx context.Context) (int, error) {
	result, err := e.ask(ctx, &pollTarget{})
	if err != nil {
		return 0, err
	}
	target := result.(*pollTargetReply)
	if target.Err != nil || target.Skip {
		return 0, target.Err
	}
	rows, queryErr := e.backend.Messages.MessagesSince(ctx, target.Room, target.Cursor, target.Limit)
	result, err = e.ask(ctx, &pollResult{Generation: target.Generation, Limit: target.Limit, Rows: rows, Err: queryErr})
	if err != nil {
		return 0, err
	}
	if queryErr != nil {
		return 0, queryErr
	}
	return result.(*pollResultReply).Accepted, nil
}

func (e *Session) pollTarget(background bool) *pollTargetReply {
	if e.backend.Messages == nil {
		return &pollTargetReply{Skip: true}
	}
	view := e.view
	if e.state != STATE_ACTIVE {
		if background {
			view.pollPending = true
			return &pollTargetReply{Skip: true}
		}
		return &pollTargetReply{Err: ErrNotActive}
	}
	if background {
		if view.pollInFlight {
			view.pollPending = true
			return &pollTargetReply{Skip: true}
		}
		view.pollInFlight = true
	}
	return &pollTargetReply{Room: view.room, Cursor: view.cursor, Generation: view.generation, Limit: view.pollLimit}
}

func (e *Session) startBackgroundPoll() {
	target := e.pollTarget(true)
	if target.Skip || target.Err != nil {
		return
	}
	ctx := e.runCtx
	go func() {
		rows, err := e.backend.Messages.MessagesSince(ctx, target.Room, target.Cursor, target.Limit)
		e.tell(&pollResult{Generation: target.Generation, Background: true, Limit: target.Limit, Rows: rows, Err: err})
	}()
}

func (e *Session) onPollTrigger(v *pollTrigger) {
	if v.Generation != 0 && v.Generation != e.generation {
		return
	}
	view := e.view
	switch v.Reason {
	case reasonReady:
		view.readyPolled = true
		if view.safetyTimer != nil {
			view.safetyTimer.Stop()
			view.safetyTimer = nil
		}
	case reasonSafety:
		view.safetyTimer = nil
		if view.readyPolled {
			return
		}
	}
	e.startBackgroundPoll()
}

// onPollResult feeds polled rows through the deliverer and advances the
// cursor to the newest server timestamp seen. The cursor never moves back.
// A full batch that could not move the cursor (every row shares one
// timestamp) is fetched again with a doubled limit until it does.
func (e *Session) onPollResult(v *pollResult) *pollResultReply {
	if v.Generation != e.generation {
		metrics.Polls.WithLabelValues("stale").Inc()
		return &pollResultReply{}
	}
	view := e.view
	if v.Background {
		view.pollInFlight = false
	}
	accepted := 0
	if v.Err != nil {
		metrics.Polls.WithLabelValues("error").Inc()
		e.log.Warn().Err(v.Err).Str("room", view.room.String()).Msg("poll failed")
	} else {
		metrics.Polls.WithLabelValues("ok").Inc()
		advanced := false
		for _, row := range v.Rows {
			if e.consider(row, entities.SOURCE_POLL) == OutcomeAccepted {
				accepted++
			}
			if row.CreatedAt.After(view.cursor) {
				view.cursor = row.CreatedAt
				advanced = true
			}
		}
		full := v.Limit > 0 && len(v.Rows) >= v.Limit
		switch {
		case advanced:
			view.pollLimit = e.timing.PollBatchSize
			view.pollPending = view.pollPending || full
		case full && v.Limit >= view.pollLimit:
			view.pollLimit = v.Limit * 2
			view.pollPending = true
		}
	}
	if view.pollPending && !view.pollInFlight && e.state == STATE_ACTIVE {
		view.pollPending = false
		e.startBackgroundPoll()
	}
	return &pollResultReply{Accepted: accepted}
}
