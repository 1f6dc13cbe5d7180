package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/call-negotiator/internal/model"
)

// startCall creates the task and places the call for the negotiation
// context captured at epoch.
func (e *Engine) startCall(ctx context.Context, epoch uint64) {
	e.mu.Lock()
	if e.stale(epoch) {
		e.mu.Unlock()
		return
	}
	if !e.setPhaseLocked(model.PhaseConnecting) {
		e.mu.Unlock()
		return
	}
	e.statusLocked(callingStatus(e.nctx.Phone))
	req := model.CreateTaskRequest{
		TargetPhone: e.nctx.Phone,
		Objective:   e.nctx.Objective,
		Style:       e.style,
		Context:     e.nctx.Research,
		Location:    e.location,
	}
	e.persistLocked()
	e.mu.Unlock()

	reqCtx, cancel := e.requestContext(ctx)
	defer cancel()

	task, err := e.backend.CreateTask(reqCtx, req)
	if err != nil {
		e.failCall(epoch, err.Error())
		return
	}

	e.mu.Lock()
	if e.stale(epoch) {
		e.mu.Unlock()
		return
	}
	e.nctx.TaskID = task.ID
	e.taskIDs = append(e.taskIDs, task.ID)
	e.persistLocked()
	e.mu.Unlock()

	res, err := e.backend.StartCall(reqCtx, task.ID)
	if err != nil {
		e.failCall(epoch, err.Error())
		return
	}
	if res == nil {
		e.failCall(epoch, noCallService)
		return
	}
	if !res.OK {
		e.failCall(epoch, res.Message)
		return
	}

	realtime := res.RealtimeSession()
	if realtime == "" {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.stale(epoch) {
			return
		}
		e.setPhaseLocked(model.PhaseActive)
		e.statusLocked(degradedStart)
		e.persistLocked()
		return
	}

	e.mu.Lock()
	if e.stale(epoch) {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.channel.SetHandler(func(ev model.Event) { e.handleEvent(epoch, ev) })
	if err := e.channel.Connect(reqCtx, realtime); err != nil {
		e.logger.Warn("failed to open realtime channel",
			zap.String("realtime_session", realtime),
			zap.Error(err),
		)
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.stale(epoch) {
			return
		}
		if e.phase == model.PhaseConnecting {
			e.setPhaseLocked(model.PhaseActive)
		}
		e.statusLocked(liveUnavailable)
		e.persistLocked()
		return
	}

	// A reset may have landed while dialing. Call starts are serialised by
	// inputMu, so the connection just opened is ours to drop.
	e.mu.Lock()
	superseded := e.stale(epoch)
	e.mu.Unlock()
	if superseded {
		e.channel.Disconnect()
		return
	}

	e.logger.Info("call started",
		zap.String("task_id", task.ID),
		zap.String("realtime_session", realtime),
	)
}

// failCall rolls a failed call start back to objective and tells the user why.
func (e *Engine) failCall(epoch uint64, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stale(epoch) {
		return
	}
	e.logger.Info("call start failed", zap.String("session_id", e.sessionID), zap.String("reason", reason))
	e.setPhaseLocked(model.PhaseObjective)
	e.sayLocked(callStartFailed(reason))
	e.persistLocked()
}

// EndCall asks the backend to hang up. The phase changes only when the
// realtime ended status arrives.
func (e *Engine) EndCall(ctx context.Context) error {
	return e.callAction(ctx, "end the call", func(ctx context.Context, taskID string) (*model.ActionResult, error) {
		return e.backend.StopCall(ctx, taskID)
	}, func(*model.ActionResult) string { return "Ending the call..." })
}

// TransferCall hands the live call to target.
func (e *Engine) TransferCall(ctx context.Context, target string) error {
	return e.callAction(ctx, "transfer the call", func(ctx context.Context, taskID string) (*model.ActionResult, error) {
		return e.backend.TransferCall(ctx, taskID, target)
	}, func(*model.ActionResult) string { return fmt.Sprintf("Transferring the call to %s...", target) })
}

// SendTones plays touch-tone digits into the live call.
func (e *Engine) SendTones(ctx context.Context, digits string) error {
	return e.callAction(ctx, "send those tones", func(ctx context.Context, taskID string) (*model.ActionResult, error) {
		return e.backend.SendTones(ctx, taskID, digits)
	}, func(*model.ActionResult) string { return fmt.Sprintf("Sent tones %s", digits) })
}

type actionFunc func(ctx context.Context, taskID string) (*model.ActionResult, error)

func (e *Engine) callAction(ctx context.Context, action string, do actionFunc, success func(*model.ActionResult) string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	taskID := e.nctx.TaskID
	if taskID == "" || !e.phase.Live() {
		e.sayLocked(noLiveCall)
		e.persistLocked()
		e.mu.Unlock()
		return nil
	}
	epoch := e.epoch
	e.mu.Unlock()

	reqCtx, cancel := e.requestContext(ctx)
	res, err := do(reqCtx, taskID)
	cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stale(epoch) {
		return nil
	}

	switch {
	case err != nil:
		e.sayLocked(actionFailed(action, err.Error()))
	case res == nil:
		e.sayLocked(actionFailed(action, noCallService))
	case !res.OK:
		e.sayLocked(actionFailed(action, res.Message))
	default:
		e.statusLocked(success(res))
	}
	e.persistLocked()
	return nil
}

// CallAgain redials the same number for the same objective. Only allowed
// once a call has ended.
func (e *Engine) CallAgain(ctx context.Context) error {
	e.inputMu.Lock()
	defer e.inputMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.phase != model.PhaseEnded || e.nctx.Phone == "" {
		e.mu.Unlock()
		return ErrInvalidPhase
	}

	e.epoch++
	epoch := e.epoch
	e.resetCallStateLocked()
	e.nctx.TaskID = ""
	e.messages = replay(e.nctx.Objective, e.nctx.Phone)
	e.publishLocked(Update{Kind: UpdateReset})
	e.persistLocked()
	e.mu.Unlock()

	e.channel.Disconnect()
	e.startCall(ctx, epoch)
	return nil
}

// replay rebuilds the objective and phone exchange that led to a call.
func replay(objective, phone string) []model.Message {
	return []model.Message{
		model.NewMessage(model.RoleAssistant, WelcomeMessage),
		model.NewMessage(model.RoleUser, objective),
		model.NewMessage(model.RoleAssistant, phonePrompt),
		model.NewMessage(model.RoleUser, phone),
	}
}
