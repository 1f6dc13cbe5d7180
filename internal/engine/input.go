package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/call-negotiator/internal/model"
)

// Submit handles a line of user text according to the current phase.
//
// In objective, text with ten or more digits starts a call straight away
// while a contextual search runs in the background; any other text becomes
// the objective and is resolved through discovery. In discovery, a phone
// number starts the call and anything else asks for a number. In phone the
// text is the number. During a call the text is acknowledged and ignored.
func (e *Engine) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}

	e.inputMu.Lock()
	defer e.inputMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	e.appendLocked(model.NewMessage(model.RoleUser, text))
	epoch := e.epoch

	switch e.phase {
	case model.PhaseObjective:
		if phone, ok := ParsePhone(text); ok {
			e.nctx.Objective = objectiveFrom(text)
			e.nctx.Phone = phone
			e.persistLocked()
			e.goSafe("research", func() { e.research(epoch, text) })
			e.mu.Unlock()

			e.startCall(ctx, epoch)
			return nil
		}
		e.nctx.Objective = text
		e.persistLocked()
		e.mu.Unlock()

		e.discover(ctx, epoch, text)
		return nil

	case model.PhaseDiscovery:
		if phone, ok := ParsePhone(text); ok {
			e.nctx.Phone = phone
			e.candidates = nil
			e.persistLocked()
			e.mu.Unlock()

			e.startCall(ctx, epoch)
			return nil
		}
		e.candidates = nil
		e.setPhaseLocked(model.PhasePhone)
		e.sayLocked(phonePrompt)

	case model.PhasePhone:
		e.nctx.Phone = text
		e.persistLocked()
		e.mu.Unlock()

		e.startCall(ctx, epoch)
		return nil

	case model.PhaseConnecting:
		e.statusLocked(connectingAck)

	case model.PhaseActive:
		e.statusLocked(activeAck)

	case model.PhaseEnded:
		e.sayLocked(endedHint)
	}

	e.persistLocked()
	e.mu.Unlock()
	return nil
}

// SelectResult starts a call to the discovery result at index, merging its
// description into the research context first.
func (e *Engine) SelectResult(ctx context.Context, index int) error {
	e.inputMu.Lock()
	defer e.inputMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.phase != model.PhaseDiscovery {
		e.mu.Unlock()
		return ErrInvalidPhase
	}
	if index < 0 || index >= len(e.candidates) {
		e.mu.Unlock()
		return ErrInvalidSelection
	}

	picked := e.candidates[index]
	e.candidates = nil
	e.appendLocked(model.NewMessage(model.RoleUser, picked.Title))
	e.nctx.Phone = picked.Phone()
	e.mergeResearchLocked(describeResult(picked))
	e.persistLocked()
	epoch := e.epoch
	e.mu.Unlock()

	e.startCall(ctx, epoch)
	return nil
}

// discover runs the awaited discovery search for a text objective.
func (e *Engine) discover(ctx context.Context, epoch uint64, query string) {
	reqCtx, cancel := e.requestContext(ctx)
	resp, err := e.backend.Search(reqCtx, query, e.searchLimit)
	cancel()
	if err == nil && resp == nil {
		resp = &model.SearchResponse{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stale(epoch) || e.phase != model.PhaseObjective {
		return
	}

	if err != nil {
		e.logger.Info("discovery search failed", zap.String("session_id", e.sessionID), zap.Error(err))
		e.askForPhoneLocked()
		return
	}

	var callable []model.SearchResult
	for _, r := range resp.Results {
		if r.Phone() != "" {
			callable = append(callable, r)
		}
	}
	e.mergeResearchLocked(describeResults(resp.Results))

	if len(callable) == 0 {
		e.askForPhoneLocked()
		return
	}

	e.candidates = callable
	e.setPhaseLocked(model.PhaseDiscovery)
	e.sayLocked(discoveryOffer(len(callable)))
	e.appendLocked(model.NewSearchResultsMessage(callable))
	e.persistLocked()
}

func (e *Engine) askForPhoneLocked() {
	e.setPhaseLocked(model.PhasePhone)
	e.sayLocked(phonePrompt)
	e.persistLocked()
}

// research gathers contextual snippets for a call that was started from a
// bare phone number. It never blocks or fails the call.
func (e *Engine) research(epoch uint64, query string) {
	ctx, cancel := e.backgroundContext()
	defer cancel()

	resp, err := e.backend.Search(ctx, query, e.searchLimit)
	if err != nil {
		e.logger.Debug("background research search failed", zap.Error(err))
		return
	}
	if resp == nil || len(resp.Results) == 0 {
		return
	}

	e.mu.Lock()
	objective := e.nctx.Objective
	e.mu.Unlock()

	text := describeResults(resp.Results)
	if e.summarizer != nil {
		summary, err := e.summarizer.Summarize(ctx, objective, resp.Results)
		if err != nil {
			e.logger.Debug("research summary failed, keeping raw snippets", zap.Error(err))
		} else if summary != "" {
			text = summary
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stale(epoch) {
		return
	}
	e.mergeResearchLocked(text)
	e.persistLocked()
}

func (e *Engine) mergeResearchLocked(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if e.nctx.Research == "" {
		e.nctx.Research = text
		return
	}
	e.nctx.Research += "\n\n" + text
}

func describeResult(r model.SearchResult) string {
	if r.Snippet == "" {
		return r.Title
	}
	return r.Title + ": " + r.Snippet
}

func describeResults(results []model.SearchResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if d := describeResult(r); d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, "\n")
}
