package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nutrilog/nutrilog/internal/callback"
	"github.com/nutrilog/nutrilog/internal/models"
	"github.com/nutrilog/nutrilog/internal/session"
)

// DefaultQueueSize is the per-user event queue depth. Events beyond it are
// dropped with a warning rather than blocking the transport.
const DefaultQueueSize = 16

// idleHint is shown when input arrives outside any flow and matches nothing.
const idleHint = "Use /start to see available actions"

// Router owns the flow definitions and drives them from transport events.
// Events for one (user, chat) pair are processed strictly in arrival order by
// a dedicated worker; handlers therefore never see concurrent access to a
// session.
type Router struct {
	deps      *Deps
	flows     map[models.FlowType]*FlowDefinition
	commands  map[models.Command]Handler
	callbacks map[callback.Key]Handler

	mu     sync.Mutex
	queues map[models.UserKey]chan models.Event
	wg     sync.WaitGroup
}

// NewRouter builds a router over the three conversation flows.
func NewRouter(d *Deps) *Router {
	r := &Router{
		deps:   d,
		flows:  make(map[models.FlowType]*FlowDefinition),
		queues: make(map[models.UserKey]chan models.Event),
	}
	for _, def := range []*FlowDefinition{
		mealEntryDefinition(),
		dayViewDefinition(),
		startMenuDefinition(),
	} {
		r.flows[def.Type] = def
	}
	r.commands = map[models.Command]Handler{
		models.CommandStart:       startMenu,
		models.CommandNewMeal:     startNewMeal,
		models.CommandViewMeals:   startDayView,
		models.CommandSavedMeals:  showSavedMeals,
		models.CommandGetUserData: showUserData,
		models.CommandDeleteUser:  startDeleteUser,
		models.CommandUpdateUser:  startUpdateUser,
	}
	r.callbacks = map[callback.Key]Handler{
		callback.KeyStartNewMeal:    startNewMealFromCallback,
		callback.KeyStartEditMeal:   startEditMeal,
		callback.KeyStartDayView:    startDayViewFromCallback,
		callback.KeyStartSavedMeals: showSavedMeals,
		callback.KeyStartUpdateUser: startUpdateUser,
	}
	return r
}

// Run consumes transport events until ctx is cancelled or the event channel
// closes, then waits for the per-user workers to drain.
func (r *Router) Run(ctx context.Context) error {
	slog.Info("Router.Run: starting event loop")
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return ctx.Err()
		case ev, ok := <-r.deps.Messenger.Events():
			if !ok {
				r.wg.Wait()
				return nil
			}
			r.dispatch(ctx, ev)
		}
	}
}

// dispatch queues ev on its session's worker, spawning the worker on first
// contact.
func (r *Router) dispatch(ctx context.Context, ev models.Event) {
	key := ev.Key()
	r.mu.Lock()
	q, ok := r.queues[key]
	if !ok {
		q = make(chan models.Event, DefaultQueueSize)
		r.queues[key] = q
		r.wg.Add(1)
		go r.worker(ctx, q)
	}
	r.mu.Unlock()

	select {
	case q <- ev:
	default:
		slog.Warn("Router.dispatch: event queue full, dropping event", "user", key.UserID)
	}
}

func (r *Router) worker(ctx context.Context, q chan models.Event) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q:
			r.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent routes one event through the active flow's transition table.
// It is the single-threaded core of the router; Run invokes it from per-user
// workers, tests invoke it directly.
func (r *Router) HandleEvent(ctx context.Context, ev models.Event) {
	sess := r.deps.Sessions.GetOrCreate(ev.Key())

	if sess.Flow == "" {
		r.handleIdle(ctx, sess, ev)
		return
	}
	def, ok := r.flows[sess.Flow]
	if !ok {
		slog.Error("Router.HandleEvent: session references unknown flow", "flow", sess.Flow)
		sess.End()
		r.handleIdle(ctx, sess, ev)
		return
	}

	// Commands are honored in every stage: the flow's own entry commands
	// restart it, /cancel cancels it, and any other command cancels it and is
	// then routed as if the session were idle.
	if t, isText := ev.(models.TextEvent); isText {
		if cmd := t.Command(); cmd != "" {
			if h, has := def.Entry[cmd]; has {
				r.run(ctx, def, sess, h, ev)
				return
			}
			if cmd == models.CommandCancel {
				r.run(ctx, def, sess, def.Cancel, ev)
				return
			}
			r.abandon(ctx, def, sess, ev)
			r.handleIdle(ctx, sess, ev)
			return
		}
	}

	bindings := def.Stages[sess.Stage]
	var h Handler
	switch e := ev.(type) {
	case models.TextEvent:
		h = bindings.Text
	case models.PhotoEvent:
		h = bindings.Photo
	case models.CallbackEvent:
		p := callback.Decode(e.Payload)
		if bindings.Callback != nil {
			h = bindings.Callback[p.Key]
		}
		if h == nil {
			// An affordance from another context. Known entry affordances
			// abandon the current flow and are honored; anything else is a
			// stale or malformed payload and the flow stays put.
			if gh, global := r.callbacks[p.Key]; global {
				r.abandon(ctx, def, sess, ev)
				r.runGlobal(ctx, sess, gh, ev)
				return
			}
			slog.Warn("Router.HandleEvent: unexpected callback payload",
				"flow", sess.Flow, "stage", sess.Stage, "key", p.Key)
			if err := r.deps.send(ctx, sess, "Unexpected input received"); err != nil {
				slog.Error("Router.HandleEvent: failed to send notice", "error", err)
			}
			r.reprompt(ctx, def, sess)
			return
		}
	}
	if h == nil {
		// Event shape the stage does not expect: re-display the question and
		// self-loop.
		r.reprompt(ctx, def, sess)
		return
	}
	r.run(ctx, def, sess, h, ev)
}

// run invokes h and applies its outcome, recovering from the error taxonomy.
func (r *Router) run(ctx context.Context, def *FlowDefinition, sess *session.Session, h Handler, ev models.Event) {
	out, err := h(ctx, r.deps, sess, ev)
	if err != nil {
		out = r.recover(ctx, def, sess, ev, err)
	}
	r.apply(ctx, sess, ev, out)
}

// runGlobal invokes an idle-context handler. The flow definition for recovery
// is resolved after the handler runs, since entry handlers set the flow.
func (r *Router) runGlobal(ctx context.Context, sess *session.Session, h Handler, ev models.Event) {
	out, err := h(ctx, r.deps, sess, ev)
	if err != nil {
		out = r.recover(ctx, r.flows[sess.Flow], sess, ev, err)
	}
	r.apply(ctx, sess, ev, out)
}

// abandon hard-resets the active flow: the cancel handler runs for its side
// effects (affordance revocation, notice), but no parent resume happens.
func (r *Router) abandon(ctx context.Context, def *FlowDefinition, sess *session.Session, ev models.Event) {
	if _, err := def.Cancel(ctx, r.deps, sess, ev); err != nil {
		slog.Error("Router.abandon: cancel handler failed", "flow", sess.Flow, "error", err)
	}
	sess.End()
}

// recover maps a handler error to the outcome the taxonomy dictates:
// validation faults re-prompt and self-loop, AI service faults cancel the
// flow, storage faults terminate it, anything else resets the session.
func (r *Router) recover(ctx context.Context, def *FlowDefinition, sess *session.Session, ev models.Event, err error) Outcome {
	var vErr *models.ValidationError
	var aiErr *models.AiServiceError
	var stErr *models.StorageError
	switch {
	case errors.As(err, &vErr):
		if sendErr := r.deps.send(ctx, sess, "Wrong value\n"+vErr.Msg); sendErr != nil {
			slog.Error("Router.recover: failed to send validation notice", "error", sendErr)
		}
		if def != nil {
			r.reprompt(ctx, def, sess)
		}
		return Stay(sess)
	case errors.As(err, &aiErr):
		slog.Error("Router.recover: AI service failure", "flow", sess.Flow, "error", err)
		if sendErr := r.deps.send(ctx, sess, "AI service failed. Please try again later"); sendErr != nil {
			slog.Error("Router.recover: failed to send AI failure notice", "error", sendErr)
		}
		if def != nil && def.Cancel != nil {
			out, cancelErr := def.Cancel(ctx, r.deps, sess, ev)
			if cancelErr == nil {
				return out
			}
			slog.Error("Router.recover: cancel handler failed", "error", cancelErr)
		}
		sess.Affordance.Revoke(r.deps.Messenger)
		return End()
	case errors.As(err, &stErr):
		slog.Error("Router.recover: storage failure", "flow", sess.Flow, "op", stErr.Op, "error", err)
		if sendErr := r.deps.send(ctx, sess, "Database error"); sendErr != nil {
			slog.Error("Router.recover: failed to send storage notice", "error", sendErr)
		}
		sess.Affordance.Revoke(r.deps.Messenger)
		return End()
	default:
		slog.Error("Router.recover: unhandled flow error", "flow", sess.Flow, "stage", sess.Stage, "error", err)
		if sendErr := r.deps.send(ctx, sess, "Something went wrong.\nUse /start to start again"); sendErr != nil {
			slog.Error("Router.recover: failed to send failure notice", "error", sendErr)
		}
		sess.Affordance.Revoke(r.deps.Messenger)
		return End()
	}
}

// apply commits a handler outcome. A terminal outcome ends the flow and, when
// the flow was launched by a parent, hands control back through the parent's
// Resume table.
func (r *Router) apply(ctx context.Context, sess *session.Session, ev models.Event, out Outcome) {
	if !out.Terminal {
		sess.Stage = out.Next
		return
	}

	parent, child := sess.ParentFlow, sess.Flow
	var resume Handler
	var pdef *FlowDefinition
	if parent != "" && child != "" {
		if p, ok := r.flows[parent]; ok && p.Resume != nil {
			pdef = p
			resume = p.Resume[child]
		}
	}
	if resume == nil {
		sess.End()
		return
	}

	// Hand control back to the parent: the child's bookkeeping is cleared,
	// the parent's display state (view date, focused meal, user) survives.
	sess.Flow = parent
	sess.ParentFlow = ""
	sess.Stage = ""
	sess.SaveForFuture = false
	sess.ClearDraft()
	sess.ClearIngredients()
	sess.ClearAiInput()
	sess.ClearAiContext()

	rout, err := resume(ctx, r.deps, sess, ev)
	if err != nil {
		rout = r.recover(ctx, pdef, sess, ev, err)
	}
	if rout.Terminal {
		// Resume handlers never chain further handoffs.
		sess.End()
		return
	}
	sess.Stage = rout.Next
}

// reprompt re-displays the current stage's question, if it has one.
func (r *Router) reprompt(ctx context.Context, def *FlowDefinition, sess *session.Session) {
	bindings := def.Stages[sess.Stage]
	if bindings.Prompt == nil {
		return
	}
	if err := bindings.Prompt(ctx, r.deps, sess); err != nil {
		slog.Error("Router.reprompt: failed to re-display prompt",
			"flow", sess.Flow, "stage", sess.Stage, "error", err)
	}
}

// handleIdle routes an event for a session with no active flow.
func (r *Router) handleIdle(ctx context.Context, sess *session.Session, ev models.Event) {
	switch e := ev.(type) {
	case models.TextEvent:
		if cmd := e.Command(); cmd != "" {
			if h, ok := r.commands[cmd]; ok {
				r.runGlobal(ctx, sess, h, ev)
				return
			}
		}
	case models.CallbackEvent:
		p := callback.Decode(e.Payload)
		if h, ok := r.callbacks[p.Key]; ok {
			r.runGlobal(ctx, sess, h, ev)
			return
		}
		slog.Debug("Router.handleIdle: stale callback ignored", "key", p.Key)
	}
	if err := r.deps.send(ctx, sess, idleHint); err != nil {
		slog.Error("Router.handleIdle: failed to send hint", "error", err)
	}
}
