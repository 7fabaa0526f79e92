// Package flow implements the dialog orchestration engine: the finite-state
// conversation flows (meal entry, day view, start menu), the per-user router
// that drives them, and the parent/child handoff between flows.
//
// Each flow is a FlowDefinition: a transition table from (stage, event shape)
// to a handler. Handlers receive the session explicitly and return the next
// stage; the router owns all cross-cutting behavior (command restarts,
// cancellation, error recovery, parent resume).
package flow

import (
	"context"
	"fmt"

	"github.com/nutrilog/nutrilog/internal/callback"
	"github.com/nutrilog/nutrilog/internal/estimator"
	"github.com/nutrilog/nutrilog/internal/messaging"
	"github.com/nutrilog/nutrilog/internal/models"
	"github.com/nutrilog/nutrilog/internal/session"
	"github.com/nutrilog/nutrilog/internal/store"
)

// Registrar is the boundary to the user-registration collaborator. The
// orchestration engine never registers or edits users itself; it hands the
// user off and relays the returned instruction text.
type Registrar interface {
	// BeginRegistration starts registration for an unknown sender and returns
	// the text to show them.
	BeginRegistration(ctx context.Context, key models.UserKey) (string, error)
	// BeginUpdate starts a profile update for a registered user and returns
	// the text to show them.
	BeginUpdate(ctx context.Context, user *models.User) (string, error)
}

// StaticRegistrar is the shipped Registrar: it only points users at the
// external registration channel.
type StaticRegistrar struct {
	// Hint is the instruction text. Empty uses a generic default.
	Hint string
}

func (r StaticRegistrar) BeginRegistration(ctx context.Context, key models.UserKey) (string, error) {
	return r.text(), nil
}

func (r StaticRegistrar) BeginUpdate(ctx context.Context, user *models.User) (string, error) {
	return r.text(), nil
}

func (r StaticRegistrar) text() string {
	if r.Hint != "" {
		return r.Hint
	}
	return "Profile registration and updates are not available in this chat yet."
}

// Deps bundles the collaborators handlers may use. Handlers receive it
// explicitly; there is no ambient service lookup.
type Deps struct {
	Store     store.Store
	Estimator estimator.Client
	Messenger messaging.Service
	Sessions  *session.Store
	Links     *session.ParentLinker
	Registrar Registrar
}

// send delivers a plain text message to the session's chat.
func (d *Deps) send(ctx context.Context, sess *session.Session, body string) error {
	return d.Messenger.SendMessage(ctx, sess.Key.ChatID, body)
}

// prompt delivers a message with inline options to the session's chat.
func (d *Deps) prompt(ctx context.Context, sess *session.Session, body string, options []messaging.PromptOption) error {
	_, err := d.Messenger.SendPrompt(ctx, sess.Key.ChatID, body, options)
	return err
}

// promptTracked delivers a prompt and registers it as the session's live
// affordance, revoking any prior one.
func (d *Deps) promptTracked(ctx context.Context, sess *session.Session, body string, options []messaging.PromptOption) error {
	ref, err := d.Messenger.SendPrompt(ctx, sess.Key.ChatID, body, options)
	if err != nil {
		return err
	}
	sess.Affordance.Present(d.Messenger, ref)
	return nil
}

// option builds a PromptOption, encoding (key, value) as the payload.
// Panics on a payload over the wire limit; all flow payloads are short
// constants plus a decimal id, so an oversized one is a programming error.
func option(label string, key callback.Key, value string) messaging.PromptOption {
	payload, err := callback.Encode(key, value)
	if err != nil {
		panic(fmt.Sprintf("flow option %q: %v", label, err))
	}
	return messaging.PromptOption{Label: label, Payload: payload}
}

// Outcome is a handler's verdict: either the stage to enter next, or flow
// termination.
type Outcome struct {
	Next     models.Stage
	Terminal bool
}

// Goto moves the flow to stage.
func Goto(stage models.Stage) Outcome { return Outcome{Next: stage} }

// Stay keeps the flow in its current stage.
func Stay(sess *session.Session) Outcome { return Outcome{Next: sess.Stage} }

// End terminates the flow. The router hands control back to the parent flow,
// if any, then idles the session.
func End() Outcome { return Outcome{Terminal: true} }

// Handler processes one event for one session.
type Handler func(ctx context.Context, d *Deps, sess *session.Session, ev models.Event) (Outcome, error)

// PromptFunc re-displays the prompt for a stage, used when input has to be
// asked for again.
type PromptFunc func(ctx context.Context, d *Deps, sess *session.Session) error

// StageBindings maps the event shapes a stage accepts to handlers. A nil
// binding means the shape is unexpected at this stage; the router then
// re-displays the stage prompt.
type StageBindings struct {
	Text     Handler
	Photo    Handler
	Callback map[callback.Key]Handler
	// Prompt re-displays this stage's question. Used for self-loop recovery
	// after unexpected or malformed input.
	Prompt PromptFunc
}

// FlowDefinition is one conversation state machine.
type FlowDefinition struct {
	Type models.FlowType

	// Entry maps commands that (re)start this flow. The router honors them in
	// every stage of the flow: a restart discards the in-progress state.
	Entry map[models.Command]Handler

	// Stages is the transition table.
	Stages map[models.Stage]StageBindings

	// Cancel terminates the flow on /cancel or an unrecognized command. It
	// must revoke the session's affordance before returning.
	Cancel Handler

	// Resume maps a child flow type to the handler that regains control when
	// that child terminates. A child type with no entry ends the session.
	Resume map[models.FlowType]Handler
}
