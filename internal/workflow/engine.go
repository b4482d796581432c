// Package workflow runs the conversational state machines that collect
// input across chat turns and commit it to the unit register.
package workflow

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/blockyard/internal/attachment"
	"github.com/zulandar/blockyard/internal/identity"
	"gorm.io/gorm"
)

// now is swapped in tests.
var now = time.Now

// maxHops bounds the Enter chain of one turn.
const maxHops = 8

// Choice is one button offered to the user.
type Choice struct {
	Label string
	Token string
}

// File is an outgoing attachment.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Reply is one outgoing chat message.
type Reply struct {
	Text    string
	Choices [][]Choice
	Files   []File
}

// InputFile is a file the user uploaded. ID is the platform handle
// (file id or download URL).
type InputFile struct {
	ID          string
	Name        string
	ContentType string
}

// Input is one inbound event for a session.
type Input struct {
	Identity identity.Identity
	Text     string
	Choice   string
	Files    []InputFile
}

// Accept is a bitmask of payload shapes a step handles.
type Accept uint8

const (
	AcceptText Accept = 1 << iota
	AcceptChoice
	AcceptFile
)

func (in Input) shape() Accept {
	switch {
	case in.Choice != "":
		return AcceptChoice
	case len(in.Files) > 0:
		return AcceptFile
	default:
		return AcceptText
	}
}

// Outcome tells the engine what to do after a step ran.
type Outcome int

const (
	// Reprompt keeps the session at the current step.
	Reprompt Outcome = iota
	// Advance moves to Result.Next and runs its Enter.
	Advance
	// Finish clears the session.
	Finish
)

// Result is returned by Enter and Handle.
type Result struct {
	Outcome Outcome
	Next    string
	Replies []Reply
	// Quiet skips the Enter of Next; the replies already carry the prompt.
	Quiet bool
}

func reprompt(replies ...Reply) Result { return Result{Outcome: Reprompt, Replies: replies} }

func advance(next string, replies ...Reply) Result {
	return Result{Outcome: Advance, Next: next, Replies: replies}
}

func advanceQuiet(next string, replies ...Reply) Result {
	return Result{Outcome: Advance, Next: next, Replies: replies, Quiet: true}
}

func finish(replies ...Reply) Result { return Result{Outcome: Finish, Replies: replies} }

func text(s string) Reply { return Reply{Text: s} }

func ask(s string, choices [][]Choice) Reply { return Reply{Text: s, Choices: choices} }

// Step is one state of a flow. Enter prompts for the step (and may redirect);
// Handle consumes an input of an accepted shape.
type Step struct {
	Name    string
	Accepts Accept
	Enter   func(c *Ctx) Result
	Handle  func(c *Ctx, in Input) Result
}

// Flow is a fixed sequence of steps.
type Flow struct {
	Name  string
	First string
	// Restricted flows need an active user when the engine requires it.
	Restricted bool
	Steps      map[string]*Step
}

func newFlow(name, first string, restricted bool, steps ...*Step) *Flow {
	f := &Flow{Name: name, First: first, Restricted: restricted, Steps: make(map[string]*Step, len(steps))}
	for _, s := range steps {
		f.Steps[s.Name] = s
	}
	return f
}

// Ctx is handed to steps. It carries the request context, a DB handle bound
// to it, and the session as of the start of the call.
type Ctx struct {
	context.Context
	DB      *gorm.DB
	Session *Session
	Input   Input
	engine  *Engine
}

// Set stores a value in session data.
func (c *Ctx) Set(k string, v any) {
	c.Session.Data[k] = v
}

func (c *Ctx) actor() (identity.Resolved, error) {
	return identity.Resolve(c.DB, c.Input.Identity)
}

// Engine dispatches inputs to the flow table.
type Engine struct {
	db            *gorm.DB
	store         *Store
	files         *attachment.Store
	flows         map[string]*Flow
	isAdmin       func(externalID string) bool
	requireActive bool
}

// Opts holds parameters for creating an Engine.
type Opts struct {
	DB            *gorm.DB
	Store         *Store
	Attachments   *attachment.Store // optional; labels are not persisted without it
	IsAdmin       func(externalID string) bool
	RequireActive bool
}

// New creates an Engine with every built-in flow registered.
func New(opts Opts) (*Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("workflow: db is required")
	}
	if opts.Store == nil {
		opts.Store = NewStore(DefaultSessionTTL)
	}
	if opts.IsAdmin == nil {
		opts.IsAdmin = func(string) bool { return false }
	}
	e := &Engine{
		db:            opts.DB,
		store:         opts.Store,
		files:         opts.Attachments,
		isAdmin:       opts.IsAdmin,
		requireActive: opts.RequireActive,
		flows:         map[string]*Flow{},
	}
	for _, f := range []*Flow{receiveFlow(), issueFlow(), repairFlow(), machineFlow(), printFlow(), registerFlow()} {
		e.flows[f.Name] = f
	}
	return e, nil
}

// Store returns the session store.
func (e *Engine) Store() *Store { return e.store }

// Flows lists the registered flow names.
func (e *Engine) Flows() []string {
	names := make([]string, 0, len(e.flows))
	for n := range e.flows {
		names = append(names, n)
	}
	return names
}

// Start begins flow for key, replacing any session in progress. seed is
// copied into the session data before the first step is entered; flows
// started from a unit card pass the unit id this way and may name a later
// first step.
func (e *Engine) Start(ctx context.Context, key, flow string, in Input, seed map[string]any, firstStep string) ([]Reply, error) {
	f, ok := e.flows[flow]
	if !ok {
		return nil, fmt.Errorf("workflow: unknown flow %q", flow)
	}
	if firstStep == "" {
		firstStep = f.First
	}
	if _, ok := f.Steps[firstStep]; !ok {
		return nil, fmt.Errorf("workflow: flow %s has no step %q", flow, firstStep)
	}

	if f.Restricted && e.requireActive {
		r, err := identity.Resolve(e.db.WithContext(ctx), in.Identity)
		if err != nil {
			return nil, err
		}
		if !r.IsActive() {
			e.store.Clear(key)
			return []Reply{text(MsgNotActive)}, nil
		}
	}

	e.store.SetState(key, flow, firstStep)
	if len(seed) > 0 {
		if err := e.store.Update(key, seed); err != nil {
			return nil, err
		}
	}
	sess, err := e.store.Get(key)
	if err != nil {
		return nil, err
	}
	c := e.newCtx(ctx, sess, in)
	return e.enter(c, f, f.Steps[firstStep], nil), nil
}

// Active reports whether key has a session in progress.
func (e *Engine) Active(key string) bool {
	_, _, ok := e.store.State(key)
	return ok
}

// Cancel abandons the session for key.
func (e *Engine) Cancel(key string) bool {
	return e.store.Clear(key)
}

// Handle feeds in to the session for key. It returns ErrNoSession when key
// has nothing in progress.
func (e *Engine) Handle(ctx context.Context, key string, in Input) ([]Reply, error) {
	sess, err := e.store.Get(key)
	if err != nil {
		return nil, err
	}
	f, ok := e.flows[sess.Workflow]
	if !ok {
		e.store.Clear(key)
		return []Reply{text(MsgStateError)}, nil
	}
	step, ok := f.Steps[sess.Step]
	if !ok {
		e.store.Clear(key)
		return []Reply{text(MsgStateError)}, nil
	}
	if in.Choice == NoopToken {
		return nil, nil
	}

	c := e.newCtx(ctx, sess, in)
	if step.Accepts&in.shape() == 0 {
		// Wrong payload shape: show the step prompt again.
		return e.enter(c, f, step, nil), nil
	}
	res := step.Handle(c, in)
	return e.apply(c, f, step, res, nil), nil
}

func (e *Engine) newCtx(ctx context.Context, sess *Session, in Input) *Ctx {
	return &Ctx{Context: ctx, DB: e.db.WithContext(ctx), Session: sess, Input: in, engine: e}
}

func (e *Engine) enter(c *Ctx, f *Flow, step *Step, out []Reply) []Reply {
	return e.apply(c, f, step, step.Enter(c), out)
}

// apply persists the outcome of a step and follows Advance chains.
func (e *Engine) apply(c *Ctx, f *Flow, step *Step, res Result, out []Reply) []Reply {
	for hop := 0; ; hop++ {
		out = append(out, res.Replies...)
		switch res.Outcome {
		case Finish:
			e.store.Clear(c.Session.Key)
			return out
		case Reprompt:
			e.save(c, step.Name)
			return out
		}

		next, ok := f.Steps[res.Next]
		if !ok || hop >= maxHops {
			log.Printf("workflow: %s: bad transition %s -> %q", f.Name, step.Name, res.Next)
			e.store.Clear(c.Session.Key)
			return append(out, text(MsgStateError))
		}
		step = next
		if res.Quiet {
			e.save(c, step.Name)
			return out
		}
		c.Session.Step = step.Name
		res = step.Enter(c)
	}
}

func (e *Engine) save(c *Ctx, step string) {
	// A session cancelled or expired mid-turn stays gone.
	_ = e.store.modify(c.Session.Key, func(s *Session) {
		s.Step = step
		s.Data = c.Session.Data
	})
}

// commitFailed logs a failed commit and builds the user-facing report.
func commitFailed(flow string, err error) Result {
	log.Printf("workflow: %s commit: %v", flow, err)
	return finish(text(fmt.Sprintf(MsgCommitFailed, err)))
}
