// ABOUTME: Workflow binds a user, an Agent, and the single live Emitter of a session
// ABOUTME: Turns run in arrival order on one worker; the relay tracks the current emitter

package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/2389/workflow-gateway/internal/conversation"
	"github.com/2389/workflow-gateway/internal/llm"
	"github.com/2389/workflow-gateway/internal/store"
)

var (
	// ErrEmptyMessage is returned for blank user input.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrClosed is returned when sending to a closed workflow.
	ErrClosed = errors.New("workflow is closed")
	// ErrBusy is returned when a workflow's turn queue is full.
	ErrBusy = errors.New("workflow has too many queued messages")
)

// queueDepth bounds the messages waiting behind the running turn.
const queueDepth = 32

// job is one queued user message. done is called exactly once.
type job struct {
	ctx     context.Context
	content string
	done    func(*conversation.TurnResult, error)
}

// Workflow is one live conversation session.
type Workflow struct {
	ID     string
	UserID string
	Type   string

	agent *conversation.Agent
	relay *relay
	queue chan *job
	quit  chan struct{}

	mu      sync.Mutex
	state   store.WorkflowState
	pending int
	stopped bool
}

func newWorkflow(id, userID, typ string, agent *conversation.Agent, em conversation.Emitter) *Workflow {
	w := &Workflow{
		ID:     id,
		UserID: userID,
		Type:   typ,
		agent:  agent,
		relay:  newRelay(),
		queue:  make(chan *job, queueDepth),
		quit:   make(chan struct{}),
		state:  store.WorkflowActive,
	}
	if em != nil {
		w.relay.attach(em)
	}
	go w.run()
	return w
}

// run drains the queue one turn at a time. Jobs still queued when the
// workflow stops fail with ErrClosed.
func (w *Workflow) run() {
	for {
		select {
		case j := <-w.queue:
			w.process(j)
		case <-w.quit:
			for {
				select {
				case j := <-w.queue:
					w.finish(j, nil, fmt.Errorf("%w: %s", ErrClosed, w.ID))
				default:
					return
				}
			}
		}
	}
}

func (w *Workflow) process(j *job) {
	if j.ctx.Err() != nil {
		w.finish(j, nil, fmt.Errorf("%w: %w", conversation.ErrAborted, context.Cause(j.ctx)))
		return
	}
	if w.State() == store.WorkflowClosed {
		w.finish(j, nil, fmt.Errorf("%w: %s", ErrClosed, w.ID))
		return
	}
	res, err := w.agent.Run(j.ctx, w.relay, j.content)
	w.finish(j, res, err)
}

func (w *Workflow) finish(j *job, res *conversation.TurnResult, err error) {
	w.mu.Lock()
	w.pending--
	w.mu.Unlock()
	j.done(res, err)
}

// enqueue appends a message behind any turns already queued.
func (w *Workflow) enqueue(ctx context.Context, content string, done func(*conversation.TurnResult, error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == store.WorkflowClosed || w.stopped {
		return fmt.Errorf("%w: %s", ErrClosed, w.ID)
	}
	select {
	case w.queue <- &job{ctx: ctx, content: content, done: done}:
		w.pending++
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrBusy, w.ID)
	}
}

// idle reports whether no turn is queued or running and nobody listens.
func (w *Workflow) idle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending == 0 && !w.relay.attached()
}

func (w *Workflow) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.quit)
	}
}

// Attach makes em the workflow's live emitter, closing the previous one.
func (w *Workflow) Attach(em conversation.Emitter) {
	if em == nil {
		return
	}
	w.relay.attach(em)
}

// Detach removes em if it is still the live emitter.
func (w *Workflow) Detach(em conversation.Emitter) {
	w.relay.detach(em)
}

// State returns Active or Closed.
func (w *Workflow) State() store.WorkflowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// ProviderID returns the provider the workflow's agent uses.
func (w *Workflow) ProviderID() string { return w.agent.ProviderID() }

// Model returns the model the workflow's agent uses.
func (w *Workflow) Model() string { return w.agent.Model() }

// History returns a snapshot of the agent's history.
func (w *Workflow) History() []llm.Message { return w.agent.History() }

// Send queues one turn and waits for it. Turns run in the order they were
// queued.
func (w *Workflow) Send(ctx context.Context, content string) (*conversation.TurnResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	type outcome struct {
		res *conversation.TurnResult
		err error
	}
	out := make(chan outcome, 1)
	err := w.enqueue(ctx, content, func(res *conversation.TurnResult, err error) {
		out <- outcome{res, err}
	})
	if err != nil {
		return nil, err
	}
	o := <-out
	return o.res, o.err
}

// Close marks the workflow closed and closes the live emitter.
func (w *Workflow) Close() {
	w.mu.Lock()
	w.state = store.WorkflowClosed
	w.mu.Unlock()
	w.unload()
}

// unload stops the worker and the relay without changing the stored state.
// The workflow can be resumed from storage afterwards.
func (w *Workflow) unload() {
	w.stop()
	w.relay.close()
}

type closer interface{ Close() }

// relay is the Emitter the agent sees. It forwards to the current target
// and closes its done channel when the current target goes away. A new
// done channel is armed for the next target.
type relay struct {
	mu     sync.Mutex
	target conversation.Emitter
	epoch  uint64
	done   chan struct{}
	stop   chan struct{}
	closed bool
}

func newRelay() *relay {
	return &relay{done: make(chan struct{}), stop: make(chan struct{})}
}

func (r *relay) attach(em conversation.Emitter) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		closeEmitter(em)
		return
	}
	prev := r.target
	r.target = em
	r.epoch++
	epoch := r.epoch
	r.mu.Unlock()

	if prev != nil && prev != em {
		closeEmitter(prev)
	}
	if done := em.Done(); done != nil {
		go r.watch(done, epoch)
	}
}

func (r *relay) watch(done <-chan struct{}, epoch uint64) {
	select {
	case <-done:
	case <-r.stop:
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch == epoch {
		r.disconnectLocked()
	}
}

func (r *relay) detach(em conversation.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.target == em {
		r.disconnectLocked()
	}
}

func (r *relay) attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target != nil
}

func (r *relay) disconnectLocked() {
	r.target = nil
	r.epoch++
	close(r.done)
	r.done = make(chan struct{})
}

func (r *relay) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	prev := r.target
	r.target = nil
	close(r.stop)
	close(r.done)
	r.mu.Unlock()

	if prev != nil {
		closeEmitter(prev)
	}
}

// Emit forwards to the current target. Events produced while nobody is
// attached are dropped.
func (r *relay) Emit(ctx context.Context, e conversation.Event) error {
	r.mu.Lock()
	target := r.target
	epoch := r.epoch
	r.mu.Unlock()

	if target == nil {
		return nil
	}
	err := target.Emit(ctx, e)
	if errors.Is(err, conversation.ErrEmitterClosed) {
		r.mu.Lock()
		superseded := r.epoch != epoch && r.target != nil
		r.mu.Unlock()
		if superseded {
			return nil
		}
	}
	return err
}

// Done is closed when the current target disconnects.
func (r *relay) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func closeEmitter(em conversation.Emitter) {
	if c, ok := em.(closer); ok {
		c.Close()
	}
}
