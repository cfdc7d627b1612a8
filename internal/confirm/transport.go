// Package confirm asks the user to approve agent requests.
//
// A Transport queues requests from any number of agent connections and
// hands them, one at a time, to a Prompter. In production the Prompter runs
// "litterbox confirm" as a child process so the dialog owns the terminal
// without sharing the agent's address space.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/majorcontext/litterbox/internal/log"
	"github.com/majorcontext/litterbox/internal/sshagent"
)

// ErrClosed is returned when the transport stops before a request is answered.
var ErrClosed = errors.New("confirmation transport closed")

// Request is a pending confirmation. Its reply slot is written exactly once.
type Request struct {
	Kind          sshagent.UserRequest
	LitterboxName string

	ctx   context.Context
	reply chan result
}

type result struct {
	resp sshagent.UserResponse
	err  error
}

// Message is the text shown to the user for the request.
func (r *Request) Message() string {
	return r.Kind.Description()
}

// answer delivers the response. The slot is buffered so this never blocks,
// even when the requester has already given up.
func (r *Request) answer(resp sshagent.UserResponse, err error) {
	r.reply <- result{resp: resp, err: err}
}

// Prompter shows a request to the user and returns the answer.
type Prompter interface {
	Prompt(ctx context.Context, req *Request) (sshagent.UserResponse, error)
}

// Option configures a Transport.
type Option func(*Transport)

// WithTimeout denies requests the user has not answered within d.
// Zero waits indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.timeout = d
	}
}

// Transport is a bounded queue of confirmation requests served by a single
// dispatcher. It implements sshagent.Confirmer.
type Transport struct {
	queue    chan *Request
	prompter Prompter
	timeout  time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

var _ sshagent.Confirmer = (*Transport)(nil)

// NewTransport returns a Transport holding at most capacity waiting requests.
func NewTransport(capacity int, p Prompter, opts ...Option) *Transport {
	if capacity < 1 {
		capacity = 1
	}
	t := &Transport{
		queue:    make(chan *Request, capacity),
		prompter: p,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Confirm queues a request and waits for the answer. It fails closed: if the
// transport is closed, ctx ends, or no answer arrives, the result is
// Declined together with an error.
func (t *Transport) Confirm(ctx context.Context, lbxName string, kind sshagent.UserRequest) (sshagent.UserResponse, error) {
	req := &Request{
		Kind:          kind,
		LitterboxName: lbxName,
		ctx:           ctx,
		reply:         make(chan result, 1),
	}

	select {
	case t.queue <- req:
	case <-t.done:
		return sshagent.Declined, ErrClosed
	case <-ctx.Done():
		return sshagent.Declined, ctx.Err()
	}

	select {
	case res := <-req.reply:
		if res.err != nil {
			return sshagent.Declined, res.err
		}
		return res.resp, nil
	case <-t.done:
		return sshagent.Declined, ErrClosed
	case <-ctx.Done():
		return sshagent.Declined, ctx.Err()
	}
}

// Run dispatches queued requests to the prompter until ctx ends or Close is
// called. Requests still queued when it returns are answered with ErrClosed.
func (t *Transport) Run(ctx context.Context) error {
	defer t.drain()
	defer t.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.done:
			return nil
		case req := <-t.queue:
			t.dispatch(ctx, req)
		}
	}
}

func (t *Transport) dispatch(ctx context.Context, req *Request) {
	if err := req.ctx.Err(); err != nil {
		// The requester already gave up; don't show a stale prompt.
		req.answer(sshagent.Declined, err)
		return
	}

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(req.ctx, cancel)
	defer stop()
	if t.timeout > 0 {
		var cancelTimeout context.CancelFunc
		pctx, cancelTimeout = context.WithTimeout(pctx, t.timeout)
		defer cancelTimeout()
	}

	log.Debug("prompting for confirmation", "lbx", req.LitterboxName, "request", req.Kind.String())
	resp, err := t.prompter.Prompt(pctx, req)
	if err != nil {
		if errors.Is(pctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("no answer within %s: %w", t.timeout, err)
		}
		req.answer(sshagent.Declined, err)
		return
	}
	req.answer(resp, nil)
}

// drain fails every request left in the queue.
func (t *Transport) drain() {
	for {
		select {
		case req := <-t.queue:
			req.answer(sshagent.Declined, ErrClosed)
		default:
			return
		}
	}
}

// Close stops the transport. Waiting and future Confirm calls are declined.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
	})
}
