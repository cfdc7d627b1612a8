package sshagent

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/majorcontext/litterbox/internal/log"
)

// ErrDenied is returned for requests the user declined or that could not be
// confirmed.
var ErrDenied = errors.New("request denied")

// Confirmer asks the user to approve a request from a litterbox. An error
// means no answer was obtained; the request is then denied.
type Confirmer interface {
	Confirm(ctx context.Context, lbxName string, req UserRequest) (UserResponse, error)
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(ctx context.Context, lbxName string, req UserRequest) (UserResponse, error)

// Confirm calls f.
func (f ConfirmerFunc) Confirm(ctx context.Context, lbxName string, req UserRequest) (UserResponse, error) {
	return f(ctx, lbxName, req)
}

// AuditEvent represents a gated agent operation.
type AuditEvent struct {
	Litterbox   string
	Request     string // UserRequest name
	Allowed     bool
	Prompted    bool
	Response    string // user's answer, empty when not prompted
	Fingerprint string // key fingerprint (sign and remove operations)
	Error       string // why no answer was obtained
}

// AuditFunc is a callback for audit logging.
type AuditFunc func(event AuditEvent)

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithAuditFunc sets the callback invoked after every decision.
func WithAuditFunc(fn AuditFunc) GateOption {
	return func(g *Gate) {
		g.auditFunc = fn
	}
}

// Gate is an agent.ExtendedAgent that consults State, and the user when
// required, before forwarding a request to the engine holding the keys.
type Gate struct {
	ctx       context.Context
	lbxName   string
	engine    agent.Agent
	state     *State
	confirmer Confirmer
	auditFunc AuditFunc
}

var _ agent.ExtendedAgent = (*Gate)(nil)

// NewGate returns a Gate for the litterbox lbxName. engine performs the
// allowed operations, usually an agent.NewKeyring holding the session keys.
func NewGate(lbxName string, engine agent.Agent, state *State, confirmer Confirmer, opts ...GateOption) *Gate {
	g := &Gate{
		ctx:       context.Background(),
		lbxName:   lbxName,
		engine:    engine,
		state:     state,
		confirmer: confirmer,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithContext returns a shallow copy of g whose confirmations are cancelled
// with ctx. The copy shares the engine and State.
func (g *Gate) WithContext(ctx context.Context) *Gate {
	g2 := *g
	g2.ctx = ctx
	return &g2
}

// LitterboxName returns the litterbox the gate serves.
func (g *Gate) LitterboxName() string {
	return g.lbxName
}

// State returns the shared lock state.
func (g *Gate) State() *State {
	return g.state
}

// authorize returns nil if req may proceed and an error wrapping ErrDenied
// otherwise. Any failure to obtain an answer denies the request.
func (g *Gate) authorize(req UserRequest, fingerprint string) error {
	event := AuditEvent{
		Litterbox:   g.lbxName,
		Request:     req.String(),
		Fingerprint: fingerprint,
	}

	if g.state.Decide(req) == Allow {
		event.Allowed = true
		g.audit(event)
		return nil
	}

	event.Prompted = true
	resp, err := g.confirmer.Confirm(g.ctx, g.lbxName, req)
	if err != nil {
		log.Error("confirmation failed, denying request",
			"lbx", g.lbxName, "request", req.String(), "error", err)
		event.Error = err.Error()
		g.audit(event)
		return fmt.Errorf("%w: %s: %v", ErrDenied, req, err)
	}

	event.Response = resp.String()
	event.Allowed = g.state.Record(req, resp)
	g.audit(event)
	if !event.Allowed {
		log.Info("request declined", "lbx", g.lbxName, "request", req.String())
		return fmt.Errorf("%w: %s", ErrDenied, req)
	}
	log.Debug("request approved", "lbx", g.lbxName, "request", req.String(), "response", resp.String())
	return nil
}

func (g *Gate) audit(event AuditEvent) {
	if g.auditFunc != nil {
		g.auditFunc(event)
	}
}

// List returns the identities held by the engine.
func (g *Gate) List() ([]*agent.Key, error) {
	if err := g.authorize(RequestFor(MsgRequestIdentities), ""); err != nil {
		return nil, err
	}
	return g.engine.List()
}

// Sign has the engine sign data with the key identified by key.
func (g *Gate) Sign(key ssh.PublicKey, data []byte) (*ssh.Signature, error) {
	return g.SignWithFlags(key, data, 0)
}

// SignWithFlags is Sign with signature flags, used for rsa-sha2 signatures.
func (g *Gate) SignWithFlags(key ssh.PublicKey, data []byte, flags agent.SignatureFlags) (*ssh.Signature, error) {
	if err := g.authorize(RequestFor(MsgSignRequest), ssh.FingerprintSHA256(key)); err != nil {
		return nil, err
	}
	if flags == 0 {
		return g.engine.Sign(key, data)
	}
	ext, ok := g.engine.(agent.ExtendedAgent)
	if !ok {
		return nil, fmt.Errorf("signature flags %d not supported by agent", flags)
	}
	return ext.SignWithFlags(key, data, flags)
}

// Add adds a private key to the engine.
func (g *Gate) Add(key agent.AddedKey) error {
	msg := MsgAddIdentity
	if key.LifetimeSecs != 0 || key.ConfirmBeforeUse || len(key.ConstraintExtensions) > 0 {
		msg = MsgAddIDConstrained
	}
	if err := g.authorize(RequestFor(msg), ""); err != nil {
		return err
	}
	return g.engine.Add(key)
}

// Remove removes all identities with the given public key.
func (g *Gate) Remove(key ssh.PublicKey) error {
	if err := g.authorize(RequestFor(MsgRemoveIdentity), ssh.FingerprintSHA256(key)); err != nil {
		return err
	}
	return g.engine.Remove(key)
}

// RemoveAll removes all identities.
func (g *Gate) RemoveAll() error {
	if err := g.authorize(RequestFor(MsgRemoveAllIdentities), ""); err != nil {
		return err
	}
	return g.engine.RemoveAll()
}

// Lock locks the engine with passphrase. It does not affect gating.
func (g *Gate) Lock(passphrase []byte) error {
	if err := g.authorize(RequestFor(MsgLock), ""); err != nil {
		return err
	}
	return g.engine.Lock(passphrase)
}

// Unlock undoes the effect of Lock.
func (g *Gate) Unlock(passphrase []byte) error {
	if err := g.authorize(RequestFor(MsgUnlock), ""); err != nil {
		return err
	}
	return g.engine.Unlock(passphrase)
}

// Signers is not reachable over the wire and would bypass confirmation.
func (g *Gate) Signers() ([]ssh.Signer, error) {
	return nil, fmt.Errorf("signers not available from the litterbox agent")
}

// Extension rejects every protocol extension without prompting.
func (g *Gate) Extension(extensionType string, contents []byte) ([]byte, error) {
	log.Debug("rejecting agent extension", "lbx", g.lbxName, "extension", extensionType)
	return nil, agent.ErrExtensionUnsupported
}
