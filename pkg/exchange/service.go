/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package exchange orchestrates the two-party verification exchange: a
// verifier sends a proof request, a prover answers with a presentation, and
// the verifier accepts or rejects with a reasoned outcome.
package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
	"github.com/DevAlexey/cordentity-1/pkg/common/log"
	"github.com/DevAlexey/cordentity-1/pkg/proof"
)

var logger = log.New("cordentity/exchange")

// DefaultTimeout bounds how long a verifier waits for a presentation.
const DefaultTimeout = 2 * time.Minute

// AttributeSpec names an attribute the verifier wants revealed. A non-empty
// Expected value additionally pins the revealed value: proofs revealing
// anything else are rejected even when cryptographically sound.
type AttributeSpec struct {
	FieldRef anoncreds.CredentialFieldReference
	Expected string
}

// PredicateSpec names a lower bound the verifier wants proven without
// revealing the attribute.
type PredicateSpec struct {
	FieldRef anoncreds.CredentialFieldReference
	Value    int64
}

// Outcome is the verifier's final word on a session. Rejections always carry
// the reason and its kind.
type Outcome struct {
	Accepted bool
	Reason   string
	Kind     anoncreds.Kind
}

// SessionHandle identifies one verification session. The nonce doubles as the
// session key.
type SessionHandle struct {
	Nonce string
}

type verifierSession struct {
	md      *metaData
	current state
	timer   *clock.Timer
}

// Verifier runs the verifier role of the exchange.
type Verifier struct {
	engine    *proof.Engine
	messenger Messenger
	clock     clock.Clock
	timeout   time.Duration

	mu       sync.Mutex
	sessions map[string]*verifierSession
}

// NewVerifier returns a verifier-role service. A zero timeout falls back to
// DefaultTimeout.
func NewVerifier(engine *proof.Engine, messenger Messenger, clk clock.Clock,
	timeout time.Duration) *Verifier {
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Verifier{
		engine:    engine,
		messenger: messenger,
		clock:     clk,
		timeout:   timeout,
		sessions:  make(map[string]*verifierSession),
	}
}

// BeginVerification opens a session against the prover: it builds a
// fresh-nonce proof request from the specs, sends it, and arms the timeout.
func (v *Verifier) BeginVerification(ctx context.Context, proverDID string,
	attributes []AttributeSpec, predicates []PredicateSpec,
	nonRevoked *anoncreds.Interval) (*SessionHandle, error) {
	nonce, err := proof.NewNonce()
	if err != nil {
		return nil, err
	}

	requestedAttrs := make(map[string]anoncreds.RequestedAttribute, len(attributes))
	expected := make(map[string]string)

	for i, attr := range attributes {
		referent := fmt.Sprintf("attr%d_referent", i+1)
		requestedAttrs[referent] = anoncreds.RequestedAttribute{FieldRef: attr.FieldRef, Revealed: true}

		if attr.Expected != "" {
			expected[referent] = attr.Expected
		}
	}

	requestedPredicates := make(map[string]anoncreds.CredentialPredicate, len(predicates))

	for i, predicate := range predicates {
		referent := fmt.Sprintf("predicate%d_referent", i+1)
		requestedPredicates[referent] = anoncreds.CredentialPredicate{
			FieldRef: predicate.FieldRef,
			Value:    predicate.Value,
			PType:    anoncreds.PredicateGE,
		}
	}

	req, err := proof.BuildProofRequest("1.0", "verification", requestedAttrs,
		requestedPredicates, nonRevoked, nonce)
	if err != nil {
		return nil, err
	}

	session := &verifierSession{
		md: &metaData{
			peer:    proverDID,
			nonce:   nonce,
			request: req,
			verify:  v.acceptance(req, expected),
		},
		current: &initiated{},
	}

	if err := v.execute(ctx, session); err != nil {
		return nil, err
	}

	// Registering the session and arming the timer under one lock keeps an
	// immediately-firing timer from missing the session.
	v.mu.Lock()
	v.sessions[nonce] = session
	session.timer = v.clock.AfterFunc(v.timeout, func() { v.expire(nonce) })
	v.mu.Unlock()

	logger.Debugf("verification session %s opened against %s", nonce, proverDID)

	return &SessionHandle{Nonce: nonce}, nil
}

// OnProofReceived feeds the prover's presentation into the session and
// returns the final outcome. A session that already timed out keeps its
// timeout outcome.
func (v *Verifier) OnProofReceived(ctx context.Context, handle *SessionHandle,
	presentation *PresentationMessage) (*Outcome, error) {
	session, err := v.session(handle)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if session.md.outcome != nil {
		return session.md.outcome, nil
	}

	session.timer.Stop()
	session.md.proof = presentation.Proof

	if err := v.executeLocked(ctx, session); err != nil {
		return nil, err
	}

	return session.md.outcome, nil
}

// OnProblemReport aborts the session with the reason the prover carried.
func (v *Verifier) OnProblemReport(ctx context.Context, handle *SessionHandle,
	report *ProblemReportMessage) (*Outcome, error) {
	session, err := v.session(handle)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if session.md.outcome != nil {
		return session.md.outcome, nil
	}

	session.timer.Stop()
	session.md.report = report

	if err := v.executeLocked(ctx, session); err != nil {
		return nil, err
	}

	return session.md.outcome, nil
}

// Cancel abandons the session and releases its nonce.
func (v *Verifier) Cancel(handle *SessionHandle) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if session, ok := v.sessions[handle.Nonce]; ok {
		session.timer.Stop()
		delete(v.sessions, handle.Nonce)
	}
}

// Outcome returns the session's outcome, or nil while it is still pending.
func (v *Verifier) Outcome(handle *SessionHandle) (*Outcome, error) {
	session, err := v.session(handle)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	return session.md.outcome, nil
}

func (v *Verifier) session(handle *SessionHandle) (*verifierSession, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	session, ok := v.sessions[handle.Nonce]
	if !ok {
		return nil, &anoncreds.NotFoundError{What: "verification session " + handle.Nonce}
	}

	return session, nil
}

// expire drives a silent session into rejection.
func (v *Verifier) expire(nonce string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	session, ok := v.sessions[nonce]
	if !ok || session.md.outcome != nil {
		return
	}

	timeoutErr := &anoncreds.TimeoutError{Msg: "no presentation before the deadline"}
	session.md.outcome = &Outcome{Reason: timeoutErr.Error(), Kind: anoncreds.KindTimeout}
	session.current = &rejected{notified: true}

	logger.Warnf("verification session %s timed out", nonce)
}

// acceptance is the two-phase check: the cryptographic verdict first, then
// the expected-value comparison. Both must hold for acceptance.
func (v *Verifier) acceptance(req *anoncreds.ProofRequest,
	expected map[string]string) func(*anoncreds.Proof) *Outcome {
	return func(p *anoncreds.Proof) *Outcome {
		valid, err := v.engine.VerifyProof(req, p)
		if err != nil {
			return &Outcome{Reason: err.Error(), Kind: anoncreds.KindOf(err)}
		}

		if !valid {
			return &Outcome{Reason: "presentation did not verify", Kind: anoncreds.KindVerification}
		}

		for referent, want := range expected {
			got, ok := p.RevealedAttributes[referent]
			if !ok || got.Raw != want {
				return &Outcome{
					Reason: fmt.Sprintf("revealed attribute %s does not carry the expected value", referent),
					Kind:   anoncreds.KindValidation,
				}
			}
		}

		return &Outcome{Accepted: true}
	}
}

func (v *Verifier) execute(ctx context.Context, session *verifierSession) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.executeLocked(ctx, session)
}

// executeLocked runs the state machine until it yields no followup.
func (v *Verifier) executeLocked(ctx context.Context, session *verifierSession) error {
	current := session.current

	for current.Name() != stateNameNoop {
		next, action, err := current.Execute(session.md)
		if err != nil {
			return err
		}

		if next.Name() != stateNameNoop && !current.CanTransitionTo(next) {
			return fmt.Errorf("invalid state transition: %s -> %s", current.Name(), next.Name())
		}

		if err := action(ctx, v.messenger); err != nil {
			return err
		}

		if next.Name() != stateNameNoop {
			session.current = next
		}

		current = next
	}

	return nil
}

// Prover runs the prover role of the exchange.
type Prover struct {
	engine    *proof.Engine
	messenger Messenger
}

// NewProver returns a prover-role service.
func NewProver(engine *proof.Engine, messenger Messenger) *Prover {
	return &Prover{engine: engine, messenger: messenger}
}

// HandleProofRequest answers an incoming proof request with a presentation,
// or with a problem report when none can be built. The build error, if any,
// is returned after the report goes out.
func (p *Prover) HandleProofRequest(ctx context.Context, from string,
	msg *ProofRequestMessage, masterSecretID string) error {
	if msg.Request == nil || msg.Request.Nonce == "" {
		return anoncreds.NewValidationError("proof request message carries no request")
	}

	md := &metaData{
		peer:    from,
		nonce:   msg.Request.Nonce,
		request: msg.Request,
		build: func(req *anoncreds.ProofRequest) (*anoncreds.Proof, error) {
			return p.engine.CreateProof(req, masterSecretID)
		},
	}

	var current state = &awaitingRequest{}

	for current.Name() != stateNameNoop {
		next, action, err := current.Execute(md)
		if err != nil {
			return err
		}

		if next.Name() != stateNameNoop && !current.CanTransitionTo(next) {
			return fmt.Errorf("invalid state transition: %s -> %s", current.Name(), next.Name())
		}

		if err := action(ctx, p.messenger); err != nil {
			return err
		}

		current = next
	}

	if md.err != nil {
		logger.Warnf("presentation for session %s not built: %s", md.nonce, md.err)

		return md.err
	}

	return nil
}
