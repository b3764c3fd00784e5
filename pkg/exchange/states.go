/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exchange

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
)

const (
	// common states.
	stateNameNoop = "noop"

	// states for the verifier role.
	stateNameInitiated     = "initiated"
	stateNameRequestSent   = "request-sent"
	stateNameAwaitingProof = "awaiting-proof"
	stateNameProofReceived = "proof-received"
	stateNameAccepted      = "accepted"
	stateNameRejected      = "rejected"

	// states for the prover role.
	stateNameAwaitingRequest = "awaiting-request"
	stateNameRequestReceived = "request-received"
	stateNameProofBuilt      = "proof-built"
	stateNameProofSent       = "proof-sent"
	stateNameDone            = "done"
	stateNameFailed          = "failed"
)

// state action for the network call following a transition.
type stateAction func(ctx context.Context, messenger Messenger) error

// the exchange's state.
type state interface {
	// Name of this state.
	Name() string
	// Whether this state allows transitioning into the next state.
	CanTransitionTo(next state) bool
	// Executes this state, returning a followup state to be immediately
	// executed as well. The noOp state is returned when there is no followup.
	Execute(md *metaData) (state, stateAction, error)
}

// metaData carries one exchange step through the state machine.
type metaData struct {
	peer    string
	nonce   string
	request *anoncreds.ProofRequest
	proof   *anoncreds.Proof
	report  *ProblemReportMessage

	// verify runs the two-phase acceptance check on the verifier side.
	verify func(*anoncreds.Proof) *Outcome
	// build constructs the presentation on the prover side.
	build func(*anoncreds.ProofRequest) (*anoncreds.Proof, error)

	outcome *Outcome
	err     error
}

func zeroAction(context.Context, Messenger) error { return nil }

// no operation state.
type noOp struct{}

func (s *noOp) Name() string                 { return stateNameNoop }
func (s *noOp) CanTransitionTo(_ state) bool { return false }
func (s *noOp) Execute(_ *metaData) (state, stateAction, error) {
	return nil, nil, fmt.Errorf("%s: illegal state", s.Name())
}

// initiated is the verifier's zero state.
type initiated struct{}

func (s *initiated) Name() string { return stateNameInitiated }

func (s *initiated) CanTransitionTo(st state) bool {
	return st.Name() == stateNameRequestSent || st.Name() == stateNameRejected
}

func (s *initiated) Execute(md *metaData) (state, stateAction, error) {
	request := &ProofRequestMessage{
		ID:      uuid.New().String(),
		Type:    ProofRequestMsgType,
		Request: md.request,
	}

	return &requestSent{}, func(ctx context.Context, messenger Messenger) error {
		return messenger.Send(ctx, md.peer, request)
	}, nil
}

// requestSent is entered once the proof request is on the wire.
type requestSent struct{}

func (s *requestSent) Name() string { return stateNameRequestSent }

func (s *requestSent) CanTransitionTo(st state) bool {
	return st.Name() == stateNameAwaitingProof || st.Name() == stateNameRejected
}

func (s *requestSent) Execute(md *metaData) (state, stateAction, error) {
	// Park until the prover answers; OnProofReceived and OnProblemReport
	// resume the machine with the presentation or report filled in.
	if md.proof == nil && md.report == nil {
		return &noOp{}, zeroAction, nil
	}

	return &awaitingProof{}, zeroAction, nil
}

// awaitingProof waits for the prover's presentation.
type awaitingProof struct{}

func (s *awaitingProof) Name() string { return stateNameAwaitingProof }

func (s *awaitingProof) CanTransitionTo(st state) bool {
	return st.Name() == stateNameProofReceived || st.Name() == stateNameRejected
}

func (s *awaitingProof) Execute(md *metaData) (state, stateAction, error) {
	if md.report != nil {
		md.outcome = &Outcome{
			Reason: md.report.Comment,
			Kind:   anoncreds.Kind(md.report.Code),
		}

		return &rejected{notified: true}, zeroAction, nil
	}

	if md.proof == nil {
		return nil, nil, fmt.Errorf("%s: no presentation received", s.Name())
	}

	return &proofReceived{}, zeroAction, nil
}

// proofReceived runs the acceptance checks.
type proofReceived struct{}

func (s *proofReceived) Name() string { return stateNameProofReceived }

func (s *proofReceived) CanTransitionTo(st state) bool {
	return st.Name() == stateNameAccepted || st.Name() == stateNameRejected
}

func (s *proofReceived) Execute(md *metaData) (state, stateAction, error) {
	md.outcome = md.verify(md.proof)

	if md.outcome.Accepted {
		return &accepted{}, zeroAction, nil
	}

	return &rejected{}, zeroAction, nil
}

// accepted is the verifier's terminal success state.
type accepted struct{}

func (s *accepted) Name() string                 { return stateNameAccepted }
func (s *accepted) CanTransitionTo(_ state) bool { return false }

func (s *accepted) Execute(_ *metaData) (state, stateAction, error) {
	return &noOp{}, zeroAction, nil
}

// rejected is the verifier's terminal failure state. Unless the prover
// already knows (it sent the problem report, or went silent past the
// deadline), the rejection is reported back.
type rejected struct {
	notified bool
}

func (s *rejected) Name() string                 { return stateNameRejected }
func (s *rejected) CanTransitionTo(_ state) bool { return false }

func (s *rejected) Execute(md *metaData) (state, stateAction, error) {
	if s.notified || md.outcome == nil {
		return &noOp{}, zeroAction, nil
	}

	report := &ProblemReportMessage{
		ID:      uuid.New().String(),
		Type:    ProblemReportMsgType,
		Nonce:   md.nonce,
		Code:    string(md.outcome.Kind),
		Comment: md.outcome.Reason,
	}

	return &noOp{}, func(ctx context.Context, messenger Messenger) error {
		return messenger.Send(ctx, md.peer, report)
	}, nil
}

// awaitingRequest is the prover's zero state.
type awaitingRequest struct{}

func (s *awaitingRequest) Name() string { return stateNameAwaitingRequest }

func (s *awaitingRequest) CanTransitionTo(st state) bool {
	return st.Name() == stateNameRequestReceived
}

func (s *awaitingRequest) Execute(_ *metaData) (state, stateAction, error) {
	return &requestReceived{}, zeroAction, nil
}

// requestReceived builds the presentation for the incoming request.
type requestReceived struct{}

func (s *requestReceived) Name() string { return stateNameRequestReceived }

func (s *requestReceived) CanTransitionTo(st state) bool {
	return st.Name() == stateNameProofBuilt || st.Name() == stateNameFailed
}

func (s *requestReceived) Execute(md *metaData) (state, stateAction, error) {
	proof, err := md.build(md.request)
	if err != nil {
		md.err = err

		return &failed{}, zeroAction, nil
	}

	md.proof = proof

	return &proofBuilt{}, zeroAction, nil
}

// proofBuilt holds a presentation ready to go out.
type proofBuilt struct{}

func (s *proofBuilt) Name() string { return stateNameProofBuilt }

func (s *proofBuilt) CanTransitionTo(st state) bool {
	return st.Name() == stateNameProofSent
}

func (s *proofBuilt) Execute(md *metaData) (state, stateAction, error) {
	presentation := &PresentationMessage{
		ID:    uuid.New().String(),
		Type:  PresentationMsgType,
		Nonce: md.nonce,
		Proof: md.proof,
	}

	return &proofSent{}, func(ctx context.Context, messenger Messenger) error {
		return messenger.Send(ctx, md.peer, presentation)
	}, nil
}

// proofSent completes the prover's part of the exchange.
type proofSent struct{}

func (s *proofSent) Name() string { return stateNameProofSent }

func (s *proofSent) CanTransitionTo(st state) bool {
	return st.Name() == stateNameDone
}

func (s *proofSent) Execute(_ *metaData) (state, stateAction, error) {
	return &done{}, zeroAction, nil
}

// done is the prover's terminal state.
type done struct{}

func (s *done) Name() string                 { return stateNameDone }
func (s *done) CanTransitionTo(_ state) bool { return false }

func (s *done) Execute(_ *metaData) (state, stateAction, error) {
	return &noOp{}, zeroAction, nil
}

// failed aborts the prover's exchange with a problem report.
type failed struct{}

func (s *failed) Name() string                 { return stateNameFailed }
func (s *failed) CanTransitionTo(_ state) bool { return false }

func (s *failed) Execute(md *metaData) (state, stateAction, error) {
	report := &ProblemReportMessage{
		ID:      uuid.New().String(),
		Type:    ProblemReportMsgType,
		Nonce:   md.nonce,
		Code:    string(anoncreds.KindOf(md.err)),
		Comment: md.err.Error(),
	}

	return &noOp{}, func(ctx context.Context, messenger Messenger) error {
		return messenger.Send(ctx, md.peer, report)
	}, nil
}
