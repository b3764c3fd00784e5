/*
Copyright Luxoft. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exchange

import (
	"context"

	"github.com/mitchellh/mapstructure"

	"github.com/DevAlexey/cordentity-1/pkg/anoncreds"
)

// Message types of the verification exchange.
const (
	ProofRequestMsgType  = "cordentity/1.0/request-presentation"
	PresentationMsgType  = "cordentity/1.0/presentation"
	ProblemReportMsgType = "cordentity/1.0/problem-report"
)

// ProofRequestMessage asks a prover to present a proof. The request's nonce
// threads the whole exchange; ID identifies the individual message.
type ProofRequestMessage struct {
	ID      string                  `json:"id" mapstructure:"id"`
	Type    string                  `json:"type" mapstructure:"type"`
	Comment string                  `json:"comment,omitempty" mapstructure:"comment"`
	Request *anoncreds.ProofRequest `json:"request" mapstructure:"request"`
}

// PresentationMessage carries the prover's proof back to the verifier.
type PresentationMessage struct {
	ID    string           `json:"id" mapstructure:"id"`
	Type  string           `json:"type" mapstructure:"type"`
	Nonce string           `json:"nonce" mapstructure:"nonce"`
	Proof *anoncreds.Proof `json:"proof" mapstructure:"proof"`
}

// ProblemReportMessage aborts an exchange, carrying the reason.
type ProblemReportMessage struct {
	ID      string `json:"id" mapstructure:"id"`
	Type    string `json:"type" mapstructure:"type"`
	Nonce   string `json:"nonce" mapstructure:"nonce"`
	Code    string `json:"code" mapstructure:"code"`
	Comment string `json:"comment,omitempty" mapstructure:"comment"`
}

// Messenger delivers exchange messages to a counterparty. The host supplies
// the transport.
type Messenger interface {
	Send(ctx context.Context, to string, msg interface{}) error
}

// DecodeMessage maps a generic decoded payload onto the typed message its
// "type" field names.
func DecodeMessage(raw map[string]interface{}) (interface{}, error) {
	msgType, _ := raw["type"].(string)

	var target interface{}

	switch msgType {
	case ProofRequestMsgType:
		target = &ProofRequestMessage{}
	case PresentationMsgType:
		target = &PresentationMessage{}
	case ProblemReportMsgType:
		target = &ProblemReportMessage{}
	default:
		return nil, anoncreds.NewValidationError("unknown message type %q", msgType)
	}

	if err := mapstructure.Decode(raw, target); err != nil {
		return nil, anoncreds.NewValidationError("malformed %s message: %s", msgType, err)
	}

	return target, nil
}
