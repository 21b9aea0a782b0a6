package approvals_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/JaimeStill/steward/internal/approvals"
	"github.com/JaimeStill/steward/internal/exceptions"
	"github.com/JaimeStill/steward/internal/signals"
	"github.com/JaimeStill/steward/internal/users"
	"github.com/JaimeStill/steward/pkg/repository"
)

func TestActionTypeValid(t *testing.T) {
	for _, a := range []approvals.ActionType{
		approvals.ActionSignal,
		approvals.ActionPolicyDraft,
		approvals.ActionDecision,
		approvals.ActionDismiss,
		approvals.ActionContext,
	} {
		if !a.Valid() {
			t.Errorf("%s should be valid", a)
		}
	}
	if approvals.ActionType("delete").Valid() {
		t.Error("delete should not be valid")
	}
}

func TestMapHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{approvals.ErrNotFound, http.StatusNotFound},
		{exceptions.ErrNotFound, http.StatusNotFound},
		{approvals.ErrInvalidProposal, http.StatusBadRequest},
		{approvals.ErrExempt, http.StatusBadRequest},
		{signals.ErrInvalidSignal, http.StatusBadRequest},
		{users.ErrUnauthorized, http.StatusForbidden},
		{approvals.ErrInvalidTransition, http.StatusConflict},
		{exceptions.ErrInvalidTransition, http.StatusConflict},
		{repository.ErrImmutable, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := approvals.MapHTTPStatus(tt.err); got != tt.want {
			t.Errorf("MapHTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSignalCommand(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantType    string
		wantSource  string
		wantPayload map[string]any
		wantErr     bool
	}{
		{
			name:        "flat payload",
			payload:     `{"signal_type":"covenant_breach","covenant_name":"X","facility":"Y"}`,
			wantType:    "covenant_breach",
			wantSource:  "agent:intake",
			wantPayload: map[string]any{"covenant_name": "X", "facility": "Y"},
		},
		{
			name:        "nested payload and explicit source",
			payload:     `{"signal_type":"kyc_expiry","source":"kyc-feed","reliability":0.8,"payload":{"client_id":"c-1"}}`,
			wantType:    "kyc_expiry",
			wantSource:  "kyc-feed",
			wantPayload: map[string]any{"client_id": "c-1"},
		},
		{
			name:        "numbers keep their text",
			payload:     `{"signal_type":"counterparty_limit_breach","counterparty":"acme","exposure":12345678901234567891}`,
			wantType:    "counterparty_limit_breach",
			wantSource:  "agent:intake",
			wantPayload: map[string]any{"counterparty": "acme", "exposure": json.Number("12345678901234567891")},
		},
		{
			name:    "missing signal type",
			payload: `{"asset":"BTC"}`,
			wantErr: true,
		},
		{
			name:    "payload not an object",
			payload: `{"signal_type":"drawdown_alert","payload":[1,2]}`,
			wantErr: true,
		},
		{
			name:    "bad observed_at",
			payload: `{"signal_type":"drawdown_alert","observed_at":"yesterday"}`,
			wantErr: true,
		},
		{
			name:    "reliability not a number",
			payload: `{"signal_type":"drawdown_alert","reliability":"high"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := approvals.SignalCommand(json.RawMessage(tt.payload), "agent:intake")
			if tt.wantErr {
				if !errors.Is(err, approvals.ErrInvalidProposal) {
					t.Fatalf("expected ErrInvalidProposal, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.SignalType != tt.wantType {
				t.Errorf("SignalType = %q, want %q", cmd.SignalType, tt.wantType)
			}
			if cmd.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", cmd.Source, tt.wantSource)
			}
			if len(cmd.Payload) != len(tt.wantPayload) {
				t.Fatalf("Payload = %v, want %v", cmd.Payload, tt.wantPayload)
			}
			for k, v := range tt.wantPayload {
				if cmd.Payload[k] != v {
					t.Errorf("Payload[%s] = %v, want %v", k, cmd.Payload[k], v)
				}
			}
		})
	}
}

func TestCommittersValidate(t *testing.T) {
	c := approvals.NewCommitters(nil, nil, nil)

	tests := []struct {
		action  approvals.ActionType
		payload string
		valid   bool
	}{
		{approvals.ActionPolicyDraft, `{"policy_id":"6f1c2b9e-8a57-4c1d-9b63-0d6f0c1e4a11","rule":{"match":"all","conditions":[{"field":"severity","op":"gte","value":"high"}]}}`, true},
		{approvals.ActionPolicyDraft, `{"rule":{"match":"all","conditions":[{"field":"severity","op":"gte","value":"high"}]}}`, false},
		{approvals.ActionPolicyDraft, `{"policy_id":"6f1c2b9e-8a57-4c1d-9b63-0d6f0c1e4a11","rule":{"match":"all","conditions":[]}}`, false},
		{approvals.ActionDecision, `{"exception_id":"6f1c2b9e-8a57-4c1d-9b63-0d6f0c1e4a11","content":{"summary":"lender call notes"}}`, true},
		{approvals.ActionDecision, `{"exception_id":"6f1c2b9e-8a57-4c1d-9b63-0d6f0c1e4a11","content":{}}`, false},
		{approvals.ActionDismiss, `{"exception_id":"6f1c2b9e-8a57-4c1d-9b63-0d6f0c1e4a11","reason":"duplicate feed"}`, true},
		{approvals.ActionDismiss, `{"exception_id":"6f1c2b9e-8a57-4c1d-9b63-0d6f0c1e4a11"}`, false},
	}

	for _, tt := range tests {
		err := c[tt.action].Validate(json.RawMessage(tt.payload), "agent:policy_draft")
		if tt.valid && err != nil {
			t.Errorf("%s %s: unexpected error %v", tt.action, tt.payload, err)
		}
		if !tt.valid && !errors.Is(err, approvals.ErrInvalidProposal) {
			t.Errorf("%s %s: expected ErrInvalidProposal, got %v", tt.action, tt.payload, err)
		}
	}

	if _, ok := c[approvals.ActionContext]; ok {
		t.Error("context must not have a committer")
	}
}
