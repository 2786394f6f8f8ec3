// Package generation is the boundary to the external generation service:
// the request/response envelopes, the pure request builder, classification
// of responses, and the HTTP client.
package generation

import (
	"instrumentation-backend/internal/conversation"
	"instrumentation-backend/internal/models"
)

type Action string

const (
	ActionStart    Action = "start"
	ActionContinue Action = "continue"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
)

// Request is the envelope sent for one round. RequestID is generated by the
// client for every round so the service can recognise a resent round.
type Request struct {
	RequestID    string               `json:"requestId"`
	SessionID    string               `json:"sessionId,omitempty"`
	Action       Action               `json:"action"`
	InputContext *models.InputContext `json:"inputContext,omitempty"`
	UserMessage  string               `json:"userMessage,omitempty"`
	ApprovalType models.ApprovalType  `json:"approvalType,omitempty"`
	Selection    []string             `json:"selection,omitempty"`
	Metrics      []models.Metric      `json:"metrics,omitempty"`
	Events       []models.Event       `json:"events,omitempty"`
}

// Response is the envelope returned for one round. ConversationTurns only
// holds turns that are new to this round. Metrics and Events are nil when
// the round did not produce them.
type Response struct {
	SessionID         string              `json:"sessionId"`
	Status            models.Status       `json:"status"`
	RequiresApproval  bool                `json:"requiresApproval,omitempty"`
	ApprovalType      models.ApprovalType `json:"approvalType,omitempty"`
	Metrics           []models.Metric     `json:"metrics,omitempty"`
	MetricsReplace    bool                `json:"metricsReplace,omitempty"`
	Events            []models.Event      `json:"events,omitempty"`
	Framework         string              `json:"framework,omitempty"`
	ConversationTurns []conversation.Turn `json:"conversationTurns"`
	ErrorMessage      string              `json:"errorMessage,omitempty"`
}
