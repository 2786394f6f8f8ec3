package generation

import "instrumentation-backend/internal/models"

// Call describes the action the engine wants to perform.
type Call struct {
	RequestID    string
	Action       Action
	UserMessage  string
	ApprovalType models.ApprovalType
	Selection    []string
}

// BuildRequest constructs the envelope for call from the current session.
// It has no side effects; the returned request shares no memory with s.
func BuildRequest(s models.Session, call Call) Request {
	s = s.Clone()
	req := Request{
		RequestID: call.RequestID,
		SessionID: s.SessionID,
		Action:    call.Action,
	}

	switch call.Action {
	case ActionStart:
		req.SessionID = ""
		req.InputContext = &s.Input
	case ActionContinue:
		req.InputContext = &s.Input
		req.UserMessage = call.UserMessage
		req.ApprovalType = activeApproval(s.Approval)
		req.Metrics = s.Metrics
		req.Events = s.Events
	case ActionApprove:
		req.InputContext = &s.Input
		req.ApprovalType = call.ApprovalType
		req.Selection = append([]string{}, call.Selection...)
		req.Metrics = s.Metrics
		req.Events = s.Events
	case ActionReject:
		req.UserMessage = call.UserMessage
		req.ApprovalType = activeApproval(s.Approval)
	}
	return req
}

func activeApproval(a models.ApprovalState) models.ApprovalType {
	if a.Type == "" || a.Type == models.ApprovalNone {
		return ""
	}
	return a.Type
}
