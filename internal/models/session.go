package models

import (
	"time"

	"instrumentation-backend/internal/conversation"
)

type Status string

const (
	StatusIdle            Status = "idle"
	StatusProcessing      Status = "processing"
	StatusWaitingApproval Status = "waiting_approval"
	StatusCompleted       Status = "completed"
	StatusError           Status = "error"
	StatusRejected        Status = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusProcessing, StatusWaitingApproval, StatusCompleted, StatusError, StatusRejected:
		return true
	}
	return false
}

// Closed reports whether the session accepts no further actions until reset.
func (s Status) Closed() bool {
	return s == StatusCompleted || s == StatusRejected
}

type ApprovalType string

const (
	ApprovalNone     ApprovalType = "none"
	ApprovalMetrics  ApprovalType = "metrics"
	ApprovalTaxonomy ApprovalType = "taxonomy"
)

// InputContext is the product description a session starts from.
// At most one of URL, ImageFrame and VideoFrame is set.
type InputContext struct {
	URL             string   `json:"url,omitempty"`
	ImageFrame      string   `json:"imageFrame,omitempty"`
	VideoFrame      string   `json:"videoFrame,omitempty"`
	Details         string   `json:"details,omitempty"`
	ExistingMetrics []string `json:"existingMetrics,omitempty"`
}

func (c InputContext) clone() InputContext {
	if c.ExistingMetrics != nil {
		c.ExistingMetrics = append([]string(nil), c.ExistingMetrics...)
	}
	return c
}

type Metric struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Formula     string `json:"formula,omitempty"`
	ParentID    string `json:"parentId,omitempty"`
}

type EventProperty struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Event is one entry of the generated tracking taxonomy.
type Event struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Trigger     string          `json:"trigger,omitempty"`
	Properties  []EventProperty `json:"properties,omitempty"`
	MetricIDs   []string        `json:"metricIds,omitempty"`
}

// ApprovalState is the current checkpoint. Selection holds the metric ids
// the user keeps and is only meaningful for a metrics gate.
type ApprovalState struct {
	Required  bool         `json:"required"`
	Type      ApprovalType `json:"type"`
	Selection []string     `json:"selection"`
}

// Session is the state owned by one orchestration engine.
type Session struct {
	SessionID    string           `json:"sessionId,omitempty"`
	Status       Status           `json:"status"`
	Input        InputContext     `json:"inputContext"`
	Metrics      []Metric         `json:"metrics"`
	Events       []Event          `json:"events"`
	Framework    string           `json:"framework,omitempty"`
	Conversation conversation.Log `json:"conversation"`
	Approval     ApprovalState    `json:"approval"`
}

// NewSession returns the pristine state of a freshly constructed engine.
func NewSession() Session {
	return Session{
		Status:   StatusIdle,
		Metrics:  []Metric{},
		Events:   []Event{},
		Approval: ApprovalState{Type: ApprovalNone, Selection: []string{}},
	}
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	out.Input = s.Input.clone()
	out.Metrics = append([]Metric{}, s.Metrics...)
	out.Events = make([]Event, len(s.Events))
	for i, e := range s.Events {
		e.Properties = append([]EventProperty(nil), e.Properties...)
		e.MetricIDs = append([]string(nil), e.MetricIDs...)
		out.Events[i] = e
	}
	out.Approval.Selection = append([]string{}, s.Approval.Selection...)
	// Log is copy-on-write.
	return out
}

// MetricIDs lists the ids of the accrued metrics in order.
func (s Session) MetricIDs() []string {
	ids := make([]string, len(s.Metrics))
	for i, m := range s.Metrics {
		ids[i] = m.ID
	}
	return ids
}

type Step string

const (
	StepInput     Step = "input"
	StepClarify   Step = "clarify"
	StepVisualize Step = "visualize"
	StepReview    Step = "review"
	StepResults   Step = "results"
)

func (s Step) Valid() bool {
	switch s {
	case StepInput, StepClarify, StepVisualize, StepReview, StepResults:
		return true
	}
	return false
}

// SessionSnapshot is the persisted, flattened copy of a workflow.
type SessionSnapshot struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	Name        string `json:"name"`
	CurrentStep Step   `json:"currentStep"`

	ExternalSessionID string              `json:"externalSessionId,omitempty"`
	Status            Status              `json:"status"`
	InputURL          string              `json:"inputUrl,omitempty"`
	InputImageFrame   string              `json:"inputImageFrame,omitempty"`
	InputVideoFrame   string              `json:"inputVideoFrame,omitempty"`
	InputDetails      string              `json:"inputDetails,omitempty"`
	ExistingMetrics   []string            `json:"existingMetrics"`
	FrameworkAnswers  []string            `json:"frameworkAnswers"`
	SelectedFramework string              `json:"selectedFramework,omitempty"`
	Metrics           []Metric            `json:"metrics"`
	Events            []Event             `json:"events"`
	Conversation      []conversation.Turn `json:"conversation"`
	Approval          ApprovalState       `json:"approval"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Flatten projects a session onto the snapshot's session fields. Bookkeeping
// fields (id, owner, name, step, answers, timestamps) are left unchanged.
func (snap *SessionSnapshot) Flatten(s Session) {
	s = s.Clone()
	snap.ExternalSessionID = s.SessionID
	snap.Status = s.Status
	snap.InputURL = s.Input.URL
	snap.InputImageFrame = s.Input.ImageFrame
	snap.InputVideoFrame = s.Input.VideoFrame
	snap.InputDetails = s.Input.Details
	snap.ExistingMetrics = nonNil(s.Input.ExistingMetrics)
	snap.SelectedFramework = s.Framework
	snap.Metrics = s.Metrics
	snap.Events = s.Events
	snap.Conversation = s.Conversation.Turns()
	snap.Approval = s.Approval
}

// Session rebuilds the engine state embedded in the snapshot.
func (snap *SessionSnapshot) Session() Session {
	s := Session{
		SessionID: snap.ExternalSessionID,
		Status:    snap.Status,
		Input: InputContext{
			URL:        snap.InputURL,
			ImageFrame: snap.InputImageFrame,
			VideoFrame: snap.InputVideoFrame,
			Details:    snap.InputDetails,
		},
		Metrics:      append([]Metric{}, snap.Metrics...),
		Events:       append([]Event{}, snap.Events...),
		Framework:    snap.SelectedFramework,
		Conversation: conversation.NewLog(snap.Conversation),
		Approval:     snap.Approval,
	}
	if len(snap.ExistingMetrics) > 0 {
		s.Input.ExistingMetrics = append([]string(nil), snap.ExistingMetrics...)
	}
	if s.Approval.Type == "" {
		s.Approval.Type = ApprovalNone
	}
	return s.Clone()
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
