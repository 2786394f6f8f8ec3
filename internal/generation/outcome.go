package generation

import (
	"errors"
	"fmt"

	"instrumentation-backend/internal/models"
)

// ErrMalformedResponse is wrapped when a response breaks the protocol contract.
var ErrMalformedResponse = errors.New("malformed generation response")

// Outcome is the kind of round a response describes. The concrete types
// below are the only implementations.
type Outcome interface {
	outcome()
}

// Progressed means the conversation continues without a checkpoint.
type Progressed struct {
	Status models.Status
	// Stage is the checkpoint that was last satisfied, if the service named one.
	Stage models.ApprovalType
}

// AwaitingApproval means the service stopped at a checkpoint.
type AwaitingApproval struct {
	Type models.ApprovalType
}

type Completed struct{}

type Rejected struct{}

// Failed means the service answered but reported an error for the round.
type Failed struct {
	Message string
}

func (Progressed) outcome()       {}
func (AwaitingApproval) outcome() {}
func (Completed) outcome()        {}
func (Rejected) outcome()         {}
func (Failed) outcome()           {}

// Classify maps a response onto its outcome and rejects combinations the
// protocol does not allow.
func Classify(resp Response) (Outcome, error) {
	if resp.RequiresApproval || resp.Status == models.StatusWaitingApproval {
		if resp.Status != models.StatusWaitingApproval {
			return nil, fmt.Errorf("%w: approval required with status %q", ErrMalformedResponse, resp.Status)
		}
		switch resp.ApprovalType {
		case models.ApprovalMetrics, models.ApprovalTaxonomy:
			return AwaitingApproval{Type: resp.ApprovalType}, nil
		default:
			return nil, fmt.Errorf("%w: waiting for approval of type %q", ErrMalformedResponse, resp.ApprovalType)
		}
	}

	switch resp.Status {
	case models.StatusIdle, models.StatusProcessing:
		stage := resp.ApprovalType
		switch stage {
		case "", models.ApprovalNone, models.ApprovalMetrics, models.ApprovalTaxonomy:
		default:
			return nil, fmt.Errorf("%w: unknown approval type %q", ErrMalformedResponse, stage)
		}
		return Progressed{Status: resp.Status, Stage: stage}, nil
	case models.StatusCompleted:
		return Completed{}, nil
	case models.StatusRejected:
		return Rejected{}, nil
	case models.StatusError:
		msg := resp.ErrorMessage
		if msg == "" {
			msg = "generation service reported an error"
		}
		return Failed{Message: msg}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, resp.Status)
	}
}
