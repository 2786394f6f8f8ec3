package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instrumentation-backend/internal/conversation"
	"instrumentation-backend/internal/generation"
	"instrumentation-backend/internal/models"
	"instrumentation-backend/internal/validation"
)

// scriptedClient returns queued responses in order and records requests.
type scriptedClient struct {
	requests []generation.Request
	replies  []reply
}

type reply struct {
	resp generation.Response
	err  error
}

func (c *scriptedClient) queue(resp generation.Response) *scriptedClient {
	c.replies = append(c.replies, reply{resp: resp})
	return c
}

func (c *scriptedClient) fail(err error) *scriptedClient {
	c.replies = append(c.replies, reply{err: err})
	return c
}

func (c *scriptedClient) Generate(_ context.Context, req generation.Request) (generation.Response, error) {
	c.requests = append(c.requests, req)
	if len(c.replies) == 0 {
		return generation.Response{}, errors.New("no scripted reply")
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r.resp, r.err
}

func assistant(text string) conversation.Turn {
	return conversation.Turn{Role: conversation.RoleAssistant, Text: text}
}

func metricsReady(ids ...string) generation.Response {
	metrics := make([]models.Metric, len(ids))
	for i, id := range ids {
		metrics[i] = models.Metric{ID: id, Name: "metric " + id}
	}
	return generation.Response{
		SessionID:         "s1",
		Status:            models.StatusWaitingApproval,
		RequiresApproval:  true,
		ApprovalType:      models.ApprovalMetrics,
		Metrics:           metrics,
		ConversationTurns: []conversation.Turn{assistant(fmt.Sprintf("Here are %d metric", len(ids)))},
	}
}

func clarifying(text string) generation.Response {
	return generation.Response{
		SessionID:         "s1",
		Status:            models.StatusIdle,
		ConversationTurns: []conversation.Turn{assistant(text)},
	}
}

func newEngine(t *testing.T, c *scriptedClient) *Engine {
	t.Helper()
	n := 0
	e, err := New(c, nil, WithRequestIDs(func() string {
		n++
		return fmt.Sprintf("req-%d", n)
	}))
	require.NoError(t, err)
	return e
}

func started(t *testing.T, c *scriptedClient) *Engine {
	t.Helper()
	e := newEngine(t, c.queue(clarifying("What is your business model?")))
	require.NoError(t, e.Start(context.Background(), models.InputContext{URL: "https://a.com"}))
	return e
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generation client is required")
}

func TestStart_MetricsScenario(t *testing.T) {
	c := (&scriptedClient{}).queue(metricsReady("m1"))
	e := newEngine(t, c)

	require.NoError(t, e.Start(context.Background(), models.InputContext{URL: "https://a.com"}))

	s := e.Session()
	assert.Equal(t, "s1", s.SessionID)
	assert.Equal(t, models.StatusWaitingApproval, s.Status)
	assert.Len(t, s.Metrics, 1)
	assert.Equal(t, []string{"m1"}, s.Approval.Selection)
	assert.True(t, s.Approval.Required)
	assert.Equal(t, models.ApprovalMetrics, s.Approval.Type)
	assert.Equal(t, 1, s.Conversation.Len())

	require.Len(t, c.requests, 1)
	req := c.requests[0]
	assert.Equal(t, generation.ActionStart, req.Action)
	assert.Equal(t, "req-1", req.RequestID)
	assert.Empty(t, req.SessionID)
	assert.Equal(t, "https://a.com", req.InputContext.URL)
}

func TestStart_InvalidInputSendsNothing(t *testing.T) {
	c := &scriptedClient{}
	e := newEngine(t, c)

	err := e.Start(context.Background(), models.InputContext{})
	assert.ErrorIs(t, err, validation.ErrInvalidInput)
	assert.Empty(t, c.requests)
	assert.Equal(t, models.StatusIdle, e.Session().Status)
}

func TestStart_RejectedWhenSessionActive(t *testing.T) {
	c := &scriptedClient{}
	e := started(t, c)

	err := e.Start(context.Background(), models.InputContext{URL: "https://b.com"})
	assert.ErrorIs(t, err, validation.ErrSessionActive)
	assert.Len(t, c.requests, 1)
}

func TestStart_FailureKeepsInputAndAllowsRetry(t *testing.T) {
	c := (&scriptedClient{}).fail(errors.New("connection refused")).queue(clarifying("hi"))
	e := newEngine(t, c)
	in := models.InputContext{URL: "https://a.com", Details: "fitness app"}

	err := e.Start(context.Background(), in)
	require.Error(t, err)
	assert.True(t, generation.IsTransport(err))

	s := e.Session()
	assert.Equal(t, models.StatusError, s.Status)
	assert.Empty(t, s.SessionID)
	assert.Equal(t, in, s.Input)

	require.NoError(t, e.Start(context.Background(), in))
	assert.Equal(t, "s1", e.Session().SessionID)
}

func TestStart_ResponseWithoutSessionID(t *testing.T) {
	c := (&scriptedClient{}).queue(generation.Response{Status: models.StatusIdle})
	e := newEngine(t, c)

	err := e.Start(context.Background(), models.InputContext{URL: "https://a.com"})
	assert.ErrorIs(t, err, generation.ErrMalformedResponse)
	assert.True(t, generation.IsTransport(err))
	assert.Empty(t, e.Session().SessionID)
	assert.Equal(t, models.StatusError, e.Session().Status)
}

func TestSendMessage_RequiresSession(t *testing.T) {
	c := &scriptedClient{}
	e := newEngine(t, c)

	err := e.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, validation.ErrNoActiveSession)
	assert.Empty(t, c.requests)
	assert.Equal(t, 0, e.Session().Conversation.Len())
}

func TestSendMessage_EmptyText(t *testing.T) {
	c := &scriptedClient{}
	e := started(t, c)

	assert.ErrorIs(t, e.SendMessage(context.Background(), "  "), validation.ErrEmptyMessage)
	assert.Len(t, c.requests, 1)
}

func TestSendMessage_OrderOfTurns(t *testing.T) {
	c := &scriptedClient{}
	e := newEngine(t, c.queue(generation.Response{SessionID: "s1", Status: models.StatusIdle}))
	require.NoError(t, e.Start(context.Background(), models.InputContext{URL: "https://a.com"}))

	c.queue(clarifying("r1")).queue(clarifying("r2"))
	require.NoError(t, e.SendMessage(context.Background(), "a"))
	require.NoError(t, e.SendMessage(context.Background(), "b"))

	assert.Equal(t, []conversation.Turn{
		{Role: conversation.RoleUser, Text: "a"},
		assistant("r1"),
		{Role: conversation.RoleUser, Text: "b"},
		assistant("r2"),
	}, e.Session().Conversation.Turns())
}

func TestSendMessage_ContinueRequestCarriesState(t *testing.T) {
	c := (&scriptedClient{}).queue(metricsReady("m1", "m2"))
	e := newEngine(t, c)
	require.NoError(t, e.Start(context.Background(), models.InputContext{URL: "https://a.com"}))

	c.queue(clarifying("noted"))
	require.NoError(t, e.SendMessage(context.Background(), "drop m2"))

	req := c.requests[1]
	assert.Equal(t, generation.ActionContinue, req.Action)
	assert.Equal(t, "s1", req.SessionID)
	assert.Equal(t, "drop m2", req.UserMessage)
	assert.Equal(t, models.ApprovalMetrics, req.ApprovalType)
	assert.Len(t, req.Metrics, 2)
	assert.Equal(t, "https://a.com", req.InputContext.URL)
}

func TestSendMessage_LogLengthAccounting(t *testing.T) {
	c := &scriptedClient{}
	e := started(t, c)
	expected := e.Session().Conversation.Len()

	rounds := [][]conversation.Turn{
		{assistant("one")},
		{},
		{assistant("two"), {Role: conversation.RoleAssistant, Author: "metrics-agent", Text: "three"}},
		nil,
	}
	for i, turns := range rounds {
		c.queue(generation.Response{SessionID: "s1", Status: models.StatusIdle, ConversationTurns: turns})
		require.NoError(t, e.SendMessage(context.Background(), fmt.Sprintf("msg %d", i)))
		expected += 1 + len(turns)
		assert.Equal(t, expected, e.Session().Conversation.Len())
	}

	// A failed round keeps the optimistic user turn.
	c.fail(errors.New("timeout"))
	require.Error(t, e.SendMessage(context.Background(), "lost reply"))
	expected++
	assert.Equal(t, expected, e.Session().Conversation.Len())
}

func TestSendMessage_FailureKeepsStateAndUserTurn(t *testing.T) {
	c := (&scriptedClient{}).queue(metricsReady("m1"))
	e := newEngine(t, c)
	require.NoError(t, e.Start(context.Background(), models.InputContext{URL: "https://a.com"}))
	before := e.Session()

	c.fail(errors.New("503"))
	err := e.SendMessage(context.Background(), "more metrics please")
	require.Error(t, err)
	assert.True(t, generation.IsTransport(err))

	after := e.Session()
	assert.Equal(t, models.StatusError, after.Status)
	assert.Equal(t, before.SessionID, after.SessionID)
	assert.Equal(t, before.Metrics, after.Metrics)
	assert.Equal(t, before.Approval.Selection, after.Approval.Selection)
	last, _ := after.Conversation.Last()
	assert.Equal(t, conversation.Turn{Role: conversation.RoleUser, Text: "more metrics please"}, last)

	// Retrying with the same state works.
	c.queue(clarifying("ok"))
	require.NoError(t, e.SendMessage(context.Background(), "more metrics please"))
	assert.Equal(t, models.StatusIdle, e.Session().Status)
}

func TestSendMessage_ServiceReportedError(t *testing.T) {
	c := &scriptedClient{}
	e := started(t, c)

	c.queue(generation.Response{
		SessionID:         "s1",
		Status:            models.StatusError,
		ErrorMessage:      "model overloaded",
		ConversationTurns: []conversation.Turn{assistant("Sorry, try again")},
	})
	err := e.SendMessage(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, generation.IsTransport(err))
	assert.Contains(t, err.Error(), "model overloaded")

	s := e.Session()
	assert.Equal(t, models.StatusError, s.Status)
	last, _ := s.Conversation.Last()
	assert.Equal(t, "Sorry, try again", last.Text)
}

func TestMetricAccrual_UnionFirstWriteWins(t *testing.T) {
	c := (&scriptedClient{}).queue(metricsReady("m1", "m2"))
	e := newEngine(t, c)
	require.NoError(t, e.Start(context.Background(), models.InputContext{URL: "https://a.com"}))

	c.queue(generation.Response{
		SessionID: "s1",
		Status:    models.StatusIdle,
		Metrics: []models.Metric{
			{ID: "m2", Name: "renamed"},
			{ID: "m3", Name: "metric m3"},
			{ID: "m3", Name: "duplicate in round"},
		},
	})
	require.NoError(t, e.SendMessage(context.Background(), "add retention"))

	s := e.Session()
	assert.Equal(t, []string{"m1", "m2", "m3"}, s.MetricIDs())
	assert.Equal(t, "metric m2", s.Metrics[1].Name)
	assert.Equal(t, "metric m3", s.Metrics[2].Name)
	assert.Equal(t, []string{"m1", "m2", "m3"}, s.Approval.Selection)
}

func TestMetricAccrual_Idempotent(t *testing.T) {
	resp := metricsReady("m1", "m2")
	e := newEngine(t, &scriptedClient{})

	e.mu.Lock()
	require.NoError(t, e.apply(generation.ActionStart, resp))
	once := e.session.Clone()
	require.NoError(t, e.apply(generation.ActionStart, resp))
	twice := e.session.Clone()
	e.mu.Unlock()

	assert.Equal(t, once.Metrics, twice.Metrics)
	assert.Equal(t, once.Approval.Selection, twice.Approval.Selection)
}

func TestMetricAccrual_NewMetricsSeededDeselectedStayOut(t *testing.T) {
	c := (&scriptedClient{}).queue(metricsReady("m1", "m2"))
	e := newEngine(t, c)
	require.NoError(t, e.Start(context.Background(), models.InputContext{URL: "https://a.com"}))
	require.NoError(t, e.ToggleMetric("m1"))

	c.queue(metricsReady("m1", "m3"))
	require.NoError(t, e.SendMessage(context.Background(), "add one"))

	assert.Equal(t, []string{"m2", "m3"}, e.Session().Approval.Selection)
}

func TestMetricReplacement(t *testing.T) {
	c := (&scriptedClient{}).queue(metricsReady("m1", "m2", "m3"))
	e := newEngine(t, c)
	require.NoError(t, e.Start(context.Background(), models.InputContext{URL: "https://a.com"}))
	require.NoError(t, e.ToggleMetric("m2"))

	resp := metricsReady("m2", "m3", "m4")
	resp.MetricsReplace = true
	resp.Metrics[1].Name = "edited m3"
	c.queue(resp)
	require.NoError(t, e.SendMessage(context.Background(), "replace m1"))

	s := e.Session()
	assert.Equal(t, []string{"m2", "m3", "m4"}, s.MetricIDs())
	assert.Equal(t, "edited m3", s.Metrics[1].Name)
	assert.Equal(t, []string{"m3", "m4"}, s.Approval.Selection)
}

func TestEvents_ReplacedWholesale(t *testing.T) {
	c := (&scriptedClient{}).queue(metricsReady("m1"))
	e := newEngine(t, c)
	require.NoError(t, e.Start(context.Background(), models.InputContext{URL: "https://a.com"}))

	c.queue(generation.Response{
		SessionID:    "s1",
		Status:       models.StatusWaitingApproval,
		ApprovalType: models.ApprovalTaxonomy,
		Events:       []models.Event{{Name: "a"}, {Name: "b"}},
		Framework:    "AARRR",
	})
	require.NoError(t, e.Approve(context.Background(), models.ApprovalMetrics, []string{"m1"}))
	assert.Len(t, e.Session().Events, 2)
	assert.Equal(t, "AARRR", e.Session().Framework)

	c.queue(generation.Response{
		SessionID:    "s1",
		Status:       models.StatusWaitingApproval,
		ApprovalType: models.ApprovalTaxonomy,
		Events:       []models.Event{{Name: "c"}},
	})
	require.NoError(t, e.SendMessage(context.Background(), "merge a and b"))
	assert.Equal(t, []models.Event{{Name: "c"}}, e.Session().Events)

	// A round without events keeps the current list.
	c.queue(clarifying("anything else?"))
	require.NoError(t, e.SendMessage(context.Background(), "looks good"))
	assert.Equal(t, []models.Event{{Name: "c"}}, e.Session().Events)
}

func TestApprove_EmptyMetricsSelectionNeverCallsClient(t *testing.T) {
	for _, pending := range []models.ApprovalType{models.ApprovalMetrics, models.ApprovalTaxonomy} {
		t.Run(string(pending), func(t *testing.T) {
			c := &scriptedClient{}
			e := newEngine(t, c)
			e.Restore(models.Session{
				SessionID: "s1",
				Status:    models.StatusWaitingApproval,
				Metrics:   []models.Metric{{ID: "m1"}},
				Approval:  models.ApprovalState{Required: true, Type: pending, Selection: []string{"m1"}},
			})

			for _, sel := range [][]string{nil, {}} {
				err := e.Approve(context.Background(), models.ApprovalMetrics, sel)
				assert.ErrorIs(t, err, validation.ErrEmptySelection)
			}
			assert.Empty(t, c.requests)
			assert.Equal(t, models.StatusWaitingApproval, e.Session().Status)
		})
	}
}

func TestApprove_TypeMismatchNeverCallsClient(t *testing.T) {
	c := &scriptedClient{}
	e := newEngine(t, c)
	e.Restore(models.Session{
		SessionID: "s1",
		Status:    models.StatusWaitingApproval,
		Metrics:   []models.Metric{{ID: "m1"}},
		Approval:  models.ApprovalState{Required: true, Type: models.ApprovalTaxonomy},
	})

	err := e.Approve(context.Background(), models.ApprovalMetrics, []string{"m1"})
	assert.ErrorIs(t, err, validation.ErrApprovalMismatch)
	assert.True(t, validation.IsValidation(err))
	assert.Empty(t, c.requests)
}

func TestApprove_NotWaiting(t *testing.T) {
	c := &scriptedClient{}
	e := started(t, c)

	err := e.Approve(context.Background(), models.ApprovalTaxonomy, nil)
	assert.ErrorIs(t, err, validation.ErrNotAwaitingApproval)
	assert.Len(t, c.requests, 1)
}

func TestApprove_UnknownMetric(t *testing.T) {
	c := (&scriptedClient{}).queue(metricsReady("m1"))
	e := newEngine(t, c)
	require.NoError(t, e.Start(context.Background(), models.InputContext{URL: "https://a.com"}))

	err := e.Approve(context.Background(), models.ApprovalMetrics, []string{"m1", "m9"})
	assert.ErrorIs(t, err, validation.ErrUnknownMetric)
	assert.Len(t, c.requests, 1)
}

func TestApprove_FullWorkflow(t *testing.T) {
	c := (&scriptedClient{}).queue(metricsReady("m1", "m2"))
	e := newEngine(t, c)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx, models.InputContext{URL: "https://a.com"}))

	c.queue(generation.Response{
		SessionID:         "s1",
		Status:            models.StatusWaitingApproval,
		RequiresApproval:  true,
		ApprovalType:      models.ApprovalTaxonomy,
		Events:            []models.Event{{Name: "signup_completed", MetricIDs: []string{"m1"}}},
		ConversationTurns: []conversation.Turn{{Role: conversation.RoleAssistant, Author: "taxonomy-agent", Text: "Here is the taxonomy"}},
	})
	require.NoError(t, e.Approve(ctx, models.ApprovalMetrics, []string{"m1"}))

	req := c.requests[1]
	assert.Equal(t, generation.ActionApprove, req.Action)
	assert.Equal(t, models.ApprovalMetrics, req.ApprovalType)
	assert.Equal(t, []string{"m1"}, req.Selection)

	s := e.Session()
	assert.Equal(t, models.ApprovalTaxonomy, s.Approval.Type)
	assert.Equal(t, []string{"m1"}, s.Approval.Selection)
	assert.Len(t, s.Events, 1)

	c.queue(generation.Response{SessionID: "s1", Status: models.StatusCompleted})
	require.NoError(t, e.Approve(ctx, models.ApprovalTaxonomy, nil))

	s = e.Session()
	assert.Equal(t, models.StatusCompleted, s.Status)
	assert.False(t, s.Approval.Required)
	assert.Equal(t, models.ApprovalNone, s.Approval.Type)
	assert.Len(t, s.Events, 1)
}

func TestApprove_RetryAfterTransportFailure(t *testing.T) {
	c := (&scriptedClient{}).queue(metricsReady("m1"))
	e := newEngine(t, c)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx, models.InputContext{URL: "https://a.com"}))

	c.fail(errors.New("reset by peer"))
	require.Error(t, e.Approve(ctx, models.ApprovalMetrics, []string{"m1"}))
	assert.Equal(t, models.StatusError, e.Session().Status)

	c.queue(generation.Response{SessionID: "s1", Status: models.StatusWaitingApproval, ApprovalType: models.ApprovalTaxonomy})
	require.NoError(t, e.Approve(ctx, models.ApprovalMetrics, []string{"m1"}))
	assert.Equal(t, models.ApprovalTaxonomy, e.Session().Approval.Type)
}

func TestMetricsSatisfiedStage(t *testing.T) {
	c := (&scriptedClient{}).queue(metricsReady("m1"))
	e := newEngine(t, c)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx, models.InputContext{URL: "https://a.com"}))

	c.queue(generation.Response{SessionID: "s1", Status: models.StatusProcessing, ApprovalType: models.ApprovalMetrics})
	require.NoError(t, e.Approve(ctx, models.ApprovalMetrics, []string{"m1"}))

	s := e.Session()
	assert.False(t, s.Approval.Required)
	assert.Equal(t, models.ApprovalMetrics, s.Approval.Type)
	assert.Equal(t, models.StatusProcessing, s.Status)
}

func TestReject(t *testing.T) {
	c := &scriptedClient{}
	e := started(t, c)

	c.queue(generation.Response{SessionID: "s1", Status: models.StatusRejected})
	require.NoError(t, e.Reject(context.Background(), "wrong product"))

	assert.Equal(t, generation.ActionReject, c.requests[1].Action)
	assert.Equal(t, "wrong product", c.requests[1].UserMessage)
	assert.Equal(t, models.StatusRejected, e.Session().Status)
}

func TestReject_RequiresSession(t *testing.T) {
	c := &scriptedClient{}
	e := newEngine(t, c)
	assert.ErrorIs(t, e.Reject(context.Background(), ""), validation.ErrNoActiveSession)
	assert.Empty(t, c.requests)
}

func TestClosedSessionRejectsMutations(t *testing.T) {
	for _, status := range []models.Status{models.StatusCompleted, models.StatusRejected} {
		t.Run(string(status), func(t *testing.T) {
			c := &scriptedClient{}
			e := newEngine(t, c)
			e.Restore(models.Session{
				SessionID: "s1",
				Status:    status,
				Metrics:   []models.Metric{{ID: "m1"}},
				Approval:  models.ApprovalState{Type: models.ApprovalNone},
			})
			ctx := context.Background()

			assert.ErrorIs(t, e.SendMessage(ctx, "hi"), validation.ErrSessionClosed)
			assert.ErrorIs(t, e.Reject(ctx, "no"), validation.ErrSessionClosed)
			assert.ErrorIs(t, e.ToggleMetric("m1"), validation.ErrSessionClosed)
			assert.ErrorIs(t, e.Start(ctx, models.InputContext{URL: "https://a.com"}), validation.ErrSessionActive)
			assert.ErrorIs(t, e.Approve(ctx, models.ApprovalTaxonomy, nil), validation.ErrNotAwaitingApproval)
			assert.Empty(t, c.requests)

			e.Reset()
			c.queue(clarifying("hello again"))
			require.NoError(t, e.Start(ctx, models.InputContext{URL: "https://a.com"}))
		})
	}
}

func TestMalformedResponseLeavesStateIntact(t *testing.T) {
	c := (&scriptedClient{}).queue(metricsReady("m1"))
	e := newEngine(t, c)
	require.NoError(t, e.Start(context.Background(), models.InputContext{URL: "https://a.com"}))

	c.queue(generation.Response{
		SessionID: "s1",
		Status:    models.StatusWaitingApproval,
		Metrics:   []models.Metric{{ID: "m2"}},
	})
	err := e.SendMessage(context.Background(), "hi")
	assert.ErrorIs(t, err, generation.ErrMalformedResponse)

	s := e.Session()
	assert.Equal(t, []string{"m1"}, s.MetricIDs())
	assert.Equal(t, models.StatusError, s.Status)
}

func TestReset_MatchesFreshEngine(t *testing.T) {
	fresh := newEngine(t, &scriptedClient{}).Session()

	setups := map[string]func(*Engine){
		"idle": func(*Engine) {},
		"waiting": func(e *Engine) {
			e.Restore(models.Session{SessionID: "s1", Status: models.StatusWaitingApproval,
				Metrics:  []models.Metric{{ID: "m1"}},
				Approval: models.ApprovalState{Required: true, Type: models.ApprovalMetrics, Selection: []string{"m1"}}})
		},
		"completed": func(e *Engine) {
			e.Restore(models.Session{SessionID: "s1", Status: models.StatusCompleted, Events: []models.Event{{Name: "x"}},
				Conversation: conversation.NewLog([]conversation.Turn{assistant("done")})})
		},
		"error": func(e *Engine) {
			e.Restore(models.Session{Status: models.StatusError, Input: models.InputContext{URL: "https://a.com"}})
		},
	}
	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			e := newEngine(t, &scriptedClient{})
			setup(e)
			e.Reset()

			s := e.Session()
			assert.Equal(t, fresh, s)
			assert.Empty(t, s.SessionID)
			assert.Equal(t, models.StatusIdle, s.Status)
			assert.Empty(t, s.Metrics)
			assert.Empty(t, s.Events)
			assert.Equal(t, 0, s.Conversation.Len())
		})
	}
}

func TestRestore_InFlightRoundBecomesError(t *testing.T) {
	e := newEngine(t, &scriptedClient{})
	e.Restore(models.Session{SessionID: "s1", Status: models.StatusProcessing})
	assert.Equal(t, models.StatusError, e.Session().Status)
}

func TestRestore_RepairsBrokenSessions(t *testing.T) {
	tests := []struct {
		name          string
		in            models.Session
		wantStatus    models.Status
		wantRequired  bool
		wantMetrics   []string
		wantSelection []string
	}{
		{
			name: "waiting without a pending checkpoint",
			in: models.Session{SessionID: "s1", Status: models.StatusWaitingApproval,
				Approval: models.ApprovalState{Required: false, Type: models.ApprovalMetrics}},
			wantStatus:    models.StatusError,
			wantMetrics:   []string{},
			wantSelection: []string{},
		},
		{
			name: "required gate of type none",
			in: models.Session{SessionID: "s1", Status: models.StatusWaitingApproval,
				Approval: models.ApprovalState{Required: true, Type: models.ApprovalNone}},
			wantStatus:    models.StatusError,
			wantMetrics:   []string{},
			wantSelection: []string{},
		},
		{
			name: "duplicate metric ids keep the first record",
			in: models.Session{SessionID: "s1", Status: models.StatusWaitingApproval,
				Metrics: []models.Metric{{ID: "m1", Name: "first"}, {ID: "m2"}, {ID: "m1", Name: "second"}, {ID: ""}},
				Approval: models.ApprovalState{Required: true, Type: models.ApprovalMetrics,
					Selection: []string{"m1", "m9"}}},
			wantStatus:    models.StatusWaitingApproval,
			wantRequired:  true,
			wantMetrics:   []string{"m1", "m2"},
			wantSelection: []string{"m1"},
		},
		{
			name:          "closed session holds no checkpoint",
			in:            models.Session{SessionID: "s1", Status: models.StatusCompleted, Approval: models.ApprovalState{Required: true, Type: models.ApprovalTaxonomy}},
			wantStatus:    models.StatusCompleted,
			wantMetrics:   []string{},
			wantSelection: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, &scriptedClient{})
			e.Restore(tt.in)

			s := e.Session()
			assert.Equal(t, tt.wantStatus, s.Status)
			assert.Equal(t, tt.wantRequired, s.Approval.Required)
			assert.Equal(t, tt.wantMetrics, s.MetricIDs())
			assert.Equal(t, tt.wantSelection, s.Approval.Selection)
		})
	}
}

func TestRestore_RepairedDuplicatesCanBeApproved(t *testing.T) {
	c := (&scriptedClient{}).queue(generation.Response{
		SessionID:        "s1",
		Status:           models.StatusWaitingApproval,
		RequiresApproval: true,
		ApprovalType:     models.ApprovalTaxonomy,
	})
	e := newEngine(t, c)
	e.Restore(models.Session{
		SessionID: "s1",
		Status:    models.StatusWaitingApproval,
		Metrics:   []models.Metric{{ID: "m1", Name: "first"}, {ID: "m1", Name: "second"}},
		Approval:  models.ApprovalState{Required: true, Type: models.ApprovalMetrics, Selection: []string{"m1"}},
	})

	require.NoError(t, e.Approve(context.Background(), models.ApprovalMetrics, []string{"m1"}))
	s := e.Session()
	assert.Equal(t, "first", s.Metrics[0].Name)
	assert.Len(t, s.Metrics, 1)
	assert.Equal(t, models.ApprovalTaxonomy, s.Approval.Type)
}

func TestSession_ReturnsCopy(t *testing.T) {
	c := (&scriptedClient{}).queue(metricsReady("m1"))
	e := newEngine(t, c)
	require.NoError(t, e.Start(context.Background(), models.InputContext{URL: "https://a.com"}))

	s := e.Session()
	s.Metrics[0].Name = "mutated"
	s.Approval.Selection[0] = "mutated"

	assert.Equal(t, "metric m1", e.Session().Metrics[0].Name)
	assert.Equal(t, []string{"m1"}, e.Session().Approval.Selection)
}
