package workflows

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	tests "go.temporal.io/sdk/testsuite"
)

type WorkflowTestSuite struct {
	suite.Suite
	testSuite *tests.WorkflowTestSuite
	env       *tests.TestWorkflowEnvironment
}

func (s *WorkflowTestSuite) SetupTest() {
	s.testSuite = &tests.WorkflowTestSuite{}
	s.env = s.testSuite.NewTestWorkflowEnvironment()
	s.env.RegisterWorkflow(ResearchWorkflow)
	s.env.RegisterActivityWithOptions(func(ctx context.Context, input TurnInput) (TurnOutput, error) {
		return TurnOutput{Content: "answer", FinishReason: "stop"}, nil
	}, activity.RegisterOptions{Name: "RunResearchTurn"})
	s.env.RegisterActivityWithOptions(func(ctx context.Context, input TurnFailureInput) error {
		return nil
	}, activity.RegisterOptions{Name: "HandleTurnFailure"})
}

func (s *WorkflowTestSuite) TearDownTest() {
	s.env.AssertExpectations(s.T())
}

func (s *WorkflowTestSuite) TestResearchWorkflow_RunsTurnPerMessage() {
	conversationID := "conv-1"

	s.env.OnActivity("RunResearchTurn", mock.Anything, TurnInput{ConversationID: conversationID, Message: "hello"}).
		Return(TurnOutput{Content: "answer", FinishReason: "stop"}, nil).Once()
	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(MessageSignalName, "hello")
	}, time.Millisecond)
	s.env.RegisterDelayedCallback(func() {
		s.env.CancelWorkflow()
	}, 2*time.Millisecond)

	s.env.ExecuteWorkflow(ResearchWorkflow, ConversationInput{ConversationID: conversationID})
	s.True(s.env.IsWorkflowCompleted())

	var result ConversationResult
	err := s.env.GetWorkflowResult(&result)
	s.NoError(err)
	s.Equal("cancelled", result.Status)
}

func (s *WorkflowTestSuite) TestResearchWorkflow_Cancellation() {
	s.env.RegisterDelayedCallback(func() {
		s.env.CancelWorkflow()
	}, time.Millisecond)

	s.env.ExecuteWorkflow(ResearchWorkflow, ConversationInput{ConversationID: "conv-2"})
	s.True(s.env.IsWorkflowCompleted())

	var result ConversationResult
	err := s.env.GetWorkflowResult(&result)
	s.NoError(err)
	s.Equal("cancelled", result.Status)
}

func (s *WorkflowTestSuite) TestResearchWorkflow_Timeout() {
	s.env.SetTestTimeout(10 * time.Millisecond)
	s.env.ExecuteWorkflow(ResearchWorkflow, ConversationInput{ConversationID: "conv-timeout"})

	err := s.env.GetWorkflowError()
	s.Error(err)

	var timeoutErr *temporal.TimeoutError
	s.True(errors.As(err, &timeoutErr))
}

func (s *WorkflowTestSuite) TestResearchWorkflow_TurnFailureRecorded() {
	conversationID := "conv-fail"
	activityErr := errors.New("model unreachable")

	s.env.OnActivity("RunResearchTurn", mock.Anything, TurnInput{ConversationID: conversationID, Message: "ping"}).
		Return(TurnOutput{}, activityErr).Once()
	s.env.OnActivity("HandleTurnFailure", mock.Anything, mock.MatchedBy(func(input TurnFailureInput) bool {
		return input.ConversationID == conversationID && strings.Contains(input.Error, activityErr.Error())
	})).Return(nil).Once()
	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(MessageSignalName, "ping")
	}, time.Millisecond)
	s.env.RegisterDelayedCallback(func() {
		s.env.CancelWorkflow()
	}, 2*time.Millisecond)

	s.env.ExecuteWorkflow(ResearchWorkflow, ConversationInput{ConversationID: conversationID})
	s.True(s.env.IsWorkflowCompleted())
}

func (s *WorkflowTestSuite) TestResearchWorkflow_KeepsRunningAfterFailure() {
	conversationID := "conv-recover"

	s.env.OnActivity("RunResearchTurn", mock.Anything, TurnInput{ConversationID: conversationID, Message: "first"}).
		Return(TurnOutput{}, errors.New("boom")).Once()
	s.env.OnActivity("HandleTurnFailure", mock.Anything, mock.Anything).Return(nil).Once()
	s.env.OnActivity("RunResearchTurn", mock.Anything, TurnInput{ConversationID: conversationID, Message: "second"}).
		Return(TurnOutput{Content: "recovered", FinishReason: "stop"}, nil).Once()

	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(MessageSignalName, "first")
	}, time.Millisecond)
	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(MessageSignalName, "second")
	}, 2*time.Millisecond)
	s.env.RegisterDelayedCallback(func() {
		s.env.CancelWorkflow()
	}, 3*time.Millisecond)

	s.env.ExecuteWorkflow(ResearchWorkflow, ConversationInput{ConversationID: conversationID})
	s.True(s.env.IsWorkflowCompleted())
}

func TestWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(WorkflowTestSuite))
}
