package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
)

const (
	MessageSignalName = "message"
)

// Service drives conversation workflows through a Temporal client.
type Service struct {
	client    client.Client
	taskQueue string
}

func NewService(client client.Client, taskQueue string) *Service {
	if taskQueue == "" {
		taskQueue = "axiom-research"
	}
	return &Service{client: client, taskQueue: taskQueue}
}

func (s *Service) StartConversation(ctx context.Context, conversationID string) error {
	options := client.StartWorkflowOptions{
		ID:        workflowID(conversationID),
		TaskQueue: s.taskQueue,
	}
	_, err := s.client.ExecuteWorkflow(ctx, options, ResearchWorkflow, ConversationInput{ConversationID: conversationID})
	return err
}

// SignalMessage delivers a user message, starting the workflow if the
// conversation has no running one.
func (s *Service) SignalMessage(ctx context.Context, conversationID string, message string) error {
	options := client.StartWorkflowOptions{
		ID:        workflowID(conversationID),
		TaskQueue: s.taskQueue,
	}
	_, err := s.client.SignalWithStartWorkflow(
		ctx,
		workflowID(conversationID),
		MessageSignalName,
		message,
		options,
		ResearchWorkflow,
		ConversationInput{ConversationID: conversationID},
	)
	return err
}

func (s *Service) CancelConversation(ctx context.Context, conversationID string) error {
	return s.client.CancelWorkflow(ctx, workflowID(conversationID), "")
}

func workflowID(conversationID string) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}
