package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

type ConversationInput struct {
	ConversationID string
}

type ConversationResult struct {
	Status string
}

// ResearchWorkflow keeps one conversation alive: each message signal
// runs a full research turn, and activity failures are recorded as
// events rather than killing the workflow.
func ResearchWorkflow(ctx workflow.Context, input ConversationInput) (ConversationResult, error) {
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	logger := workflow.GetLogger(ctx)
	messageCh := workflow.GetSignalChannel(ctx, MessageSignalName)

	for {
		selector := workflow.NewSelector(ctx)
		selector.AddReceive(messageCh, func(c workflow.ReceiveChannel, more bool) {
			var msg string
			c.Receive(ctx, &msg)
			logger.Info("received message", "conversation_id", input.ConversationID)

			turnResult := TurnOutput{}
			if err := workflow.ExecuteActivity(ctx, "RunResearchTurn", TurnInput{
				ConversationID: input.ConversationID,
				Message:        msg,
			}).Get(ctx, &turnResult); err != nil {
				logger.Error("research turn failed", "error", err)
				failureInput := TurnFailureInput{
					ConversationID: input.ConversationID,
					Error:          err.Error(),
				}
				if failureErr := workflow.ExecuteActivity(ctx, "HandleTurnFailure", failureInput).Get(ctx, nil); failureErr != nil {
					logger.Error("failed to persist turn failure event", "error", failureErr)
				}
			}
		})
		// Cancellation has to wake the selector too, or an idle
		// conversation never observes it.
		selector.AddReceive(ctx.Done(), func(c workflow.ReceiveChannel, more bool) {})
		selector.Select(ctx)

		if ctx.Err() != nil {
			return ConversationResult{Status: "cancelled"}, nil
		}
	}
}
