package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Validate_CompleteIsAccepted(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{completion: toolCallCompletion(validateTaskToolName, validateTaskArgs{
			TaskAssessment: "looks right", CompletionQuality: QualityComplete, Feedback: "good",
		})},
	}}
	bus := NewEventBus()
	var captured Event
	bus.OnEvent(EventTaskValidated, func(e Event) { captured = e })

	v := NewValidator(provider, bus)
	outcome, err := v.Validate(context.Background(), Plan{SuccessCriteria: "x"}, "answer", nil, 1, 2)

	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
	assert.False(t, outcome.Forced)
	assert.Equal(t, "complete", captured.Data["quality"])
}

func TestValidator_Validate_ExcellentIsAccepted(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{completion: toolCallCompletion(validateTaskToolName, validateTaskArgs{CompletionQuality: QualityExcellent})},
	}}
	v := NewValidator(provider, NewEventBus())

	outcome, err := v.Validate(context.Background(), Plan{}, "answer", nil, 1, 2)
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
}

func TestValidator_Validate_RejectedBeforeMaxAttemptsIsNotForced(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{completion: toolCallCompletion(validateTaskToolName, validateTaskArgs{CompletionQuality: QualityPartial, Feedback: "missing step"})},
	}}
	bus := NewEventBus()
	var captured Event
	bus.OnEvent(EventTaskValidationError, func(e Event) { captured = e })

	v := NewValidator(provider, bus)
	outcome, err := v.Validate(context.Background(), Plan{}, "answer", nil, 1, 2)

	require.NoError(t, err)
	assert.False(t, outcome.Accepted)
	assert.False(t, outcome.Forced)
	assert.Equal(t, "missing step", outcome.Feedback)
	assert.Equal(t, "partial", captured.Data["quality"])
}

func TestValidator_Validate_ExhaustedAttemptsForcesAcceptance(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{completion: toolCallCompletion(validateTaskToolName, validateTaskArgs{CompletionQuality: QualityFailed, Feedback: "nope"})},
	}}
	bus := NewEventBus()
	var captured Event
	bus.OnEvent(EventAgentStatus, func(e Event) { captured = e })

	v := NewValidator(provider, bus)
	outcome, err := v.Validate(context.Background(), Plan{}, "answer", nil, 2, 2)

	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
	assert.True(t, outcome.Forced)
	assert.Equal(t, "validation_force_accepted", captured.Data["phase"])
}

func TestValidator_Validate_ModelNeverCallingToolIsError(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{completion: textCompletion("no tool call here")},
	}}
	v := NewValidator(provider, NewEventBus())

	_, err := v.Validate(context.Background(), Plan{}, "answer", nil, 1, 2)
	assert.Error(t, err)
}

func TestValidator_Validate_ProviderErrorPropagates(t *testing.T) {
	wantErr := assert.AnError
	provider := &fakeProvider{responses: []fakeResponse{{err: wantErr}}}
	v := NewValidator(provider, NewEventBus())

	_, err := v.Validate(context.Background(), Plan{}, "answer", nil, 1, 2)
	assert.ErrorIs(t, err, wantErr)
}
