package agent

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanner_Plan_UsesCallerStartingURLOverPlannerURL(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{completion: toolCallCompletion(createPlanToolName, createPlanArgs{
			SuccessCriteria: "criteria", Plan: "do the thing", URL: "https://planner-suggested.example",
		})},
	}}
	p := NewPlanner(provider, NewEventBus())

	callerURL, _ := url.Parse("https://caller-fixed.example")
	plan, err := p.Plan(context.Background(), TaskInput{Task: "t", StartingURL: callerURL}, false)

	require.NoError(t, err)
	assert.Equal(t, "https://caller-fixed.example", plan.StartingURL)
	assert.Equal(t, "criteria", plan.SuccessCriteria)
}

func TestPlanner_Plan_FallsBackToPlannerURLThenBlank(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{completion: toolCallCompletion(createPlanToolName, createPlanArgs{
			SuccessCriteria: "c", Plan: "p", URL: "https://from-planner.example",
		})},
	}}
	p := NewPlanner(provider, NewEventBus())

	plan, err := p.Plan(context.Background(), TaskInput{Task: "t"}, false)
	require.NoError(t, err)
	assert.Equal(t, "https://from-planner.example", plan.StartingURL)

	provider2 := &fakeProvider{responses: []fakeResponse{
		{completion: toolCallCompletion(createPlanToolName, createPlanArgs{SuccessCriteria: "c", Plan: "p"})},
	}}
	p2 := NewPlanner(provider2, NewEventBus())
	plan2, err := p2.Plan(context.Background(), TaskInput{Task: "t"}, false)
	require.NoError(t, err)
	assert.Equal(t, BlankURL, plan2.StartingURL)
}

func TestPlanner_Plan_InvalidPlannerURLIsDropped(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{completion: toolCallCompletion(createPlanToolName, createPlanArgs{
			SuccessCriteria: "c", Plan: "p", URL: "://not a url",
		})},
	}}
	p := NewPlanner(provider, NewEventBus())

	plan, err := p.Plan(context.Background(), TaskInput{Task: "t"}, false)
	require.NoError(t, err)
	assert.Equal(t, BlankURL, plan.StartingURL)
}

func TestPlanner_Plan_RetriesTransientErrorThenSucceeds(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{err: errors.New("transient network error")},
		{completion: toolCallCompletion(createPlanToolName, createPlanArgs{SuccessCriteria: "c", Plan: "p"})},
	}}
	p := NewPlanner(provider, NewEventBus())

	plan, err := p.Plan(context.Background(), TaskInput{Task: "t"}, false)
	require.NoError(t, err)
	assert.NotNil(t, plan)
	assert.Equal(t, 2, provider.calls)
}

func TestPlanner_Plan_ModelNeverCallingToolIsPermanentFailure(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{completion: textCompletion("I decided not to call a tool")},
	}}
	p := NewPlanner(provider, NewEventBus())

	plan, err := p.Plan(context.Background(), TaskInput{Task: "t"}, false)
	require.Error(t, err)
	assert.Nil(t, plan)
	var taskErr *TaskError
	assert.ErrorAs(t, err, &taskErr)
	assert.Equal(t, 1, provider.calls, "a permanent parse failure must not retry")
}

func TestPlanner_Plan_EmitsPlannedStatus(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{completion: toolCallCompletion(createPlanToolName, createPlanArgs{SuccessCriteria: "c", Plan: "p", URL: "https://x.example"})},
	}}
	bus := NewEventBus()
	var captured Event
	bus.OnEvent(EventAgentStatus, func(e Event) { captured = e })

	p := NewPlanner(provider, bus)
	_, err := p.Plan(context.Background(), TaskInput{Task: "t"}, false)
	require.NoError(t, err)
	assert.Equal(t, "planned", captured.Data["phase"])
	assert.Equal(t, "https://x.example", captured.Data["startingUrl"])
}
