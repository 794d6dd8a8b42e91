package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcore/core"
)

func TestScriptedInvoker_ReplaysInOrder(t *testing.T) {
	inv := NewScriptedInvoker(
		NewCallResponse("", core.FunctionCall{ID: "c1", Name: "lookup", Arguments: `{"q":"go"}`}),
		NewTextResponse("done"),
	)

	r1, err := inv.Invoke(context.Background(), Request{Messages: []core.Content{core.NewTextContent(core.RoleUser, "hi")}})
	require.NoError(t, err)
	require.Len(t, r1.FunctionCalls(), 1)
	assert.Equal(t, "lookup", r1.FunctionCalls()[0].Name)

	r2, err := inv.Invoke(context.Background(), Request{})
	require.NoError(t, err)
	assert.Empty(t, r2.FunctionCalls())
	assert.Equal(t, "done", r2.Text())

	_, err = inv.Invoke(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrScriptExhausted)
	assert.Equal(t, 3, inv.Calls())
	assert.Equal(t, "hi", inv.Requests()[0].Messages[0].Text())
}

func TestScriptedInvoker_ResponsesAreIndependentCopies(t *testing.T) {
	resp := NewTextResponse("x")
	inv := NewScriptedInvoker(resp)

	got, err := inv.Invoke(context.Background(), Request{})
	require.NoError(t, err)
	got.Content.Parts[0] = core.TextPart{Text: "mutated"}
	assert.Equal(t, "x", resp.Text())
}

func TestScriptedInvoker_ErrorStepAndCancelledContext(t *testing.T) {
	boom := errors.New("boom")
	inv := NewScriptedInvoker().AddError(boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := inv.Invoke(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)

	inv2 := NewScriptedInvoker().AddError(boom)
	_, err = inv2.Invoke(context.Background(), Request{})
	assert.ErrorIs(t, err, boom)
}

func TestFunctionResponseText(t *testing.T) {
	assert.Equal(t, "plain", FunctionResponseText(core.FunctionResponse{Response: "plain"}))
	assert.Equal(t, `{"temp":21}`, FunctionResponseText(core.FunctionResponse{Response: map[string]int{"temp": 21}}))
	assert.Equal(t, "Error: denied", FunctionResponseText(core.FunctionResponse{Error: "denied"}))
}

func TestWithInstructions(t *testing.T) {
	msgs := []core.Content{core.NewTextContent(core.RoleUser, "hi")}
	out := WithInstructions("You are a helpful assistant.", msgs)
	require.Len(t, out, 2)
	assert.Equal(t, core.RoleSystem, out[0].Role)
	assert.Len(t, WithInstructions("", msgs), 1)
}
