package main

import (
	"bytes"
	"testing"

	"chat-widget/internal/config"
	"chat-widget/internal/model"

	"github.com/stretchr/testify/require"
)

func TestPrinterRendersTransitions(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, config.Defaults().Texts)

	p.render(model.State{Phase: model.PhaseAwaitingAgent})
	p.render(model.State{Phase: model.PhaseAwaitingAgent, Messages: []model.Message{{Body: model.TextBody("hello")}}})
	p.render(model.State{Phase: model.PhaseBound, Messages: []model.Message{
		{Body: model.TextBody("hello")},
		{From: "Agent", Body: model.TextBody("hi there")},
	}, Presence: model.Presence{AgentTyping: true}})
	p.render(model.State{Phase: model.PhaseDisconnecting, Messages: []model.Message{
		{Body: model.TextBody("hello")},
		{From: "Agent", Body: model.TextBody("hi there")},
	}, Presence: model.Presence{AgentDisconnected: &model.Message{From: "Agent"}}})
	p.render(model.State{Phase: model.PhaseUnbound})

	require.Equal(t, "[Waiting for an agent to join the conversation...]\n"+
		"you: hello\n"+
		"Agent: hi there\n"+
		"[agent connected]\n"+
		"[agent is typing...]\n"+
		"[The agent has closed this conversation.]\n"+
		"[conversation closed]\n", buf.String())
}

func TestPrinterShowsMergedHistoryOnce(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, config.Defaults().Texts)

	hello := model.Message{Body: model.TextBody("hello"), Timestamp: 20}
	p.render(model.State{Phase: model.PhaseBound, Messages: []model.Message{hello}})
	p.render(model.State{Phase: model.PhaseBound, Messages: []model.Message{
		{From: "Agent", Body: model.TextBody("earlier"), Timestamp: 10},
		hello,
	}})
	p.render(model.State{Phase: model.PhaseBound, Messages: []model.Message{
		{From: "Agent", Body: model.TextBody("earlier"), Timestamp: 10},
		hello,
		hello,
	}})

	require.Equal(t, "you: hello\n"+
		"[agent connected]\n"+
		"Agent: earlier\n"+
		"you: hello\n", buf.String())
}
