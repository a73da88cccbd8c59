package rlmevent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEveryEventReportsItsOwnTypeAndCompletionID(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		typ  Type
	}{
		{"CallStarted", CallStarted{CompletionID: "c1"}, TypeCallStarted},
		{"IterationStarted", IterationStarted{CompletionID: "c1"}, TypeIterationStarted},
		{"ModelResponse", ModelResponse{CompletionID: "c1"}, TypeModelResponse},
		{"CodeExecutionStarted", CodeExecutionStarted{CompletionID: "c1"}, TypeCodeExecutionStarted},
		{"CodeExecutionCompleted", CodeExecutionCompleted{CompletionID: "c1"}, TypeCodeExecutionCompleted},
		{"BridgeCallReceived", BridgeCallReceived{CompletionID: "c1"}, TypeBridgeCallReceived},
		{"CallFinalized", CallFinalized{CompletionID: "c1"}, TypeCallFinalized},
		{"CallFailed", CallFailed{CompletionID: "c1"}, TypeCallFailed},
		{"SchedulerWarning", SchedulerWarning{CompletionID: "c1"}, TypeSchedulerWarning},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.typ, tc.ev.EventType())
			assert.Equal(t, "c1", tc.ev.CompletionIDValue())
		})
	}
}
