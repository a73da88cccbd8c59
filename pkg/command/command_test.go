package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEveryCommandReportsItsOwnTag(t *testing.T) {
	cases := []struct {
		name string
		cmd  Command
		tag  Tag
	}{
		{"StartCall", StartCall{CallID: "c1"}, TagStartCall},
		{"GenerateStep", GenerateStep{CallID: "c1"}, TagGenerateStep},
		{"ExecuteCode", ExecuteCode{CallID: "c1"}, TagExecuteCode},
		{"CodeExecuted", CodeExecuted{CallID: "c1"}, TagCodeExecuted},
		{"HandleBridgeCall", HandleBridgeCall{CallID: "c1"}, TagHandleBridgeCall},
		{"Finalize", Finalize{CallID: "c1"}, TagFinalize},
		{"FailCall", FailCall{CallID: "c1"}, TagFailCall},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.tag, tc.cmd.CommandTag())
		})
	}
}
