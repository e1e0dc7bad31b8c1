package command_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/howler-bot/howler/pkg/domain/types"
	"github.com/howler-bot/howler/pkg/service/command"
)

func TestParse(t *testing.T) {
	p := command.NewParser("howler")

	cases := []struct {
		name      string
		body      string
		addressed bool
		hasErr    bool
		kind      command.Kind
		alertID   types.AlertID
	}{
		{
			name:      "ack with id",
			body:      "howler ack abc123-456",
			addressed: true,
			kind:      command.KindAck,
			alertID:   "abc123-456",
		},
		{
			name:      "bang prefix",
			body:      "!howler ack abc123",
			addressed: true,
			kind:      command.KindAck,
			alertID:   "abc123",
		},
		{
			name:      "acknowledge alias",
			body:      "HOWLER Acknowledge abc123",
			addressed: true,
			kind:      command.KindAck,
			alertID:   "abc123",
		},
		{
			name:      "resolve",
			body:      "howler resolve abc123",
			addressed: true,
			kind:      command.KindResolve,
			alertID:   "abc123",
		},
		{
			name:      "pending",
			body:      "howler pending",
			addressed: true,
			kind:      command.KindPending,
		},
		{
			name:      "help",
			body:      "howler help",
			addressed: true,
			kind:      command.KindHelp,
		},
		{
			name:      "general chat",
			body:      "has anyone looked at db-01?",
			addressed: false,
		},
		{
			name:      "empty message",
			body:      "   ",
			addressed: false,
		},
		{
			name:      "bot name only",
			body:      "howler",
			addressed: true,
			hasErr:    true,
		},
		{
			name:      "ack without id",
			body:      "howler ack",
			addressed: true,
			hasErr:    true,
		},
		{
			name:      "unknown subcommand",
			body:      "howler dance",
			addressed: true,
			hasErr:    true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, addressed, err := p.Parse(tc.body)
			gt.Value(t, addressed).Equal(tc.addressed)

			if tc.hasErr {
				gt.Error(t, err)
				return
			}
			gt.NoError(t, err)

			if !tc.addressed {
				gt.Nil(t, cmd)
				return
			}
			gt.Value(t, cmd.Kind).Equal(tc.kind)
			gt.Value(t, cmd.AlertID).Equal(tc.alertID)
		})
	}
}
