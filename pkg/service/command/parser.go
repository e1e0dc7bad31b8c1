package command

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/howler-bot/howler/pkg/domain/model/errs"
	"github.com/howler-bot/howler/pkg/domain/types"
)

type Kind string

const (
	KindAck     Kind = "ack"
	KindResolve Kind = "resolve"
	KindPending Kind = "pending"
	KindHelp    Kind = "help"
)

// Command is one parsed bot instruction from a room message.
type Command struct {
	Kind    Kind
	AlertID types.AlertID
}

// Parser recognizes text commands addressed to the bot. Messages not
// addressed to it are general chat traffic and yield ok=false.
type Parser struct {
	botName string
}

const DefaultBotName = "howler"

func NewParser(botName string) *Parser {
	if botName == "" {
		botName = DefaultBotName
	}
	return &Parser{botName: botName}
}

// Parse returns the command, whether the message was addressed to the bot at
// all, and an error when it was addressed but malformed. The caller replies
// with usage on error and stays silent when ok is false.
func (x *Parser) Parse(body string) (*Command, bool, error) {
	fields := strings.Fields(strings.TrimSpace(body))
	if len(fields) == 0 {
		return nil, false, nil
	}

	head := strings.ToLower(strings.TrimPrefix(fields[0], "!"))
	if head != strings.ToLower(x.botName) {
		return nil, false, nil
	}

	if len(fields) < 2 {
		return nil, true, goerr.New("missing subcommand", goerr.T(errs.TagInvalidRequest))
	}

	switch strings.ToLower(fields[1]) {
	case "ack", "acknowledge":
		if len(fields) < 3 {
			return nil, true, goerr.New("ack requires an alert id", goerr.T(errs.TagInvalidRequest))
		}
		return &Command{Kind: KindAck, AlertID: types.AlertID(fields[2])}, true, nil

	case "resolve", "close":
		if len(fields) < 3 {
			return nil, true, goerr.New("resolve requires an alert id", goerr.T(errs.TagInvalidRequest))
		}
		return &Command{Kind: KindResolve, AlertID: types.AlertID(fields[2])}, true, nil

	case "pending":
		return &Command{Kind: KindPending}, true, nil

	case "help":
		return &Command{Kind: KindHelp}, true, nil

	default:
		return nil, true, goerr.New("unknown subcommand",
			goerr.T(errs.TagInvalidRequest),
			goerr.V("subcommand", fields[1]))
	}
}

// Usage is the help text posted in response to help or malformed commands.
func (x *Parser) Usage() string {
	return strings.Join([]string{
		"Commands:",
		"  " + x.botName + " ack <alert-id>     : acknowledge an alert",
		"  " + x.botName + " resolve <alert-id> : resolve an alert",
		"  " + x.botName + " pending            : list outstanding alerts",
		"  " + x.botName + " help               : show this help",
	}, "\n")
}
