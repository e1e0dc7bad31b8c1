package config

import (
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/howler-bot/howler/pkg/domain/types"
	"github.com/howler-bot/howler/pkg/service/escalation"
)

type Escalation struct {
	enabled   bool
	window    time.Duration
	frequency time.Duration
	rooms     []string
}

func (x *Escalation) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "escalation",
			Usage:       "Enable periodic escalation of unacknowledged alerts",
			Category:    "Escalation",
			Sources:     cli.EnvVars("HOWLER_ESCALATION"),
			Value:       true,
			Destination: &x.enabled,
		},
		&cli.DurationFlag{
			Name:        "escalation-window",
			Usage:       "Time an alert may stay unacknowledged before moving to the next room",
			Category:    "Escalation",
			Sources:     cli.EnvVars("HOWLER_ESCALATION_WINDOW"),
			Value:       time.Hour,
			Destination: &x.window,
		},
		&cli.DurationFlag{
			Name:        "escalation-check-frequency",
			Usage:       "How often the escalation clock scans for due alerts",
			Category:    "Escalation",
			Sources:     cli.EnvVars("HOWLER_ESCALATION_CHECK_FREQUENCY"),
			Value:       time.Minute,
			Destination: &x.frequency,
		},
		&cli.StringSliceFlag{
			Name:        "room",
			Usage:       "Escalation room IDs, lowest severity first (repeatable)",
			Category:    "Escalation",
			Sources:     cli.EnvVars("HOWLER_ROOMS"),
			Destination: &x.rooms,
		},
	}
}

func (x Escalation) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("enabled", x.enabled),
		slog.Duration("window", x.window),
		slog.Duration("check_frequency", x.frequency),
		slog.Any("rooms", x.rooms),
	)
}

func (x *Escalation) Rooms() []types.RoomID {
	rooms := make([]types.RoomID, 0, len(x.rooms))
	for _, r := range x.rooms {
		rooms = append(rooms, types.RoomID(r))
	}
	return rooms
}

func (x *Escalation) Configure() escalation.Config {
	return escalation.Config{
		Enabled:        x.enabled,
		Window:         x.window,
		CheckFrequency: x.frequency,
		Rooms:          x.Rooms(),
	}
}
