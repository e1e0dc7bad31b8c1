package config

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/howler-bot/howler/pkg/adapter/matrix"
	"github.com/howler-bot/howler/pkg/domain/types"
)

type Matrix struct {
	homeserverURL string
	userID        string
	accessToken   string
	password      string
	deviceName    string
}

func (x *Matrix) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "matrix-homeserver-url",
			Usage:       "Matrix homeserver URL (e.g. https://matrix.example.org)",
			Category:    "Matrix",
			Sources:     cli.EnvVars("HOWLER_MATRIX_HOMESERVER_URL"),
			Destination: &x.homeserverURL,
		},
		&cli.StringFlag{
			Name:        "matrix-user-id",
			Usage:       "Matrix user ID of the bot account (e.g. @howler:example.org)",
			Category:    "Matrix",
			Sources:     cli.EnvVars("HOWLER_MATRIX_USER_ID"),
			Destination: &x.userID,
		},
		&cli.StringFlag{
			Name:        "matrix-access-token",
			Usage:       "Matrix access token (preferred over password)",
			Category:    "Matrix",
			Sources:     cli.EnvVars("HOWLER_MATRIX_ACCESS_TOKEN"),
			Destination: &x.accessToken,
		},
		&cli.StringFlag{
			Name:        "matrix-password",
			Usage:       "Matrix account password (logs in on startup)",
			Category:    "Matrix",
			Sources:     cli.EnvVars("HOWLER_MATRIX_PASSWORD"),
			Destination: &x.password,
		},
		&cli.StringFlag{
			Name:        "matrix-device-name",
			Usage:       "Device display name for password login",
			Category:    "Matrix",
			Sources:     cli.EnvVars("HOWLER_MATRIX_DEVICE_NAME"),
			Value:       "howler",
			Destination: &x.deviceName,
		},
	}
}

func (x Matrix) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("homeserver_url", x.homeserverURL),
		slog.String("user_id", x.userID),
		slog.Bool("has_access_token", x.accessToken != ""),
		slog.Bool("has_password", x.password != ""),
	)
}

func (x *Matrix) IsConfigured() bool {
	return x.homeserverURL != ""
}

func (x *Matrix) Configure(ctx context.Context, rooms []types.RoomID) (*matrix.Notifier, error) {
	return matrix.New(ctx, matrix.Config{
		HomeserverURL: x.homeserverURL,
		UserID:        x.userID,
		AccessToken:   x.accessToken,
		Password:      x.password,
		DeviceName:    x.deviceName,
	}, rooms)
}
