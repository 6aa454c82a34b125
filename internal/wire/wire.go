//go:build wireinject
// +build wireinject

package wire

import (
	"log/slog"

	"pollcast/internal/common"
	"pollcast/internal/config"
	"pollcast/internal/dbsql"
	"pollcast/internal/notif"
	"pollcast/internal/realtime"

	"github.com/google/wire"
)

var storeSet = wire.NewSet(
	ProvideDatabase,
	dbsql.NewNotificationRepository,
	wire.Bind(new(common.NotificationStore), new(*dbsql.NotificationRepository)),
	ProvideResourceStore,
)

var realtimeSet = wire.NewSet(
	ProvideValidator,
	wire.Bind(new(common.TokenValidator), new(*common.JWTValidator)),
	realtime.NewRegistry,
	realtime.NewHandler,
)

var notifSet = wire.NewSet(
	ProvideDispatcher,
	notif.NewService,
	notif.NewTriggers,
	notif.NewCloser,
	notif.NewHandler,
)

func InitializeApplication(cfg *config.Config, logger *slog.Logger) (*Application, func(), error) {
	wire.Build(
		storeSet,
		realtimeSet,
		notifSet,
		wire.Struct(new(Application), "*"),
	)
	return &Application{}, nil, nil
}
