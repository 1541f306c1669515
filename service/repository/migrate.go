package repository

import (
	"context"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/datastore"

	"github.com/antinvestor/service-messaging/service/models"
)

func Migrate(ctx context.Context, svc *frame.Service, migrationPath string) error {
	return svc.DatastoreManager().GetPool(ctx, datastore.DefaultPoolName).Migrate(ctx, migrationPath,
		&models.Message{}, &models.Notification{}, &models.PresenceRecord{})
}
