package repository_test

import (
	"testing"

	"github.com/pitabwire/frame/frametests"
	"github.com/pitabwire/frame/frametests/definition"
	"github.com/pitabwire/util"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/antinvestor/service-messaging/service/models"
	"github.com/antinvestor/service-messaging/service/repository"
	"github.com/antinvestor/service-messaging/tests"
)

type NotificationRepositoryTestSuite struct {
	tests.BaseTestSuite
}

func TestNotificationRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(NotificationRepositoryTestSuite))
}

func (s *NotificationRepositoryTestSuite) saveNotification(
	t *testing.T, repo repository.NotificationRepository, targetID, title string,
) *models.Notification {
	t.Helper()
	ctx := t.Context()
	notification := &models.Notification{
		TargetID:  targetID,
		Title:     title,
		Content:   "content of " + title,
		SourceID:  util.IDString(),
		MessageID: util.IDString(),
	}
	notification.GenID(ctx)
	require.NoError(t, repo.Create(ctx, notification))
	return notification
}

func (s *NotificationRepositoryTestSuite) TestGetByTargetID() {
	frametests.WithTestDependencies(s.T(), nil, func(t *testing.T, dep *definition.DependencyOption) {
		ctx, svc := s.CreateService(t, dep)
		workMan, dbPool := s.GetRepoDeps(ctx, svc)
		repo := repository.NewNotificationRepository(ctx, dbPool, workMan)

		targetID := util.IDString()
		s.saveNotification(t, repo, targetID, "first")
		s.saveNotification(t, repo, targetID, "second")
		s.saveNotification(t, repo, util.IDString(), "someone else's")

		notifications, err := repo.GetByTargetID(ctx, targetID, 0)
		require.NoError(t, err)
		require.Len(t, notifications, 2)
		for _, notification := range notifications {
			s.Equal(targetID, notification.TargetID)
			s.False(notification.Read)
		}
	})
}

func (s *NotificationRepositoryTestSuite) TestMarkAsRead() {
	frametests.WithTestDependencies(s.T(), nil, func(t *testing.T, dep *definition.DependencyOption) {
		ctx, svc := s.CreateService(t, dep)
		workMan, dbPool := s.GetRepoDeps(ctx, svc)
		repo := repository.NewNotificationRepository(ctx, dbPool, workMan)

		targetID := util.IDString()
		notification := s.saveNotification(t, repo, targetID, "to be read")

		require.NoError(t, repo.MarkAsRead(ctx, notification.GetID()))

		retrieved, err := repo.GetByID(ctx, notification.GetID())
		require.NoError(t, err)
		s.True(retrieved.Read)

		// Marking again stays read
		require.NoError(t, repo.MarkAsRead(ctx, notification.GetID()))
		retrieved, err = repo.GetByID(ctx, notification.GetID())
		require.NoError(t, err)
		s.True(retrieved.Read)
	})
}

func (s *NotificationRepositoryTestSuite) TestCountUnread() {
	frametests.WithTestDependencies(s.T(), nil, func(t *testing.T, dep *definition.DependencyOption) {
		ctx, svc := s.CreateService(t, dep)
		workMan, dbPool := s.GetRepoDeps(ctx, svc)
		repo := repository.NewNotificationRepository(ctx, dbPool, workMan)

		targetID := util.IDString()
		s.saveNotification(t, repo, targetID, "unread one")
		s.saveNotification(t, repo, targetID, "unread two")
		read := s.saveNotification(t, repo, targetID, "read one")
		require.NoError(t, repo.MarkAsRead(ctx, read.GetID()))

		count, err := repo.CountUnread(ctx, targetID)
		require.NoError(t, err)
		s.Equal(int64(2), count)
	})
}

func (s *NotificationRepositoryTestSuite) TestLimitCapsResults() {
	frametests.WithTestDependencies(s.T(), nil, func(t *testing.T, dep *definition.DependencyOption) {
		ctx, svc := s.CreateService(t, dep)
		workMan, dbPool := s.GetRepoDeps(ctx, svc)
		repo := repository.NewNotificationRepository(ctx, dbPool, workMan)

		targetID := util.IDString()
		for i := range 5 {
			s.saveNotification(t, repo, targetID, util.RandomString(4)+string(rune('a'+i)))
		}

		notifications, err := repo.GetByTargetID(ctx, targetID, 3)
		require.NoError(t, err)
		s.Len(notifications, 3)
	})
}
