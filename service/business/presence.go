package business

import (
	"context"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/service-messaging/service/models"
	"github.com/antinvestor/service-messaging/service/repository"
)

// PresenceEmitter delivers presence events to live connections.
type PresenceEmitter interface {
	LiveEmitter
	// Broadcast sends an event to every connection except the profile it
	// is about.
	Broadcast(ctx context.Context, exceptProfileID string, event *ServerEvent)
}

// PresenceTracker observes the presence registry and keeps the persisted
// availability of each profile in sync with its live connection, announcing
// transitions to everyone else. All of its work is best effort: a failed
// store write or broadcast never interferes with the connection lifecycle.
type PresenceTracker struct {
	presenceRepo repository.PresenceRepository
	emitter      PresenceEmitter
}

func NewPresenceTracker(presenceRepo repository.PresenceRepository, emitter PresenceEmitter) *PresenceTracker {
	return &PresenceTracker{
		presenceRepo: presenceRepo,
		emitter:      emitter,
	}
}

// ConnectionBound marks the profile online and announces it.
func (pt *PresenceTracker) ConnectionBound(ctx context.Context, _ string, profileID string) {
	err := pt.presenceRepo.SetOnline(ctx, profileID)
	if err != nil {
		util.Log(ctx).WithError(err).
			WithField("profile_id", profileID).
			Error("failed to persist online presence")
	}

	pt.emitter.Broadcast(ctx, profileID, &ServerEvent{
		Event: EventUserOnline,
		Data:  PresencePayload{UserID: profileID},
	})
}

// ConnectionUnbound marks the profile offline, stamps last seen and
// announces the departure.
func (pt *PresenceTracker) ConnectionUnbound(ctx context.Context, _ string, profileID string) {
	lastSeen := time.Now().UTC()

	err := pt.presenceRepo.SetOffline(ctx, profileID, lastSeen)
	if err != nil {
		util.Log(ctx).WithError(err).
			WithField("profile_id", profileID).
			Error("failed to persist offline presence")
	}

	pt.emitter.Broadcast(ctx, profileID, &ServerEvent{
		Event: EventUserOffline,
		Data:  PresencePayload{UserID: profileID, LastSeen: &lastSeen},
	})
}

// Typing forwards a typing indicator to the target profile's connection.
// Indicators for offline profiles are dropped.
func (pt *PresenceTracker) Typing(ctx context.Context, fromProfileID, toProfileID string, started bool) {
	event := EventStopTyping
	if started {
		event = EventTyping
	}

	delivered := pt.emitter.EmitToProfile(ctx, toProfileID, &ServerEvent{
		Event: event,
		Data:  TypingEventPayload{From: fromProfileID},
	})
	if !delivered {
		util.Log(ctx).
			WithField("from", fromProfileID).
			WithField("to", toProfileID).
			Debug("typing indicator dropped, target offline")
	}
}

// GetLastSeen returns when a profile was last seen, or nil when the profile
// is online or has never connected.
func (pt *PresenceTracker) GetLastSeen(ctx context.Context, profileID string) (*models.PresenceRecord, error) {
	return pt.presenceRepo.GetByProfileID(ctx, profileID)
}

// ListOnlineUsers returns profiles currently marked online in the store.
func (pt *PresenceTracker) ListOnlineUsers(ctx context.Context) ([]*models.PresenceRecord, error) {
	return pt.presenceRepo.ListOnline(ctx)
}
