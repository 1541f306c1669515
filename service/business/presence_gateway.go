package business

import (
	"context"
	"encoding/json"

	"github.com/pitabwire/util"

	msgtel "github.com/antinvestor/service-messaging/internal/telemetry"
	"github.com/antinvestor/service-messaging/service"
	"github.com/antinvestor/service-messaging/service/repository"
)

// PresenceGateway owns the presence channel. Connections identify their
// profile up front rather than through an auth exchange; binding one marks
// the profile online and closing it marks the profile offline. The channel
// also relays typing indicators between profiles.
type PresenceGateway struct {
	registry *Registry
	tracker  *PresenceTracker
	sessions *sessionSet
}

func NewPresenceGateway(presenceRepo repository.PresenceRepository) *PresenceGateway {
	gw := &PresenceGateway{
		registry: NewRegistry(),
		sessions: newSessionSet(0),
	}
	gw.tracker = NewPresenceTracker(presenceRepo, gw)
	gw.registry.Subscribe(gw.tracker)
	return gw
}

// Tracker exposes the presence tracker for read side queries.
func (gw *PresenceGateway) Tracker() *PresenceTracker {
	return gw.tracker
}

// HandleConnection runs the event loop for one presence connection. The
// profile is bound immediately and unbound when the transport closes.
func (gw *PresenceGateway) HandleConnection(ctx context.Context, profileID string, stream ClientStream) error {
	if profileID == "" {
		return service.ErrProfileIDRequired
	}

	sess := &Session{
		id:        util.IDString(),
		profileID: profileID,
		state:     StateAuthenticated,
		stream:    stream,
	}
	if err := gw.sessions.add(sess); err != nil {
		return err
	}
	msgtel.ConnectionsOpenedCounter.Add(ctx, 1)

	log := util.Log(ctx).
		WithField("connection_id", sess.id).
		WithField("profile_id", profileID)
	log.Debug("presence client connected")

	gw.registry.Bind(ctx, sess.id, profileID)
	defer func() {
		sess.state = StateClosed
		gw.sessions.remove(sess.id)
		gw.registry.Unbind(ctx, sess.id)
		log.Debug("presence client disconnected")
	}()

	for {
		frame, err := stream.Receive()
		if err != nil {
			return nil
		}

		switch frame.Event {
		case EventStartTyping:
			gw.relayTyping(ctx, profileID, frame.Data, true)
		case EventStopTyping:
			gw.relayTyping(ctx, profileID, frame.Data, false)
		default:
			log.WithField("event", frame.Event).Debug("ignoring unknown presence event")
		}
	}
}

func (gw *PresenceGateway) relayTyping(ctx context.Context, fromProfileID string, data json.RawMessage, started bool) {
	payload := TypingPayload{}
	if err := json.Unmarshal(data, &payload); err != nil || payload.ReceiverID == "" {
		return
	}
	gw.tracker.Typing(ctx, fromProfileID, payload.ReceiverID, started)
}

// EmitToProfile pushes an event to a profile's live presence session.
func (gw *PresenceGateway) EmitToProfile(ctx context.Context, profileID string, event *ServerEvent) bool {
	connectionID, ok := gw.registry.ConnectionOf(profileID)
	if !ok {
		return false
	}
	sess, ok := gw.sessions.get(connectionID)
	if !ok {
		return false
	}

	if err := sess.Send(event); err != nil {
		util.Log(ctx).WithError(err).
			WithField("profile_id", profileID).
			Debug("failed to emit presence event")
		return false
	}
	return true
}

// Broadcast sends an event to every presence session except the profile it
// concerns. Individual send failures are tolerated; the next availability
// change supersedes anything a slow consumer missed.
func (gw *PresenceGateway) Broadcast(ctx context.Context, exceptProfileID string, event *ServerEvent) {
	for _, sess := range gw.sessions.snapshot() {
		if sess.profileID == exceptProfileID {
			continue
		}
		if err := sess.Send(event); err != nil {
			util.Log(ctx).WithError(err).
				WithField("connection_id", sess.id).
				Debug("presence broadcast send failed")
		}
	}
}

var _ PresenceEmitter = (*PresenceGateway)(nil)
