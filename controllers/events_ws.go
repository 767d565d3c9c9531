package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"productflow/realtime"
	"productflow/services"
	"productflow/store"
	"productflow/utils"
)

const (
	localScope   = "eventScope"
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// EventsController streams the events of one workspace over a websocket.
type EventsController struct {
	Lifecycle *services.Lifecycle
	Hub       *realtime.Hub
	Logger    *logrus.Entry
}

func NewEventsController(lc *services.Lifecycle, hub *realtime.Hub) *EventsController {
	return &EventsController{
		Lifecycle: lc,
		Hub:       hub,
		Logger:    utils.Component("events"),
	}
}

// Upgrade admits websocket upgrades from callers who can view the workspace.
func (ec *EventsController) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	scope := scopeParam(c)
	if _, err := ec.Lifecycle.Permissions(c.UserContext(), actorID(c), scope); err != nil {
		return respondError(c, err, "Failed to open event stream")
	}
	c.Locals(localScope, scope)
	return c.Next()
}

// Stream forwards hub events until the client goes away.
func (ec *EventsController) Stream(conn *websocket.Conn) {
	defer conn.Close()

	scope, ok := conn.Locals(localScope).(store.Scope)
	if !ok {
		return
	}
	sub := ec.Hub.Subscribe(scope.WorkspaceID)
	defer sub.Close()

	log := ec.Logger.WithFields(logrus.Fields{
		"team_id":      scope.TeamID,
		"workspace_id": scope.WorkspaceID,
	})
	log.Debug("Event stream opened")

	// The read loop only notices the client closing the connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Debug("Event stream closed by client")
			return
		case ev, open := <-sub.C:
			if !open {
				return
			}
			if ev.TeamID != scope.TeamID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.WithError(err).Debug("Error writing event")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
