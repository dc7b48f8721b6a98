package server

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Room name conventions. Rooms are opaque strings to the hub; callers
// build them with these helpers.

// UserRoom names the per-user room every authenticated connection joins.
func UserRoom(username string) string {
	return "user:" + username
}

// ChatRoom names the per-conversation room clients join when they open a
// conversation view.
func ChatRoom(conversationID int64) string {
	return "chat:" + strconv.FormatInt(conversationID, 10)
}

// Hub owns every client connection and the ephemeral room membership
// tables. It routes frames to per-user and per-conversation rooms and
// tears membership down when a connection unregisters. Registration is
// synchronous so a new client observes broadcasts immediately; pump
// startup and unregistration flow through channels into the Run loop.
// Room joins and broadcasts are mutex-protected so event handlers on
// independent connections can call them concurrently.
type Hub struct {
	log *slog.Logger

	clients map[*Client]bool
	rooms   map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client

	mutex  sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub ready to manage connections. Call Run in its own
// goroutine before registering clients.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register makes a client visible to broadcasts. It completes before
// returning, so a frame broadcast right after Register reaches the new
// client. The pumps are not running yet; call Start once the connect
// transition has finished.
func (h *Hub) Register(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	count := len(h.clients)
	h.mutex.Unlock()
	h.log.Info("client registered", "user", client.username, "conn", client.id, "total", count)
}

// Start hands a registered client to the Run loop, which starts its read
// and write pumps. During shutdown the client is dropped instead.
func (h *Hub) Start(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		h.dropClient(client)
	}
}

// Unregister removes a client from the hub and all of its rooms. Safe to
// call after the Run loop has exited.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
		h.dropClient(client)
	}
}

// Join adds a client to a room. Joining a room twice is a no-op.
// Membership persists until the connection unregisters; the core needs no
// explicit leave.
func (h *Hub) Join(client *Client, room string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][client] = struct{}{}
	client.rooms[room] = struct{}{}
}

// RoomSize reports the current number of members in a room.
func (h *Hub) RoomSize(room string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[room])
}

// Broadcast delivers a frame to every member of a room, optionally
// excluding one client (typically the sender). Unknown rooms are a silent
// no-op: offline-target delivery simply does not happen.
func (h *Hub) Broadcast(room string, frame []byte, exclude *Client) {
	members := h.roomSnapshot(room)
	var failed []*Client
	for _, client := range members {
		if exclude != nil && client == exclude {
			continue
		}
		if !h.safeSend(client, frame) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

// BroadcastAll delivers a frame to every registered client, optionally
// excluding one.
func (h *Hub) BroadcastAll(frame []byte, exclude *Client) {
	clients := h.clientSnapshot()
	var failed []*Client
	for _, client := range clients {
		if exclude != nil && client == exclude {
			continue
		}
		if !h.safeSend(client, frame) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

func (h *Hub) roomSnapshot(room string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for client := range h.rooms[room] {
		members = append(members, client)
	}
	return members
}

func (h *Hub) clientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// safeSend attempts a non-blocking send to a client. The lock is held for
// the whole operation so the send channel cannot be closed mid-send.
func (h *Hub) safeSend(client *Client, frame []byte) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if !h.clients[client] || client.closed {
		return false
	}
	select {
	case client.send <- frame:
		return true
	default:
		return false
	}
}

// Run is the hub's main event loop. It must be called in its own
// goroutine; it returns when Shutdown cancels the hub context.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("nil client start skipped")
				continue
			}
			h.mutex.RLock()
			registered := h.clients[client]
			h.mutex.RUnlock()
			if !registered {
				// Dropped between Register and Start.
				continue
			}

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.dropClient(client)
		}
	}
}

// dropClient removes a client from the registry and every room it joined,
// then closes its send channel.
func (h *Hub) dropClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.closed = true
	h.leaveAllLocked(client)
	count := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock.
	close(client.send)
	h.log.Info("client unregistered", "user", client.username, "conn", client.id, "total", count)
}

// leaveAllLocked removes a client from every room it joined. Callers must
// hold the write lock.
func (h *Hub) leaveAllLocked(client *Client) {
	for room := range client.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
}

// removeFailedClients drops clients whose send buffers are full.
func (h *Hub) removeFailedClients(failed []*Client) {
	if len(failed) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range failed {
		if _, ok := h.clients[client]; !ok {
			continue
		}
		delete(h.clients, client)
		client.closed = true
		h.leaveAllLocked(client)
		channelsToClose = append(channelsToClose, client.send)
		h.log.Warn("client removed, send buffer full", "user", client.username, "conn", client.id)
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients closes every active connection during hub shutdown.
func (h *Hub) shutdownClients() {
	clients := h.clientSnapshot()
	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Error("closing client connection", "conn", client.id, "error", err)
			}
		}
	}
	h.log.Info("closed client connections", "count", len(clients))
}

// Shutdown stops the hub and waits for all pump goroutines to finish, up
// to timeout. Returns context.DeadlineExceeded when goroutines are still
// running at the deadline.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached")
		return context.DeadlineExceeded
	}
}
