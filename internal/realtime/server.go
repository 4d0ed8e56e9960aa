// Package realtime exposes the recorder, store, replayer, and automation
// engine over WebSocket and REST.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"desktrace/internal/automation"
	"desktrace/internal/event"
	"desktrace/internal/platform"
	"desktrace/internal/protocol"
	"desktrace/internal/recorder"
	"desktrace/internal/replay"
	"desktrace/internal/store"

	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// Server manages WebSocket connections and routes messages between
// clients, the recorder, the workflow store, and the automation engine.
type Server struct {
	recorder *recorder.Recorder
	store    *store.Store
	driver   platform.Driver
	engine   *automation.Engine

	clients   map[*client]bool
	clientsMu sync.RWMutex

	// One recording and one replay at a time.
	mu           sync.Mutex
	active       *recorder.Recording
	replayCancel context.CancelFunc

	// subscriptions tracks each client's stream subscription on the
	// active recording.
	subscriptions   map[*client]string
	subscriptionsMu sync.Mutex
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server

	// closed guards send: the subscription fan-out goroutine can outlive
	// removeClient while it drains buffered events.
	mu     sync.Mutex
	closed bool
}

// trySend queues a frame unless the client is closed or its buffer full.
func (c *client) trySend(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// Client buffer full, skip.
	}
}

// shutdown closes the send channel exactly once.
func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// New creates a new realtime server.
func New(rec *recorder.Recorder, st *store.Store, driver platform.Driver) *Server {
	return &Server{
		recorder:      rec,
		store:         st,
		driver:        driver,
		engine:        automation.NewEngine(driver),
		clients:       make(map[*client]bool),
		subscriptions: make(map[*client]string),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("POST /recordings", s.handleStartRecording)
	mux.HandleFunc("POST /recordings/stop", s.handleStopRecording)
	mux.HandleFunc("GET /workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /workflows/{file}", s.handleGetWorkflow)
	mux.HandleFunc("DELETE /workflows/{file}", s.handleDeleteWorkflow)
	mux.HandleFunc("POST /replays", s.handleStartReplay)
	mux.HandleFunc("GET /apps", s.handleListApps)
	mux.HandleFunc("GET /apps/{name}/tree", s.handleAppTree)
	mux.HandleFunc("GET /apps/{name}/text", s.handleAppText)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	// Send the current workflow listing to the new client.
	s.sendWorkflowList(c)

	// Attach the client to the event stream of a recording that was
	// already running before this connection.
	s.mu.Lock()
	rec := s.active
	s.mu.Unlock()
	if rec != nil && rec.Active() {
		s.sendRecordingUpdate(c, rec, "recording")
		s.subscribeClient(c, rec)
	}

	go c.writePump()
	go c.readPump()
}

func (s *Server) sendWorkflowList(c *client) {
	entries, err := s.store.List()
	if err != nil {
		log.Printf("list workflows: %v", err)
		return
	}
	msg, err := protocol.NewMessage(protocol.TypeWorkflowsUpdate, protocol.WorkflowsUpdatePayload{
		Workflows: entries,
	})
	if err != nil {
		return
	}
	s.sendTo(c, msg)
}

func (s *Server) sendRecordingUpdate(c *client, rec *recorder.Recording, state string) {
	msg, err := protocol.NewMessage(protocol.TypeRecordingUpdate, protocol.RecordingUpdatePayload{
		ID:     rec.ID,
		Name:   rec.Name,
		State:  state,
		Events: len(rec.Events()),
	})
	if err != nil {
		return
	}
	if c != nil {
		s.sendTo(c, msg)
		return
	}
	s.broadcast(msg)
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	s.subscriptionsMu.Lock()
	subID, ok := s.subscriptions[c]
	delete(s.subscriptions, c)
	s.subscriptionsMu.Unlock()

	if ok {
		s.mu.Lock()
		rec := s.active
		s.mu.Unlock()
		if rec != nil {
			rec.Unsubscribe(subID)
		}
	}

	c.shutdown()
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeRecordingStart:
		s.handleWSRecordingStart(c, msg)
	case protocol.TypeRecordingStop:
		s.handleWSRecordingStop(c)
	case protocol.TypeWorkflowsRequest:
		s.sendWorkflowList(c)
	case protocol.TypeWorkflowDelete:
		s.handleWSWorkflowDelete(c, msg)
	case protocol.TypeReplayStart:
		s.handleWSReplayStart(c, msg)
	case protocol.TypeReplayCancel:
		s.handleWSReplayCancel(c)
	case protocol.TypeRequestApps:
		s.handleWSApps(c)
	case protocol.TypeRequestTree:
		s.handleWSTree(c, msg)
	case protocol.TypeActivate:
		s.handleWSActivate(c, msg)
	case protocol.TypeClick:
		s.handleWSClick(c, msg)
	case protocol.TypeTypeText:
		s.handleWSTypeText(c, msg)
	case protocol.TypeScrape:
		s.handleWSScrape(c, msg)
	}
}

func (s *Server) handleWSRecordingStart(c *client, msg *protocol.Message) {
	var payload protocol.RecordingStartPayload
	json.Unmarshal(msg.Payload, &payload)

	if _, err := s.startRecording(payload.Name); err != nil {
		s.sendError(c, recordingErrCode(err), err.Error())
	}
}

// startRecording starts a capture, wires automation context events into it,
// and subscribes every connected client to its stream.
func (s *Server) startRecording(name string) (*recorder.Recording, error) {
	// The replay check, the start, and the slot assignment share one lock
	// hold so a racing replay cannot slip in between them.
	s.mu.Lock()
	if s.replayCancel != nil {
		s.mu.Unlock()
		return nil, errReplayActive
	}
	rec, err := s.recorder.Start(name)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.active = rec
	s.mu.Unlock()

	s.engine.SetSink(rec.Annotate)
	s.sendRecordingUpdate(nil, rec, "recording")

	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()
	for _, c := range clients {
		s.subscribeClient(c, rec)
	}
	return rec, nil
}

func (s *Server) handleWSRecordingStop(c *client) {
	if _, _, err := s.stopRecording(); err != nil {
		s.sendError(c, recordingErrCode(err), err.Error())
	}
}

// stopRecording finishes the active capture and persists the workflow.
func (s *Server) stopRecording() (*recorder.Recording, string, error) {
	s.mu.Lock()
	rec := s.active
	s.active = nil
	s.mu.Unlock()

	if rec == nil {
		return nil, "", errNoRecording
	}
	s.engine.SetSink(nil)

	wf, err := rec.Stop()
	if err != nil && wf == nil {
		return nil, "", err
	}
	if err != nil {
		// Capture degraded mid-recording; keep what was gathered.
		log.Printf("recording %s finished with error: %v", rec.ID, err)
	}

	s.subscriptionsMu.Lock()
	for c := range s.subscriptions {
		delete(s.subscriptions, c)
	}
	s.subscriptionsMu.Unlock()

	file, err := s.store.Save(wf)
	if err != nil {
		return rec, "", err
	}

	msg, err := protocol.NewMessage(protocol.TypeRecordingStopped, protocol.RecordingStoppedPayload{
		ID:     rec.ID,
		Name:   rec.Name,
		File:   file,
		Events: len(wf.Events),
	})
	if err == nil {
		s.broadcast(msg)
	}
	return rec, file, nil
}

func (s *Server) handleWSWorkflowDelete(c *client, msg *protocol.Message) {
	var payload protocol.WorkflowDeletePayload
	json.Unmarshal(msg.Payload, &payload)

	if err := s.store.Delete(payload.File); err != nil {
		code := protocol.ErrStorageFailed
		if errors.Is(err, store.ErrNotFound) {
			code = protocol.ErrWorkflowNotFound
		}
		s.sendError(c, code, err.Error())
	}
}

func (s *Server) handleWSReplayStart(c *client, msg *protocol.Message) {
	var payload protocol.ReplayStartPayload
	json.Unmarshal(msg.Payload, &payload)

	if err := s.startReplay(payload.File, payload.Speed); err != nil {
		code := protocol.ErrStorageFailed
		switch {
		case errors.Is(err, store.ErrNotFound):
			code = protocol.ErrWorkflowNotFound
		case errors.Is(err, errReplayActive):
			code = protocol.ErrReplayActive
		case errors.Is(err, errRecordingActive):
			code = protocol.ErrRecordingActive
		}
		s.sendError(c, code, err.Error())
	}
}

var (
	errNoRecording     = errors.New("no active recording")
	errRecordingActive = errors.New("a recording is active")
	errReplayActive    = errors.New("a replay is already running")
	errNoReplay        = errors.New("no replay running")
)

// startReplay loads a stored workflow and replays it in the background,
// broadcasting progress. Replaying while recording is refused: the
// injected input would be captured right back into the recording.
func (s *Server) startReplay(file string, speed float64) error {
	if speed == 0 {
		speed = 1.0
	}

	// Reserve the replay slot before loading: a check-then-set split
	// around the disk read would let two racing callers both pass.
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.active != nil && s.active.Active() {
		s.mu.Unlock()
		cancel()
		return errRecordingActive
	}
	if s.replayCancel != nil {
		s.mu.Unlock()
		cancel()
		return errReplayActive
	}
	s.replayCancel = cancel
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		s.replayCancel = nil
		s.mu.Unlock()
		cancel()
	}

	wf, corrupt, err := s.store.Load(file)
	if err != nil {
		release()
		return err
	}
	if len(corrupt) > 0 {
		log.Printf("workflow %s: skipped %d corrupt lines", file, len(corrupt))
	}

	r, err := replay.New(s.driver, speed)
	if err != nil {
		release()
		return err
	}

	s.broadcastReplayUpdate(file, "running", replay.Stats{}, nil)

	go func() {
		stats, err := r.Run(ctx, wf)
		release()

		state := "done"
		switch {
		case errors.Is(err, context.Canceled):
			state = "cancelled"
			err = nil
		case err != nil:
			state = "failed"
		}
		s.broadcastReplayUpdate(file, state, stats, err)
	}()
	return nil
}

func (s *Server) handleWSReplayCancel(c *client) {
	s.mu.Lock()
	cancel := s.replayCancel
	s.mu.Unlock()
	if cancel == nil {
		s.sendError(c, protocol.ErrNoReplay, errNoReplay.Error())
		return
	}
	cancel()
}

func (s *Server) broadcastReplayUpdate(file, state string, stats replay.Stats, err error) {
	payload := protocol.ReplayUpdatePayload{
		File:     file,
		State:    state,
		Injected: stats.Injected,
		Skipped:  stats.Skipped,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	msg, merr := protocol.NewMessage(protocol.TypeReplayUpdate, payload)
	if merr != nil {
		return
	}
	s.broadcast(msg)
}

func (s *Server) handleWSApps(c *client) {
	apps, err := s.engine.Apps()
	if err != nil {
		s.sendError(c, protocol.ErrAutomationFailed, err.Error())
		return
	}
	entries := make([]protocol.AppEntry, 0, len(apps))
	for _, a := range apps {
		entries = append(entries, protocol.AppEntry{Name: a.Name, PID: a.PID})
	}
	msg, err := protocol.NewMessage(protocol.TypeAppsList, protocol.AppsListPayload{Apps: entries})
	if err != nil {
		return
	}
	s.sendTo(c, msg)
}

func (s *Server) handleWSTree(c *client, msg *protocol.Message) {
	var payload protocol.TreeRequestPayload
	json.Unmarshal(msg.Payload, &payload)

	depth := payload.MaxDepth
	if depth == 0 {
		depth = -1
	}
	tree, err := s.engine.Tree(payload.App, depth)
	if err != nil {
		s.sendError(c, protocol.ErrAutomationFailed, err.Error())
		return
	}
	resp, err := protocol.NewMessage(protocol.TypeTree, protocol.TreePayload{App: payload.App, Tree: tree})
	if err != nil {
		return
	}
	s.sendTo(c, resp)
}

func (s *Server) handleWSActivate(c *client, msg *protocol.Message) {
	var payload protocol.AppPayload
	json.Unmarshal(msg.Payload, &payload)

	if err := s.engine.Activate(payload.App); err != nil {
		s.sendError(c, protocol.ErrAutomationFailed, err.Error())
		return
	}
	resp, err := protocol.NewMessage(protocol.TypeActionResult, protocol.ActionResultPayload{
		App:    payload.App,
		Action: "activate",
	})
	if err != nil {
		return
	}
	s.sendTo(c, resp)
}

func (s *Server) handleWSClick(c *client, msg *protocol.Message) {
	var payload protocol.ClickPayload
	json.Unmarshal(msg.Payload, &payload)

	res, err := s.engine.Click(payload.App, payload.Selector)
	if err != nil {
		s.sendError(c, protocol.ErrAutomationFailed, err.Error())
		return
	}
	s.sendActionResult(c, "click", res)
}

func (s *Server) handleWSTypeText(c *client, msg *protocol.Message) {
	var payload protocol.TypeTextPayload
	json.Unmarshal(msg.Payload, &payload)

	res, err := s.engine.Type(payload.App, payload.Selector, payload.Text)
	if err != nil {
		s.sendError(c, protocol.ErrAutomationFailed, err.Error())
		return
	}
	s.sendActionResult(c, "type", res)
}

func (s *Server) handleWSScrape(c *client, msg *protocol.Message) {
	var payload protocol.AppPayload
	json.Unmarshal(msg.Payload, &payload)

	text, err := s.engine.Scrape(payload.App, "")
	if err != nil {
		s.sendError(c, protocol.ErrAutomationFailed, err.Error())
		return
	}
	resp, err := protocol.NewMessage(protocol.TypeScrapeResult, protocol.ScrapeResultPayload{
		App:  payload.App,
		Text: text,
	})
	if err != nil {
		return
	}
	s.sendTo(c, resp)
}

func (s *Server) sendActionResult(c *client, action string, res automation.ActionResult) {
	msg, err := protocol.NewMessage(protocol.TypeActionResult, protocol.ActionResultPayload{
		App:      res.App,
		Action:   action,
		Selector: res.Selector,
		Role:     res.Role,
		Name:     res.Name,
		Value:    res.Value,
		X:        res.X,
		Y:        res.Y,
	})
	if err != nil {
		return
	}
	s.sendTo(c, msg)
}

// subscribeClient attaches a client to the recording's event stream,
// replaying recent history first.
func (s *Server) subscribeClient(c *client, rec *recorder.Recording) {
	s.subscriptionsMu.Lock()
	if _, exists := s.subscriptions[c]; exists {
		s.subscriptionsMu.Unlock()
		return // Already subscribed.
	}
	subID, ch, history := rec.Subscribe()
	s.subscriptions[c] = subID
	s.subscriptionsMu.Unlock()

	for _, e := range history {
		s.sendEvent(c, rec.ID, e)
	}

	go func() {
		for e := range ch {
			s.sendEvent(c, rec.ID, e)
		}
	}()
}

func (s *Server) sendEvent(c *client, recordingID string, e event.Event) {
	msg, err := protocol.NewMessage(protocol.TypeRecordingEvent, protocol.RecordingEventPayload{
		RecordingID: recordingID,
		Event:       e,
	})
	if err != nil {
		return
	}
	s.sendTo(c, msg)
}

// broadcast sends a message to all connected clients.
func (s *Server) broadcast(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		c.trySend(data)
	}
}

func (s *Server) sendTo(c *client, msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (s *Server) sendError(c *client, code, message string) {
	msg, _ := protocol.NewErrorMessage(code, message)
	s.sendTo(c, msg)
}

func recordingErrCode(err error) string {
	switch {
	case errors.Is(err, recorder.ErrAlreadyRecording):
		return protocol.ErrRecordingActive
	case errors.Is(err, errReplayActive):
		return protocol.ErrReplayActive
	case errors.Is(err, errNoRecording), errors.Is(err, recorder.ErrAlreadyStopped):
		return protocol.ErrNoRecording
	case errors.Is(err, platform.ErrPermissionDenied):
		return protocol.ErrPermissionDenied
	default:
		return protocol.ErrStorageFailed
	}
}

// OnWorkflowsUpdate is the callback for the store watcher. Call from the
// Watcher so every client sees listing changes as they happen.
func (s *Server) OnWorkflowsUpdate(entries []store.Entry) {
	msg, err := protocol.NewMessage(protocol.TypeWorkflowsUpdate, protocol.WorkflowsUpdatePayload{
		Workflows: entries,
	})
	if err != nil {
		return
	}
	s.broadcast(msg)
}
