package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"desktrace/internal/event"
	"desktrace/internal/platform"
	"desktrace/internal/protocol"
	"desktrace/internal/recorder"
	"desktrace/internal/store"
	"desktrace/internal/uitree"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) (*Server, *platform.Sim) {
	t.Helper()
	sim := platform.NewSim()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	rec := recorder.New(sim, recorder.Config{
		PollInterval: 10 * time.Millisecond,
		TextTimeout:  50 * time.Millisecond,
	})
	return New(rec, st, sim), sim
}

func dialWS(t *testing.T, httpSrv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	return ws
}

func readUntil(t *testing.T, ws *websocket.Conn, msgType string) *protocol.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if msg.Type == msgType {
			return &msg
		}
	}
}

func send(t *testing.T, ws *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	msg := map[string]interface{}{
		"type":      msgType,
		"payload":   payload,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestServer_Handler(t *testing.T) {
	srv, _ := newTestServer(t)
	if srv.Handler() == nil {
		t.Fatal("expected non-nil handler")
	}
}

func TestServer_ListWorkflowsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("GET", "/workflows", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var entries []store.Entry
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != 0 {
		t.Errorf("expected empty list, got %d entries", len(entries))
	}
}

func TestServer_StartRecordingBadBody(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/recordings", strings.NewReader("invalid json"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestServer_StopWithoutRecording(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/recordings/stop", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
}

func TestServer_RecordingPermissionDenied(t *testing.T) {
	srv, sim := newTestServer(t)
	sim.SetPermissions(platform.Permissions{})
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/recordings", strings.NewReader(`{"name":"demo"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", w.Code)
	}
}

func TestServer_RecordStopRoundTrip(t *testing.T) {
	srv, sim := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/recordings", strings.NewReader(`{"name":"rest demo"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d (%s)", w.Code, w.Body.String())
	}

	// A second start conflicts.
	req = httptest.NewRequest("POST", "/recordings", strings.NewReader(`{"name":"again"}`))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for second start, got %d", w.Code)
	}

	sim.Send(platform.RawEvent{Kind: platform.RawClick, X: 1, Y: 2, Clicks: 1})
	time.Sleep(50 * time.Millisecond)

	req = httptest.NewRequest("POST", "/recordings/stop", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var stopResp map[string]string
	json.NewDecoder(w.Body).Decode(&stopResp)
	file := stopResp["file"]
	if file == "" {
		t.Fatal("expected saved file name")
	}

	// The saved workflow is retrievable and deletable.
	req = httptest.NewRequest("GET", "/workflows/"+file, nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get workflow: expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest("DELETE", "/workflows/"+file, nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("delete workflow: expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/workflows/"+file, nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w.Code)
	}
}

func TestServer_ReplayNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/replays", strings.NewReader(`{"file":"missing.jsonl"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestServer_AppEndpoints(t *testing.T) {
	srv, sim := newTestServer(t)
	sim.SetTree("Shop", &uitree.Node{Role: "Window", Name: "Checkout", Children: []*uitree.Node{
		{Role: "Button", Name: "Submit"},
	}})
	handler := srv.Handler()

	req := httptest.NewRequest("GET", "/apps", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("apps: expected 200, got %d", w.Code)
	}
	var apps []platform.AppInfo
	json.NewDecoder(w.Body).Decode(&apps)
	if len(apps) != 1 || apps[0].Name != "Shop" {
		t.Errorf("unexpected apps: %+v", apps)
	}

	req = httptest.NewRequest("GET", "/apps/Shop/tree?depth=1", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("tree: expected 200, got %d", w.Code)
	}
	var tree uitree.Node
	json.NewDecoder(w.Body).Decode(&tree)
	if tree.Role != "Window" || len(tree.Children) != 1 {
		t.Errorf("unexpected tree: %+v", tree)
	}

	req = httptest.NewRequest("GET", "/apps/Shop/text", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("text: expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/apps/Missing/tree", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown app, got %d", w.Code)
	}
}

func TestServer_WebSocketRecordingFlow(t *testing.T) {
	srv, sim := newTestServer(t)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	ws := dialWS(t, httpSrv)
	defer ws.Close()

	// The server greets with the workflow listing.
	readUntil(t, ws, protocol.TypeWorkflowsUpdate)

	send(t, ws, protocol.TypeRecordingStart, map[string]interface{}{"name": "ws demo"})
	update := readUntil(t, ws, protocol.TypeRecordingUpdate)

	var up protocol.RecordingUpdatePayload
	json.Unmarshal(update.Payload, &up)
	if up.Name != "ws demo" || up.State != "recording" {
		t.Fatalf("unexpected update: %+v", up)
	}

	// Captured events stream to the subscriber.
	sim.Send(platform.RawEvent{Kind: platform.RawClick, X: 7, Y: 8, Clicks: 1})
	frame := readUntil(t, ws, protocol.TypeRecordingEvent)
	var ep protocol.RecordingEventPayload
	if err := json.Unmarshal(frame.Payload, &ep); err != nil {
		t.Fatalf("event payload: %v", err)
	}
	if ep.Event.Kind != event.KindClick || ep.Event.X != 7 {
		t.Errorf("unexpected streamed event: %+v", ep.Event)
	}

	send(t, ws, protocol.TypeRecordingStop, nil)
	stopped := readUntil(t, ws, protocol.TypeRecordingStopped)
	var sp protocol.RecordingStoppedPayload
	json.Unmarshal(stopped.Payload, &sp)
	if sp.File == "" || sp.Events == 0 {
		t.Errorf("unexpected stopped payload: %+v", sp)
	}
}

func TestServer_WebSocketAutomation(t *testing.T) {
	srv, sim := newTestServer(t)
	sim.SetTree("Shop", &uitree.Node{Role: "Window", Name: "Checkout", Children: []*uitree.Node{
		{Role: "Button", Name: "Submit", Frame: uitree.Frame{X: 10, Y: 10, Width: 20, Height: 20}},
	}})
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	ws := dialWS(t, httpSrv)
	defer ws.Close()
	readUntil(t, ws, protocol.TypeWorkflowsUpdate)

	send(t, ws, protocol.TypeClick, map[string]interface{}{"app": "Shop", "selector": "role:Button"})
	res := readUntil(t, ws, protocol.TypeActionResult)
	var rp protocol.ActionResultPayload
	json.Unmarshal(res.Payload, &rp)
	if rp.Action != "click" || rp.Name != "Submit" {
		t.Errorf("unexpected action result: %+v", rp)
	}
	if in := sim.Injected(); len(in) != 2 || in[1].Op != "click" {
		t.Errorf("unexpected injections: %+v", in)
	}

	send(t, ws, protocol.TypeClick, map[string]interface{}{"app": "Shop", "selector": "name:Missing"})
	errMsg := readUntil(t, ws, protocol.TypeError)
	var errp protocol.ErrorPayload
	json.Unmarshal(errMsg.Payload, &errp)
	if errp.Code != protocol.ErrAutomationFailed {
		t.Errorf("unexpected error code: %+v", errp)
	}
}

func TestServer_WebSocketInvalidMessage(t *testing.T) {
	srv, _ := newTestServer(t)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	ws := dialWS(t, httpSrv)
	defer ws.Close()
	readUntil(t, ws, protocol.TypeWorkflowsUpdate)

	ws.WriteMessage(websocket.TextMessage, []byte("not json"))

	resp := readUntil(t, ws, protocol.TypeError)
	var p protocol.ErrorPayload
	json.Unmarshal(resp.Payload, &p)
	if p.Code != protocol.ErrInvalidMessage {
		t.Errorf("expected invalid message code, got %+v", p)
	}
}

func TestServer_DisconnectDuringEventStream(t *testing.T) {
	srv, _ := newTestServer(t)

	for round := 0; round < 20; round++ {
		c := &client{send: make(chan []byte, 4), server: srv}
		srv.clientsMu.Lock()
		srv.clients[c] = true
		srv.clientsMu.Unlock()

		rec, err := srv.startRecording(fmt.Sprintf("burst %d", round))
		if err != nil {
			t.Fatalf("start: %v", err)
		}

		// Flood the subscription while the client disconnects; the drain
		// goroutine must never write to a closed send channel.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 200; i++ {
				rec.Annotate("Button", "Submit", "")
			}
		}()

		srv.removeClient(c)
		<-done

		if _, _, err := srv.stopRecording(); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}
}

func TestServer_SingleReplayAtATime(t *testing.T) {
	srv, _ := newTestServer(t)

	wf := event.NewWorkflow("race")
	wf.Append(event.Click(2000, 1, 1, 0, 1, 0))
	file, err := srv.store.Save(wf)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	for round := 0; round < 25; round++ {
		var accepted int32
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if srv.startReplay(file, 1) == nil {
					atomic.AddInt32(&accepted, 1)
				}
			}()
		}
		wg.Wait()
		if n := atomic.LoadInt32(&accepted); n != 1 {
			t.Fatalf("round %d: %d replays accepted, want 1", round, n)
		}

		srv.mu.Lock()
		cancel := srv.replayCancel
		srv.mu.Unlock()
		if cancel == nil {
			t.Fatal("accepted replay registered no cancel")
		}
		cancel()

		deadline := time.Now().Add(2 * time.Second)
		for {
			srv.mu.Lock()
			running := srv.replayCancel != nil
			srv.mu.Unlock()
			if !running {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("replay slot never released")
			}
			time.Sleep(2 * time.Millisecond)
		}
	}
}

func TestServer_CORSHeaders(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("OPTIONS", "/workflows", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS Allow-Origin header")
	}
}
