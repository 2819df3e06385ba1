package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/normanking/cortexpuppet/internal/character"
	"github.com/normanking/cortexpuppet/internal/config"
	"github.com/normanking/cortexpuppet/internal/landmarks"
	"github.com/normanking/cortexpuppet/internal/logging"
	"github.com/normanking/cortexpuppet/internal/mapper"
	"github.com/normanking/cortexpuppet/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLibrary() *character.Library {
	lib := character.NewLibrary(zerolog.Nop())
	lib.AddTemplate(&character.Template{
		ID:           "fox-face",
		MorphTargets: []character.MorphTarget{{ID: "jaw-open"}, {ID: "smile"}},
	})
	lib.AddCharacter(&character.Character{
		ID:         "fox",
		TemplateID: "fox-face",
		Skeleton:   character.Skeleton{Bones: []character.Bone{{ID: "head"}}},
	})
	lib.AddCharacter(&character.Character{
		ID:       "owl",
		Skeleton: character.Skeleton{Bones: []character.Bone{{ID: "neck"}}},
	})
	return lib
}

func testOptions() Options {
	cfg := config.DefaultConfig()
	return Options{
		Config:  cfg.Server,
		Mapping: cfg.Mapping,
		Library: testLibrary(),
		Logger:  zerolog.Nop(),
	}
}

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/track"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func trackedFrame() *landmarks.Frame {
	pts := make([]landmarks.Point, landmarks.MeshSize)
	for i := range pts {
		pts[i] = landmarks.Point{X: 0.5, Y: 0.5}
	}
	pts[landmarks.LeftEyeInner] = landmarks.Point{X: 0.45, Y: 0.4}
	pts[landmarks.RightEyeInner] = landmarks.Point{X: 0.55, Y: 0.4}
	pts[landmarks.Forehead] = landmarks.Point{X: 0.5, Y: 0.2}
	pts[landmarks.Chin] = landmarks.Point{X: 0.5, Y: 0.8}
	return &landmarks.Frame{
		FaceDetected: true,
		Landmarks:    pts,
		Blendshapes:  []landmarks.Blendshape{{CategoryName: "jawOpen", Score: 0.6}},
		Timestamp:    1000,
	}
}

func send(t *testing.T, ws *websocket.Conn, msg ClientMessage) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(msg))
}

// readUntil skips messages until one of type typ arrives.
func readUntil(t *testing.T, ws *websocket.Conn, typ string) ServerMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg ServerMessage
		require.NoError(t, ws.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

// pump keeps sending f until stop is called. Frames sent while the worker
// is busy are dropped, so tests pump rather than send once.
func pump(ws *websocket.Conn, f *landmarks.Frame) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := ws.WriteJSON(ClientMessage{Type: MsgFrame, Frame: f}); err != nil {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func ptr[T any](v T) *T { return &v }

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, testOptions())

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["sessions"])
}

func TestLibraryEndpoints(t *testing.T) {
	_, ts := newTestServer(t, testOptions())

	resp, err := http.Get(ts.URL + "/api/templates")
	require.NoError(t, err)
	var tmpls []character.Template
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tmpls))
	resp.Body.Close()
	require.Len(t, tmpls, 1)
	assert.Equal(t, "fox-face", tmpls[0].ID)

	resp, err = http.Get(ts.URL + "/api/characters")
	require.NoError(t, err)
	var chars []character.Character
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chars))
	resp.Body.Close()
	require.Len(t, chars, 2)
	assert.Equal(t, "fox", chars[0].ID)
	assert.Equal(t, "owl", chars[1].ID)
}

func TestLogsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testOptions())
	resp, err := http.Get(ts.URL + "/api/logs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	logs, err := logging.New(&logging.Config{Level: logging.LevelInfo, MaxHistory: 10})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logs.Close() })
	zl := logs.Zerolog()
	zl.Info().Msg("first")
	zl.Info().Msg("second")

	opts := testOptions()
	opts.Logs = logs
	_, ts = newTestServer(t, opts)

	resp, err = http.Get(ts.URL + "/api/logs?limit=1")
	require.NoError(t, err)
	var entries []logging.LogEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	resp.Body.Close()
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].Message)

	resp, err = http.Get(ts.URL + "/api/logs?limit=x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testOptions())

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cortexpuppet_frames_mapped_total")
	assert.Contains(t, string(body), "cortexpuppet_active_sessions")
}

func TestTrack_StartMapStop(t *testing.T) {
	srv, ts := newTestServer(t, testOptions())
	ws := dial(t, ts)

	send(t, ws, ClientMessage{Type: MsgStart, CharacterID: "fox", Config: &mapper.ConfigPatch{Smoothing: ptr(false)}})
	started := readUntil(t, ws, MsgStarted)
	require.NotEmpty(t, started.SessionID)
	assert.Equal(t, "fox", started.CharacterID)
	assert.Equal(t, "fox-face", started.TemplateID)
	require.NotNil(t, started.Config)
	assert.False(t, started.Config.Smoothing)
	assert.Equal(t, 1, srv.Sessions())

	stop := pump(ws, trackedFrame())
	res := readUntil(t, ws, MsgResult)
	stop()

	assert.Equal(t, started.SessionID, res.SessionID)
	assert.NotZero(t, res.Seq)
	require.NotNil(t, res.Result)
	assert.InDelta(t, 0.6, res.Result.MorphUpdates["jaw-open"], 1e-9)
	assert.Contains(t, res.Result.BoneRotations, "head")
	assert.True(t, res.Result.HeadTracked)

	send(t, ws, ClientMessage{Type: MsgStop})
	stopped := readUntil(t, ws, MsgStopped)
	assert.Equal(t, started.SessionID, stopped.SessionID)
	assert.Equal(t, 0, srv.Sessions())
}

func TestTrack_NoFace(t *testing.T) {
	_, ts := newTestServer(t, testOptions())
	ws := dial(t, ts)

	send(t, ws, ClientMessage{Type: MsgStart, CharacterID: "fox"})
	readUntil(t, ws, MsgStarted)

	f := trackedFrame()
	f.FaceDetected = false
	stop := pump(ws, f)
	msg := readUntil(t, ws, MsgNoFace)
	stop()
	assert.Nil(t, msg.Result)
	assert.NotZero(t, msg.Seq)
}

func TestTrack_Errors(t *testing.T) {
	_, ts := newTestServer(t, testOptions())
	ws := dial(t, ts)

	send(t, ws, ClientMessage{Type: MsgFrame, Frame: trackedFrame()})
	assert.Equal(t, "no active session", readUntil(t, ws, MsgError).Error)

	send(t, ws, ClientMessage{Type: "dance"})
	assert.Contains(t, readUntil(t, ws, MsgError).Error, "unknown message type")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Contains(t, readUntil(t, ws, MsgError).Error, "invalid message")

	send(t, ws, ClientMessage{Type: MsgStart})
	assert.Equal(t, "characterId is required", readUntil(t, ws, MsgError).Error)

	send(t, ws, ClientMessage{Type: MsgStart, CharacterID: "badger"})
	assert.Contains(t, readUntil(t, ws, MsgError).Error, "not found")

	send(t, ws, ClientMessage{Type: MsgStart, CharacterID: "fox"})
	readUntil(t, ws, MsgStarted)
	send(t, ws, ClientMessage{Type: MsgFrame})
	assert.Equal(t, "frame message without frame", readUntil(t, ws, MsgError).Error)
	send(t, ws, ClientMessage{Type: MsgConfig})
	assert.Equal(t, "config message without config", readUntil(t, ws, MsgError).Error)
}

func TestTrack_DefaultCharacter(t *testing.T) {
	opts := testOptions()
	opts.DefaultCharacter = "owl"
	_, ts := newTestServer(t, opts)
	ws := dial(t, ts)

	send(t, ws, ClientMessage{Type: MsgStart})
	started := readUntil(t, ws, MsgStarted)
	assert.Equal(t, "owl", started.CharacterID)
	assert.Empty(t, started.TemplateID)
}

func TestTrack_RestartSwitchesCharacter(t *testing.T) {
	srv, ts := newTestServer(t, testOptions())
	ws := dial(t, ts)

	send(t, ws, ClientMessage{Type: MsgStart, CharacterID: "fox"})
	first := readUntil(t, ws, MsgStarted)

	send(t, ws, ClientMessage{Type: MsgStart, CharacterID: "owl"})
	second := readUntil(t, ws, MsgStarted)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, "owl", second.CharacterID)
	assert.Empty(t, second.TemplateID)
	assert.Equal(t, 1, srv.Sessions())

	stop := pump(ws, trackedFrame())
	res := readUntil(t, ws, MsgResult)
	stop()
	require.NotNil(t, res.Result)
	assert.Empty(t, res.Result.MorphUpdates)
	assert.Contains(t, res.Result.BoneRotations, "neck")
}

func TestTrack_ConfigAndReset(t *testing.T) {
	_, ts := newTestServer(t, testOptions())
	ws := dial(t, ts)

	send(t, ws, ClientMessage{Type: MsgStart, CharacterID: "fox"})
	readUntil(t, ws, MsgStarted)

	send(t, ws, ClientMessage{Type: MsgConfig, Config: &mapper.ConfigPatch{Sensitivity: ptr(3.0)}})
	ack := readUntil(t, ws, MsgConfig)
	require.NotNil(t, ack.Config)
	assert.Equal(t, 3.0, ack.Config.Sensitivity)
	assert.True(t, ack.Config.Smoothing)

	send(t, ws, ClientMessage{Type: MsgReset})
	assert.NotEmpty(t, readUntil(t, ws, MsgReset).SessionID)
}

func TestApplyMapping(t *testing.T) {
	opts := testOptions()
	srv, ts := newTestServer(t, opts)
	ws := dial(t, ts)

	send(t, ws, ClientMessage{Type: MsgStart, CharacterID: "fox"})
	readUntil(t, ws, MsgStarted)

	m := opts.Mapping
	m.MorphScale = 0.5
	srv.ApplyMapping(m)

	send(t, ws, ClientMessage{Type: MsgConfig, Config: &mapper.ConfigPatch{}})
	ack := readUntil(t, ws, MsgConfig)
	require.NotNil(t, ack.Config)
	assert.Equal(t, 0.5, ack.Config.MorphScale)

	// New sessions start from the applied mapping too.
	other := dial(t, ts)
	send(t, other, ClientMessage{Type: MsgStart, CharacterID: "fox"})
	started := readUntil(t, other, MsgStarted)
	assert.Equal(t, 0.5, started.Config.MorphScale)
}

func TestApplyMapping_KeepsSessionOverrides(t *testing.T) {
	opts := testOptions()
	srv, ts := newTestServer(t, opts)
	ws := dial(t, ts)

	send(t, ws, ClientMessage{Type: MsgStart, CharacterID: "fox", Config: &mapper.ConfigPatch{MorphScale: ptr(2.0)}})
	started := readUntil(t, ws, MsgStarted)
	require.Equal(t, 2.0, started.Config.MorphScale)

	// Reapplying the same file changes nothing.
	srv.ApplyMapping(opts.Mapping)
	m := opts.Mapping
	m.Sensitivity = 4
	srv.ApplyMapping(m)

	send(t, ws, ClientMessage{Type: MsgConfig, Config: &mapper.ConfigPatch{}})
	ack := readUntil(t, ws, MsgConfig)
	require.NotNil(t, ack.Config)
	assert.Equal(t, 2.0, ack.Config.MorphScale)
	assert.Equal(t, 4.0, ack.Config.Sensitivity)
}

func TestTrack_RestartAppliesConfig(t *testing.T) {
	_, ts := newTestServer(t, testOptions())
	ws := dial(t, ts)

	send(t, ws, ClientMessage{Type: MsgStart, CharacterID: "fox"})
	first := readUntil(t, ws, MsgStarted)

	send(t, ws, ClientMessage{Type: MsgStart, CharacterID: "owl", Config: &mapper.ConfigPatch{HeadRotationScale: ptr(0.25)}})
	second := readUntil(t, ws, MsgStarted)
	assert.Equal(t, first.SessionID, second.SessionID)
	require.NotNil(t, second.Config)
	assert.Equal(t, 0.25, second.Config.HeadRotationScale)
}

type recordingSink struct {
	mu       sync.Mutex
	seen     []session.Delivery
	finished []string
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Deliver(ctx context.Context, d session.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, d)
	return nil
}

func (r *recordingSink) Finish(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, sessionID)
	return nil
}

func (r *recordingSink) snapshot() ([]session.Delivery, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Delivery(nil), r.seen...), append([]string(nil), r.finished...)
}

func TestTrack_SharedSinks(t *testing.T) {
	sink := &recordingSink{}
	opts := testOptions()
	opts.Sinks = []session.Sink{sink}
	srv, ts := newTestServer(t, opts)
	ws := dial(t, ts)

	send(t, ws, ClientMessage{Type: MsgStart, CharacterID: "fox"})
	started := readUntil(t, ws, MsgStarted)

	stop := pump(ws, trackedFrame())
	readUntil(t, ws, MsgResult)
	stop()

	// Disconnecting ends the session and finishes its sinks.
	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool {
		_, finished := sink.snapshot()
		return len(finished) == 1 && srv.Sessions() == 0
	}, 2*time.Second, 10*time.Millisecond)

	seen, finished := sink.snapshot()
	require.NotEmpty(t, seen)
	assert.Equal(t, started.SessionID, seen[0].SessionID)
	assert.Equal(t, "fox", seen[0].CharacterID)
	assert.Equal(t, []string{started.SessionID}, finished)
}

func TestCheckOrigin(t *testing.T) {
	opts := testOptions()
	opts.Config.AllowedOrigins = []string{"http://studio.local"}
	_, ts := newTestServer(t, opts)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/track"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://studio.local"}})
	require.NoError(t, err)
	_ = ws.Close()
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	opts := testOptions()
	opts.Config.Addr = "127.0.0.1:0"
	srv := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

// slowFinisher takes a while to finish, like a sink flushing to storage.
type slowFinisher struct {
	finished atomic.Bool
}

func (s *slowFinisher) Name() string { return "slow" }

func (s *slowFinisher) Deliver(ctx context.Context, d session.Delivery) error { return nil }

func (s *slowFinisher) Finish(ctx context.Context, sessionID string) error {
	time.Sleep(50 * time.Millisecond)
	s.finished.Store(true)
	return nil
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestStart_WaitsForSessionsToFinish(t *testing.T) {
	sink := &slowFinisher{}
	opts := testOptions()
	opts.Config.Addr = freeAddr(t)
	opts.Sinks = []session.Sink{sink}
	srv := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- srv.Start(ctx) }()

	var ws *websocket.Conn
	require.Eventually(t, func() bool {
		c, _, err := websocket.DefaultDialer.Dial("ws://"+opts.Config.Addr+"/ws/track", nil)
		if err != nil {
			return false
		}
		ws = c
		return true
	}, 2*time.Second, 10*time.Millisecond)
	defer ws.Close()

	send(t, ws, ClientMessage{Type: MsgStart, CharacterID: "fox"})
	readUntil(t, ws, MsgStarted)
	require.Equal(t, 1, srv.Sessions())

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.True(t, sink.finished.Load(), "session sinks finished before Start returned")
	assert.Equal(t, 0, srv.Sessions())
}
