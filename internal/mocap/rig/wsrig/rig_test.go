package wsrig

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/facecap/internal/mocap/protocol"
	"github.com/banshee-data/facecap/internal/mocap/retarget"
	"github.com/banshee-data/facecap/internal/monitoring"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRig_AnyShape(t *testing.T) {
	r := New(nil)
	assert.True(t, r.SetShapeWeight("あ", 40))
	assert.True(t, r.SetShapeWeight("custom", 10))
	assert.Equal(t, []string{"custom", "あ"}, r.ShapeNames())
	assert.Equal(t, retarget.Identity, r.LocalRotation())
}

func TestRig_FixedShapes(t *testing.T) {
	r := New(nil, "あ", "い")
	assert.True(t, r.SetShapeWeight("い", 25))
	assert.False(t, r.SetShapeWeight("う", 25))
	assert.Equal(t, []string{"あ", "い"}, r.ShapeNames())

	f := r.Frame(epoch, retarget.Euler{})
	assert.Equal(t, map[string]float64{"あ": 0, "い": 25}, f.Weights)
}

func TestRig_BindingDrivenByEngine(t *testing.T) {
	r := New(nil, "あ")
	e := retarget.NewEngine()
	e.Bind(r.Binding())

	cfg := retarget.DefaultConfig()
	cfg.AnglesInRadians = false
	cfg.PitchIndex, cfg.YawIndex, cfg.RollIndex = 0, 1, 2
	cfg.RotationMultiplier = retarget.Vec3{X: 1, Y: 1, Z: 1}
	cfg.Sensitivity = 1

	e.Ingest(protocol.Decode("head#0,90,0|jawOpen-0.5|mouthFunnel-1"), cfg)
	res := e.Apply(cfg)

	assert.Equal(t, 1, res.Unmapped)
	f := r.Frame(epoch, res.Final)
	assert.InDelta(t, 50, f.Weights["あ"], 1e-9)
	want := retarget.EulerToQuat(retarget.Euler{Yaw: 90})
	got := quat.Number{Real: f.Rotation[0], Imag: f.Rotation[1], Jmag: f.Rotation[2], Kmag: f.Rotation[3]}
	assert.InDelta(t, want.Real, got.Real, 1e-9)
	assert.InDelta(t, want.Jmag, got.Jmag, 1e-9)
}

func TestHub_BroadcastToViewer(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	r := New(hub, "あ")
	r.Observe(epoch, retarget.Result{}) // no viewers yet

	conn := dial(t, srv)
	waitFor(t, func() bool { return hub.Clients() == 1 })

	r.SetShapeWeight("あ", 80)
	r.SetLocalRotation(retarget.EulerToQuat(retarget.Euler{Pitch: 10}))
	r.Observe(epoch, retarget.Result{Final: retarget.Euler{Pitch: 10}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	assert.True(t, f.At.Equal(epoch))
	assert.Equal(t, 80.0, f.Weights["あ"])
	assert.Equal(t, 10.0, f.Head.Pitch)
	assert.InDelta(t, 1, f.Rotation[0]*f.Rotation[0]+f.Rotation[1]*f.Rotation[1]+
		f.Rotation[2]*f.Rotation[2]+f.Rotation[3]*f.Rotation[3], 1e-9)

	waitFor(t, func() bool { sent, _ := hub.Stats(); return sent == 1 })
	_, evicted := hub.Stats()
	assert.Equal(t, uint64(0), evicted)
}

func TestHub_ViewerDisconnect(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitFor(t, func() bool { return hub.Clients() == 1 })
	conn.Close()
	waitFor(t, func() bool { return hub.Clients() == 0 })
}

func TestHub_EvictsSlowViewer(t *testing.T) {
	hub := NewHub()
	slow := &client{send: make(chan []byte, 1), addr: "slow"}
	hub.clients[slow] = struct{}{}

	hub.Broadcast([]byte("1"))
	assert.Equal(t, 1, hub.Clients())
	hub.Broadcast([]byte("2"))
	assert.Equal(t, 0, hub.Clients())

	_, evicted := hub.Stats()
	assert.Equal(t, uint64(1), evicted)

	// The queued frame is still delivered before the close.
	msg, ok := <-slow.send
	assert.True(t, ok)
	assert.Equal(t, "1", string(msg))
	_, ok = <-slow.send
	assert.False(t, ok)
}

func TestHub_CloseRefusesViewers(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitFor(t, func() bool { return hub.Clients() == 1 })

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	late := dial(t, srv)
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
	assert.Equal(t, 0, hub.Clients())
}
