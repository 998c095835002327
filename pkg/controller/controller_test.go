package controller

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-roboarm/pkg/calibration"
	"github.com/teslashibe/go-roboarm/pkg/output"
	"github.com/teslashibe/go-roboarm/pkg/protocol"
)

const tolerance = 1e-6

var epoch = time.Unix(1_700_000_000, 0)

func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

// recorder collects replies.
type recorder struct {
	mu      sync.Mutex
	replies [][]byte
}

func (r *recorder) reply(data []byte) {
	r.mu.Lock()
	r.replies = append(r.replies, append([]byte(nil), data...))
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replies)
}

func (r *recorder) last(t *testing.T) map[string]any {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		t.Fatal("no reply received")
	}
	var m map[string]any
	if err := json.Unmarshal(r.replies[len(r.replies)-1], &m); err != nil {
		t.Fatalf("reply is not JSON: %v", err)
	}
	return m
}

func newTest(t *testing.T) (*Controller, *output.Memory) {
	t.Helper()
	mem := output.NewMemory()
	c := New(mem, Config{Now: func() time.Time { return epoch }})
	return c, mem
}

// send dispatches payload at ms and returns the decoded reply, or nil when
// none was sent.
func send(t *testing.T, c *Controller, ms int, payload string) map[string]any {
	t.Helper()
	rec := &recorder{}
	c.Dispatch([]byte(payload), rec.reply, at(ms))
	if rec.count() == 0 {
		return nil
	}
	return rec.last(t)
}

// run advances the controller every 5ms over [from, to].
func run(c *Controller, from, to int) {
	for ms := from; ms <= to; ms += 5 {
		c.Advance(at(ms))
	}
}

func wantOK(t *testing.T, reply map[string]any) {
	t.Helper()
	if reply == nil || reply["ok"] != true {
		t.Fatalf("reply = %v, want ok", reply)
	}
}

func wantErr(t *testing.T, reply map[string]any, code protocol.Code) {
	t.Helper()
	if reply == nil {
		t.Fatalf("no reply, want %s", code)
	}
	if reply["ok"] != false || reply["err"] != string(code) {
		t.Fatalf("reply = %v, want err %s", reply, code)
	}
}

func TestNew_InitialState(t *testing.T) {
	c, _ := newTest(t)

	s := c.Snapshot()
	if s.Mode != "idle" || s.Moving {
		t.Errorf("initial snapshot = %+v", s)
	}
	if s.PWMHz != calibration.DefaultPWMHz {
		t.Errorf("PWMHz = %v, want %v", s.PWMHz, calibration.DefaultPWMHz)
	}
}

func TestPing(t *testing.T) {
	c, _ := newTest(t)
	reply := send(t, c, 0, `{"cmd":"ping"}`)
	if reply["pong"] != true {
		t.Errorf("reply = %v, want pong", reply)
	}
}

func TestBadJSONAndUnknown(t *testing.T) {
	c, mem := newTest(t)

	wantErr(t, send(t, c, 0, `{"cmd":`), protocol.CodeBadJSON)
	wantErr(t, send(t, c, 0, `{"cmd":"dance"}`), protocol.CodeUnknownCmd)
	wantErr(t, send(t, c, 0, `{}`), protocol.CodeUnknownCmd)

	if c.Mode() != ModeIdle || mem.Count() != 0 {
		t.Error("rejected commands must not change state")
	}
	if c.Stats().Rejected != 3 {
		t.Errorf("Rejected = %d, want 3", c.Stats().Rejected)
	}
}

func TestFrameScenario(t *testing.T) {
	c, mem := newTest(t)

	wantOK(t, send(t, c, 0, `{"cmd":"frame","deg":[10,-20,15,-5,30],"ms":1000}`))
	if c.Mode() != ModeSingleMove {
		t.Fatalf("mode = %v, want single_move", c.Mode())
	}

	run(c, 0, 500)
	deg := c.Status().Deg
	for i, target := range []float64{10, -20, 15, -5, 30} {
		if math.Abs(deg[i]-target/2) > tolerance {
			t.Errorf("joint %d at 500ms = %v, want %v", i, deg[i], target/2)
		}
	}

	run(c, 505, 1000)
	if got := c.Status().Deg; got != [5]float64{10, -20, 15, -5, 30} {
		t.Errorf("final pose = %v", got)
	}
	if c.Mode() != ModeIdle {
		t.Errorf("mode after completion = %v, want idle", c.Mode())
	}

	last, _ := mem.Last()
	want := calibration.NewTable()
	if last.Pulses != want.Pulses([5]float64{10, -20, 15, -5, 30}) {
		t.Errorf("final pulses = %v", last.Pulses)
	}
}

func TestFrame_HoldsUnspecifiedJoints(t *testing.T) {
	c, _ := newTest(t)

	send(t, c, 0, `{"cmd":"frame","deg":[10,20,30,40,50],"ms":10}`)
	run(c, 0, 10)
	send(t, c, 20, `{"cmd":"frame","deg":[-10],"ms":10}`)
	run(c, 20, 30)

	if got := c.Status().Deg; got != [5]float64{-10, 20, 30, 40, 50} {
		t.Errorf("pose = %v, want unspecified joints held", got)
	}
}

func TestFrame_ClampsAngles(t *testing.T) {
	c, _ := newTest(t)
	send(t, c, 0, `{"cmd":"frame","deg":[120,-300],"ms":0}`)
	run(c, 0, 5)

	deg := c.Status().Deg
	if deg[0] != 90 || deg[1] != -90 {
		t.Errorf("pose = %v, want clamped", deg)
	}
}

func TestRTFrame_NeverReplies(t *testing.T) {
	c, _ := newTest(t)

	if reply := send(t, c, 0, `{"cmd":"rt_frame","deg":[5],"ms":20}`); reply != nil {
		t.Errorf("rt_frame replied %v", reply)
	}
	if reply := send(t, c, 0, `{"cmd":"rt_frame"}`); reply != nil {
		t.Errorf("invalid rt_frame replied %v", reply)
	}
	if c.Mode() != ModeSingleMove {
		t.Errorf("mode = %v, want single_move", c.Mode())
	}
}

func TestHome(t *testing.T) {
	c, _ := newTest(t)
	send(t, c, 0, `{"cmd":"frame","deg":[40,40,40,40,40],"ms":10,"led":50}`)
	run(c, 0, 10)

	wantOK(t, send(t, c, 20, `{"cmd":"home"}`))
	run(c, 20, 420)
	if deg := c.Status().Deg; deg[0] <= 0 || deg[0] >= 40 {
		t.Errorf("home should take 800ms by default, joint 0 at 400ms = %v", deg[0])
	}
	run(c, 425, 820)

	s := c.Status()
	if s.Deg != [5]float64{} {
		t.Errorf("home pose = %v", s.Deg)
	}
	if s.LED != 50 {
		t.Errorf("home should keep brightness, got %d", s.LED)
	}
}

func TestTrajectoryScenario(t *testing.T) {
	c, _ := newTest(t)

	reply := send(t, c, 0, `{"cmd":"trajectory","points":[{"deg":[10],"ms":200},{"deg":[20],"ms":300}]}`)
	wantOK(t, reply)
	if reply["points"] != float64(2) {
		t.Errorf("points = %v, want 2", reply["points"])
	}

	run(c, 0, 250)
	s := c.Status()
	if s.Mode != "trajectory" || !s.TrajectoryMode {
		t.Fatalf("mode at 250ms = %s", s.Mode)
	}
	if s.TrajectoryIndex != 1 || s.TrajectoryPoints != 2 {
		t.Errorf("cursor at 250ms = %d/%d, want 1/2", s.TrajectoryIndex, s.TrajectoryPoints)
	}

	run(c, 255, 600)
	s = c.Status()
	if s.Mode != "idle" || s.TrajectoryMode {
		t.Errorf("mode at 600ms = %s, want idle", s.Mode)
	}
	if s.Deg[0] != 20 {
		t.Errorf("final joint 0 = %v, want 20", s.Deg[0])
	}
}

func TestTrajectory_ExhaustsOnce(t *testing.T) {
	c, _ := newTest(t)
	send(t, c, 0, `{"cmd":"trajectory","points":[{"deg":[1],"ms":10},{"deg":[2],"ms":10},{"deg":[3],"ms":10}]}`)

	idle := 0
	prev := c.Mode()
	for ms := 0; ms <= 100; ms++ {
		c.Advance(at(ms))
		if c.traj.n > 0 && c.traj.cursor > c.traj.n-1 {
			t.Fatalf("cursor %d beyond %d", c.traj.cursor, c.traj.n-1)
		}
		if prev == ModeTrajectory && c.Mode() == ModeIdle {
			idle++
			if ms != 30 {
				t.Errorf("went idle at %dms, want 30ms", ms)
			}
		}
		prev = c.Mode()
	}
	if idle != 1 {
		t.Errorf("transitioned to idle %d times, want 1", idle)
	}
}

func TestTrajectory_LateTickChainsPoints(t *testing.T) {
	c, _ := newTest(t)
	send(t, c, 0, `{"cmd":"trajectory","points":[{"deg":[10],"ms":100},{"deg":[20],"ms":100},{"deg":[30],"ms":100}]}`)

	c.Advance(at(250))
	s := c.Status()
	if s.TrajectoryIndex != 2 {
		t.Errorf("cursor = %d, want 2", s.TrajectoryIndex)
	}
	if math.Abs(s.Deg[0]-25) > tolerance {
		t.Errorf("joint 0 = %v, want 25", s.Deg[0])
	}
}

func TestTrajectory_Rejected(t *testing.T) {
	c, _ := newTest(t)
	send(t, c, 0, `{"cmd":"frame","deg":[5],"ms":100}`)

	wantErr(t, send(t, c, 10, `{"cmd":"trajectory","points":[]}`), protocol.CodePointsRange)
	wantErr(t, send(t, c, 10, `{"cmd":"trajectory","points":[{"deg":[1]},{"ms":2}]}`), protocol.CodeMissingDeg)

	if c.Mode() != ModeSingleMove {
		t.Errorf("mode = %v, rejected trajectory must not change state", c.Mode())
	}
}

func TestFrame_PreemptsTrajectory(t *testing.T) {
	c, _ := newTest(t)
	send(t, c, 0, `{"cmd":"trajectory","points":[{"deg":[10],"ms":100},{"deg":[20],"ms":100}]}`)
	run(c, 0, 50)

	wantOK(t, send(t, c, 50, `{"cmd":"frame","deg":[-10],"ms":100}`))
	if c.Mode() != ModeSingleMove {
		t.Fatalf("mode = %v", c.Mode())
	}
	if s := c.Status(); s.TrajectoryMode || s.TrajectoryPoints != 0 {
		t.Errorf("trajectory not torn down: %+v", s)
	}

	run(c, 55, 200)
	if got := c.Status().Deg[0]; got != -10 {
		t.Errorf("joint 0 = %v, want -10", got)
	}
}

func TestConfigInvertScenario(t *testing.T) {
	c, mem := newTest(t)

	send(t, c, 0, `{"cmd":"frame","deg":[-90],"ms":10}`)
	run(c, 0, 10)
	before, _ := mem.Last()

	wantOK(t, send(t, c, 20, `{"cmd":"config","ch":0,"invert":true}`))
	send(t, c, 20, `{"cmd":"frame","deg":[90],"ms":10}`)
	run(c, 20, 30)
	after, _ := mem.Last()

	if after.Pulses[0] != before.Pulses[0] {
		t.Errorf("inverted +90 pulse = %d, want %d", after.Pulses[0], before.Pulses[0])
	}
	if !c.Calibration()[0].Invert {
		t.Error("calibration not updated")
	}
}

func TestConfig_BadChannel(t *testing.T) {
	c, _ := newTest(t)
	wantErr(t, send(t, c, 0, `{"cmd":"config","ch":7,"invert":true}`), protocol.CodeBadChannel)
	if c.Calibration() != calibration.NewTable() {
		t.Error("calibration changed on error")
	}
}

func TestStreamThrottling(t *testing.T) {
	c, _ := newTest(t)

	reply := send(t, c, 0, `{"cmd":"stream_start","freq":10}`)
	wantOK(t, reply)
	if reply["freq"] != float64(10) {
		t.Errorf("freq = %v", reply["freq"])
	}

	// Frames every 30ms; only those 100ms apart are accepted.
	accepted := 0
	for ms := 0; ms <= 300; ms += 30 {
		before := c.ip.Move()
		if r := send(t, c, ms, `[45]`); r != nil {
			t.Fatalf("stream frame replied %v", r)
		}
		if c.ip.Move() != before {
			accepted++
			if got := c.ip.Move().Duration; got != 100*time.Millisecond {
				t.Errorf("stream move duration = %v, want 100ms", got)
			}
		}
	}
	// accepted at 0, 120, 240
	if accepted != 3 {
		t.Errorf("accepted %d frames, want 3", accepted)
	}
	if got := c.Stats().DroppedFrames; got != 8 {
		t.Errorf("DroppedFrames = %d, want 8", got)
	}
	if c.Mode() != ModeStream {
		t.Errorf("mode = %v, want stream", c.Mode())
	}
}

func TestStream_NotStreaming(t *testing.T) {
	c, _ := newTest(t)
	wantErr(t, send(t, c, 0, `[1,2,3]`), protocol.CodeNotStreaming)
	wantErr(t, send(t, c, 0, `{"cmd":"stream_start","freq":0}`), protocol.CodeFreqRange)
}

func TestStream_StopAndIdempotent(t *testing.T) {
	c, _ := newTest(t)
	send(t, c, 0, `{"cmd":"stream_start","freq":50}`)
	send(t, c, 0, `[30]`)
	run(c, 0, 10)

	wantOK(t, send(t, c, 10, `{"cmd":"stream_stop"}`))
	if c.Mode() != ModeIdle {
		t.Errorf("mode = %v, want idle", c.Mode())
	}
	if c.Status().Moving {
		t.Error("stream_stop should halt motion")
	}
	wantOK(t, send(t, c, 20, `{"cmd":"stream_stop"}`))
	wantErr(t, send(t, c, 30, `[10]`), protocol.CodeNotStreaming)
}

func TestModeExclusivity(t *testing.T) {
	c, _ := newTest(t)

	send(t, c, 0, `{"cmd":"stream_start","freq":20}`)
	wantOK(t, send(t, c, 10, `{"cmd":"trajectory","points":[{"deg":[10],"ms":100}]}`))
	s := c.Status()
	if s.Mode != "trajectory" || s.StreamMode || s.StreamFreq != 0 {
		t.Fatalf("stream not torn down: %+v", s)
	}
	wantErr(t, send(t, c, 20, `[5]`), protocol.CodeNotStreaming)

	wantOK(t, send(t, c, 30, `{"cmd":"stream_start","freq":20}`))
	s = c.Status()
	if s.Mode != "stream" || s.TrajectoryMode || s.TrajectoryPoints != 0 || s.Moving {
		t.Fatalf("trajectory not torn down: %+v", s)
	}

	// Later ticks must not resume the old trajectory.
	run(c, 30, 300)
	if c.Mode() != ModeStream {
		t.Errorf("mode = %v, want stream", c.Mode())
	}
}

func TestNonMotionCommandsKeepStream(t *testing.T) {
	c, _ := newTest(t)
	send(t, c, 0, `{"cmd":"stream_start","freq":20}`)

	for _, cmd := range []string{
		`{"cmd":"ping"}`,
		`{"cmd":"status"}`,
		`{"cmd":"led","val":10}`,
		`{"cmd":"rgb","r":1,"g":2,"b":3}`,
		`{"cmd":"config","ch":1,"offset_us":5}`,
		`{"cmd":"freq","hz":50}`,
	} {
		send(t, c, 10, cmd)
		if c.Mode() != ModeStream {
			t.Fatalf("%s ended the stream", cmd)
		}
	}
}

func TestLED_ImmediateAndPinned(t *testing.T) {
	c, mem := newTest(t)

	wantOK(t, send(t, c, 0, `{"cmd":"led","val":128}`))
	last, ok := mem.Last()
	if !ok || last.Brightness != 128 {
		t.Errorf("led not pushed immediately: %+v", last)
	}

	send(t, c, 10, `{"cmd":"frame","deg":[10],"ms":100,"led":0}`)
	run(c, 10, 40)
	send(t, c, 40, `{"cmd":"led","val":200}`)
	run(c, 45, 120)
	if got := c.Status().LED; got != 200 {
		t.Errorf("led after move = %d, want 200", got)
	}

	wantErr(t, send(t, c, 130, `{"cmd":"led","val":300}`), protocol.CodeLEDRange)
	if got := c.Status().LED; got != 200 {
		t.Errorf("rejected led changed state: %d", got)
	}
}

func TestLED_HoldsAcrossTrajectoryPoints(t *testing.T) {
	c, mem := newTest(t)
	send(t, c, 0, `{"cmd":"trajectory","points":[{"deg":[10],"ms":100},{"deg":[20],"ms":100}]}`)

	run(c, 0, 50)
	wantOK(t, send(t, c, 50, `{"cmd":"led","val":200}`))

	for ms := 55; ms <= 250; ms += 5 {
		c.Advance(at(ms))
		if got := c.Status().LED; got != 200 {
			t.Fatalf("led at %dms = %d, want 200", ms, got)
		}
	}
	if last, _ := mem.Last(); last.Brightness != 200 {
		t.Errorf("last frame brightness = %d, want 200", last.Brightness)
	}
}

func TestTrajectory_PointAuxOverridesLiveValue(t *testing.T) {
	c, _ := newTest(t)
	send(t, c, 0, `{"cmd":"trajectory","points":[{"deg":[10],"ms":100},{"deg":[20],"ms":100,"led":50,"rgb":{"r":0,"g":0,"b":90}}]}`)

	run(c, 0, 50)
	send(t, c, 50, `{"cmd":"rgb","r":10,"g":20,"b":30}`)
	run(c, 55, 250)

	s := c.Status()
	if s.LED != 50 {
		t.Errorf("led = %d, want 50 from the second point", s.LED)
	}
	if s.RGB != (output.RGB{B: 90}) {
		t.Errorf("rgb = %+v, want the second point's color", s.RGB)
	}
}

func TestRGB(t *testing.T) {
	c, mem := newTest(t)
	wantOK(t, send(t, c, 0, `{"cmd":"rgb","r":255,"g":128,"b":0}`))

	last, _ := mem.Last()
	if last.Color != (output.RGB{R: 255, G: 128}) {
		t.Errorf("color = %+v", last.Color)
	}
	wantErr(t, send(t, c, 0, `{"cmd":"rgb","r":-1,"g":0,"b":0}`), protocol.CodeRGBRange)
}

func TestFreq(t *testing.T) {
	c, mem := newTest(t)

	wantOK(t, send(t, c, 0, `{"cmd":"freq","hz":60}`))
	if mem.Frequency() != 60 {
		t.Errorf("sink frequency = %v", mem.Frequency())
	}
	if c.Status().PWMHz != 60 {
		t.Errorf("status pwm_hz = %v", c.Status().PWMHz)
	}
	wantErr(t, send(t, c, 0, `{"cmd":"freq","hz":100}`), protocol.CodePWMFreqRange)

	mem.FailWith = errors.New("bus down")
	wantErr(t, send(t, c, 0, `{"cmd":"freq","hz":55}`), protocol.CodeInternal)
	if c.Status().PWMHz != 60 {
		t.Error("failed frequency change must not update state")
	}
}

func TestStatusReply(t *testing.T) {
	c, _ := newTest(t)
	send(t, c, 0, `{"cmd":"frame","deg":[10],"ms":100}`)

	reply := send(t, c, 50, `{"cmd":"status"}`)
	wantOK(t, reply)
	if reply["moving"] != true || reply["mode"] != "single_move" {
		t.Errorf("status = %v", reply)
	}
	deg := reply["deg"].([]any)
	if math.Abs(deg[0].(float64)-5) > tolerance {
		t.Errorf("deg[0] = %v, want 5", deg[0])
	}
}

func TestSinkErrorsNotFatal(t *testing.T) {
	c, mem := newTest(t)
	mem.FailWith = errors.New("nack")

	send(t, c, 0, `{"cmd":"frame","deg":[10],"ms":20}`)
	run(c, 0, 30)

	if c.Mode() != ModeIdle {
		t.Errorf("mode = %v, motion should complete despite sink errors", c.Mode())
	}
	if c.Stats().SinkErrors == 0 {
		t.Error("sink errors not counted")
	}
}

type panicSink struct{ output.Memory }

func (p *panicSink) SetFrequency(hz float64) error { panic("driver bug") }

func TestDispatch_RecoversPanic(t *testing.T) {
	c := New(&panicSink{}, Config{})

	wantErr(t, send(t, c, 0, `{"cmd":"freq","hz":50}`), protocol.CodeInternal)
	if c.Stats().Panics != 1 {
		t.Errorf("Panics = %d, want 1", c.Stats().Panics)
	}
	if r := send(t, c, 0, `{"cmd":"ping"}`); r["pong"] != true {
		t.Error("controller should keep serving after a panic")
	}
}

type observer struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (o *observer) Broadcast(data []byte) {
	o.mu.Lock()
	o.msgs = append(o.msgs, data)
	o.mu.Unlock()
}

func (o *observer) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}

func TestStep_BroadcastsOncePerInterval(t *testing.T) {
	c, _ := newTest(t)
	obs := &observer{}
	c.AddObserver(obs)

	for ms := 0; ms <= 2500; ms += 5 {
		c.Step(at(ms))
	}
	if got := obs.count(); got != 2 {
		t.Errorf("broadcasts = %d, want 2", got)
	}

	c.RemoveObserver(obs)
	for ms := 2505; ms <= 4000; ms += 5 {
		c.Step(at(ms))
	}
	if got := obs.count(); got != 2 {
		t.Errorf("removed observer still received broadcasts: %d", got)
	}
}

func TestSubmit_Busy(t *testing.T) {
	c := New(output.NewMemory(), Config{QueueSize: 2})

	for i := 0; i < 2; i++ {
		if err := c.Submit([]byte(`{"cmd":"ping"}`), nil); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if err := c.Submit([]byte(`{"cmd":"ping"}`), nil); !errors.Is(err, ErrBusy) {
		t.Errorf("Submit on full queue = %v, want ErrBusy", err)
	}
	if c.Stats().Busy != 1 {
		t.Errorf("Busy = %d, want 1", c.Stats().Busy)
	}
}

func TestRun_ProcessesSubmissions(t *testing.T) {
	mem := output.NewMemory()
	c := New(mem, Config{Tick: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	replies := make(chan []byte, 1)
	if err := c.Submit([]byte(`{"cmd":"frame","deg":[10],"ms":20}`), func(b []byte) { replies <- b }); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-replies:
		if string(r) != `{"ok":true}` {
			t.Errorf("reply = %s", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no reply from control loop")
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Snapshot().Deg[0] != 10 {
		if time.Now().After(deadline) {
			t.Fatalf("move did not complete, snapshot = %+v", c.Snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	if err := c.Submit([]byte(`{"cmd":"ping"}`), nil); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit after stop = %v, want ErrStopped", err)
	}
}

func TestRun_AnswersQueuedRequestsOnStop(t *testing.T) {
	c := New(output.NewMemory(), Config{Tick: time.Hour})

	rec := &recorder{}
	for i := 0; i < 3; i++ {
		if err := c.Submit([]byte(`{"cmd":"ping"}`), rec.reply); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	silent := &recorder{}
	if err := c.Submit([]byte(`{"cmd":"rt_frame","deg":[1]}`), silent.reply); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}

	if n := rec.count(); n != 3 {
		t.Fatalf("replies = %d, want one per queued ping", n)
	}
	for _, r := range rec.replies {
		if s := string(r); s != `{"pong":true}` && s != `{"ok":false,"err":"internal"}` {
			t.Errorf("reply = %s", s)
		}
	}
	if silent.count() != 0 {
		t.Errorf("rt_frame got %d replies, want none", silent.count())
	}
	if len(c.inbox) != 0 {
		t.Errorf("%d requests left in the inbox", len(c.inbox))
	}
}
