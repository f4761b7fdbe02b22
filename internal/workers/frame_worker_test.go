package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dawos/agent/internal/agent"
	"github.com/dawos/agent/internal/models"
	"github.com/dawos/agent/internal/monitor"
	"github.com/dawos/agent/internal/repositories/memory"
	"github.com/dawos/agent/internal/services"
)

type fakePublisher struct {
	delay time.Duration

	mu     sync.Mutex
	events []map[string]any
	chans  []string
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var ev map[string]any
	_ = json.Unmarshal([]byte(message.(string)), &ev)
	f.events = append(f.events, ev)
	f.chans = append(f.chans, channel)
	return redis.NewIntResult(1, nil)
}

func (f *fakePublisher) count(eventType string) int {
	n := 0
	for _, t := range f.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e["type"].(string))
	}
	return out
}

type fakeAgent struct {
	services.AgentService
	mu    sync.Mutex
	calls []models.MinuteSummary
}

func (f *fakeAgent) Consult(_ context.Context, userID string, sum models.MinuteSummary) (*services.AgentReply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sum)
	f.mu.Unlock()
	return &services.AgentReply{RunID: "run-1", UserID: userID, Result: &agent.Result{FinalAnswer: "Try alpha protocol", Success: true}}, nil
}

func newProcessor() (*FrameProcessor, *fakePublisher, *fakeAgent) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	table := monitor.NewTable()
	buf := services.NewBufferService(table, memory.NewFrameLog(), nil, log)
	pub := &fakePublisher{}
	ag := &fakeAgent{}
	return &FrameProcessor{Buffers: buf, Agent: ag, Publisher: pub, Logger: log}, pub, ag
}

func TestProcessorCalmWindow(t *testing.T) {
	p, pub, ag := newProcessor()
	ctx := context.Background()

	for i := 0; i < monitor.WindowSize; i++ {
		if err := p.Process(ctx, "u1", "CALM", time.Time{}); err != nil {
			t.Fatal(err)
		}
	}
	_ = p.Drain(ctx)

	types := pub.types()
	if len(types) != monitor.WindowSize+1 || types[len(types)-1] != EventMinuteAnalysis {
		t.Fatalf("events: %v", types)
	}
	if pub.chans[0] != "user:u1:analysis" {
		t.Fatalf("channel %s", pub.chans[0])
	}
	if len(ag.calls) != 0 {
		t.Fatal("calm window should not consult the agent")
	}
	if st := p.Buffers.Snapshot("u1"); len(st.Buffer) != 0 || len(st.Summaries) != 1 {
		t.Fatalf("window not analysed: %+v", st)
	}
}

func TestProcessorRisingWindowConsults(t *testing.T) {
	p, pub, ag := newProcessor()
	ctx := context.Background()

	for _, e := range []string{"NEUTRAL", "MILD_STRESS", "STRESSED", "PANIC"} {
		for i := 0; i < 3; i++ {
			if err := p.Process(ctx, "u1", `{"emotion": "`+e+`", "confidence": 0.7}`, time.Time{}); err != nil {
				t.Fatal(err)
			}
		}
	}
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Drain(waitCtx); err != nil {
		t.Fatal(err)
	}

	if len(ag.calls) != 1 || ag.calls[0].Trend != models.TrendRapidlyIncreasing {
		t.Fatalf("consults: %+v", ag.calls)
	}
	types := pub.types()
	if types[len(types)-1] != EventRecommendation {
		t.Fatalf("events: %v", types)
	}
	last := pub.events[len(pub.events)-1]
	if last["answer"] != "Try alpha protocol" || last["run_id"] != "run-1" {
		t.Fatalf("recommendation: %v", last)
	}
}

func TestProcessorRejectsBadFrame(t *testing.T) {
	p, pub, _ := newProcessor()
	if err := p.Process(context.Background(), "u1", `{"emotion": "CALM", "confidence": 7}`, time.Time{}); err == nil {
		t.Fatal("want error")
	}
	if types := pub.types(); len(types) != 1 || types[0] != EventFrameRejected {
		t.Fatalf("events: %v", types)
	}
	if p.Buffers.Snapshot("u1") != nil {
		t.Fatal("rejected frame should not create state")
	}
}

func TestHandleMsgSkipsIncompleteEntries(t *testing.T) {
	p, _, _ := newProcessor()
	w := &FrameWorkerPool{Processor: p, Logger: p.Logger}

	cases := []struct {
		name   string
		values map[string]interface{}
		want   bool
	}{
		{"missing user", map[string]interface{}{"payload": "CALM"}, false},
		{"missing payload", map[string]interface{}{"user_id": "u1"}, false},
		{"ok", map[string]interface{}{"user_id": "u1", "payload": " CALM "}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := w.handleMsg(context.Background(), redis.XMessage{ID: "1-0", Values: tc.values})
			if got != tc.want {
				t.Fatalf("got %v", got)
			}
		})
	}
	if !strings.EqualFold(p.Buffers.Snapshot("u1").Buffer[0].Emotion, "calm") {
		t.Fatal("frame not applied")
	}
}

func TestProcessorConcurrentFramesForOneUser(t *testing.T) {
	p, pub, _ := newProcessor()
	pub.delay = 200 * time.Microsecond
	ctx := context.Background()

	const windows = 4
	const senders = 8
	perSender := windows * monitor.WindowSize / senders

	var wg sync.WaitGroup
	errs := make(chan error, windows*monitor.WindowSize)
	for g := 0; g < senders; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if err := p.Process(ctx, "u1", "CALM", time.Time{}); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Process: %v", err)
	}
	_ = p.Drain(ctx)

	st := p.Buffers.Snapshot("u1")
	if len(st.Buffer) != 0 || len(st.Summaries) != windows {
		t.Fatalf("buffer=%d summaries=%d", len(st.Buffer), len(st.Summaries))
	}
	if n := pub.count(EventFrameRejected); n != 0 {
		t.Fatalf("%d frames rejected", n)
	}
	if n := pub.count(EventMinuteAnalysis); n != windows {
		t.Fatalf("analyses published = %d, want %d", n, windows)
	}
}

type countingScheduler struct {
	pool  *Pool
	calls atomic.Int32
}

func (s *countingScheduler) Go(ctx context.Context, fn func(context.Context) error, onErr func(error)) error {
	s.calls.Add(1)
	return s.pool.Go(ctx, fn, onErr)
}

func TestProcessorOrdersWindowByReceivedTime(t *testing.T) {
	p, _, ag := newProcessor()
	sched := &countingScheduler{pool: NewPool(1)}
	p.Pool = sched
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	labels := []string{"NEUTRAL", "MILD_STRESS", "STRESSED", "PANIC"}
	// newest first
	for i := monitor.WindowSize - 1; i >= 0; i-- {
		at := base.Add(time.Duration(i) * 5 * time.Second)
		if err := p.Process(ctx, "u1", labels[i/3], at); err != nil {
			t.Fatal(err)
		}
	}
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Drain(waitCtx); err != nil {
		t.Fatal(err)
	}
	if err := sched.pool.Shutdown(waitCtx); err != nil {
		t.Fatal(err)
	}

	ag.mu.Lock()
	defer ag.mu.Unlock()
	if len(ag.calls) != 1 || ag.calls[0].Trend != models.TrendRapidlyIncreasing {
		t.Fatalf("consults: %+v", ag.calls)
	}
	if n := sched.calls.Load(); n != 1 {
		t.Fatalf("consults scheduled on pool = %d, want 1", n)
	}
}

func TestProcessorConsultOnClosedPool(t *testing.T) {
	p, pub, ag := newProcessor()
	pool := NewPool(1)
	_ = pool.Shutdown(context.Background())
	p.Pool = pool
	ctx := context.Background()

	for _, e := range []string{"NEUTRAL", "MILD_STRESS", "STRESSED", "PANIC"} {
		for i := 0; i < 3; i++ {
			if err := p.Process(ctx, "u1", e, time.Time{}); err != nil {
				t.Fatal(err)
			}
		}
	}
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Drain(waitCtx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(ag.calls) != 0 || pub.count(EventRecommendation) != 0 {
		t.Fatalf("consult ran on a closed pool: %+v", ag.calls)
	}
}

func TestShardForIsStable(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 100; i++ {
		user := fmt.Sprintf("user-%d", i)
		s := shardFor(user, 4)
		if s < 0 || s >= 4 {
			t.Fatalf("shard %d out of range", s)
		}
		if shardFor(user, 4) != s {
			t.Fatalf("%s moved shards", user)
		}
		seen[s] = true
	}
	if len(seen) < 2 {
		t.Fatalf("users all landed on %v", seen)
	}
	if shardFor("anyone", 1) != 0 || shardFor("anyone", 0) != 0 {
		t.Fatal("single shard must be 0")
	}
}

type fakeStream struct {
	batch []redis.XMessage

	mu    sync.Mutex
	reads int
	acked []string
}

func (f *fakeStream) XGroupCreateMkStream(context.Context, string, string, string) *redis.StatusCmd {
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeStream) XReadGroup(ctx context.Context, _ *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.mu.Lock()
	f.reads++
	first := f.reads == 1
	f.mu.Unlock()
	if first {
		return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: DefaultFrameStream, Messages: f.batch}}, nil)
	}
	<-ctx.Done()
	return redis.NewXStreamSliceCmdResult(nil, ctx.Err())
}

func (f *fakeStream) XAck(_ context.Context, _, _ string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return redis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeStream) ackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acked)
}

func TestWorkerPoolKeepsPerUserOrder(t *testing.T) {
	p, pub, _ := newProcessor()
	pub.delay = 100 * time.Microsecond

	users := []string{"alice", "bob", "carol"}
	const perUser = monitor.WindowSize - 2
	var batch []redis.XMessage
	for i := 0; i < perUser; i++ {
		for _, u := range users {
			payload := fmt.Sprintf(`{"emotion": "CALM", "confidence": %.2f}`, float64(i+1)/100)
			batch = append(batch, redis.XMessage{
				ID:     fmt.Sprintf("%d-%s", i, u),
				Values: map[string]interface{}{"user_id": u, "payload": payload},
			})
		}
	}
	stream := &fakeStream{batch: batch}
	w := &FrameWorkerPool{Redis: stream, Processor: p, NumWorkers: 4, Logger: p.Logger}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for stream.ackCount() < len(batch) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	waitCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if err := w.Wait(waitCtx); err != nil {
		t.Fatal(err)
	}

	if n := stream.ackCount(); n != len(batch) {
		t.Fatalf("acked %d of %d", n, len(batch))
	}
	for _, u := range users {
		st := p.Buffers.Snapshot(u)
		if st == nil || len(st.Buffer) != perUser {
			t.Fatalf("%s: state %+v", u, st)
		}
		for i, f := range st.Buffer {
			if want := float64(i+1) / 100; f.Confidence != want {
				t.Fatalf("%s frame %d confidence %.2f, want %.2f", u, i, f.Confidence, want)
			}
		}
	}
}
