package workers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dawos/agent/internal/models"
	"github.com/dawos/agent/internal/monitor"
	"github.com/dawos/agent/internal/services"
)

// Publisher is the pub/sub side of *redis.Client.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// AnalysisChannel is where per-user analyses and recommendations are published.
func AnalysisChannel(userID string) string { return "user:" + userID + ":analysis" }

// Event types published on AnalysisChannel.
const (
	EventFrameAck       = "frame_ack"
	EventFrameRejected  = "frame_rejected"
	EventMinuteAnalysis = "minute_analysis"
	EventRecommendation = "agent_recommendation"
)

// Scheduler runs background work without waiting for it. *Pool satisfies it.
type Scheduler interface {
	Go(ctx context.Context, fn func(context.Context) error, onErr func(error)) error
}

// FrameProcessor applies one queued frame: buffer it, analyse a full
// window and, when the rules call for it, ask the agent for an intervention.
type FrameProcessor struct {
	Buffers   services.BufferService
	Agent     services.AgentService
	Publisher Publisher
	Logger    *logrus.Logger
	Now       func() time.Time

	// Pool runs consultations. Without one they get a plain goroutine.
	Pool           Scheduler
	ConsultTimeout time.Duration

	wg sync.WaitGroup
}

func (p *FrameProcessor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

func (p *FrameProcessor) logger() *logrus.Logger {
	if p.Logger == nil {
		p.Logger = logrus.New()
	}
	return p.Logger
}

// Process applies one frame for userID. Frames without a timestamp are
// stamped with receivedAt, or the current time when that is zero.
func (p *FrameProcessor) Process(ctx context.Context, userID, payload string, receivedAt time.Time) error {
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}

	frame, err := monitor.ParseFrame(payload, receivedAt)
	if err != nil {
		p.publish(ctx, userID, map[string]any{"type": EventFrameRejected, "message": err.Error()})
		return err
	}
	res, err := p.Buffers.Ingest(ctx, userID, frame)
	if err != nil {
		p.publish(ctx, userID, map[string]any{"type": EventFrameRejected, "message": err.Error()})
		return err
	}

	ack := res.Ack
	p.publish(ctx, userID, map[string]any{
		"type":               EventFrameAck,
		"buffer_size":        ack.Fill,
		"capacity":           ack.Capacity,
		"ready_for_analysis": ack.Ready,
	})

	for _, sum := range res.Analyses {
		p.publish(ctx, userID, map[string]any{"type": EventMinuteAnalysis, "analysis": sum})
		if sum.InterventionNeeded && p.Agent != nil {
			p.consult(userID, sum)
		}
	}
	return nil
}

// consult runs detached from the frame's context.
func (p *FrameProcessor) consult(userID string, sum models.MinuteSummary) {
	timeout := p.ConsultTimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	log := p.logger().WithFields(logrus.Fields{"user_id": userID, "minute": sum.Index})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	p.wg.Add(1)
	finish := func() {
		cancel()
		p.wg.Done()
	}
	run := func(ctx context.Context) error {
		defer finish()
		p.runConsult(ctx, userID, sum)
		return nil
	}

	if p.Pool == nil {
		go func() { _ = run(ctx) }()
		return
	}
	onErr := func(err error) {
		// only reached when no slot was acquired
		log.WithError(err).Warn("intervention consult not scheduled")
		finish()
	}
	if err := p.Pool.Go(ctx, run, onErr); err != nil {
		log.WithError(err).Warn("intervention consult not scheduled")
		finish()
	}
}

func (p *FrameProcessor) runConsult(ctx context.Context, userID string, sum models.MinuteSummary) {
	reply, err := p.Agent.Consult(ctx, userID, sum)
	if err != nil {
		p.logger().WithError(err).WithField("user_id", userID).Warn("intervention consult failed")
		return
	}
	p.publish(ctx, userID, map[string]any{
		"type":    EventRecommendation,
		"minute":  sum.Index,
		"run_id":  reply.RunID,
		"answer":  reply.FinalAnswer,
		"success": reply.Success,
	})
}

// Drain waits for detached consultations.
func (p *FrameProcessor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *FrameProcessor) publish(ctx context.Context, userID string, event map[string]any) {
	if p.Publisher == nil {
		return
	}
	event["user_id"] = userID
	body, err := json.Marshal(event)
	if err != nil {
		p.logger().WithError(err).Warn("event encode failed")
		return
	}
	if err := p.Publisher.Publish(ctx, AnalysisChannel(userID), string(body)).Err(); err != nil {
		p.logger().WithError(err).WithField("user_id", userID).Warn("event publish failed")
	}
}
