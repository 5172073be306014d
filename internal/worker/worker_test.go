package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/songlab/api/internal/audio"
	"github.com/songlab/api/internal/client"
	"github.com/songlab/api/internal/model"
	"github.com/songlab/api/internal/pipeline"
	"github.com/songlab/api/internal/poller"
	"github.com/songlab/api/internal/service"
	"github.com/songlab/api/internal/storage"
	"github.com/songlab/api/internal/store"
	"github.com/songlab/api/internal/websocket"
)

// stubClient satisfies client.JobClient without any provider behind it.
type stubClient struct {
	configured bool
	outputs    []string
}

func (s *stubClient) Start(ctx context.Context, in client.StartInput) (client.Handle, error) {
	return client.Handle{TaskID: "stub-task", Kind: in.Kind}, nil
}

func (s *stubClient) Poll(ctx context.Context, h client.Handle) (client.JobStatus, error) {
	return client.JobStatus{State: client.StateSucceeded, Outputs: s.outputs}, nil
}

func (s *stubClient) IsConfigured() bool { return s.configured }

func separationTask(t *testing.T, jobID string, payload model.SeparationJobPayload) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env, err := json.Marshal(map[string]interface{}{"jobId": jobID, "payload": body})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return asynq.NewTask(service.TaskTypeSeparation, env)
}

// An unreachable job store must surface as a handler error so asynq records
// the failure, instead of the task being consumed as if it succeeded.
func TestHandleSeparationSurfacesJobStoreFailure(t *testing.T) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
	})
	jobs := service.NewJobService(redisClient, asynq.NewClient(asynq.RedisClientOpt{Addr: "127.0.0.1:1"}))

	hub := websocket.NewHub()
	go hub.Run()

	w := New(
		jobs,
		pipeline.NewController(store.NewMemoryStore()),
		storage.NewGateway(nil),
		hub,
		&stubClient{configured: true, outputs: []string{
			"https://cdn.example.com/instrumental.wav",
			"https://cdn.example.com/vocal.wav",
		}},
		&stubClient{configured: true},
		&stubClient{},
		audio.NewMerger(),
		poller.Options{Interval: time.Millisecond, MaxAttempts: 3, TransientRetries: 1},
	)

	task := separationTask(t, "job-1", model.SeparationJobPayload{
		ProjectID: "project-1",
		UserID:    "user-1",
		SourceURL: "https://cdn.example.com/source.wav",
	})
	if err := w.HandleSeparation(context.Background(), task); err == nil {
		t.Fatal("progress write failed but the task was consumed without error")
	}
}

func TestHandleSeparationRejectsMalformedTask(t *testing.T) {
	hub := websocket.NewHub()
	go hub.Run()

	w := New(
		service.NewJobService(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), asynq.NewClient(asynq.RedisClientOpt{Addr: "127.0.0.1:1"})),
		pipeline.NewController(store.NewMemoryStore()),
		storage.NewGateway(nil),
		hub,
		&stubClient{configured: true},
		&stubClient{configured: true},
		&stubClient{},
		audio.NewMerger(),
		poller.Options{},
	)

	task := asynq.NewTask(service.TaskTypeSeparation, []byte("not json"))
	if err := w.HandleSeparation(context.Background(), task); err == nil {
		t.Fatal("expected an error for a malformed task envelope")
	}
}
