package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/taxgpt/taxgpt/internal/queue"
)

type fakePipeline struct {
	ids []string
	err error
}

func (f *fakePipeline) Process(ctx context.Context, docID string) error {
	f.ids = append(f.ids, docID)
	return f.err
}

func processTask(t *testing.T, docID string) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(queue.ProcessPayload{DocumentID: docID})
	if err != nil {
		t.Fatal(err)
	}
	return asynq.NewTask(queue.ProcessDocumentTask, data)
}

func TestHandleProcess(t *testing.T) {
	pipeline := &fakePipeline{}
	p := NewProcessor(pipeline, nil)

	err := p.handleProcess(context.Background(), processTask(t, "doc-1"))
	if err != nil {
		t.Fatalf("handleProcess: %v", err)
	}
	if len(pipeline.ids) != 1 || pipeline.ids[0] != "doc-1" {
		t.Errorf("processed ids = %v", pipeline.ids)
	}
}

func TestHandleProcessBadPayload(t *testing.T) {
	pipeline := &fakePipeline{}
	p := NewProcessor(pipeline, nil)

	task := asynq.NewTask(queue.ProcessDocumentTask, []byte("not json"))
	if err := p.handleProcess(context.Background(), task); err == nil {
		t.Fatal("expected decode error")
	}
	if len(pipeline.ids) != 0 {
		t.Error("pipeline ran with an undecodable payload")
	}
}

func TestHandleProcessPipelineError(t *testing.T) {
	pipeline := &fakePipeline{err: errors.New("database down")}
	p := NewProcessor(pipeline, nil)

	if err := p.handleProcess(context.Background(), processTask(t, "doc-1")); err == nil {
		t.Fatal("expected pipeline error to propagate")
	}
}
