package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/herdctl/herdctl/internal/domain"
)

func TestExecRuntimeStreamsStdoutLines(t *testing.T) {
	r := NewExecRuntime(func(agent domain.Agent, req ExecuteRequest) []string {
		return []string{"sh", "-c", "echo line-one; echo line-two"}
	}, nil)

	ch, err := r.Execute(context.Background(), ExecuteRequest{Agent: domain.Agent{Name: "scout"}})
	require.NoError(t, err)

	var messages []Message
	for m := range ch {
		messages = append(messages, m)
	}

	require.Len(t, messages, 3)
	require.Equal(t, MessageAssistant, messages[0].Type)
	require.Equal(t, "line-one", messages[0].Content)
	require.Equal(t, "line-two", messages[1].Content)
	require.Equal(t, MessageDone, messages[2].Type)
}

func TestExecRuntimeCancellationClosesChannel(t *testing.T) {
	r := NewExecRuntime(func(agent domain.Agent, req ExecuteRequest) []string {
		return []string{"sh", "-c", "sleep 5"}
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.Execute(ctx, ExecuteRequest{Agent: domain.Agent{Name: "scout"}})
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-drainAll(ch):
		require.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("channel did not close after cancellation")
	}
}

func drainAll(ch <-chan Message) <-chan Message {
	out := make(chan Message)
	go func() {
		for range ch {
		}
		close(out)
	}()
	return out
}

func TestExecRuntimeRejectsEmptyCommand(t *testing.T) {
	r := NewExecRuntime(func(domain.Agent, ExecuteRequest) []string { return nil }, nil)
	_, err := r.Execute(context.Background(), ExecuteRequest{Agent: domain.Agent{Name: "scout"}})
	require.Error(t, err)
}
