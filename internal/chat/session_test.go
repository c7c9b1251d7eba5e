package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/chatrelay/internal/client"
	"github.com/tokligence/chatrelay/internal/conversation"
)

type stubStreamer struct {
	fragments []string
	err       error
	seen      [][]conversation.Message
	loading   []bool
	log       *conversation.Log
	block     chan struct{}
	started   chan struct{}
}

func (s *stubStreamer) Exchange(ctx context.Context, conv []conversation.Message, onUpdate func(string)) (string, error) {
	s.seen = append(s.seen, conv)
	if s.log != nil {
		s.loading = append(s.loading, s.log.Loading())
	}
	if s.started != nil {
		close(s.started)
	}
	if s.block != nil {
		<-s.block
	}
	acc := ""
	for _, f := range s.fragments {
		acc += f
		if onUpdate != nil {
			onUpdate(acc)
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return acc, nil
}

func TestSubmitCommitsReply(t *testing.T) {
	log := conversation.NewLog()
	streamer := &stubStreamer{fragments: []string{"Hel", "lo!"}, log: log}
	session := NewSession(log, streamer, zerolog.Nop())

	var updates []string
	msg, err := session.Submit(context.Background(), "Hi", func(s string) { updates = append(updates, s) })
	require.NoError(t, err)

	assert.Equal(t, conversation.NewMessage(conversation.RoleAssistant, "Hello!"), msg)
	assert.Equal(t, []string{"Hel", "Hello!"}, updates)
	assert.Equal(t, []conversation.Message{
		conversation.NewMessage(conversation.RoleUser, "Hi"),
		conversation.NewMessage(conversation.RoleAssistant, "Hello!"),
	}, log.Messages())
	assert.False(t, log.Loading())
	assert.Equal(t, []bool{true}, streamer.loading, "loading is set before the exchange starts")
	require.Len(t, streamer.seen, 1)
	assert.Equal(t, []conversation.Message{conversation.NewMessage(conversation.RoleUser, "Hi")}, streamer.seen[0])
}

func TestSubmitSendsFullHistory(t *testing.T) {
	log := conversation.NewLog()
	streamer := &stubStreamer{fragments: []string{"ok"}}
	session := NewSession(log, streamer, zerolog.Nop())

	_, err := session.Submit(context.Background(), "one", nil)
	require.NoError(t, err)
	_, err = session.Submit(context.Background(), "two", nil)
	require.NoError(t, err)

	require.Len(t, streamer.seen, 2)
	assert.Equal(t, []conversation.Message{
		conversation.NewMessage(conversation.RoleUser, "one"),
		conversation.NewMessage(conversation.RoleAssistant, "ok"),
		conversation.NewMessage(conversation.RoleUser, "two"),
	}, streamer.seen[1])
	assert.Equal(t, 4, log.Len())
}

func TestSubmitEmptyInput(t *testing.T) {
	log := conversation.NewLog()
	streamer := &stubStreamer{}
	session := NewSession(log, streamer, zerolog.Nop())

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := session.Submit(context.Background(), text, nil)
		assert.ErrorIs(t, err, ErrEmptyInput)
	}
	assert.Zero(t, log.Len())
	assert.Empty(t, streamer.seen)
}

func TestSubmitFailureDiscardsPartial(t *testing.T) {
	log := conversation.NewLog()
	streamer := &stubStreamer{fragments: []string{"partial"}, err: client.ErrTransportInterrupted}
	session := NewSession(log, streamer, zerolog.Nop())

	var snapshots []conversation.Snapshot
	cancel := log.Subscribe(func(s conversation.Snapshot) { snapshots = append(snapshots, s) })
	defer cancel()

	var updates []string
	_, err := session.Submit(context.Background(), "Hi", func(s string) { updates = append(updates, s) })
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrTransportInterrupted)

	assert.Equal(t, []string{"partial"}, updates)
	assert.Equal(t, []conversation.Message{conversation.NewMessage(conversation.RoleUser, "Hi")}, log.Messages())
	assert.False(t, log.Loading())
	assert.False(t, session.InFlight())

	// user message appended, loading on, loading off; nothing in between
	require.Len(t, snapshots, 3)
	assert.False(t, snapshots[0].Loading)
	assert.True(t, snapshots[1].Loading)
	assert.False(t, snapshots[2].Loading)
	assert.Len(t, snapshots[2].Messages, 1)
}

func TestSubmitEmptyReplyIsNotCommitted(t *testing.T) {
	log := conversation.NewLog()
	session := NewSession(log, &stubStreamer{}, zerolog.Nop())

	_, err := session.Submit(context.Background(), "Hi", nil)
	assert.ErrorIs(t, err, ErrEmptyReply)
	assert.Equal(t, 1, log.Len())
	assert.False(t, log.Loading())
}

func TestSubmitRejectsOverlappingExchange(t *testing.T) {
	log := conversation.NewLog()
	streamer := &stubStreamer{fragments: []string{"first"}, block: make(chan struct{}), started: make(chan struct{})}
	session := NewSession(log, streamer, zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = session.Submit(context.Background(), "one", nil)
	}()

	select {
	case <-streamer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first exchange did not start")
	}
	assert.True(t, session.InFlight())

	_, err := session.Submit(context.Background(), "two", nil)
	assert.ErrorIs(t, err, ErrExchangeInFlight)
	assert.Equal(t, 1, log.Len(), "rejected submission must not touch the log")

	close(streamer.block)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.False(t, session.InFlight())
	assert.Equal(t, []conversation.Message{
		conversation.NewMessage(conversation.RoleUser, "one"),
		conversation.NewMessage(conversation.RoleAssistant, "first"),
	}, log.Messages())
}

func TestSubmitWrapsStreamerError(t *testing.T) {
	session := NewSession(conversation.NewLog(), &stubStreamer{err: errors.New("boom")}, zerolog.Nop())
	_, err := session.Submit(context.Background(), "Hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange: boom")
}
