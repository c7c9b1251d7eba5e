package conversation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAppendKeepsOrderAndCopies(t *testing.T) {
	log := NewLog()
	log.Append(NewMessage(RoleUser, "Hi"))
	log.Append(NewMessage(RoleAssistant, "Hello!"))

	msgs := log.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello!", msgs[1].Content)

	msgs[0].Content = "mutated"
	assert.Equal(t, "Hi", log.Messages()[0].Content)
	assert.Equal(t, 2, log.Len())
}

func TestLogSubscribersSeeEveryChange(t *testing.T) {
	log := NewLog()
	var seen []Snapshot
	cancel := log.Subscribe(func(s Snapshot) { seen = append(seen, s) })

	log.SetLoading(true)
	log.SetLoading(true)
	log.Append(NewMessage(RoleUser, "Hi"))
	log.SetLoading(false)
	cancel()
	log.Append(NewMessage(RoleAssistant, "ignored by cancelled subscriber"))

	require.Len(t, seen, 3)
	assert.True(t, seen[0].Loading)
	assert.Empty(t, seen[0].Messages)
	assert.Len(t, seen[1].Messages, 1)
	assert.False(t, seen[2].Loading)
}

func TestLogConcurrentAppends(t *testing.T) {
	log := NewLog()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Append(NewMessage(RoleUser, "x"))
			_ = log.Messages()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, log.Len())
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Assistant ")
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, r)

	_, err = ParseRole("tool")
	assert.Error(t, err)
	assert.False(t, Role("").Valid())
}
