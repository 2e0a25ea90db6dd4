package agent

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/querydesk/internal/domain"
)

func msg(role, content string) domain.ChatMessage {
	return domain.ChatMessage{Role: role, Content: content}
}

func TestSessionGetOrCreate(t *testing.T) {
	s := NewMemorySessionStore()

	_, ok := s.Get("alice")
	assert.False(t, ok)

	first := s.GetOrCreate("alice")
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "alice", first.UserID)
	assert.Empty(t, first.Messages)

	again := s.GetOrCreate("alice")
	assert.Equal(t, first.ID, again.ID)

	other := s.GetOrCreate("bob")
	assert.NotEqual(t, first.ID, other.ID)
	assert.Equal(t, 2, s.Len())
}

func TestSessionSnapshotsAreCopies(t *testing.T) {
	s := NewMemorySessionStore()
	s.Append("alice", msg(domain.RoleUser, "one"))

	snap, ok := s.Get("alice")
	require.True(t, ok)
	snap.Messages[0].Content = "changed"
	snap.Messages = append(snap.Messages, msg(domain.RoleUser, "two"))

	fresh, _ := s.Get("alice")
	require.Len(t, fresh.Messages, 1)
	assert.Equal(t, "one", fresh.Messages[0].Content)

	recent := s.Recent("alice", 5)
	recent[0].Content = "changed"
	fresh, _ = s.Get("alice")
	assert.Equal(t, "one", fresh.Messages[0].Content)
}

func TestSessionRecent(t *testing.T) {
	s := NewMemorySessionStore()
	for i := 1; i <= 5; i++ {
		s.Append("alice", msg(domain.RoleUser, fmt.Sprint(i)))
	}

	contents := func(msgs []domain.ChatMessage) []string {
		out := make([]string, len(msgs))
		for i, m := range msgs {
			out[i] = m.Content
		}
		return out
	}

	assert.Equal(t, []string{"3", "4", "5"}, contents(s.Recent("alice", 3)))
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, contents(s.Recent("alice", 50)))
	assert.Empty(t, s.Recent("alice", 0))
	assert.Empty(t, s.Recent("nobody", 3))
}

func TestSessionAppendNothing(t *testing.T) {
	s := NewMemorySessionStore()
	s.Append("alice")
	assert.Equal(t, 0, s.Len())
}

func TestSessionClear(t *testing.T) {
	s := NewMemorySessionStore()
	before := s.GetOrCreate("alice")
	s.Append("alice", msg(domain.RoleUser, "hi"))

	assert.True(t, s.Clear("alice"))
	assert.False(t, s.Clear("alice"))

	after := s.GetOrCreate("alice")
	assert.NotEqual(t, before.ID, after.ID)
	assert.Empty(t, after.Messages)
}

func TestSessionSweepIdle(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemorySessionStore()
	s.now = func() time.Time { return now }

	s.Append("idle", msg(domain.RoleUser, "old"))
	now = now.Add(20 * time.Minute)
	s.Append("active", msg(domain.RoleUser, "new"))
	now = now.Add(5 * time.Minute)

	assert.Equal(t, 0, s.SweepIdle(0))
	assert.Equal(t, 1, s.SweepIdle(10*time.Minute))

	_, ok := s.Get("idle")
	assert.False(t, ok)
	_, ok = s.Get("active")
	assert.True(t, ok)
}

func TestSessionConcurrentAppend(t *testing.T) {
	s := NewMemorySessionStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append("alice", msg(domain.RoleUser, "x"))
		}()
	}
	wg.Wait()

	sess, _ := s.Get("alice")
	assert.Len(t, sess.Messages, 20)
}
