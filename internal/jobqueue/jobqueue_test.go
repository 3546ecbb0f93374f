package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopFIFO(t *testing.T) {
	q := New()
	q.Push(JobCrate{Name: "foo", Version: "0.1.0"})
	q.Push(JobCrate{Name: "bar", Version: "0.2.0"})

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "foo", first.Name)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "bar", second.Name)
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New()
	done := make(chan JobCrate, 1)
	go func() {
		job, ok := q.Pop()
		if ok {
			done <- job
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(JobCrate{Name: "late"})

	select {
	case job := <-done:
		assert.Equal(t, "late", job.Name)
	case <-time.After(time.Second):
		t.Fatal("Pop never returned the pushed job")
	}
}

func TestCloseUnblocksPop(t *testing.T) {
	q := New()
	result := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		result <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop never unblocked on Close")
	}
}
