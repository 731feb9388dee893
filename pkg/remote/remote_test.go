package remote

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedDeliversLatestInOrder(t *testing.T) {
	var mu sync.Mutex
	var got [][]int
	first := make(chan struct{})
	release := make(chan struct{})
	f := NewFeed(func(s []int) {
		mu.Lock()
		got = append(got, s)
		n := len(got)
		mu.Unlock()
		if n == 1 {
			close(first)
			<-release
		}
	})
	defer f.Cancel()

	f.Push([]int{1})
	<-first
	// delivered while the first callback is blocked: only the latest survives
	f.Push([]int{1, 2})
	f.Push([]int{1, 2, 3})
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][]int{{1}, {1, 2, 3}}, got)
}

func TestFeedCancelStopsDelivery(t *testing.T) {
	calls := make(chan []int, 4)
	f := NewFeed(func(s []int) { calls <- s })
	f.Cancel()
	f.Cancel()
	f.Push([]int{1})

	select {
	case <-f.Exited():
	case <-time.After(time.Second):
		t.Fatal("feed goroutine did not exit")
	}
	assert.Empty(t, calls)
	assert.True(t, f.Cancelled())
}

func TestFeedCancelFromCallback(t *testing.T) {
	var f *Feed[int]
	done := make(chan struct{})
	f = NewFeed(func(s []int) {
		f.Cancel()
		close(done)
	})
	f.Push([]int{1})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not run")
	}
	<-f.Exited()
}

func TestFeedCopiesSnapshot(t *testing.T) {
	out := make(chan []int, 1)
	f := NewFeed(func(s []int) { out <- s })
	defer f.Cancel()
	in := []int{1, 2}
	f.Push(in)
	in[0] = 99
	got := <-out
	assert.Equal(t, []int{1, 2}, got)
}

func TestOutageReporterReportsOncePerOutage(t *testing.T) {
	var errs []error
	r := NewOutageReporter(func(err error) { errs = append(errs, err) })

	r.Report(ErrRemoteUnavailable)
	r.Report(errors.New("still down"))
	r.Recovered()
	r.Report(ErrRemoteUnavailable)

	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], ErrRemoteUnavailable)
}

func TestSubscriptionFuncRunsOnce(t *testing.T) {
	n := 0
	s := NewSubscriptionFunc(func() { n++ })
	s.Cancel()
	s.Cancel()
	assert.Equal(t, 1, n)
	assert.NotPanics(t, func() { NewSubscriptionFunc(nil).Cancel() })
}
