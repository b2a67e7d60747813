package coordinator

import (
	"testing"
	"time"

	"github.com/exmake/exmake/internal/config"
	"github.com/exmake/exmake/internal/graph"
	"github.com/exmake/exmake/internal/runner"
	"github.com/stretchr/testify/require"
)

func awaitDone(t *testing.T, ch <-chan Done) Done {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Done message")
		return Done{}
	}
}

func TestEnqueueRespectsMaxJobsThenDrainsQueue(t *testing.T) {
	c := New()
	done := c.Subscribe("owner")

	release := make(chan struct{})
	var started int
	c.Start(func(job Job) runner.Result {
		started++
		<-release
		return runner.Result{Rule: job.Vertex.ID, Data: job.Data, Owner: job.Owner, Ok: true}
	})
	c.SetConfig(config.Configuration{Options: config.Options{Jobs: 1}})

	v1 := &graph.Vertex{ID: "a"}
	v2 := &graph.Vertex{ID: "b"}
	c.Enqueue(v1, "a", "owner")
	c.Enqueue(v2, "b", "owner")

	release <- struct{}{}
	first := awaitDone(t, done)
	require.Equal(t, "a", first.Rule)

	release <- struct{}{}
	second := awaitDone(t, done)
	require.Equal(t, "b", second.Rule)
}

func TestSetAndGetConfig(t *testing.T) {
	c := New()
	c.Start(func(job Job) runner.Result { return runner.Result{Ok: true} })
	cfg := config.Configuration{Targets: []string{"build"}}
	c.SetConfig(cfg)
	require.Equal(t, []string{"build"}, c.GetConfig().Targets)
}

func TestLibrarySetOperations(t *testing.T) {
	c := New()
	c.Start(func(job Job) runner.Result { return runner.Result{Ok: true} })
	c.AddLibrary("stdlib")
	require.Contains(t, c.Libraries(), "stdlib")
	c.DeleteLibrary("stdlib")
	require.NotContains(t, c.Libraries(), "stdlib")
	c.AddLibrary("x")
	c.ClearLibraries()
	require.Empty(t, c.Libraries())
}

func TestApplyTimer(t *testing.T) {
	c := New()
	c.Start(func(job Job) runner.Result { return runner.Result{Ok: true} })
	c.ApplyTimer(func(prev *TimingSession) *TimingSession {
		return &TimingSession{Entries: []string{"start"}}
	})
	c.ApplyTimer(func(prev *TimingSession) *TimingSession {
		prev.Entries = append(prev.Entries, "end")
		return prev
	})
	require.Equal(t, []string{"start", "end"}, c.timing.Entries)
}
