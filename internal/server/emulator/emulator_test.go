package emulator

import (
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/livyctl/pkg/livy"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	created  []string
	killed   int
	finished []string
}

func (r *recorder) BatchCreated(kind string) { r.created = append(r.created, kind) }
func (r *recorder) BatchKilled()             { r.killed++ }
func (r *recorder) BatchFinished(raw string) { r.finished = append(r.finished, raw) }

func newEmulator() (*Emulator, *clock, *recorder) {
	c := &clock{t: time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)}
	r := &recorder{}
	return New(Options{StepDelay: time.Second, Now: c.Now, Recorder: r}), c, r
}

func TestEmulator_ScriptedLifecycle(t *testing.T) {
	e, c, r := newEmulator()

	b, err := e.Create(livy.BatchRequest{File: "s3://b/app.jar", ClassName: "org.example.Pi", Args: []string{"10"}})
	require.NoError(t, err)
	assert.Equal(t, 0, b.ID)
	assert.Equal(t, "starting", b.State)
	assert.Empty(t, b.AppID)

	_, err = e.Log(0, 0, 100)
	assert.ErrorIs(t, err, ErrLogNotReady)

	c.Add(time.Second)
	st, err := e.State(0)
	require.NoError(t, err)
	assert.Equal(t, "running", st.State)

	c.Add(time.Second)
	got, err := e.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "success", got.State)
	assert.NotEmpty(t, got.AppID)
	assert.Contains(t, got.AppInfo[livy.AppInfoDriverLogURL], got.AppID)

	assert.Equal(t, []string{"jar"}, r.created)
	assert.Equal(t, []string{"success"}, r.finished)
	assert.Equal(t, 0, e.Active())
}

func TestEmulator_FailureOutcome(t *testing.T) {
	e, c, r := newEmulator()
	_, err := e.Create(livy.BatchRequest{File: "job.py", Conf: map[string]string{ConfOutcome: "dead"}})
	require.NoError(t, err)

	c.Add(5 * time.Second)
	b, err := e.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "dead", b.State)
	assert.Contains(t, strings.Join(b.Log, "\n"), "RuntimeException")
	assert.Equal(t, []string{"python"}, r.created)
	assert.Equal(t, []string{"dead"}, r.finished)
}

func TestEmulator_LogIsLineIndexed(t *testing.T) {
	e, c, _ := newEmulator()
	_, err := e.Create(livy.BatchRequest{File: "app.jar", ClassName: "org.example.Pi", Args: []string{"a", "b"}})
	require.NoError(t, err)
	c.Add(10 * time.Second)

	full, err := e.Log(0, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"stdout: ",
		"Submitting app.jar to local emulator",
		"Starting job",
		"arg: a",
		"arg: b",
		"Job finished",
		"\nstderr: ",
		"INFO SparkContext: Submitted application: org.example.Pi",
		"INFO SparkContext: Successfully stopped SparkContext",
		"\nYARN Diagnostics: ",
		"application accepted",
		"Application finished successfully",
	}, full.Log)
	assert.Equal(t, len(full.Log), full.Total)

	for _, size := range []int{1, 3, 5} {
		var got []string
		for from := 0; from < full.Total; from += size {
			page, err := e.Log(0, from, size)
			require.NoError(t, err)
			assert.Equal(t, from, page.From)
			got = append(got, page.Log...)
		}
		assert.Equal(t, full.Log, got, "size %d", size)
	}

	tail, err := e.Log(0, -1, 2)
	require.NoError(t, err)
	assert.Equal(t, full.Total-2, tail.From)
	assert.Equal(t, full.Log[full.Total-2:], tail.Log)

	past, err := e.Log(0, full.Total+10, 5)
	require.NoError(t, err)
	assert.Empty(t, past.Log)
}

func TestEmulator_StdoutGrowsInFrontOfStderr(t *testing.T) {
	e, c, _ := newEmulator()
	_, err := e.Create(livy.BatchRequest{File: "app.jar", Args: []string{"x"}})
	require.NoError(t, err)

	c.Add(time.Second)
	running, err := e.Log(0, 0, 100)
	require.NoError(t, err)
	stderrAt := slices.Index(running.Log, "\nstderr: ")
	require.Equal(t, 3, stderrAt)

	c.Add(time.Second)
	done, err := e.Log(0, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 5, slices.Index(done.Log, "\nstderr: "))
}

func TestEmulator_DeleteKillsActiveBatch(t *testing.T) {
	e, _, r := newEmulator()
	_, err := e.Create(livy.BatchRequest{File: "app.jar"})
	require.NoError(t, err)
	assert.Equal(t, 1, e.Active())

	require.NoError(t, e.Delete(0))
	assert.Equal(t, 1, r.killed)
	assert.Equal(t, []string{"killed"}, r.finished)

	_, err = e.Get(0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, e.Delete(0), ErrNotFound)
}

func TestEmulator_ListPaging(t *testing.T) {
	e, _, _ := newEmulator()
	for i := 0; i < 5; i++ {
		_, err := e.Create(livy.BatchRequest{File: "app.jar"})
		require.NoError(t, err)
	}

	page := e.List(1, 2)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Sessions, 2)
	assert.Equal(t, 1, page.Sessions[0].ID)
	assert.Equal(t, 2, page.Sessions[1].ID)

	assert.Len(t, e.List(0, 0).Sessions, 5)
	assert.Empty(t, e.List(9, 0).Sessions)
}

func TestEmulator_CreateRequiresFile(t *testing.T) {
	e, _, _ := newEmulator()
	_, err := e.Create(livy.BatchRequest{})
	assert.ErrorIs(t, err, ErrInvalidBatch)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "jar", Kind("s3://b/App.JAR"))
	assert.Equal(t, "python", Kind("main.py"))
	assert.Equal(t, "other", Kind("archive.zip"))
}
