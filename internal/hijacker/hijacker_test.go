package hijacker

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpm/internal/delegation"
)

func writeTodoFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseTodoFileShapes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"wrapped todos", `{"todos": [{"content": "write tests"}, {"content": "fix bug"}]}`, 2},
		{"wrapped items", `{"items": [{"content": "write tests"}]}`, 1},
		{"empty todos list", `{"todos": []}`, 0},
		{"bare list", `[{"content": "write tests"}]`, 1},
		{"single object", `{"content": "write tests", "status": "pending"}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := parseTodoFile([]byte(tt.content))
			require.NoError(t, err)
			assert.Len(t, items, tt.want)
		})
	}
}

func TestParseTodoFileInvalid(t *testing.T) {
	_, err := parseTodoFile([]byte("not json"))
	assert.Error(t, err)
	_, err = parseTodoFile([]byte("   "))
	assert.Error(t, err)
}

func TestIsTodoFile(t *testing.T) {
	assert.True(t, isTodoFile("/home/u/.claude/todos/session-1.json"))
	assert.True(t, isTodoFile("/tmp/my-todos.json"))
	assert.False(t, isTodoFile("/home/u/.claude/todos/notes.txt"))
	assert.False(t, isTodoFile("/home/u/.claude/other/session-1.json"))
}

func TestHijackerPicksUpNewTodoFile(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "todos")
	require.NoError(t, os.MkdirAll(inbox, 0o755))

	var mu sync.Mutex
	var got []delegation.Delegation
	h := New(inbox, 0, func(d delegation.Delegation) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, d)
	})

	require.NoError(t, h.StartMonitoring())
	defer h.StopMonitoring()

	writeTodoFile(t, inbox, "session-todos.json",
		`{"todos": [{"id": "t1", "content": "write unit tests for login"}]}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, delegation.AgentQA, got[0].Agent)
	assert.Equal(t, "write unit tests for login", got[0].Task)
	assert.Equal(t, delegation.SourceTodoHijacker, got[0].Source)
	assert.Equal(t, "t1", got[0].TodoID)
}

func TestHijackerSkipsCompletedAndDuplicates(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "todos")
	require.NoError(t, os.MkdirAll(inbox, 0o755))
	writeTodoFile(t, inbox, "a-todos.json", `{"todos": [
		{"id": "t1", "content": "write unit tests for login"},
		{"id": "t2", "content": "fix crash", "status": "completed"}
	]}`)

	h := New(inbox, 0, nil)
	require.NoError(t, h.StartMonitoring())
	defer h.StopMonitoring()

	pending := h.GetPendingDelegations()
	require.Len(t, pending, 1)
	assert.Equal(t, "t1", pending[0].TodoID)

	// Second drain: same item must not replay.
	assert.Empty(t, h.GetPendingDelegations())
}

func TestGetPendingDelegationsWithoutWatcher(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "todos")
	require.NoError(t, os.MkdirAll(inbox, 0o755))
	writeTodoFile(t, inbox, "b-todos.json", `[{"id": "t3", "content": "deploy to staging"}]`)

	h := New(inbox, 0, nil)
	pending := h.GetPendingDelegations()
	require.Len(t, pending, 1)
	assert.Equal(t, delegation.AgentOps, pending[0].Agent)
}

func TestMarkDelegationCompleted(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "todos")
	require.NoError(t, os.MkdirAll(inbox, 0o755))

	h := New(inbox, 0, nil)
	h.MarkDelegationCompleted(delegation.Delegation{TodoID: "t9"})

	writeTodoFile(t, inbox, "c-todos.json", `[{"id": "t9", "content": "write unit tests"}]`)
	assert.Empty(t, h.GetPendingDelegations())
}

func TestRescanIntervalConfigurable(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "todos")

	h := New(inbox, 5*time.Second, nil)
	assert.Equal(t, 5*time.Second, h.rescanEvery)

	// Zero falls back to the default cadence.
	assert.Equal(t, defaultRescanInterval, New(inbox, 0, nil).rescanEvery)
}

func TestStartStopIdempotent(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "todos")
	h := New(inbox, 0, nil)

	require.NoError(t, h.StartMonitoring())
	require.NoError(t, h.StartMonitoring())
	assert.True(t, h.Running())

	h.StopMonitoring()
	h.StopMonitoring()
	assert.False(t, h.Running())
}

func TestUnparseableFileDoesNotStopWatcher(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "todos")
	require.NoError(t, os.MkdirAll(inbox, 0o755))

	h := New(inbox, 0, nil)
	require.NoError(t, h.StartMonitoring())
	defer h.StopMonitoring()

	writeTodoFile(t, inbox, "bad-todos.json", "{broken")
	time.Sleep(300 * time.Millisecond)

	writeTodoFile(t, inbox, "good-todos.json", `[{"id": "t4", "content": "write unit tests"}]`)
	require.Eventually(t, func() bool {
		return len(h.GetPendingDelegations()) == 1
	}, 3*time.Second, 50*time.Millisecond)
}
