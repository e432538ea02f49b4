package polyanalyst

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	paerrors "github.com/megaputer/polyanalyst6api-go/errors"
	"github.com/megaputer/polyanalyst6api-go/patypes"
)

const testProjectUUID = "5a7ea036-9e23-4b87-9e28-7cbb60b9cbb0"

const testNodesBody = `{"nodes": [
	{"id": 1, "name": "Internet Source", "type": "DataSource", "status": "synchronized"},
	{"id": 2, "name": "Python", "type": "Dataset", "status": "unsynchronized"},
	{"id": 3, "name": "Parameters", "type": "Parameters", "status": "synchronized"}
]}`

// newTestProject builds a project handle against a handler that serves the
// node list and delegates everything else to next.
func newTestProject(t *testing.T, next http.HandlerFunc) *Project {
	t.Helper()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == apiRoot+"/project/nodes" {
			assert.Equal(t, testProjectUUID, r.URL.Query().Get("prjUUID"))
			_, _ = w.Write([]byte(testNodesBody))
			return
		}
		if next != nil {
			next(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	prj, err := client.Project(context.Background(), testProjectUUID)
	require.NoError(t, err)
	return prj
}

func TestProject(t *testing.T) {
	t.Run("valid uuid", func(t *testing.T) {
		prj := newTestProject(t, nil)
		assert.Equal(t, testProjectUUID, prj.UUID())
	})

	t.Run("invalid uuid", func(t *testing.T) {
		client, _ := newTestClient(t, http.NotFoundHandler())
		_, err := client.Project(context.Background(), "not-a-uuid")
		require.Error(t, err)
		assert.True(t, errors.Is(err, paerrors.ErrInvalidInput))
	})

	t.Run("unknown project", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`["Error", "project not found"]`))
		}))
		_, err := client.Project(context.Background(), testProjectUUID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "project not found")
	})
}

func TestNodeList(t *testing.T) {
	prj := newTestProject(t, nil)

	nodes, err := prj.NodeList(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, patypes.Node{
		ID:     1,
		Name:   "Internet Source",
		Type:   "DataSource",
		Status: patypes.NodeStatusSynchronized,
	}, nodes[0])
}

func TestExecutionStats(t *testing.T) {
	prj := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, apiRoot+"/project/execution-statistics", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"nodes": [{"id": 1, "name": "Internet Source", "type": "DataSource", "status": "synchronized"}],
			"nodesStatistics": {"emptyNodesCount": 0, "synchronizedNodesCount": 1}
		}`))
	})

	nodes, stats, err := prj.ExecutionStats(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, int64(1), stats["synchronizedNodesCount"])
}

func TestTasks(t *testing.T) {
	prj := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, apiRoot+"/project/tasks", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id": 12, "name": "nightly refresh", "startTime": 1735689600000}]`))
	})

	tasks, err := prj.Tasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(12), tasks[0].ID)
	assert.Equal(t, "nightly refresh", tasks[0].Name)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), tasks[0].StartTime)
}

func TestProjectLifecycleOperations(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		call     func(ctx context.Context, prj *Project) error
	}{
		{"save", "project/save", func(ctx context.Context, prj *Project) error { return prj.Save(ctx) }},
		{"abort", "project/global-abort", func(ctx context.Context, prj *Project) error { return prj.Abort(ctx) }},
		{"unload", "project/unload", func(ctx context.Context, prj *Project) error { return prj.Unload(ctx) }},
		{"repair", "project/repair", func(ctx context.Context, prj *Project) error { return prj.Repair(ctx) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			prj := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, apiRoot+"/"+tt.endpoint, r.URL.Path)
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				w.WriteHeader(http.StatusAccepted)
			})

			require.NoError(t, tt.call(context.Background(), prj))
			assert.Equal(t, testProjectUUID, body["prjUUID"])
		})
	}
}

func TestDelete(t *testing.T) {
	var body map[string]any
	prj := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, apiRoot+"/project/delete", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusAccepted)
	})

	require.NoError(t, prj.Delete(context.Background(), true))
	assert.Equal(t, testProjectUUID, body["prjUUID"])
	assert.Equal(t, true, body["forceUnload"])
}

func TestExecute(t *testing.T) {
	t.Run("returns the execution wave", func(t *testing.T) {
		var body map[string]any
		prj := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, apiRoot+"/project/execute", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.Header().Set("Location", "/project/is-running?executionWave=42")
			w.WriteHeader(http.StatusAccepted)
		})

		wave, err := prj.Execute(context.Background(), patypes.NodeRef{Name: "Python"})
		require.NoError(t, err)
		assert.Equal(t, 42, wave)

		nodes, ok := body["nodes"].([]any)
		require.True(t, ok)
		require.Len(t, nodes, 1)
		ref := nodes[0].(map[string]any)
		assert.Equal(t, "Python", ref["name"])
		assert.Equal(t, "Dataset", ref["type"])
	})

	t.Run("no wave assigned", func(t *testing.T) {
		prj := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})

		wave, err := prj.Execute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, WaveNone, wave)
	})

	t.Run("unknown node", func(t *testing.T) {
		prj := newTestProject(t, nil)

		_, err := prj.Execute(context.Background(), patypes.NodeRef{Name: "No Such Node"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, paerrors.ErrNodeNotFound))
	})
}

func TestIsRunning(t *testing.T) {
	tests := []struct {
		name   string
		result int
		want   bool
	}{
		{"running", 1, true},
		{"idle", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prj := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, apiRoot+"/project/is-running", r.URL.Path)
				assert.Equal(t, "42", r.URL.Query().Get("executionWave"))
				_ = json.NewEncoder(w).Encode(map[string]int{"result": tt.result})
			})

			running, err := prj.IsRunning(context.Background(), 42)
			require.NoError(t, err)
			assert.Equal(t, tt.want, running)
		})
	}
}

func TestWaitForCompletion(t *testing.T) {
	tests := []struct {
		name string
		node string
		want bool
	}{
		{"synchronized node succeeds", `{"id": 2, "name": "Python", "type": "Dataset", "status": "synchronized"}`, true},
		{"incomplete node fails", `{"id": 2, "name": "Python", "type": "Dataset", "status": "incomplete"}`, false},
		{"errored node fails", `{"id": 2, "name": "Python", "type": "Dataset", "status": "synchronized", "errMsg": "boom"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"nodes": [` + tt.node + `]}`))
			}))
			prj, err := client.Project(context.Background(), testProjectUUID)
			require.NoError(t, err)

			done, err := prj.WaitForCompletion(context.Background(), patypes.NodeRef{Name: "Python"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, done)
		})
	}
}

func TestExecuteAndWait(t *testing.T) {
	var polls atomic.Int32
	prj := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case apiRoot + "/project/execute":
			w.Header().Set("Location", "/project/is-running?executionWave=7")
			w.WriteHeader(http.StatusAccepted)
		case apiRoot + "/project/is-running":
			result := 1
			if polls.Add(1) >= 2 {
				result = 0
			}
			_ = json.NewEncoder(w).Encode(map[string]int{"result": result})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, prj.ExecuteAndWait(ctx, patypes.NodeRef{Name: "Python"}))
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}

func TestFindNodeRefreshesCache(t *testing.T) {
	// the node list grows between the initial fetch and the lookup
	var fetches atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fetches.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"nodes": []}`))
			return
		}
		_, _ = w.Write([]byte(testNodesBody))
	}))

	prj, err := client.Project(context.Background(), testProjectUUID)
	require.NoError(t, err)

	node, err := prj.findNode(context.Background(), patypes.NodeRef{Name: "Python"})
	require.NoError(t, err)
	assert.Equal(t, 2, node.ID)
}

func TestWaveFromLocation(t *testing.T) {
	tests := []struct {
		name     string
		location string
		want     int
	}{
		{"wave present", "/project/is-running?executionWave=5", 5},
		{"empty header", "", WaveNone},
		{"no wave parameter", "/project/is-running", WaveNone},
		{"malformed wave", "/project/is-running?executionWave=abc", WaveNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, waveFromLocation(tt.location))
		})
	}
}
