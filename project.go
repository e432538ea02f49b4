package polyanalyst

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	paerrors "github.com/megaputer/polyanalyst6api-go/errors"
	"github.com/megaputer/polyanalyst6api-go/patypes"
)

// WaveNone is returned by Execute when the server did not assign an
// execution wave identifier to the request.
const WaveNone = -1

// WaveAny, passed to IsRunning, checks the project against any active
// execution, saving or publishing operation rather than a specific wave.
const WaveAny = -1

// Project maintains all operations with a PolyAnalyst project and its nodes.
//
// A Project is obtained from Client.Project, which also verifies that the
// project exists on the server.
type Project struct {
	client *Client
	uuid   string

	// nodes caches the last fetched node list for name lookups
	nodes []patypes.Node
}

// Project verifies that a project with the given uuid exists on the server
// and returns a handle for it.
func (c *Client) Project(ctx context.Context, projectUUID string) (*Project, error) {
	if _, err := uuid.Parse(projectUUID); err != nil {
		return nil, paerrors.NewError("project", paerrors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("invalid project uuid %q", projectUUID))
	}

	p := &Project{client: c, uuid: projectUUID}
	if _, err := p.NodeList(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// UUID returns the project uuid.
func (p *Project) UUID() string {
	return p.uuid
}

// NodeList returns the list of project nodes and refreshes the cached list
// used for node lookups.
func (p *Project) NodeList(ctx context.Context) ([]patypes.Node, error) {
	var result struct {
		Nodes []patypes.Node `json:"nodes"`
	}
	err := p.client.Get(ctx, "project/nodes", &RequestOptions{Params: p.params()}, &result)
	if err != nil {
		return nil, err
	}
	p.nodes = result.Nodes
	return result.Nodes, nil
}

// ExecutionStats returns per-node execution statistics together with the
// project-level statistics counters.
func (p *Project) ExecutionStats(ctx context.Context) ([]patypes.Node, map[string]int64, error) {
	var result struct {
		Nodes      []patypes.Node   `json:"nodes"`
		Statistics map[string]int64 `json:"nodesStatistics"`
	}
	err := p.client.Get(ctx, "project/execution-statistics", &RequestOptions{Params: p.params()}, &result)
	if err != nil {
		return nil, nil, err
	}
	return result.Nodes, result.Statistics, nil
}

// Tasks returns the scheduler tasks attached to the project.
func (p *Project) Tasks(ctx context.Context) ([]patypes.Task, error) {
	var result []struct {
		ID        int64  `json:"id"`
		Name      string `json:"name"`
		StartTime int64  `json:"startTime"`
	}
	err := p.client.Get(ctx, "project/tasks", &RequestOptions{Params: p.params()}, &result)
	if err != nil {
		return nil, err
	}

	tasks := make([]patypes.Task, 0, len(result))
	for _, t := range result {
		tasks = append(tasks, patypes.Task{
			ID:   t.ID,
			Name: t.Name,
			// the server reports start times as unix milliseconds
			StartTime: time.UnixMilli(t.StartTime).UTC(),
		})
	}
	return tasks, nil
}

// Save initiates saving of all changes that have been made in the project.
func (p *Project) Save(ctx context.Context) error {
	return p.client.Post(ctx, "project/save", &RequestOptions{JSON: p.body()}, nil)
}

// Abort aborts the execution of all nodes in the project.
func (p *Project) Abort(ctx context.Context) error {
	return p.client.Post(ctx, "project/global-abort", &RequestOptions{JSON: p.body()}, nil)
}

// Unload unloads the project from memory and frees system resources.
func (p *Project) Unload(ctx context.Context) error {
	return p.client.Post(ctx, "project/unload", &RequestOptions{JSON: p.body()}, nil)
}

// Repair initiates the project repairing operation.
func (p *Project) Repair(ctx context.Context) error {
	return p.client.Post(ctx, "project/repair", &RequestOptions{JSON: p.body()}, nil)
}

// Delete deletes the project from the server. By default the project is only
// deleted when it is not loaded into memory; forceUnload deletes it
// regardless of other users. This operation is available to project owners
// and administrators and cannot be undone.
func (p *Project) Delete(ctx context.Context, forceUnload bool) error {
	body := p.body()
	body["forceUnload"] = forceUnload
	return p.client.Post(ctx, "project/delete", &RequestOptions{JSON: body}, nil)
}

// Execute initiates execution of the given nodes and their children and
// returns the execution wave identifier assigned by the server, or WaveNone
// when the server did not assign one.
//
// Example:
//
//	wave, err := prj.Execute(ctx, patypes.NodeRef{Name: "Internet Source"},
//	    patypes.NodeRef{Name: "Python"})
func (p *Project) Execute(ctx context.Context, nodes ...patypes.NodeRef) (int, error) {
	refs := make([]patypes.NodeRef, 0, len(nodes))
	for _, ref := range nodes {
		node, err := p.findNode(ctx, ref)
		if err != nil {
			return WaveNone, err
		}
		refs = append(refs, patypes.NodeRef{Name: node.Name, Type: node.Type})
	}

	body := p.body()
	body["nodes"] = refs
	resp, _, err := p.client.Request(ctx, "POST", "project/execute", &RequestOptions{JSON: body})
	if err != nil {
		return WaveNone, err
	}
	return waveFromLocation(resp.Header.Get("Location")), nil
}

// ExecuteAndWait executes the given nodes and blocks until the execution
// wave completes, polling the server once a second.
func (p *Project) ExecuteAndWait(ctx context.Context, nodes ...patypes.NodeRef) error {
	wave, err := p.Execute(ctx, nodes...)
	if err != nil {
		return err
	}
	if wave == WaveNone {
		for _, ref := range nodes {
			if _, err := p.WaitForCompletion(ctx, ref); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		running, err := p.IsRunning(ctx, wave)
		if err != nil {
			return err
		}
		if !running {
			return nil
		}
		if err := sleepCtx(ctx, time.Second); err != nil {
			return err
		}
	}
}

// IsRunning checks whether the execution wave is still running in the
// project. Pass WaveAny to check the project against any active execution,
// saving or publishing operation.
func (p *Project) IsRunning(ctx context.Context, wave int) (bool, error) {
	params := p.params()
	params.Set("executionWave", strconv.Itoa(wave))

	var result struct {
		Result int `json:"result"`
	}
	err := p.client.Get(ctx, "project/is-running", &RequestOptions{Params: params}, &result)
	if err != nil {
		return false, err
	}
	return result.Result != 0, nil
}

// WaitForCompletion waits for the node to complete execution, polling the
// node list once a second. It returns true when the node reached the
// synchronized status and false when the node failed or stopped incomplete.
func (p *Project) WaitForCompletion(ctx context.Context, ref patypes.NodeRef) (bool, error) {
	for {
		if _, err := p.NodeList(ctx); err != nil {
			return false, err
		}
		node, err := p.findCached(ref)
		if err != nil {
			return false, err
		}

		if node.ErrMsg != "" {
			return false, nil
		}
		switch node.Status {
		case patypes.NodeStatusSynchronized:
			return true, nil
		case patypes.NodeStatusIncomplete:
			return false, nil
		}

		if err := sleepCtx(ctx, time.Second); err != nil {
			return false, err
		}
	}
}

// Dataset returns a dataset wrapper for the given node.
func (p *Project) Dataset(ctx context.Context, ref patypes.NodeRef) (*Dataset, error) {
	node, err := p.findNode(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &Dataset{client: p.client, prjUUID: p.uuid, node: node}, nil
}

// Parameters returns a parameters wrapper for the Parameters node with the
// given name.
func (p *Project) Parameters(ctx context.Context, name string) (*Parameters, error) {
	node, err := p.findNode(ctx, patypes.NodeRef{Name: name})
	if err != nil {
		return nil, err
	}
	return &Parameters{client: p.client, prjUUID: p.uuid, nodeID: node.ID}, nil
}

// findNode resolves a node reference against the cached node list, refreshing
// the cache once on a miss.
func (p *Project) findNode(ctx context.Context, ref patypes.NodeRef) (patypes.Node, error) {
	node, err := p.findCached(ref)
	if err == nil {
		return node, nil
	}
	if !errors.Is(err, paerrors.ErrNodeNotFound) {
		return patypes.Node{}, err
	}

	if _, err := p.NodeList(ctx); err != nil {
		return patypes.Node{}, err
	}
	return p.findCached(ref)
}

func (p *Project) findCached(ref patypes.NodeRef) (patypes.Node, error) {
	if ref.Name == "" {
		return patypes.Node{}, paerrors.NewError("findNode", paerrors.ErrInvalidInput).
			WithMessage("node name cannot be empty")
	}
	for _, node := range p.nodes {
		if node.Name == ref.Name && (ref.Type == "" || node.Type == ref.Type) {
			return node, nil
		}
	}
	return patypes.Node{}, paerrors.NewError("findNode", paerrors.ErrNodeNotFound).
		WithMessage(fmt.Sprintf("name=%q type=%q", ref.Name, ref.Type))
}

func (p *Project) params() url.Values {
	return url.Values{"prjUUID": {p.uuid}}
}

func (p *Project) body() map[string]any {
	return map[string]any{"prjUUID": p.uuid}
}

// waveFromLocation extracts the executionWave query parameter from the
// Location header returned by project/execute.
func waveFromLocation(location string) int {
	if location == "" {
		return WaveNone
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return WaveNone
	}
	wave, err := strconv.Atoi(parsed.Query().Get("executionWave"))
	if err != nil {
		return WaveNone
	}
	return wave
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
