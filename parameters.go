package polyanalyst

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/megaputer/polyanalyst6api-go/patypes"
)

// Parameters maintains the settings of a Parameters node in a project.
// Instances are obtained from Project.Parameters.
type Parameters struct {
	client  *Client
	prjUUID string
	nodeID  int
}

// NodeTypes returns the node types with parameters and strategies supported
// by the Parameters node. The schema of the document is defined by the
// server, so it is returned undecoded.
func (p *Parameters) NodeTypes(ctx context.Context) (json.RawMessage, error) {
	_, raw, err := p.client.Request(ctx, "GET", "parameters/nodes", nil)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Set applies settings for one node type to the Parameters node and returns
// any warnings reported by the server. A nil cfg applies the defaults:
// declare the node unsynchronized and push the new parameters into every
// child node.
func (p *Parameters) Set(
	ctx context.Context,
	nodeType string,
	settings map[string]string,
	cfg *patypes.ParameterUpdate,
) ([]string, error) {
	return p.configure(ctx, "parameters/configure", nodeType, settings, cfg)
}

// SetArray applies a list of settings dictionaries for one node type to the
// Parameters node and returns any warnings reported by the server.
func (p *Parameters) SetArray(
	ctx context.Context,
	nodeType string,
	settings []map[string]string,
	cfg *patypes.ParameterUpdate,
) ([]string, error) {
	return p.configure(ctx, "parameters/configure-array", nodeType, settings, cfg)
}

// Clear clears parameters and strategies of the given node types for the
// Parameters node. An empty nodeTypes clears every node type.
func (p *Parameters) Clear(ctx context.Context, nodeTypes []string, declareUnsync bool) ([]string, error) {
	if nodeTypes == nil {
		nodeTypes = []string{}
	}
	var warnings []string
	err := p.client.Post(ctx, "parameters/clear", &RequestOptions{
		Params: p.params(),
		JSON: map[string]any{
			"nodes":         nodeTypes,
			"declareUnsync": declareUnsync,
		},
	}, &warnings)
	if err != nil {
		return nil, err
	}
	return warnings, nil
}

func (p *Parameters) configure(
	ctx context.Context,
	endpoint, nodeType string,
	settings any,
	cfg *patypes.ParameterUpdate,
) ([]string, error) {
	if cfg == nil {
		cfg = &patypes.ParameterUpdate{}
	}
	strategies := cfg.Strategies
	if strategies == nil {
		strategies = []int{}
	}

	var warnings []string
	err := p.client.Post(ctx, endpoint, &RequestOptions{
		Params: p.params(),
		JSON: map[string]any{
			"type":          nodeType,
			"settings":      settings,
			"strategies":    strategies,
			"declareUnsync": !cfg.KeepSynchronized,
			"hardUpdate":    !cfg.SoftUpdate,
		},
	}, &warnings)
	if err != nil {
		return nil, err
	}
	return warnings, nil
}

func (p *Parameters) params() url.Values {
	return url.Values{
		"prjUUID": {p.prjUUID},
		"obj":     {strconv.Itoa(p.nodeID)},
	}
}
