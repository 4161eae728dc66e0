package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/genflow/workflow-engine/graph"
)

// workflowFile is the on-disk JSON shape of a workflow definition,
// matching what the canvas frontend exports.
type workflowFile struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Nodes []nodeFile `json:"nodes"`
	Edges []edgeFile `json:"edges"`
}

type nodeFile struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Label    string                 `json:"label"`
	Position graph.Position         `json:"position"`
	Config   map[string]graph.Value `json:"config"`
}

type edgeFile struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// loadWorkflow reads and converts a workflow definition file.
func loadWorkflow(path string) (graph.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return graph.Workflow{}, fmt.Errorf("read workflow: %w", err)
	}
	var wf workflowFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return graph.Workflow{}, fmt.Errorf("parse workflow %s: %w", path, err)
	}

	nodes := make(map[string]graph.Node, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodes[n.ID] = graph.Node{
			ID: n.ID, Type: n.Type, Label: n.Label, Position: n.Position, Config: n.Config,
		}
	}
	edges := make([]graph.Edge, len(wf.Edges))
	for i, e := range wf.Edges {
		edges[i] = graph.Edge{
			ID: e.ID, SourceNodeID: e.Source, TargetNodeID: e.Target,
			SourceHandle: e.SourceHandle, TargetHandle: e.TargetHandle,
		}
	}
	return graph.Workflow{ID: wf.ID, Name: wf.Name, Nodes: nodes, Edges: edges}, nil
}
