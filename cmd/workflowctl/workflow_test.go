package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/genflow/workflow-engine/graph/format"
	"github.com/genflow/workflow-engine/graph/registry"
	"github.com/genflow/workflow-engine/graph/sched"
	"github.com/genflow/workflow-engine/nodes/builtin"
)

func TestLoadWorkflowFixture(t *testing.T) {
	wf, err := loadWorkflow("testdata/rag.json")
	require.NoError(t, err)
	require.Equal(t, "wf-rag-demo", wf.ID)
	require.Len(t, wf.Nodes, 7)
	require.Len(t, wf.Edges, 6)
	require.Equal(t, "chat", wf.Nodes["answer"].Type)
	require.Equal(t, "store", wf.Edges[3].SourceNodeID)
	require.EqualValues(t, 256, wf.Nodes["chunk"].Config["chunk_size"].Int)
}

func TestFixturesValidateAgainstBuiltinRegistry(t *testing.T) {
	reg := registry.New()
	builtin.Register(reg, format.NewRegistry(), builtin.Options{})

	for _, fixture := range []string{"testdata/rag.json", "testdata/content.json"} {
		wf, err := loadWorkflow(fixture)
		require.NoError(t, err, fixture)
		plan, err := sched.Validate(wf, reg, nil)
		require.NoError(t, err, fixture)
		require.NotEmpty(t, plan.Order, fixture)
	}
}

func TestLoadWorkflowMissingFile(t *testing.T) {
	_, err := loadWorkflow("testdata/nope.json")
	require.Error(t, err)
}
