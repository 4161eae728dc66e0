package format

import (
	"strings"
	"testing"

	"github.com/genflow/workflow-engine/graph"
)

func TestApplyWithoutFormatterFallsBackToJSON(t *testing.T) {
	r := NewRegistry()
	out := graph.NodeOutput{"text": graph.FromString("hello")}

	md := r.Apply("unknown_type", out)
	if md.DisplayType != DisplayJSON {
		t.Fatalf("display type = %s, want json", md.DisplayType)
	}
	if md.PrimaryContent.Map["text"].Str != "hello" {
		t.Errorf("primary content lost the output map")
	}
}

func TestApplyUsesRegisteredFormatter(t *testing.T) {
	r := NewRegistry()
	r.Register("chat", Markdown("response"))

	md := r.Apply("chat", graph.NodeOutput{"response": graph.FromString("**hi**")})
	if md.DisplayType != DisplayMarkdown || md.PrimaryContent.Str != "**hi**" {
		t.Fatalf("md = %+v", md)
	}
}

func TestApplyPanickingFormatterDowngrades(t *testing.T) {
	r := NewRegistry()
	r.Register("bad", func(graph.NodeOutput) DisplayMetadata {
		panic("boom")
	})

	md := r.Apply("bad", graph.NodeOutput{"x": graph.FromInt(1)})
	if md.DisplayType != DisplayJSON {
		t.Fatalf("display type = %s, want json downgrade", md.DisplayType)
	}
	if !strings.Contains(md.Error, "boom") {
		t.Errorf("error = %q, want panic message", md.Error)
	}
}

func TestFallbackStripsReservedKey(t *testing.T) {
	out := graph.NodeOutput{
		"text":                   graph.FromString("x"),
		graph.DisplayMetadataKey: graph.FromString("stale"),
	}
	md := Fallback(out)
	if _, ok := md.PrimaryContent.Map[graph.DisplayMetadataKey]; ok {
		t.Error("fallback leaked _display_metadata into primary content")
	}
}

func TestToValueShape(t *testing.T) {
	md := DisplayMetadata{
		DisplayType:    DisplayTable,
		PrimaryContent: graph.FromString("rows"),
		Attachments: []Attachment{
			{Name: "chart", DisplayType: DisplayChart, Content: graph.FromString("spec")},
		},
	}
	v := md.ToValue()
	if v.Map["display_type"].Str != "table" {
		t.Errorf("display_type = %q", v.Map["display_type"].Str)
	}
	if len(v.Map["attachments"].List) != 1 {
		t.Errorf("attachments missing")
	}
}
