package agent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolDef is one catalog entry: name, natural-language description, and
// compiled input schema (spec.md 4.C). Element-bound actions share the
// dispatcher in dispatch.go; the catalog itself never calls the browser.
type ToolDef struct {
	Name        string
	Description string
	RawSchema   json.RawMessage

	compiled *jsonschema.Schema
}

// ToolCatalog is the ordered, named set of tools advertised to the LLM for
// one task. Element-bound tools dispatch through a Browser; done/abort/
// extract/web_search are handled specially by the Action Loop (spec.md 4.C).
type ToolCatalog struct {
	mu    sync.RWMutex
	tools map[string]*ToolDef
	order []string
}

// NewToolCatalog builds the catalog. searchEnabled controls whether
// web_search is included, per spec.md 4.G step 4 ("tool set = web-action
// tools ∪ (search tools if a search service was started)").
func NewToolCatalog(searchEnabled bool) (*ToolCatalog, error) {
	c := &ToolCatalog{tools: make(map[string]*ToolDef)}
	defs := webActionToolDefs()
	if searchEnabled {
		defs = append(defs, webSearchToolDef())
	}
	for _, d := range defs {
		if err := c.register(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *ToolCatalog) register(d ToolDef) error {
	compiled, err := jsonschema.CompileString(d.Name+".schema.json", string(d.RawSchema))
	if err != nil {
		return fmt.Errorf("compile schema for tool %s: %w", d.Name, err)
	}
	d.compiled = compiled
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tools[d.Name]; !exists {
		c.order = append(c.order, d.Name)
	}
	c.tools[d.Name] = &d
	return nil
}

// Specs returns the tool set in registration order, for handing to an
// LLMProvider as CompletionRequest.Tools.
func (c *ToolCatalog) Specs() []ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(c.order))
	for _, name := range c.order {
		d := c.tools[name]
		specs = append(specs, ToolSpec{Name: d.Name, Description: d.Description, Schema: d.RawSchema})
	}
	return specs
}

// ValidateArgs validates raw JSON arguments against a tool's compiled
// schema. A validation failure is reported as a recoverable tool error per
// spec.md 4.C/4.G step 7, not a setup error.
func (c *ToolCatalog) ValidateArgs(name string, args json.RawMessage) error {
	c.mu.RLock()
	d, ok := c.tools[name]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("tool %s: invalid arguments JSON: %w", name, err)
	}
	if err := d.compiled.Validate(decoded); err != nil {
		return fmt.Errorf("tool %s: arguments failed schema validation: %w", name, err)
	}
	return nil
}

// toolArgs is the parsed shape of any web-action tool call. Not every field
// applies to every action; each tool's schema, checked by
// ToolCatalog.ValidateArgs before dispatch, enforces which fields are
// required per action (spec.md 4.C).
type toolArgs struct {
	Ref         string `json:"ref,omitempty"`
	Value       string `json:"value,omitempty"`
	Seconds     int    `json:"seconds,omitempty"`
	URL         string `json:"url,omitempty"`
	Result      string `json:"result,omitempty"`
	Description string `json:"description,omitempty"`
	Query       string `json:"query,omitempty"`
}

func decodeToolArgs(raw json.RawMessage) (toolArgs, error) {
	var a toolArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return toolArgs{}, err
	}
	return a, nil
}

const refSchemaProp = `"ref":{"type":"string","description":"Element ref from the most recent snapshot, e.g. s1e3."}`

func elementSchema(extra string, required ...string) json.RawMessage {
	req, _ := json.Marshal(required)
	props := "{" + refSchemaProp
	if extra != "" {
		props += "," + extra
	}
	props += "}"
	schema := fmt.Sprintf(`{"type":"object","properties":%s,"required":%s}`, props, string(req))
	return json.RawMessage(schema)
}

// webActionToolDefs returns the fixed web-action tool set: the 13 browser
// actions of spec.md 4.A (done included) plus fill_and_enter/extract/abort
// (spec.md 4.C), 16 tools in all. web_search is appended separately when a
// search service is active.
func webActionToolDefs() []ToolDef {
	return []ToolDef{
		{Name: "click", Description: "Click an element identified by ref.", RawSchema: elementSchema("", "ref")},
		{Name: "hover", Description: "Hover over an element identified by ref.", RawSchema: elementSchema("", "ref")},
		{Name: "fill", Description: "Fill an input element with a value.", RawSchema: elementSchema(`"value":{"type":"string"}`, "ref", "value")},
		{Name: "focus", Description: "Focus an element identified by ref.", RawSchema: elementSchema("", "ref")},
		{Name: "check", Description: "Check a checkbox/radio element.", RawSchema: elementSchema("", "ref")},
		{Name: "uncheck", Description: "Uncheck a checkbox element.", RawSchema: elementSchema("", "ref")},
		{Name: "select", Description: "Select an option in a dropdown element.", RawSchema: elementSchema(`"value":{"type":"string"}`, "ref", "value")},
		{Name: "enter", Description: "Press Enter on a focused element.", RawSchema: elementSchema("", "ref")},
		{
			Name:        "wait",
			Description: "Wait for a number of seconds before continuing.",
			RawSchema:   json.RawMessage(`{"type":"object","properties":{"seconds":{"type":"integer","minimum":0,"maximum":30}},"required":["seconds"]}`),
		},
		{
			Name:        "goto",
			Description: "Navigate the browser to a URL.",
			RawSchema:   json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","format":"uri"}},"required":["url"]}`),
		},
		{Name: "back", Description: "Navigate back in browser history.", RawSchema: json.RawMessage(`{"type":"object","properties":{}}`)},
		{Name: "forward", Description: "Navigate forward in browser history.", RawSchema: json.RawMessage(`{"type":"object","properties":{}}`)},
		{
			Name:        "fill_and_enter",
			Description: "Fill an input element with a value then press Enter.",
			RawSchema:   elementSchema(`"value":{"type":"string"}`, "ref", "value"),
		},
		{
			Name:        "extract",
			Description: "Extract structured information from the current page's content using the model.",
			RawSchema:   json.RawMessage(`{"type":"object","properties":{"description":{"type":"string"}},"required":["description"]}`),
		},
		{
			Name:        "done",
			Description: "Declare the task complete with a final answer.",
			RawSchema:   json.RawMessage(`{"type":"object","properties":{"result":{"type":"string"}},"required":["result"]}`),
		},
		{
			Name:        "abort",
			Description: "Abort the task; it cannot be completed as instructed.",
			RawSchema:   json.RawMessage(`{"type":"object","properties":{"description":{"type":"string"}},"required":["description"]}`),
		},
	}
}

func webSearchToolDef() ToolDef {
	return ToolDef{
		Name:        "web_search",
		Description: "Search the web and return a markdown summary of results.",
		RawSchema:   json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
	}
}

// secondsToString is a small helper used by the dispatcher when building
// repetition-detection signatures for the wait action.
func secondsToString(n int) string { return strconv.Itoa(n) }
