package rpc

import "sync"

// catalog holds the tool/prompt descriptors, loaded lazily on first
// use from the static document below and cached forever, per §4.5's
// tools/list contract.
type catalog struct {
	once    sync.Once
	tools   []Tool
	prompts []Prompt
}

func (c *catalog) Tools() []Tool {
	c.once.Do(c.load)
	return c.tools
}

func (c *catalog) Prompts() []Prompt {
	c.once.Do(c.load)
	return c.prompts
}

// load populates the descriptor document. There is exactly one static
// document for this server: the play/engrave tool catalog. Prompts are
// empty, matching §4.5's "resources/list, resources/templates/list,
// prompts/list -> empty arrays" with prompts additionally served from
// this same cache so the shape matches a real MCP server.
func (c *catalog) load() {
	c.tools = []Tool{
		{
			Name:        "play",
			Description: "Play a music sequence (title, tempo, and tracks of timed note/chord events) through the audio engine and cache it for later engraving.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title": map[string]interface{}{
						"type":        "string",
						"description": "Optional display title for the sequence.",
					},
					"tempo": map[string]interface{}{
						"type":        "number",
						"description": "Tempo in beats per minute, must be greater than 0.",
					},
					"tracks": map[string]interface{}{
						"type":        "array",
						"description": "Ordered list of tracks, each with an instrument name and ordered events.",
						"items": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"instrument": map[string]interface{}{"type": "string"},
								"events": map[string]interface{}{
									"type": "array",
									"items": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"time":    map[string]interface{}{"type": "number"},
											"pitches": map[string]interface{}{"type": "array"},
											"dur":     map[string]interface{}{"type": "number"},
											"vel":     map[string]interface{}{"type": "integer"},
										},
									},
								},
							},
						},
					},
				},
				"required": []string{"tempo", "tracks"},
			},
		},
		{
			Name:        "engrave",
			Description: "Render a music sequence to a PNG score image. Supply tempo+tracks inline, or score_id from a prior play call, or omit both to engrave the most recently played sequence.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"score_id": map[string]interface{}{
						"type":        "string",
						"description": "Id of a previously played sequence, from play's response.",
					},
					"title":  map[string]interface{}{"type": "string"},
					"tempo":  map[string]interface{}{"type": "number"},
					"tracks": map[string]interface{}{"type": "array"},
				},
			},
		},
	}
	c.prompts = []Prompt{}
}
