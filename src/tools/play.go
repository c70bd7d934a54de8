// Package tools implements C6: the play and engrave tool handlers.
// Each returns an rpc.ToolHandlerFunc closing over the collaborators
// and ScoreStore it needs, grounded in shape on src/wmcp's tools/call
// forwarding (decode params, validate, call out, wrap the result) but
// calling local collaborators instead of forwarding to a child server.
package tools

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/trufae/notelink/src/collab"
	"github.com/trufae/notelink/src/musicseq"
	"github.com/trufae/notelink/src/rpc"
)

// NewPlayHandler builds the play tool handler (§4.6.1).
func NewPlayHandler(audio collab.AudioEngine, instruments collab.Instruments, store *rpc.ScoreStore) rpc.ToolHandlerFunc {
	return func(args map[string]interface{}) (*rpc.CallToolResult, error) {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, &rpc.InvalidParamsError{Err: fmt.Errorf("encode arguments: %w", err)}
		}
		var seq musicseq.MusicSequence
		if err := json.Unmarshal(raw, &seq); err != nil {
			return nil, &rpc.InvalidParamsError{Err: fmt.Errorf("decode sequence: %w", err)}
		}
		seq = seq.WithDefaults()

		known := instruments.KnownNames()
		if err := seq.Validate(known); err != nil {
			return nil, fmt.Errorf("invalid sequence: %w", err)
		}

		pretty, err := seq.PrettyJSON()
		if err != nil {
			return nil, fmt.Errorf("serialize sequence: %w", err)
		}
		audio.PlaySequenceJSON(string(pretty))

		id := store.Put(seq)

		return &rpc.CallToolResult{
			Content: []rpc.ContentItem{
				{Type: "text", Text: fmt.Sprintf("Playing %s at %d BPM with %d event(s).", seq.DisplayTitle(), int(math.Round(seq.Tempo)), seq.EventCount())},
				{Type: "text", Text: fmt.Sprintf("Score ID: %s", id)},
			},
		}, nil
	}
}
