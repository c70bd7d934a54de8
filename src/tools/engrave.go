package tools

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/trufae/notelink/src/collab"
	"github.com/trufae/notelink/src/musicseq"
	"github.com/trufae/notelink/src/rpc"
)

// NewEngraveHandler builds the engrave tool handler (§4.6.2). addr
// returns the backend's current (host, port) so the written artifact's
// URL can be composed once the listener is ready; it is read fresh on
// every call since SetAddr happens after BackendSupervisor.start.
func NewEngraveHandler(
	instruments collab.Instruments,
	engraver collab.Engraver,
	rasterizer collab.Rasterizer,
	store *rpc.ScoreStore,
	tempDir string,
	addr func() (string, int),
) rpc.ToolHandlerFunc {
	return func(args map[string]interface{}) (*rpc.CallToolResult, error) {
		seq, err := resolveSequence(args, store)
		if err != nil {
			return nil, err
		}

		known := instruments.KnownNames()
		if err := seq.Validate(known); err != nil {
			return nil, fmt.Errorf("invalid sequence: %w", err)
		}

		pretty, err := seq.PrettyJSON()
		if err != nil {
			return nil, fmt.Errorf("serialize sequence: %w", err)
		}

		symbolic, err := engraver.ToSymbolicMusic(string(pretty))
		if err != nil {
			return nil, fmt.Errorf("to_symbolic_music failed: %w", err)
		}
		svg, err := engraver.ToSVG(symbolic)
		if err != nil {
			return nil, fmt.Errorf("to_svg failed: %w", err)
		}
		if svg == "" {
			return nil, fmt.Errorf("engraver produced no svg")
		}
		png, err := rasterizer.SVGToPNG(svg)
		if err != nil {
			return nil, fmt.Errorf("svg_to_png failed: %w", err)
		}

		filename := uuid.NewString() + ".png"
		fullPath := filepath.Join(tempDir, filename)
		if err := os.WriteFile(fullPath, png, 0644); err != nil {
			return nil, fmt.Errorf("write artifact: %w", err)
		}

		host, port := addr()
		url := fmt.Sprintf("http://%s:%d/images/%s", host, port, filename)
		log.Printf("[engrave] wrote %s (%d bytes), artifact url %s", fullPath, len(png), url)

		return &rpc.CallToolResult{
			Content: []rpc.ContentItem{
				{Type: "image", Data: base64.StdEncoding.EncodeToString(png), MimeType: "image/png"},
			},
		}, nil
	}
}

// resolveSequence implements the precedence rule fixed by §4.6.2 and
// §9's Open Question resolution: inline beats score_id beats last.
func resolveSequence(args map[string]interface{}, store *rpc.ScoreStore) (musicseq.MusicSequence, error) {
	_, hasTempo := args["tempo"]
	_, hasTracks := args["tracks"]
	if hasTempo && hasTracks {
		raw, err := json.Marshal(args)
		if err != nil {
			return musicseq.MusicSequence{}, &rpc.InvalidParamsError{Err: fmt.Errorf("encode arguments: %w", err)}
		}
		var seq musicseq.MusicSequence
		if err := json.Unmarshal(raw, &seq); err != nil {
			return musicseq.MusicSequence{}, &rpc.InvalidParamsError{Err: fmt.Errorf("decode sequence: %w", err)}
		}
		return seq.WithDefaults(), nil
	}

	if scoreID, ok := args["score_id"].(string); ok && scoreID != "" {
		seq, found := store.Get(scoreID)
		if !found {
			return musicseq.MusicSequence{}, fmt.Errorf("no score with id %q", scoreID)
		}
		return seq, nil
	}

	seq, found := store.Last()
	if !found {
		return musicseq.MusicSequence{}, fmt.Errorf("No score available. Either provide notes or play a sequence first.")
	}
	return seq, nil
}
