package collab

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// PassthroughEngraver is a minimal Engraver: it wraps the sequence
// JSON in a trivial symbolic-music envelope and emits a fixed-size
// placeholder SVG that reports the envelope's length in bytes. The real symbolic engraver is
// explicitly out of scope; this exists so ToolHandlers has something
// to exercise in tests.
type PassthroughEngraver struct{}

// ToSymbolicMusic implements Engraver.
func (PassthroughEngraver) ToSymbolicMusic(sequenceJSON string) (string, error) {
	if sequenceJSON == "" {
		return "", fmt.Errorf("empty sequence")
	}
	return fmt.Sprintf(`<score-partwise><!--%s--></score-partwise>`, sequenceJSON), nil
}

// ToSVG implements Engraver. An empty symbolicXML yields ("", nil),
// signalling "no SVG produced" per §4.6.2.
func (PassthroughEngraver) ToSVG(symbolicXML string) (string, error) {
	if symbolicXML == "" {
		return "", nil
	}
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="400" height="200"><text x="10" y="20">%d bytes of score</text></svg>`, len(symbolicXML)), nil
}

// SimpleRasterizer renders placeholder PNGs. There is no third-party
// SVG rasterizer in the retrieved example pack (the real rasterizer is
// explicitly out of scope), so this uses the standard library's
// image/png encoder directly rather than actually interpreting SVG.
type SimpleRasterizer struct{}

// SVGToPNG implements Rasterizer. It ignores svgText's content and
// emits a small valid PNG, which is sufficient for the score-id
// round-trip and path-traversal properties (§8) that only care that a
// real PNG byte stream reaches HttpListener.
func (SimpleRasterizer) SVGToPNG(svgText string) ([]byte, error) {
	if svgText == "" {
		return nil, fmt.Errorf("empty svg")
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode placeholder png: %w", err)
	}
	return buf.Bytes(), nil
}
