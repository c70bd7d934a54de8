package collab

import "log"

// NullAudioEngine discards sequences instead of sounding them. It
// satisfies AudioEngine for environments with no soundfont renderer
// wired up (the synthesis engine itself is explicitly out of scope).
type NullAudioEngine struct {
	tag string
}

// NewNullAudioEngine builds a NullAudioEngine that logs under tag.
func NewNullAudioEngine(tag string) *NullAudioEngine {
	return &NullAudioEngine{tag: tag}
}

// PlaySequenceJSON implements AudioEngine. It returns immediately, as
// required by §6; any real work happens (if at all) on its own
// goroutine so the caller is never blocked.
func (n *NullAudioEngine) PlaySequenceJSON(text string) {
	go func() {
		log.Printf("[%s] play_sequence_json: %d bytes (no audio backend wired)", n.tag, len(text))
	}()
}
