// Package musicseq holds the MusicSequence data model shared by the
// play and engrave tools: tempo, tracks, events, and the pitch
// encodings used by both.
package musicseq

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Event is one note or chord within a Track.
type Event struct {
	Time    float64       `json:"time" validate:"gte=0"`
	Pitches []interface{} `json:"pitches" validate:"required,min=1"`
	Dur     float64       `json:"dur" validate:"gt=0"`
	Vel     int           `json:"vel,omitempty"`
}

// Track is an ordered sequence of Events played on one instrument.
type Track struct {
	Instrument string  `json:"instrument" validate:"required"`
	Events     []Event `json:"events" validate:"required,dive"`
}

// MusicSequence is the input to play and inline-mode engrave.
type MusicSequence struct {
	Title  string  `json:"title,omitempty"`
	Tempo  float64 `json:"tempo" validate:"gt=0"`
	Tracks []Track `json:"tracks" validate:"required,min=1,dive"`
}

// EventCount returns the total number of events across all tracks.
func (m MusicSequence) EventCount() int {
	n := 0
	for _, t := range m.Tracks {
		n += len(t.Events)
	}
	return n
}

// DisplayTitle returns Title, or "Untitled" when it is empty.
func (m MusicSequence) DisplayTitle() string {
	if m.Title == "" {
		return "Untitled"
	}
	return m.Title
}

// Validate checks structural invariants (tempo>0, dur>0, nonempty
// pitches) via struct tags, then checks each track's instrument
// against the known set and each event's velocity range (1..127, when
// nonzero) and pitch encoding.
func (m MusicSequence) Validate(knownInstruments map[string]bool) error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid sequence: %w", err)
	}
	for ti, t := range m.Tracks {
		if knownInstruments != nil && !knownInstruments[t.Instrument] {
			return fmt.Errorf("unknown instrument %q on track %d", t.Instrument, ti)
		}
		for ei, ev := range t.Events {
			if ev.Vel != 0 && (ev.Vel < 1 || ev.Vel > 127) {
				return fmt.Errorf("track %d event %d: vel %d out of range 1..127", ti, ei, ev.Vel)
			}
			for _, p := range ev.Pitches {
				if _, err := NormalizePitch(p); err != nil {
					return fmt.Errorf("track %d event %d: %w", ti, ei, err)
				}
			}
		}
	}
	return nil
}

// WithDefaults returns a copy with Vel defaulted to 100 where unset.
func (m MusicSequence) WithDefaults() MusicSequence {
	out := m
	out.Tracks = make([]Track, len(m.Tracks))
	for i, t := range m.Tracks {
		nt := t
		nt.Events = make([]Event, len(t.Events))
		for j, ev := range t.Events {
			nv := ev
			if nv.Vel == 0 {
				nv.Vel = 100
			}
			nt.Events[j] = nv
		}
		out.Tracks[i] = nt
	}
	return out
}

// PrettyJSON re-serializes the sequence as stable, pretty-printed JSON
// (field order follows the Go struct declaration order above, which
// json.Marshal always respects).
func (m MusicSequence) PrettyJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

var noteNameRE = regexp.MustCompile(`^([A-Ga-g])([#b]?)(-?\d+)$`)

var pitchClasses = map[string]int{
	"C": 0, "D": 2, "E": 4, "F": 5, "G": 7, "A": 9, "B": 11,
}

// NormalizePitch accepts either a MIDI integer (0..127, possibly
// carried as a JSON float64) or a note-name string like "C4"/"F#3"/"Bb2"
// and returns the MIDI note number.
func NormalizePitch(p interface{}) (int, error) {
	switch v := p.(type) {
	case float64:
		return midiInRange(int(v))
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("invalid pitch %q", v.String())
		}
		return midiInRange(int(n))
	case int:
		return midiInRange(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return midiInRange(n)
		}
		return noteNameToMIDI(v)
	default:
		return 0, fmt.Errorf("invalid pitch type %T", p)
	}
}

func midiInRange(n int) (int, error) {
	if n < 0 || n > 127 {
		return 0, fmt.Errorf("MIDI pitch %d out of range 0..127", n)
	}
	return n, nil
}

func noteNameToMIDI(name string) (int, error) {
	m := noteNameRE.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return 0, fmt.Errorf("invalid note name %q", name)
	}
	base := pitchClasses[strings.ToUpper(m[1])]
	switch m[2] {
	case "#":
		base++
	case "b":
		base--
	}
	octave, err := strconv.Atoi(m[3])
	if err != nil {
		return 0, fmt.Errorf("invalid note name %q", name)
	}
	midi := (octave+1)*12 + base
	return midiInRange(midi)
}
