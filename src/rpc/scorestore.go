package rpc

import (
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/trufae/notelink/src/musicseq"
)

// scoreCacheCap bounds the ScoreStore per §3: "a small cap is
// acceptable because engrave only ever needs the most recent handful."
const scoreCacheCap = 64

// ScoreStore is the ephemeral in-memory id->MusicSequence cache shared
// by play and engrave, plus a distinguished "last" slot. Access is
// restricted to the dispatcher's tool handlers so that puts and gets
// stay linearizable (§4.5, §5).
type ScoreStore struct {
	mu   sync.Mutex
	lru  *lru.Cache[string, musicseq.MusicSequence]
	last *musicseq.MusicSequence
}

// NewScoreStore builds an empty store.
func NewScoreStore() *ScoreStore {
	cache, err := lru.New[string, musicseq.MusicSequence](scoreCacheCap)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// scoreCacheCap never is.
		panic(err)
	}
	return &ScoreStore{lru: cache}
}

// Put generates a fresh ScoreId, stores seq under it and in the "last"
// slot, and returns the id.
func (s *ScoreStore) Put(seq musicseq.MusicSequence) string {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Add(id, seq)
	last := seq
	s.last = &last
	return id
}

// Get looks up a sequence by id.
func (s *ScoreStore) Get(id string) (musicseq.MusicSequence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Get(id)
}

// Last returns the most recently stored sequence, if any.
func (s *ScoreStore) Last() (musicseq.MusicSequence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return musicseq.MusicSequence{}, false
	}
	return *s.last, true
}
