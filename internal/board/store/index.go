// Package store implements the textboard's concurrent topic/message index
// and its filesystem-backed persistence (spec components B-D): message file
// I/O, topic snapshots, and the copy-on-write index that publishes them to
// lock-free readers. The topic filename codec (component A) lives in package
// topicname.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
)

var topicDirPattern = regexp.MustCompile(`^[0-9A-Fa-f]{2,}$`)

// indexState is one immutable, internally-consistent view of the database.
// A new indexState is built, then published wholesale via atomic.Pointer so
// readers never observe a partially-updated view and never take a lock.
type indexState struct {
	byName      map[string]Snapshot
	byRecency   []Snapshot
	allMessages []Message
}

// Index is the concurrent topic/message index (spec component D, also
// called DbContext). All reads are lock-free; writes are serialized by
// writerMu and publish a fresh indexState.
type Index struct {
	topicRoot string

	writerMu sync.Mutex
	state    atomic.Pointer[indexState]
}

// Open initializes an Index rooted at dbRoot, creating dbRoot and
// dbRoot/topic if absent. Existing topic directories are enumerated and
// loaded; entries that fail to decode or contain no valid messages are
// dropped with a logged warning.
func Open(dbRoot string) (*Index, error) {
	if dbRoot == "" {
		return nil, errors.New("store: dbRoot must not be empty")
	}

	info, err := os.Stat(dbRoot)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dbRoot, 0o755); err != nil {
			return nil, fmt.Errorf("store: failed to create the database directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("store: failed to stat the database directory: %w", err)
	case !info.IsDir():
		return nil, errors.New("store: the given database path doesn't point to a directory")
	}

	topicRoot := filepath.Join(dbRoot, "topic")
	info, err = os.Stat(topicRoot)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(topicRoot, 0o755); err != nil {
			return nil, fmt.Errorf("store: failed to create the topic directory: %w", err)
		}
		idx := &Index{topicRoot: topicRoot}
		idx.state.Store(&indexState{byName: map[string]Snapshot{}})
		return idx, nil
	case err != nil:
		return nil, fmt.Errorf("store: failed to stat the topic directory: %w", err)
	case !info.IsDir():
		return nil, errors.New("store: within the database directory there exists a \"topic\" entity which isn't a directory")
	}

	entries, err := os.ReadDir(topicRoot)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list the topics within the topic directory: %w", err)
	}

	byName := make(map[string]Snapshot)
	byRecency := make([]Snapshot, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !topicDirPattern.MatchString(entry.Name()) {
			continue
		}
		snap, ok := FromDir(filepath.Join(topicRoot, entry.Name()))
		if !ok {
			continue
		}
		if _, exists := byName[snap.Name]; exists {
			slog.Warn("duplicate topic name resolved from distinct directories, keeping the first", "topic", snap.Name)
			continue
		}
		byName[snap.Name] = snap
		byRecency = append(byRecency, snap)
	}

	sort.SliceStable(byRecency, func(i, j int) bool {
		return byRecency[i].Latest > byRecency[j].Latest
	})

	allMessages := make([]Message, 0)
	for _, snap := range byRecency {
		allMessages = append(allMessages, snap.Messages...)
	}
	sort.SliceStable(allMessages, func(i, j int) bool {
		return allMessages[i].Timestamp > allMessages[j].Timestamp
	})

	idx := &Index{topicRoot: topicRoot}
	idx.state.Store(&indexState{byName: byName, byRecency: byRecency, allMessages: allMessages})
	return idx, nil
}

// GetTopic returns the current Snapshot for name, if any.
func (idx *Index) GetTopic(name string) (Snapshot, bool) {
	s := idx.state.Load()
	snap, ok := s.byName[name]
	return snap, ok
}

// TopicsByRecency returns every known topic's Snapshot, descending by Latest.
// The returned slice must not be mutated by the caller.
func (idx *Index) TopicsByRecency() []Snapshot {
	return idx.state.Load().byRecency
}

// MessagesByRecency returns every known message across all topics,
// descending by Timestamp. The returned slice must not be mutated by the
// caller.
func (idx *Index) MessagesByRecency() []Message {
	return idx.state.Load().allMessages
}

// Put persists lines as a new message (spec component B) and indexes it
// (serialized by writerMu), returning the topic's updated Snapshot.
// Persistence may run concurrently with other Puts; indexing may not.
func (idx *Index) Put(lines []string) (Snapshot, error) {
	m, err := Create(idx.topicRoot, lines)
	if err != nil {
		return Snapshot{}, err
	}

	return idx.index(m)
}

func (idx *Index) index(m Message) (Snapshot, error) {
	idx.writerMu.Lock()
	defer idx.writerMu.Unlock()

	prev := idx.state.Load()

	old, hadOld := prev.byName[m.Topic]
	var updated Snapshot
	var err error
	if hadOld {
		updated, err = WithAdded(old, m)
	} else {
		var ok bool
		updated, ok = FromDir(filepath.Dir(m.Path))
		if !ok {
			err = errInvalidTopicUpdate
		}
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: could not build topic index with the new message: %w", err)
	}

	allMessages := insertMessageDescending(prev.allMessages, m)
	byRecency := insertTopicDescending(prev.byRecency, updated)

	byName := make(map[string]Snapshot, len(prev.byName)+1)
	for k, v := range prev.byName {
		byName[k] = v
	}
	byName[updated.Name] = updated

	idx.state.Store(&indexState{byName: byName, byRecency: byRecency, allMessages: allMessages})

	return updated, nil
}

// insertMessageDescending copies cur and inserts m preserving descending
// timestamp order. On a tie, m is placed ahead of the existing entries it
// ties with, matching WithAdded's stable-sort-with-new-entry-first
// behavior. A linear scan from the head is fine: new posts are expected to
// land near the front.
func insertMessageDescending(cur []Message, m Message) []Message {
	out := make([]Message, 0, len(cur)+1)
	inserted := false
	for _, existing := range cur {
		if !inserted && existing.Timestamp <= m.Timestamp {
			out = append(out, m)
			inserted = true
		}
		out = append(out, existing)
	}
	if !inserted {
		out = append(out, m)
	}
	return out
}

// insertTopicDescending copies cur, drops any existing entry for
// updated.Name, and inserts updated at the first position whose Latest is
// not greater, preserving descending order and placing updated ahead of any
// tie (matching insertMessageDescending's tie-break).
func insertTopicDescending(cur []Snapshot, updated Snapshot) []Snapshot {
	out := make([]Snapshot, 0, len(cur)+1)
	inserted := false
	for _, existing := range cur {
		if existing.Name == updated.Name {
			continue
		}
		if !inserted && existing.Latest <= updated.Latest {
			out = append(out, updated)
			inserted = true
		}
		out = append(out, existing)
	}
	if !inserted {
		out = append(out, updated)
	}
	return out
}
