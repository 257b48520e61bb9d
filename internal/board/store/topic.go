package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gassmann-textboard/textboard/internal/board/topicname"
)

// Snapshot is an immutable view of one topic: its messages sorted strictly
// newest-first, and the timestamp of the newest message. A Snapshot is
// never mutated; updates produce a new Snapshot via WithAdded.
type Snapshot struct {
	Name     string
	Dir      string
	Messages []Message
	Latest   uint64
}

// FromDir builds a Snapshot from a topic directory. The directory's base
// name must decode (via topicname.Decode) to a topic string; every regular
// file within it is loaded as a candidate message and invalid ones are
// dropped. A directory that decodes to no valid messages yields an invalid
// snapshot (ok == false) and must not be exposed to clients.
func FromDir(dir string) (Snapshot, bool) {
	name, ok := topicname.Decode(filepath.Base(dir))
	if !ok {
		slog.Warn("topic directory name doesn't decode to a topic", "dir", dir)
		return Snapshot{}, false
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("failed to list files of topic", "dir", dir, "error", err)
		return Snapshot{}, false
	}

	messages := make([]Message, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		msg, ok := Load(filepath.Join(dir, entry.Name()), name)
		if !ok {
			continue
		}
		messages = append(messages, msg)
	}

	if len(messages) == 0 {
		slog.Warn("topic directory contains no valid messages", "dir", dir)
		return Snapshot{}, false
	}

	sortMessagesDescending(messages)

	return Snapshot{Name: name, Dir: dir, Messages: messages, Latest: messages[0].Timestamp}, true
}

// WithAdded returns a new Snapshot equal to old with m merged in, keeping
// descending timestamp order. m must belong to old's topic and directory.
func WithAdded(old Snapshot, m Message) (Snapshot, error) {
	if !strings.HasPrefix(m.Path, old.Dir+string(filepath.Separator)) && filepath.Dir(m.Path) != old.Dir {
		return Snapshot{}, fmt.Errorf("store: message %q isn't in topic directory %q", m.Path, old.Dir)
	}
	if m.Topic != old.Name {
		return Snapshot{}, fmt.Errorf("store: message topic %q doesn't match snapshot topic %q", m.Topic, old.Name)
	}

	merged := make([]Message, 0, len(old.Messages)+1)
	merged = append(merged, m)
	merged = append(merged, old.Messages...)
	sortMessagesDescending(merged)

	return Snapshot{Name: old.Name, Dir: old.Dir, Messages: merged, Latest: merged[0].Timestamp}, nil
}

// sortMessagesDescending sorts in place by Timestamp descending. The sort is
// stable: among equal timestamps, relative input order is preserved, which
// is what gives WithAdded its "new message wins ties" behavior since the
// new message is placed at the front of the slice before sorting.
func sortMessagesDescending(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp > messages[j].Timestamp
	})
}

var errInvalidTopicUpdate = errors.New("store: recomputed topic snapshot is invalid")
