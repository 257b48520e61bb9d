package store

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gassmann-textboard/textboard/internal/board/topicname"
)

// Message is an immutable record of a single post. The file at Path begins
// with the meta line "<Timestamp> <Topic>" followed by the message body.
type Message struct {
	Topic     string
	Timestamp uint64
	Path      string
}

// Load reads the meta line of the message file at path and validates it
// against expectedTopic. It never returns an error: any parse, mismatch, or
// I/O failure is logged as a warning and signalled by the second return
// value being false, so the caller drops the entry and keeps going.
func Load(path, expectedTopic string) (Message, bool) {
	f, err := os.Open(path)
	if err != nil {
		slog.Warn("failed to open message file", "path", path, "error", err)
		return Message{}, false
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	metaLine, err := reader.ReadString('\n')
	if err != nil && metaLine == "" {
		slog.Warn("failed to read message meta line", "path", path, "error", err)
		return Message{}, false
	}
	metaLine = strings.TrimSuffix(metaLine, "\n")
	metaLine = strings.TrimSuffix(metaLine, "\r")

	delimiter := strings.IndexByte(metaLine, ' ')
	if delimiter <= 0 {
		slog.Warn("message begins with a malformed meta line", "path", path)
		return Message{}, false
	}

	timestampStr := metaLine[:delimiter]
	realTopic := metaLine[delimiter+1:]

	if realTopic != expectedTopic {
		slog.Warn("message is misplaced", "path", path, "expected_topic", expectedTopic, "actual_topic", realTopic)
		return Message{}, false
	}

	timestamp, err := strconv.ParseUint(timestampStr, 10, 64)
	if err != nil {
		slog.Warn("failed to parse message timestamp", "path", path, "error", err)
		return Message{}, false
	}

	return Message{Topic: expectedTopic, Timestamp: timestamp, Path: path}, true
}

// Create validates lines[0] as a client-supplied meta line, rewrites its
// timestamp to the server's current time, and durably persists lines as a
// new message file under topicRoot/<hex-encoded-topic> via a
// temp-file-then-rename. The topic in the meta line is authoritative; the
// client's timestamp is discarded.
func Create(topicRoot string, lines []string) (Message, error) {
	if len(lines) < 1 {
		return Message{}, errors.New("store: a valid message has at least a meta line")
	}

	metaLine := lines[0]
	separatorIndex := strings.IndexByte(metaLine, ' ')
	if separatorIndex < 1 {
		return Message{}, errors.New("store: malformed meta line: either missing topic separator or timestamp")
	}
	if separatorIndex == len(metaLine)-1 {
		return Message{}, errors.New("store: malformed meta line: no topic provided")
	}
	if _, err := strconv.ParseUint(metaLine[:separatorIndex], 10, 64); err != nil {
		return Message{}, fmt.Errorf("store: malformed meta line: the timestamp %q is not a valid number: %w",
			metaLine[:separatorIndex], err)
	}

	topic := metaLine[separatorIndex+1:]
	topicDir := filepath.Join(topicRoot, topicname.Encode(topic))

	if err := os.MkdirAll(topicDir, 0o755); err != nil {
		return Message{}, fmt.Errorf("store: failed to create topic directory %q: %w", topicDir, err)
	}

	tmp, err := os.CreateTemp("", "textboard-msg-*")
	if err != nil {
		return Message{}, fmt.Errorf("store: failed to create a temp file for the new message: %w", err)
	}
	tmpPath := tmp.Name()

	now := uint64(time.Now().Unix())
	lines[0] = fmt.Sprintf("%d %s", now, topic)

	_, writeErr := tmp.WriteString(strings.Join(lines, "\n") + "\n")
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		removeTempFile(tmpPath)
		if writeErr != nil {
			return Message{}, fmt.Errorf("store: failed to write the message content to the temp file: %w", writeErr)
		}
		return Message{}, fmt.Errorf("store: failed to close the temp file: %w", closeErr)
	}

	msgPath := filepath.Join(topicDir, newUUIDv4())
	if err := os.Rename(tmpPath, msgPath); err != nil {
		if isCrossDeviceError(err) {
			slog.Warn("failed to move the new message with an atomic operation", "topic", topic)
			if err := copyAndRemove(tmpPath, msgPath); err != nil {
				removeTempFile(tmpPath)
				return Message{}, fmt.Errorf("store: failed to move the message to the topic directory: %w", err)
			}
		} else {
			removeTempFile(tmpPath)
			return Message{}, fmt.Errorf("store: failed to move the message to the topic directory: %w", err)
		}
	}

	return Message{Topic: topic, Timestamp: now, Path: msgPath}, nil
}

func isCrossDeviceError(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
}

// copyAndRemove is the non-atomic rename fallback for filesystems that
// reject a same-call atomic move (e.g. tmp dir and topic dir on different
// mounts).
func copyAndRemove(tmpPath, dstPath string) error {
	src, err := os.Open(tmpPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := dst.ReadFrom(src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Remove(tmpPath)
}

func removeTempFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to delete obsolete temporary file", "path", path, "error", err)
	}
}
