// Package protocol implements the per-connection line protocol state
// machine (spec component F): it reads a command line, dispatches to a
// handler, writes the response, then drains and emits any queued topic
// change notifications before the next read.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"

	"github.com/gassmann-textboard/textboard/internal/board/notify"
	"github.com/gassmann-textboard/textboard/internal/board/store"
)

// Engine drives one client connection through READ_COMMAND -> HANDLE ->
// EMIT_NOTIFICATIONS -> READ_COMMAND until it reaches CLOSED.
type Engine struct {
	ID   uint64
	conn net.Conn

	reader *bufio.Reader
	writer *bufio.Writer

	idx   *store.Index
	bus   *notify.Bus
	queue *notify.Queue

	remoteAddr string
}

// New constructs an Engine for conn, registering it with bus under id. The
// caller is responsible for eventually calling Run.
func New(id uint64, conn net.Conn, idx *store.Index, bus *notify.Bus, enc encoding.Encoding) *Engine {
	return &Engine{
		ID:         id,
		conn:       conn,
		reader:     bufio.NewReader(DecodingReader(conn, enc)),
		writer:     bufio.NewWriter(EncodingWriter(conn, enc)),
		idx:        idx,
		bus:        bus,
		queue:      bus.Register(id),
		remoteAddr: conn.RemoteAddr().String(),
	}
}

// Run executes the protocol state machine until the connection closes,
// either because the client sent X, closed its input, a fatal I/O error
// occurred, or ctx-equivalent external shutdown closed the socket.
func (e *Engine) Run() {
	defer e.teardown()

	for {
		line, err := e.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("connection read failed", "conn", e.ID, "peer", e.remoteAddr, "error", err)
			}
			return
		}

		opcode, arg, ok := splitCommand(line)
		if !ok {
			e.writeErrorf("empty command")
			if !e.finishTurn() {
				return
			}
			continue
		}

		if opcode == 'X' {
			if arg != "" {
				e.writeErrorf("X takes no argument")
				if !e.finishTurn() {
					return
				}
				continue
			}
			return
		}

		if !e.dispatch(opcode, arg) {
			return
		}

		if !e.finishTurn() {
			return
		}
	}
}

// dispatch executes the command named by opcode. It returns false if a
// fatal I/O error means the connection must close.
func (e *Engine) dispatch(opcode byte, arg string) bool {
	switch opcode {
	case 'P':
		return e.handlePost()
	case 'L':
		e.handleList(arg)
	case 'T':
		e.handleTopic(arg)
	case 'W':
		e.handleWindow(arg)
	default:
		e.writeErrorf("unknown command %q", string(opcode))
	}
	return true
}

// finishTurn drains and emits queued notifications, then flushes the
// output buffer. It returns false if a fatal write error occurred.
func (e *Engine) finishTurn() bool {
	e.emitNotifications()
	if err := e.writer.Flush(); err != nil {
		slog.Warn("connection write failed", "conn", e.ID, "peer", e.remoteAddr, "error", err)
		return false
	}
	return true
}

// Close forcibly closes the underlying connection, causing a blocked Run
// to unblock with an error and return. Safe to call from another
// goroutine; used by the Listener during shutdown.
func (e *Engine) Close() error {
	return e.conn.Close()
}

func (e *Engine) teardown() {
	e.bus.Unregister(e.ID)
	_ = e.conn.Close()
}

func (e *Engine) emitNotifications() {
	changed := e.queue.Drain()
	if len(changed) == 0 {
		return
	}
	fmt.Fprintf(e.writer, "N %d\n", len(changed))
	for _, snap := range changed {
		fmt.Fprintf(e.writer, "%d %s\n", snap.Latest, snap.Name)
	}
}

func (e *Engine) handlePost() bool {
	countLine, err := e.readLine()
	if err != nil {
		return false
	}
	m, parseErr := strconv.Atoi(countLine)
	if parseErr != nil || m < 0 {
		// a corrupt M leaves no way to tell where the next command begins,
		// same as a corrupt K in handleOnePost: treat it as fatal rather
		// than recoverable.
		return false
	}

	for i := 0; i < m; i++ {
		ok, fatal := e.handleOnePost()
		if fatal {
			return false
		}
		if !ok {
			// a malformed message within this P batch desynchronizes the
			// stream (we no longer know where the next command starts),
			// so treat it the same as a fatal I/O error.
			return false
		}
	}
	return true
}

// handleOnePost reads and posts a single message within a P batch.
// The bool results are (ok, fatal): ok is false on a framing error that
// leaves the stream unrecoverable, fatal is true on an I/O error.
func (e *Engine) handleOnePost() (ok, fatal bool) {
	kLine, err := e.readLine()
	if err != nil {
		return false, true
	}
	k, parseErr := strconv.Atoi(kLine)
	if parseErr != nil || k < 1 {
		e.writeErrorf("invalid message line count %q", kLine)
		return false, false
	}

	lines := make([]string, k)
	for i := 0; i < k; i++ {
		l, err := e.readLine()
		if err != nil {
			return false, true
		}
		lines[i] = l
	}

	updated, err := e.idx.Put(lines)
	if err != nil {
		slog.Warn("failed to post message", "conn", e.ID, "peer", e.remoteAddr, "error", err)
		e.writeErrorf("failed to post message: %v", err)
		return true, false
	}

	e.bus.Broadcast(updated)
	return true, false
}

func (e *Engine) handleList(arg string) {
	topics := e.idx.TopicsByRecency()

	n := len(topics)
	if arg != "" {
		parsed, err := strconv.Atoi(arg)
		if err != nil || parsed < 0 {
			e.writeErrorf("invalid topic limit %q", arg)
			return
		}
		if parsed < n {
			n = parsed
		}
	}

	fmt.Fprintf(e.writer, "%d\n", n)
	for i := 0; i < n; i++ {
		fmt.Fprintf(e.writer, "%d %s\n", topics[i].Latest, topics[i].Name)
	}
}

func (e *Engine) handleTopic(arg string) {
	if arg == "" {
		e.writeErrorf("missing topic name")
		return
	}

	snap, ok := e.idx.GetTopic(arg)
	if !ok {
		fmt.Fprint(e.writer, "0\n")
		return
	}

	total := 0
	bodies := make([][]string, len(snap.Messages))
	for i, msg := range snap.Messages {
		lines, err := msg.Lines()
		if err != nil {
			slog.Warn("failed to read message body", "conn", e.ID, "path", msg.Path, "error", err)
			lines = []string{fmt.Sprintf("%d %s", msg.Timestamp, msg.Topic)}
		}
		bodies[i] = lines
		total += 1 + len(lines)
	}

	fmt.Fprintf(e.writer, "%d\n", total)
	for _, lines := range bodies {
		writeMessageLines(e.writer, lines)
	}
}

func (e *Engine) handleWindow(arg string) {
	if arg == "" {
		e.writeErrorf("missing timestamp")
		return
	}

	ts, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		e.writeErrorf("invalid timestamp %q", arg)
		return
	}

	messages := e.idx.MessagesByRecency()
	limit := windowLimit(messages, ts)

	fmt.Fprintf(e.writer, "%d\n", limit)
	for i := 0; i < limit; i++ {
		lines, err := messages[i].Lines()
		if err != nil {
			slog.Warn("failed to read message body", "conn", e.ID, "path", messages[i].Path, "error", err)
			lines = []string{fmt.Sprintf("%d %s", messages[i].Timestamp, messages[i].Topic)}
		}
		writeMessageLines(e.writer, lines)
	}
}

// windowLimit returns the number of leading elements of messages (sorted
// descending by Timestamp) whose Timestamp >= ts, via binary search for the
// first element that falls below ts.
func windowLimit(messages []store.Message, ts uint64) int {
	lo, hi := 0, len(messages)
	for lo < hi {
		mid := (lo + hi) / 2
		if messages[mid].Timestamp < ts {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

func writeMessageLines(w io.Writer, lines []string) {
	fmt.Fprintf(w, "%d\n", len(lines))
	for _, l := range lines {
		fmt.Fprintf(w, "%s\n", l)
	}
}

func (e *Engine) writeErrorf(format string, args ...any) {
	fmt.Fprintf(e.writer, "E %s\n", fmt.Sprintf(format, args...))
}

// readLine reads one LF-terminated line with any trailing CR stripped.
func (e *Engine) readLine() (string, error) {
	line, err := e.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// splitCommand splits a command line into its opcode and optional argument
// (everything after the single space at index 1). ok is false for an empty
// line.
func splitCommand(line string) (opcode byte, arg string, ok bool) {
	if line == "" {
		return 0, "", false
	}
	opcode = line[0]
	if len(line) > 1 {
		if line[1] == ' ' {
			arg = line[2:]
		} else {
			arg = line[1:]
		}
	}
	return opcode, arg, true
}
