package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gassmann-textboard/textboard/internal/board/client"
	"github.com/gassmann-textboard/textboard/internal/board/notify"
	"github.com/gassmann-textboard/textboard/internal/board/store"
	"golang.org/x/text/encoding/unicode"
)

func startTestServer(t *testing.T) *Server {
	idx, err := store.Open(t.TempDir())
	require.NoError(t, err)

	bus := notify.New()

	srv, err := New("127.0.0.1:0", idx, bus, unicode.UTF8, nil)
	require.NoError(t, err)

	go srv.Serve()
	t.Cleanup(func() { _ = srv.Shutdown() })

	return srv
}

func dial(t *testing.T, srv *Server) *client.Client {
	c, err := client.Dial(srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPostThenListTopics(t *testing.T) {
	srv := startTestServer(t)
	c := dial(t, srv)

	_, err := c.Post("hello", []string{"first line", "second line"})
	require.NoError(t, err)

	topics, _, err := c.ListTopics(-1)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "hello", topics[0].Topic)
}

func TestPostThenFetchTopic(t *testing.T) {
	srv := startTestServer(t)
	c := dial(t, srv)

	_, err := c.Post("hello", []string{"body"})
	require.NoError(t, err)

	messages, _, err := c.Topic("hello")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "body", messages[0].Lines[1])
}

func TestFetchUnknownTopicReturnsEmptyNotError(t *testing.T) {
	srv := startTestServer(t)
	c := dial(t, srv)

	messages, _, err := c.Topic("nobody-posted-here")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestWindowReturnsMessagesAtOrAfterTimestamp(t *testing.T) {
	srv := startTestServer(t)
	c := dial(t, srv)

	_, err := c.Post("a", []string{"one"})
	require.NoError(t, err)

	messages, _, err := c.Window(0)
	require.NoError(t, err)
	assert.Len(t, messages, 1)

	futureMessages, _, err := c.Window(^uint64(0))
	require.NoError(t, err)
	assert.Empty(t, futureMessages)
}

func TestSelfAndOtherConnectionBothSeeNotification(t *testing.T) {
	srv := startTestServer(t)
	poster := dial(t, srv)
	observer := dial(t, srv)

	// give the observer a registered queue before the post happens
	_, _, err := observer.ListTopics(-1)
	require.NoError(t, err)

	notifications, err := poster.Post("hello", []string{"body"})
	require.NoError(t, err)
	require.Len(t, notifications, 1, "the posting connection should see its own notification at the end of its post turn")
	assert.Equal(t, "hello", notifications[0].Topic)

	_, notifications, err = observer.ListTopics(-1)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "hello", notifications[0].Topic)
}

func TestListTopicsRespectsLimit(t *testing.T) {
	srv := startTestServer(t)
	c := dial(t, srv)

	for _, name := range []string{"a", "b", "c"} {
		_, err := c.Post(name, []string{"body"})
		require.NoError(t, err)
	}

	topics, _, err := c.ListTopics(2)
	require.NoError(t, err)
	assert.Len(t, topics, 2)
}

func TestMissingArgumentReturnsErrorAndSessionContinues(t *testing.T) {
	srv := startTestServer(t)
	c := dial(t, srv)

	_, _, err := c.Topic("")
	assert.Error(t, err, "T with no argument is a protocol error, not a fatal disconnect")

	// the session should still be usable afterward
	_, _, err = c.ListTopics(-1)
	assert.NoError(t, err)
}
