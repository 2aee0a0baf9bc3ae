package testutil

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatfanout/internal/store"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// MemoryStore returns an in-memory badger store closed at the end of the
// test.
func MemoryStore(t *testing.T, opts ...store.Option) *store.BadgerStore {
	t.Helper()

	s, err := store.NewBadgerStore("", opts...)
	require.NoError(t, err, "open in-memory store")
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// ReadJSON reads the next frame from conn into v, failing the test if none
// arrives within timeout.
func ReadJSON(t *testing.T, conn *websocket.Conn, v any, timeout time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	require.NoError(t, conn.ReadJSON(v), "read json frame")
}
