package storage_test

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

var testNATS *server.Server //nolint:gochecknoglobals // shared test server

func TestMain(m *testing.M) {
	tempDir := filepath.Join(os.TempDir(), "tickcore-storage-test-"+strconv.Itoa(os.Getpid()))

	testNATS = test.RunServer(&server.Options{
		Host:                  "127.0.0.1",
		Port:                  -1,
		NoLog:                 true,
		NoSigs:                true,
		MaxControlLine:        4096,
		DisableShortFirstPing: true,
		JetStream:             true,
		StoreDir:              tempDir,
	})

	code := m.Run()

	testNATS.Shutdown()
	if err := os.RemoveAll(tempDir); err != nil {
		log.Printf("failed to remove temp dir: %v", err)
	}
	os.Exit(code)
}

func newTestConn(t *testing.T) *nats.Conn {
	t.Helper()

	conn, err := nats.Connect(testNATS.ClientURL(), nats.Name("storage-test"))
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}
