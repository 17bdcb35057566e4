// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/psd401/contextgraph/internal/capture"
	"github.com/psd401/contextgraph/internal/config"
	"github.com/psd401/contextgraph/internal/service"
	"github.com/psd401/contextgraph/internal/store"
)

// memoryFactory builds components over a shared in-memory store so tests can
// inspect what a command wrote.
type memoryFactory struct {
	store *store.MemoryStore
	err   error
	calls int
}

func newMemoryFactory() *memoryFactory {
	return &memoryFactory{store: store.NewMemoryStore(zap.NewNop())}
}

func (f *memoryFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*service.Components, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &service.Components{
		Store:   f.store,
		Capture: capture.NewService(f.store, nil, cfg, logger),
	}, nil
}

// executeCommand runs a fresh command tree and returns everything it printed.
func executeCommand(t *testing.T, factory service.ComponentFactory, args ...string) (string, error) {
	t.Helper()
	return executeCommandContext(context.Background(), t, factory, args...)
}

func executeCommandContext(ctx context.Context, t *testing.T, factory service.ComponentFactory, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(factory)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

// writeTempFile writes content into the test's temp dir and returns the path.
func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
