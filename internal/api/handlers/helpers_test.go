package handlers_test

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/hugh/go-clinic/internal/auth"
	"github.com/hugh/go-clinic/internal/notify"
	"github.com/hugh/go-clinic/internal/testutil"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (m *recordingMailer) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAuthService(tc *testutil.TestSetup, mailer notify.Mailer) *auth.Service {
	return auth.NewService(tc.DB, tc.JWTService, mailer, notify.Templates{BaseURL: "http://localhost:3000"}, discardLogger())
}

func newResolver(tc *testutil.TestSetup) *auth.Resolver {
	return auth.NewResolver(tc.DB, tc.JWTService)
}
