package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"helpdesk.org/internal/ticket"
)

type fakeLookup map[string]*ticket.Detail

func (f fakeLookup) Detail(_ context.Context, id string) (*ticket.Detail, error) {
	d, ok := f[id]
	if !ok {
		return nil, ticket.ErrNotFound
	}
	return d, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "msg-1", nil
}

func (m *fakeMailer) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.sent {
		out = append(out, msg.To)
	}
	return out
}

type panicMailer struct{}

func (panicMailer) Send(context.Context, Message) (string, error) { panic("boom") }

func detail(id string, client *ticket.Client, ownerEmail string) *ticket.Detail {
	return &ticket.Detail{
		Ticket: ticket.Ticket{ID: id, Title: "Printer jam", Status: ticket.StatusResolved, OwnerID: "u1"},
		Client: client,
		Owner:  ticket.Owner{ID: "u1", Email: ownerEmail},
	}
}

func observed(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func waitDrained(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

func TestRecipientResolution(t *testing.T) {
	cases := []struct {
		name   string
		detail *ticket.Detail
		want   string
		err    error
	}{
		{"client email wins", detail("T1", &ticket.Client{ID: "c1", Email: "c@x.com"}, "u@x.com"), "c@x.com", nil},
		{"no client", detail("T1", nil, "u@x.com"), "u@x.com", nil},
		{"client without email", detail("T1", &ticket.Client{ID: "c1"}, "u@x.com"), "u@x.com", nil},
		{"neither", detail("T1", &ticket.Client{ID: "c1"}, ""), "", ErrNoRecipient},
		{"nil detail", nil, "", ErrNoRecipient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Recipient(tc.detail)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestOnTicketResolvedSendsToClient(t *testing.T) {
	mailer := &fakeMailer{}
	log, logs := observed(t)
	d := NewDispatcher(fakeLookup{
		"T1": detail("T1", &ticket.Client{ID: "c1", Email: "c@x.com"}, "u@x.com"),
	}, mailer, WithLogger(log))

	d.OnTicketResolved("T1")
	waitDrained(t, d)

	assert.Equal(t, []string{"c@x.com"}, mailer.recipients())
	entries := logs.FilterMessage("notification sent").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "msg-1", entries[0].ContextMap()["message_id"])
}

func TestOnTicketResolvedFallsBackToOwner(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(fakeLookup{"T1": detail("T1", nil, "u@x.com")}, mailer)

	d.OnTicketResolved("T1")
	waitDrained(t, d)

	assert.Equal(t, []string{"u@x.com"}, mailer.recipients())
}

func TestOnTicketResolvedFailuresAreLogged(t *testing.T) {
	cases := []struct {
		name   string
		lookup fakeLookup
		mailer Mailer
		id     string
	}{
		{"no recipient", fakeLookup{"T1": detail("T1", nil, "")}, &fakeMailer{}, "T1"},
		{"ticket missing", fakeLookup{}, &fakeMailer{}, "T404"},
		{"delivery error", fakeLookup{"T1": detail("T1", nil, "u@x.com")}, &fakeMailer{err: errors.New("relay down")}, "T1"},
		{"mailer panics", fakeLookup{"T1": detail("T1", nil, "u@x.com")}, panicMailer{}, "T1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			log, logs := observed(t)
			d := NewDispatcher(tc.lookup, tc.mailer, WithLogger(log))

			assert.NotPanics(t, func() { d.OnTicketResolved(tc.id) })
			waitDrained(t, d)

			failures := logs.FilterLevelExact(zapcore.ErrorLevel).All()
			require.Len(t, failures, 1)
			assert.Equal(t, tc.id, failures[0].ContextMap()["ticket_id"])
		})
	}
}

func TestOnTicketResolvedDoesNotDeduplicate(t *testing.T) {
	mailer := &fakeMailer{}
	d := NewDispatcher(fakeLookup{"T1": detail("T1", nil, "u@x.com")}, mailer)

	d.OnTicketResolved("T1")
	d.OnTicketResolved("T1")
	waitDrained(t, d)

	assert.Len(t, mailer.recipients(), 2)
}

func TestOnTicketResolvedDoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	mailer := &blockingMailer{release: release}
	d := NewDispatcher(fakeLookup{"T1": detail("T1", nil, "u@x.com")}, mailer)

	returned := make(chan struct{})
	go func() {
		d.OnTicketResolved("T1")
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("OnTicketResolved blocked on delivery")
	}
	close(release)
	waitDrained(t, d)
}

type blockingMailer struct{ release chan struct{} }

func (m *blockingMailer) Send(context.Context, Message) (string, error) {
	<-m.release
	return "id", nil
}

func TestScheduleTicketResolvedUsesDelay(t *testing.T) {
	mailer := &fakeMailer{}
	var (
		gotDelay time.Duration
		pending  func()
	)
	d := NewDispatcher(fakeLookup{"T1": detail("T1", nil, "u@x.com")}, mailer,
		WithScheduler(0, func(delay time.Duration, fn func()) {
			gotDelay = delay
			pending = fn
		}))

	d.ScheduleTicketResolved("T1")
	assert.Equal(t, DeferredDelay, gotDelay)
	assert.Empty(t, mailer.recipients(), "nothing is sent before the timer fires")

	require.NotNil(t, pending)
	pending()
	assert.Equal(t, []string{"u@x.com"}, mailer.recipients())
}

func TestWaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := NewDispatcher(fakeLookup{"T1": detail("T1", nil, "u@x.com")}, &blockingMailer{release: release})
	d.OnTicketResolved("T1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)
}
