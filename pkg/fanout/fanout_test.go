package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittoshare/pkg/notify"
	"github.com/marmos91/dittoshare/pkg/registry"
	"github.com/marmos91/dittoshare/pkg/registry/registrytest"
	"github.com/marmos91/dittoshare/pkg/store/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ notify.Publisher = (*Dispatcher)(nil)

type dispatchCall struct {
	event              string
	delivered, skipped int
}

type recordingMetrics struct {
	mu    sync.Mutex
	calls []dispatchCall
}

func (m *recordingMetrics) SetActiveConnections(int)        {}
func (m *recordingMetrics) RecordConnectionAccepted()       {}
func (m *recordingMetrics) RecordConnectionRejected(string) {}
func (m *recordingMetrics) RecordConnectionClosed()         {}

func (m *recordingMetrics) RecordDispatch(event string, delivered, skipped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, dispatchCall{event, delivered, skipped})
}

// saturatedConn is open but refuses messages like a full send buffer.
type saturatedConn struct{ *registrytest.Conn }

func (saturatedConn) Send([]byte) error { return errors.New("send buffer full") }

func shareEvent(target string) notify.Event {
	rec := &record.FileRecord{ID: "f1", OwnerID: "u1", Name: "report.pdf"}
	return notify.NewShareEvent(rec, target, record.PermissionRead, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
}

func TestDispatch_NoConnections(t *testing.T) {
	m := &recordingMetrics{}
	d := New(registry.New(), m)

	res, err := d.Dispatch(context.Background(), shareEvent("u2"))
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, []dispatchCall{{"fileShared", 0, 0}}, m.calls)
}

func TestDispatch_SingleConnectionReceivesOneMessage(t *testing.T) {
	reg := registry.New()
	c := registrytest.NewConn("c1", "u2")
	reg.Register(c)
	d := New(reg, nil)

	res, err := d.Dispatch(context.Background(), shareEvent("u2"))
	require.NoError(t, err)
	assert.Equal(t, Result{Delivered: 1}, res)

	sent := c.Sent()
	require.Len(t, sent, 1)

	var msg notify.Message
	require.NoError(t, json.Unmarshal(sent[0], &msg))
	assert.Equal(t, notify.KindShared, msg.Event)
	require.NotNil(t, msg.Data)
	assert.Equal(t, "f1", msg.Data.ID)
	assert.Equal(t, "report.pdf", msg.Data.FileName)
}

func TestDispatch_OnlyOpenSubset(t *testing.T) {
	reg := registry.New()
	open1 := registrytest.NewConn("c1", "u2")
	closed := registrytest.NewConn("c2", "u2")
	open2 := registrytest.NewConn("c3", "u2")
	saturated := saturatedConn{registrytest.NewConn("c4", "u2")}
	other := registrytest.NewConn("c5", "u3")

	for _, c := range []registry.Connection{open1, closed, open2, saturated, other} {
		reg.Register(c)
	}
	closed.Close()

	m := &recordingMetrics{}
	d := New(reg, m)

	res, err := d.Dispatch(context.Background(), shareEvent("u2"))
	require.NoError(t, err)
	assert.Equal(t, Result{Delivered: 2, Skipped: 2}, res)

	assert.Len(t, open1.Sent(), 1)
	assert.Len(t, open2.Sent(), 1)
	assert.Empty(t, closed.Sent())
	assert.Empty(t, other.Sent(), "other identities are never targeted")
	assert.Equal(t, []dispatchCall{{"fileShared", 2, 2}}, m.calls)
}

func TestDispatch_ClosedBetweenCheckAndSend(t *testing.T) {
	reg := registry.New()
	c := &closingConn{Conn: registrytest.NewConn("c1", "u2")}
	reg.Register(c)

	res, err := New(reg, nil).Dispatch(context.Background(), shareEvent("u2"))
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 1}, res)
}

// closingConn reports open but closes before the send lands.
type closingConn struct{ *registrytest.Conn }

func (c *closingConn) Send(msg []byte) error {
	c.Close()
	return c.Conn.Send(msg)
}

func TestDispatch_Revoke(t *testing.T) {
	reg := registry.New()
	c := registrytest.NewConn("c1", "u2")
	reg.Register(c)

	rec := &record.FileRecord{ID: "f1", OwnerID: "u1"}
	ev := notify.NewRevokeEvent(rec, "u2", time.Now())

	res, err := New(reg, nil).Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.JSONEq(t, `{"event":"fileRevoked","fileId":"f1"}`, string(c.Sent()[0]))
}

func TestDispatch_InvalidEvent(t *testing.T) {
	reg := registry.New()
	c := registrytest.NewConn("c1", "u2")
	reg.Register(c)

	_, err := New(reg, nil).Dispatch(context.Background(), notify.Event{Kind: notify.KindShared, TargetIdentity: "u2"})
	assert.Error(t, err)
	assert.Empty(t, c.Sent())
}

func TestDispatch_CancelledContext(t *testing.T) {
	reg := registry.New()
	c := registrytest.NewConn("c1", "u2")
	reg.Register(c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(reg, nil).Dispatch(ctx, shareEvent("u2"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.Sent())
}

func TestPublish_DelegatesToDispatch(t *testing.T) {
	reg := registry.New()
	c := registrytest.NewConn("c1", "u2")
	reg.Register(c)

	require.NoError(t, New(reg, nil).Publish(context.Background(), shareEvent("u2")))
	assert.Len(t, c.Sent(), 1)
	assert.NoError(t, New(reg, nil).Publish(context.Background(), shareEvent("nobody")))
}
