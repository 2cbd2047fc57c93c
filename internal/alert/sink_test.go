package alert

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/backupsentry/internal/logging"
	"github.com/ppiankov/backupsentry/internal/model"
)

type memSink struct {
	mu     sync.Mutex
	events []model.AlertEvent
	err    error
}

func (m *memSink) Send(_ context.Context, ev model.AlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *memSink) RecordAlert(ctx context.Context, ev model.AlertEvent) error {
	return m.Send(ctx, ev)
}

func (m *memSink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestFanoutDeliversDespiteFailure(t *testing.T) {
	bad := &memSink{err: errors.New("down")}
	good := &memSink{}
	err := Fanout{bad, nil, good}.Send(context.Background(), honeyEvent())
	require.Error(t, err)
	assert.Equal(t, 1, good.len())
}

func TestRecordAdapter(t *testing.T) {
	rec := &memSink{}
	require.NoError(t, Record(rec).Send(context.Background(), honeyEvent()))
	assert.Equal(t, 1, rec.len())
}

func TestDeduperCollapsesBursts(t *testing.T) {
	next := &memSink{}
	d, err := NewDeduper(next, time.Minute, 16)
	require.NoError(t, err)

	ev := honeyEvent()
	for i := 0; i < 5; i++ {
		e := ev
		e.Timestamp = ev.Timestamp.Add(time.Duration(i) * time.Second)
		e.Op = "access"
		require.NoError(t, d.Send(context.Background(), e))
	}
	assert.Equal(t, 1, next.len())

	other := ev
	other.TokenID = "tok-2"
	require.NoError(t, d.Send(context.Background(), other))
	later := ev
	later.Timestamp = ev.Timestamp.Add(2 * time.Minute)
	require.NoError(t, d.Send(context.Background(), later))
	assert.Equal(t, 3, next.len())
}

func TestDeduperRetriesFailedDelivery(t *testing.T) {
	next := &memSink{err: errors.New("down")}
	d, err := NewDeduper(next, time.Minute, 0)
	require.NoError(t, err)

	require.Error(t, d.Send(context.Background(), honeyEvent()))
	next.mu.Lock()
	next.err = nil
	next.mu.Unlock()
	require.NoError(t, d.Send(context.Background(), honeyEvent()))
	assert.Equal(t, 1, next.len())
}

func TestRelayDrainsUntilClosed(t *testing.T) {
	ch := make(chan model.AlertEvent, 3)
	for i := 0; i < 3; i++ {
		ch <- honeyEvent()
	}
	close(ch)
	sink := &memSink{}
	n := Relay(context.Background(), ch, sink, logging.Discard())
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, sink.len())
}

func TestRelayStopsOnCancel(t *testing.T) {
	ch := make(chan model.AlertEvent)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int)
	go func() { done <- Relay(ctx, ch, &memSink{}, logging.Discard()) }()
	cancel()
	select {
	case n := <-done:
		assert.Zero(t, n)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelayCountsOnlyAccepted(t *testing.T) {
	ch := make(chan model.AlertEvent, 2)
	ch <- honeyEvent()
	ch <- honeyEvent()
	close(ch)
	n := Relay(context.Background(), ch, &memSink{err: errors.New("x")}, logging.Discard())
	assert.Zero(t, n)
}

type fakePublisher struct {
	subjects []string
	data     [][]byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.data = append(f.data, data)
	return nil
}

func TestNATSSinkSubjects(t *testing.T) {
	pub := &fakePublisher{}
	s := newNATSSink(pub, "")
	require.NoError(t, s.Send(context.Background(), honeyEvent()))

	ev := honeyEvent()
	ev.Kind = model.RansomwareSuspected
	require.NoError(t, newNATSSink(pub, "ops.").Send(context.Background(), ev))

	assert.Equal(t, []string{"backupsentry.alerts.honeytoken_accessed", "ops.ransomware_suspected"}, pub.subjects)

	var got model.AlertEvent
	require.NoError(t, json.Unmarshal(pub.data[0], &got))
	assert.Equal(t, "tok-1", got.TokenID)
	assert.Equal(t, "cat", got.Actor.Process)
	require.NoError(t, s.Close())
}
