package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/internal/models"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/pkg/logger"
	"github.com/CyberwizD/Distributed-Notification-System/services/intimation_notifier/pkg/metrics"
)

type dispatcherFixture struct {
	registry *memoryRegistry
	push     *fakePush
	mail     *fakeMail
	metrics  *metrics.Metrics
	d        *Dispatcher
}

func newDispatcherFixture(t *testing.T, registry *memoryRegistry) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		registry: registry,
		push:     &fakePush{},
		mail:     &fakeMail{},
		metrics:  metrics.New(),
	}
	f.d = NewDispatcher(registry, fixedRenderer(), f.push, f.mail, f.metrics, logger.Discard(), Timeouts{
		Store: time.Second,
		Send:  time.Second,
	})
	return f
}

func (f *dispatcherFixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.d.Wait(ctx))
}

// sends reads notifier_channel_sends_total for one channel/status pair.
func (f *dispatcherFixture) sends(t *testing.T, channel, status string) float64 {
	t.Helper()
	families, err := f.metrics.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "notifier_channel_sends_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["channel"] == channel && labels["status"] == status {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func team() *memoryRegistry {
	return newMemoryRegistry(
		models.TokenRecord{EmployeeID: 1, Name: "Shivam", Token: "tok-1"},
		models.TokenRecord{EmployeeID: 2, Name: "Priya", Token: "tok-2"},
		models.TokenRecord{EmployeeID: 3, Name: "Arjun", Token: ""},
		models.TokenRecord{EmployeeID: 7, Name: "Ravi", Token: "tok-7"},
	)
}

func intimationEvent(kind models.IntimationKind, id int64, requests ...models.IntimationRequest) *models.Event {
	types := map[models.IntimationKind]models.EventType{
		models.IntimationCreated:   models.EventIntimationCreated,
		models.IntimationUpdated:   models.EventIntimationUpdated,
		models.IntimationCancelled: models.EventIntimationCancelled,
	}
	return &models.Event{
		Type:       types[kind],
		EmployeeID: id,
		Intimation: &models.IntimationEvent{
			EmployeeID:   id,
			Reason:       "Family function",
			LastModified: time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC),
			Requests:     requests,
			Kind:         kind,
		},
	}
}

func TestDispatcherEmployeeAdded(t *testing.T) {
	f := newDispatcherFixture(t, newMemoryRegistry())

	err := f.d.Handle(context.Background(), &models.Event{Type: models.EventEmployeeAdded, EmployeeID: 9, Name: "Neha"})
	require.NoError(t, err)
	f.wait(t)

	rec, ok := f.registry.get(9)
	require.True(t, ok)
	assert.Equal(t, models.TokenRecord{EmployeeID: 9, Name: "Neha"}, rec)
	assert.Empty(t, f.push.sent())
	assert.Empty(t, f.mail.sent())
}

func TestDispatcherEmployeeRemoved(t *testing.T) {
	for _, typ := range []models.EventType{models.EventEmployeeDeleted, models.EventEmployeeTerminated} {
		t.Run(string(typ), func(t *testing.T) {
			f := newDispatcherFixture(t, team())

			require.NoError(t, f.d.Handle(context.Background(), &models.Event{Type: typ, EmployeeID: 2}))
			require.NoError(t, f.d.Handle(context.Background(), &models.Event{Type: typ, EmployeeID: 404}))
			f.wait(t)

			_, ok := f.registry.get(2)
			assert.False(t, ok)
			assert.Empty(t, f.push.sent())
		})
	}
}

func TestDispatcherIntimationFansOut(t *testing.T) {
	f := newDispatcherFixture(t, team())

	evt := intimationEvent(models.IntimationCreated, 7,
		req(today, models.StatusWFH, models.StatusLeave),
		req(tomorrow, models.StatusWFH, models.StatusWFH),
	)
	require.NoError(t, f.d.Handle(context.Background(), evt))
	f.wait(t)

	pushes := f.push.sent()
	require.Len(t, pushes, 1)
	assert.Equal(t, []string{"tok-1", "tok-2"}, pushes[0].tokens)
	assert.Equal(t, "Ravi is WFH in first half and on Leave in second half today and has planned leaves/WFH for subsequent days", pushes[0].n.Title)
	assert.Equal(t, "Family function", pushes[0].n.Body)

	data := pushes[0].data
	assert.Equal(t, "7", data["empId"])
	assert.Equal(t, "Ravi", data["empName"])
	assert.Equal(t, "Family function", data["reason"])
	assert.Equal(t, "2024-03-09T18:30:00Z", data["lastModified"])
	var requests []models.IntimationRequest
	require.NoError(t, json.Unmarshal([]byte(data["requests"]), &requests))
	assert.Len(t, requests, 2)

	mails := f.mail.sent()
	require.Len(t, mails, 1)
	assert.Equal(t, pushes[0].n, mails[0])

	assert.Equal(t, 1.0, f.sends(t, "push", "sent"))
}

func TestDispatcherCancellation(t *testing.T) {
	f := newDispatcherFixture(t, team())

	require.NoError(t, f.d.Handle(context.Background(), intimationEvent(models.IntimationCancelled, 1,
		req(today, models.StatusLeave, models.StatusLeave))))
	f.wait(t)

	pushes := f.push.sent()
	require.Len(t, pushes, 1)
	assert.Equal(t, "Shivam has cancelled Intimation", pushes[0].n.Title)
	assert.Equal(t, []string{"tok-2", "tok-7"}, pushes[0].tokens)
}

func TestDispatcherStoreUnavailableDropsEvent(t *testing.T) {
	registry := team()
	registry.loadErr = fmt.Errorf("%w: connection refused", models.ErrStoreUnavailable)
	f := newDispatcherFixture(t, registry)

	err := f.d.Handle(context.Background(), intimationEvent(models.IntimationCreated, 7, req(today, models.StatusWFH, models.StatusWFH)))
	f.wait(t)

	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Empty(t, f.push.sent())
	assert.Empty(t, f.mail.sent())
}

func TestDispatcherBoundsStoreRead(t *testing.T) {
	registry := team()
	registry.block = true
	f := newDispatcherFixture(t, registry)
	f.d.timeouts.Store = 20 * time.Millisecond

	started := time.Now()
	err := f.d.Handle(context.Background(), intimationEvent(models.IntimationCreated, 7, req(today, models.StatusWFH, models.StatusWFH)))

	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), time.Second)
}

func TestDispatcherChannelFailureIsIsolated(t *testing.T) {
	f := newDispatcherFixture(t, team())
	f.push.err = fmt.Errorf("%w: fcm: received status 500", models.ErrChannelSend)

	err := f.d.Handle(context.Background(), intimationEvent(models.IntimationUpdated, 7, req(tomorrow, models.StatusWFH, models.StatusWFH)))
	f.wait(t)

	require.NoError(t, err)
	assert.Len(t, f.push.sent(), 1)
	assert.Len(t, f.mail.sent(), 1)
	assert.Equal(t, 1.0, f.sends(t, "push", "failed"))
	assert.Equal(t, 1.0, f.sends(t, "mail", "sent"))
}

func TestDispatcherDoesNotWaitForSends(t *testing.T) {
	f := newDispatcherFixture(t, team())
	f.push.release = make(chan struct{})

	handled := make(chan error, 1)
	go func() {
		handled <- f.d.Handle(context.Background(), intimationEvent(models.IntimationCreated, 7, req(today, models.StatusWFH, models.StatusWFH)))
	}()

	select {
	case err := <-handled:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Handle blocked on the push send")
	}
	assert.Empty(t, f.push.sent())

	close(f.push.release)
	f.wait(t)
	assert.Len(t, f.push.sent(), 1)
}

func TestDispatcherSendsSurviveEventCancellation(t *testing.T) {
	f := newDispatcherFixture(t, team())
	f.push.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.d.Handle(ctx, intimationEvent(models.IntimationCreated, 7, req(today, models.StatusWFH, models.StatusWFH))))
	cancel()
	close(f.push.release)
	f.wait(t)

	assert.Equal(t, 1.0, f.sends(t, "push", "sent"))
}

func TestDispatcherWithoutMailOrRecipients(t *testing.T) {
	registry := newMemoryRegistry(models.TokenRecord{EmployeeID: 7, Name: "Ravi", Token: "tok-7"})
	push := &fakePush{}
	d := NewDispatcher(registry, fixedRenderer(), push, nil, metrics.New(), logger.Discard(), Timeouts{})

	require.NoError(t, d.Handle(context.Background(), intimationEvent(models.IntimationCreated, 7, req(today, models.StatusWFH, models.StatusWFH))))
	require.NoError(t, d.Wait(context.Background()))

	assert.Empty(t, push.sent(), "only the actor is registered, nobody to notify")
}

func TestDispatcherEmployeeAddedThenIntimation(t *testing.T) {
	f := newDispatcherFixture(t, team())
	ctx := context.Background()

	require.NoError(t, f.d.Handle(ctx, &models.Event{Type: models.EventEmployeeAdded, EmployeeID: 10, Name: "Kabir"}))
	require.NoError(t, f.d.Handle(ctx, intimationEvent(models.IntimationCreated, 10, req(today, models.StatusLeave, models.StatusLeave))))
	f.wait(t)

	pushes := f.push.sent()
	require.Len(t, pushes, 1)
	assert.Equal(t, []string{"tok-1", "tok-2", "tok-7"}, pushes[0].tokens)
	assert.Equal(t, "Kabir is on Leave today", pushes[0].n.Title)
}

func TestDispatcherIgnoresUnknownEvents(t *testing.T) {
	f := newDispatcherFixture(t, team())

	require.NoError(t, f.d.Handle(context.Background(), &models.Event{Type: "EmployeeUpdated", EmployeeID: 1}))
	f.wait(t)

	assert.Empty(t, f.push.sent())
}

func TestDispatcherRejectsIntimationWithoutBody(t *testing.T) {
	f := newDispatcherFixture(t, team())

	err := f.d.Handle(context.Background(), &models.Event{Type: models.EventIntimationCreated, EmployeeID: 1})

	assert.ErrorIs(t, err, models.ErrMalformedEvent)
}

// Concurrent events for different employees must not leak names or
// exclusions into each other.
func TestDispatcherConcurrentEvents(t *testing.T) {
	f := newDispatcherFixture(t, team())
	ctx := context.Background()
	actors := map[int64]string{1: "Shivam", 2: "Priya", 7: "Ravi"}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		for id := range actors {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				assert.NoError(t, f.d.Handle(ctx, intimationEvent(models.IntimationCancelled, id)))
			}(id)
		}
	}
	wg.Wait()
	f.wait(t)

	pushes := f.push.sent()
	require.Len(t, pushes, 90)
	selfTokens := map[string]string{"Shivam": "tok-1", "Priya": "tok-2", "Ravi": "tok-7"}
	for _, p := range pushes {
		assert.Equal(t, p.n.RecipientEmployeeName+" has cancelled Intimation", p.n.Title)
		assert.Equal(t, actors[p.n.RecipientEmployeeID], p.n.RecipientEmployeeName)
		assert.NotContains(t, p.tokens, selfTokens[p.n.RecipientEmployeeName])
		assert.Len(t, p.tokens, 2)
	}
}

// A token registration racing with an intimation read may or may not be
// observed; either outcome is accepted.
func TestDispatcherToleratesStaleReads(t *testing.T) {
	registry := team()
	f := newDispatcherFixture(t, registry)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		registry.mu.Lock()
		registry.records[3] = models.TokenRecord{EmployeeID: 3, Name: "Arjun", Token: "tok-3"}
		registry.mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, f.d.Handle(ctx, intimationEvent(models.IntimationCreated, 7, req(today, models.StatusWFH, models.StatusWFH))))
	}()
	wg.Wait()
	f.wait(t)

	pushes := f.push.sent()
	require.Len(t, pushes, 1)
	tokens := pushes[0].tokens
	if len(tokens) == 3 {
		assert.Equal(t, []string{"tok-1", "tok-2", "tok-3"}, tokens)
	} else {
		assert.Equal(t, []string{"tok-1", "tok-2"}, tokens)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	f := newDispatcherFixture(t, team())
	f.push.release = make(chan struct{})
	defer close(f.push.release)

	require.NoError(t, f.d.Handle(context.Background(), intimationEvent(models.IntimationCreated, 7, req(today, models.StatusWFH, models.StatusWFH))))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := f.d.Wait(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNotificationDataWithoutRequests(t *testing.T) {
	data := notificationData(&models.IntimationEvent{EmployeeID: 3, Reason: "r", Kind: models.IntimationCancelled}, "")

	assert.Equal(t, "[]", data["requests"])
	assert.Equal(t, "", data["lastModified"])
	assert.Equal(t, "Cancelled", data["kind"])
}
