package binding

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilTarget)

	_, err = New(newAutoTarget(0), Config{Qualifier: Qualifier(42)})
	assert.ErrorIs(t, err, ErrInvalidQualifier)
}

func TestKickstartRead(t *testing.T) {
	ft := newManualTarget(7)
	b := mustNew(t, ft, Config{Name: "r0", Default: 0})
	rec := record(b, ValueChanged)

	c := ft.expectRead(t)
	assert.Equal(t, StateRead, b.State())
	c.ok()
	settle(t, b)

	assert.Equal(t, StateIdle, b.State())
	assert.Equal(t, 7, b.Value())
	assert.Equal(t, 7, b.CommittedValue())
	ev, ok := rec.last(ValueChanged)
	require.True(t, ok)
	assert.Equal(t, 0, ev.OldValue)
	assert.Equal(t, 7, ev.NewValue)
	assert.True(t, ev.SuppressSideEffects)
	assert.Equal(t, "r0", ev.Name)
	assert.Equal(t, b.ID(), ev.BindingID)
}

func TestRefreshesShareOneRead(t *testing.T) {
	ft := newManualTarget(0)
	b := mustNew(t, ft, Config{})
	rec := record(b, ValueChanged)

	c := ft.expectRead(t)
	var chans []<-chan error
	for i := 0; i < 5; i++ {
		chans = append(chans, b.RefreshAsync(nil))
	}
	assert.Equal(t, StateRead, b.State())

	ft.setValue(99)
	c.ok()
	for _, ch := range chans {
		assert.NoError(t, waitErr(t, ch))
	}
	settle(t, b)
	ft.expectNoCall(t)

	reads, _ := ft.counts()
	assert.Equal(t, 1, reads)
	assert.Equal(t, 1, rec.count(ValueChanged))
	assert.Equal(t, 99, b.Value())
}

func TestRefreshWhenIdleIssuesRead(t *testing.T) {
	ft := newAutoTarget(3)
	b := mustNew(t, ft, Config{})
	settle(t, b)

	ft.setValue(4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Refresh(ctx, nil))

	reads, _ := ft.counts()
	assert.Equal(t, 2, reads)
	assert.Equal(t, 4, b.Value())
}

func TestRefreshReportsReadError(t *testing.T) {
	ft := newManualTarget(0)
	b := mustNew(t, ft, Config{})
	rec := record(b, StatusChanged)

	c := ft.expectRead(t)
	ch := b.RefreshAsync(nil)
	c.fail(errBoom)

	assert.ErrorIs(t, waitErr(t, ch), errBoom)
	settle(t, b)
	assert.ErrorIs(t, b.Status(), errBoom)
	assert.Equal(t, 1, rec.count(StatusChanged))

	// A later success clears the status.
	ch = b.RefreshAsync(nil)
	ft.expectRead(t).ok()
	assert.NoError(t, waitErr(t, ch))
	settle(t, b)
	assert.NoError(t, b.Status())
	assert.Equal(t, 2, rec.count(StatusChanged))
}

func TestIndexChangesDuringReadCollapse(t *testing.T) {
	ft := newManualTarget(0)
	b := mustNew(t, ft, Config{})
	rec := record(b, StaleChanged)

	first := ft.expectRead(t)
	for i := 0; i < 10; i++ {
		b.OnIndexChanged()
	}
	assert.Equal(t, StateDelayedRead, b.State())
	assert.True(t, b.IsStale())

	first.ok()
	second := ft.expectRead(t)
	assert.True(t, b.IsStale(), "a read started before the change must not clear stale")
	second.ok()
	settle(t, b)
	ft.expectNoCall(t)

	reads, _ := ft.counts()
	assert.Equal(t, 2, reads)
	assert.False(t, b.IsStale())
	assert.Equal(t, 2, rec.count(StaleChanged))
}

func TestIndexChangeWhenIdleReads(t *testing.T) {
	ft := newAutoTarget(1)
	b := mustNew(t, ft, Config{})
	settle(t, b)

	ft.setValue(2)
	b.OnIndexChanged()
	settle(t, b)

	reads, _ := ft.counts()
	assert.Equal(t, 2, reads)
	assert.Equal(t, 2, b.Value())
	assert.False(t, b.IsStale())
}

func TestSetValueDuringRead(t *testing.T) {
	ft := newManualTarget(0)
	b := mustNew(t, ft, Config{})

	read := ft.expectRead(t)
	require.NoError(t, b.SetValue(5, nil, false))
	assert.Equal(t, StateDelayedWrite, b.State())
	assert.Equal(t, 5, b.Value(), "optimistic update")

	ft.setValue(1)
	read.ok()
	ft.expectWrite(t, 5).ok()
	assert.Equal(t, 5, b.Value(), "read result during a queued write is informational")
	ft.expectRead(t).ok()
	settle(t, b)

	assert.Equal(t, 5, b.Value())
	assert.Equal(t, 5, b.CommittedValue())
	_, writes := ft.counts()
	assert.Equal(t, 1, writes)
}

func TestWritesDuringWriteCoalesce(t *testing.T) {
	ft := newManualTarget(0)
	b := mustNew(t, ft, Config{})
	ft.expectRead(t).ok()
	settle(t, b)

	require.NoError(t, b.SetValue(1, nil, false))
	first := ft.expectWrite(t, 1)
	assert.Equal(t, StateWrite, b.State())

	require.NoError(t, b.SetValue(2, nil, false))
	require.NoError(t, b.SetValue(3, nil, false))
	assert.Equal(t, StateDelayedWrite, b.State())

	first.ok()
	ft.expectWrite(t, 3).ok()
	ft.expectRead(t).ok()
	settle(t, b)
	ft.expectNoCall(t)

	assert.Equal(t, []Value{1, 3}, ft.written())
	assert.Equal(t, 3, b.Value())
	assert.Equal(t, 3, b.CommittedValue())
}

func TestWriteIsConfirmedByRead(t *testing.T) {
	ft := newAutoTarget(0)
	b := mustNew(t, ft, Config{})
	settle(t, b)

	p := NewProgress()
	require.NoError(t, b.SetValue(8, p, false))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	settle(t, b)

	reads, writes := ft.counts()
	assert.Equal(t, 2, reads)
	assert.Equal(t, 1, writes)
	assert.Equal(t, 8, b.CommittedValue())
	assert.Equal(t, 1, p.Total())
}

func TestRefreshDuringWriteJoinsConfirmation(t *testing.T) {
	ft := newManualTarget(0)
	b := mustNew(t, ft, Config{})
	ft.expectRead(t).ok()
	settle(t, b)

	require.NoError(t, b.SetValue(4, nil, false))
	w := ft.expectWrite(t, 4)
	ch := b.RefreshAsync(nil)
	w.ok()
	assertPending(t, ch)
	ft.expectRead(t).ok()
	assert.NoError(t, waitErr(t, ch))
	settle(t, b)
	ft.expectNoCall(t)
}

func TestSetEqualValueSkipsWrite(t *testing.T) {
	ft := newAutoTarget(6)
	b := mustNew(t, ft, Config{})
	settle(t, b)

	require.NoError(t, b.SetValue(6, nil, false))
	settle(t, b)
	_, writes := ft.counts()
	assert.Equal(t, 0, writes)

	require.NoError(t, b.SetValue(6, nil, true))
	settle(t, b)
	_, writes = ft.counts()
	assert.Equal(t, 1, writes)
}

func TestWriteFailureRevertsCachedValue(t *testing.T) {
	ft := newManualTarget(0)
	b := mustNew(t, ft, Config{})
	ft.expectRead(t).ok()
	settle(t, b)
	rec := record(b, ValueChanged, StatusChanged)

	p := NewProgress()
	require.NoError(t, b.SetValue(5, p, false))
	assert.Equal(t, 5, b.Value())
	ft.expectWrite(t, 5).fail(errBoom)
	settle(t, b)
	ft.expectNoCall(t)

	assert.Equal(t, 0, b.Value())
	assert.ErrorIs(t, b.Status(), errBoom)
	assert.ErrorIs(t, p.Err(), errBoom)
	assert.Equal(t, 2, rec.count(ValueChanged))
	ev, _ := rec.last(ValueChanged)
	assert.True(t, ev.SuppressSideEffects)
	assert.Equal(t, 1, rec.count(StatusChanged))
}

func TestValidateRejectsSynchronously(t *testing.T) {
	ft := newAutoTarget(0)
	b := mustNew(t, ft, Config{Validate: func(v Value) error {
		if v.(int) < 0 {
			return fmt.Errorf("negative")
		}
		return nil
	}})
	settle(t, b)

	err := b.SetValue(-1, nil, false)
	assert.ErrorIs(t, err, ErrValueRejected)
	assert.Equal(t, 0, b.Value())
	_, writes := ft.counts()
	assert.Equal(t, 0, writes)
}

func TestDeferredMode(t *testing.T) {
	t.Run("flush on disable", func(t *testing.T) {
		ft := newAutoTarget(0)
		b := mustNew(t, ft, Config{Deferred: true})
		settle(t, b)

		for _, v := range []int{1, 2, 3} {
			require.NoError(t, b.SetValue(v, nil, false))
		}
		_, writes := ft.counts()
		assert.Equal(t, 0, writes)
		assert.True(t, b.IsDeferredWritePending())
		assert.Equal(t, 3, b.Value())
		assert.Equal(t, 0, b.CommittedValue())

		require.NoError(t, b.SetDeferredMode(false, false))
		settle(t, b)

		assert.Equal(t, []Value{3}, ft.written())
		assert.Equal(t, 3, b.CommittedValue())
		assert.False(t, b.IsDeferredWritePending())
	})

	t.Run("clear restores committed", func(t *testing.T) {
		ft := newAutoTarget(0)
		b := mustNew(t, ft, Config{Deferred: true})
		settle(t, b)
		rec := record(b, ValueChanged)

		require.NoError(t, b.SetValue(9, nil, false))
		b.ClearDeferredWrite()

		assert.Equal(t, 0, b.Value())
		assert.False(t, b.IsDeferredWritePending())
		assert.Equal(t, 2, rec.count(ValueChanged))
		_, writes := ft.counts()
		assert.Equal(t, 0, writes)
	})

	t.Run("force write", func(t *testing.T) {
		ft := newAutoTarget(0)
		b := mustNew(t, ft, Config{Deferred: true})
		settle(t, b)

		require.NoError(t, b.SetValue(4, nil, true))
		settle(t, b)
		assert.Equal(t, []Value{4}, ft.written())
		assert.True(t, b.DeferredMode())
		assert.False(t, b.IsDeferredWritePending())
	})

	t.Run("read keeps local edit", func(t *testing.T) {
		ft := newAutoTarget(0)
		b := mustNew(t, ft, Config{Deferred: true})
		settle(t, b)

		require.NoError(t, b.SetValue(4, nil, false))
		ft.setValue(2)
		b.OnIndexChanged()
		settle(t, b)

		assert.Equal(t, 4, b.Value())
		assert.Equal(t, 2, b.CommittedValue())
		assert.True(t, b.IsDeferredWritePending())
	})
}

func TestReadOnlyNeverWrites(t *testing.T) {
	ft := newAutoTarget(0)
	b := mustNew(t, ft, Config{Qualifier: ReadOnly})
	settle(t, b)
	rec := record(b, ValueChanged)

	require.NoError(t, b.SetValue(9, nil, false))
	require.NoError(t, b.SetValue(9, nil, true))
	settle(t, b)

	assert.Equal(t, 9, b.Value())
	assert.Equal(t, 1, rec.count(ValueChanged))
	ev, _ := rec.last(ValueChanged)
	assert.False(t, ev.SuppressSideEffects)
	_, writes := ft.counts()
	assert.Equal(t, 0, writes)
}

func TestConstReadsOnce(t *testing.T) {
	ft := newAutoTarget(11)
	b := mustNew(t, ft, Config{Qualifier: Const})
	settle(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Refresh(ctx, nil))
		b.OnIndexChanged()
		require.NoError(t, b.SetValue(i, nil, true))
	}
	settle(t, b)

	reads, writes := ft.counts()
	assert.Equal(t, 1, reads)
	assert.Equal(t, 0, writes)
	assert.Equal(t, 11, b.Value())
}

func TestConstRetriesFailedKickstart(t *testing.T) {
	ft := newManualTarget(11)
	b := mustNew(t, ft, Config{Qualifier: Const})
	ft.expectRead(t).fail(errBoom)
	settle(t, b)

	ch := b.RefreshAsync(nil)
	ft.expectRead(t).ok()
	assert.NoError(t, waitErr(t, ch))
	settle(t, b)

	ch = b.RefreshAsync(nil)
	assert.NoError(t, waitErr(t, ch))
	ft.expectNoCall(t)
	assert.Equal(t, 11, b.Value())
}

func TestWriteOnlyReadsOnlyAfterWrite(t *testing.T) {
	ft := newAutoTarget(0)
	b := mustNew(t, ft, Config{Qualifier: WriteOnly})
	settle(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Refresh(ctx, nil))
	b.OnIndexChanged()
	settle(t, b)
	reads, _ := ft.counts()
	assert.Equal(t, 0, reads)

	require.NoError(t, b.SetValue(4, nil, false))
	settle(t, b)
	reads, writes := ft.counts()
	assert.Equal(t, 1, writes)
	assert.Equal(t, 1, reads, "confirmation read")

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Refresh(ctx, nil))
		b.OnIndexChanged()
	}
	settle(t, b)
	reads, _ = ft.counts()
	assert.Equal(t, 1, reads, "reads stop once the write is confirmed")

	require.NoError(t, b.SetValue(5, nil, false))
	settle(t, b)
	reads, writes = ft.counts()
	assert.Equal(t, 2, writes)
	assert.Equal(t, 2, reads)
}

func TestConstStaysSilentAcrossCriticalError(t *testing.T) {
	ft := newAutoTarget(11)
	b := mustNew(t, ft, Config{Qualifier: Const})
	settle(t, b)

	b.ReportCriticalError(errBoom)
	assert.NoError(t, waitErr(t, b.RefreshAsync(nil)))
	b.OnIndexChanged()
	b.ReportCriticalError(nil)
	settle(t, b)

	reads, _ := ft.counts()
	assert.Equal(t, 1, reads)
	assert.Equal(t, StateIdle, b.State())
}

func TestWriteOnlyStaysSilentAcrossCriticalError(t *testing.T) {
	ft := newAutoTarget(0)
	b := mustNew(t, ft, Config{Qualifier: WriteOnly})
	settle(t, b)

	b.ReportCriticalError(errBoom)
	assert.NoError(t, waitErr(t, b.RefreshAsync(nil)))
	b.ReportCriticalError(nil)
	settle(t, b)

	reads, _ := ft.counts()
	assert.Equal(t, 0, reads)
}

func TestNonVolatileDefersRefreshUntilWriteCycleEnds(t *testing.T) {
	ft := newManualTarget(0)
	b := mustNew(t, ft, Config{Qualifier: NonVolatile})
	ft.expectRead(t).ok()
	settle(t, b)

	require.NoError(t, b.SetValue(5, nil, false))
	w := ft.expectWrite(t, 5)
	ch := b.RefreshAsync(nil)
	b.OnIndexChanged()

	w.ok()
	confirm := ft.expectRead(t)
	assertPending(t, ch)
	confirm.ok()

	follow := ft.expectRead(t)
	assertPending(t, ch)
	follow.ok()
	assert.NoError(t, waitErr(t, ch))
	settle(t, b)
	ft.expectNoCall(t)

	reads, _ := ft.counts()
	assert.Equal(t, 3, reads)
}

func TestInterruptDropsWhileBusy(t *testing.T) {
	ft := newManualTarget(0)
	b := mustNew(t, ft, Config{Qualifier: Interrupt})

	read := ft.expectRead(t)
	require.NoError(t, b.SetValue(5, nil, false))
	b.OnIndexChanged()
	assert.Equal(t, StateRead, b.State())
	assert.Equal(t, 0, b.Value())
	assert.False(t, b.IsStale())

	read.ok()
	settle(t, b)
	ft.expectNoCall(t)

	require.NoError(t, b.SetValue(6, nil, false))
	ft.expectWrite(t, 6).ok()
	ft.expectRead(t).ok()
	settle(t, b)
	assert.Equal(t, 6, b.CommittedValue())
}

func TestInterruptRefusesDeferredFlushWhileBusy(t *testing.T) {
	ft := newManualTarget(0)
	b := mustNew(t, ft, Config{Qualifier: Interrupt, Deferred: true})
	read := ft.expectRead(t)

	require.NoError(t, b.SetValue(3, nil, false))
	assert.ErrorIs(t, b.SetDeferredMode(false, false), ErrBusy)
	assert.True(t, b.DeferredMode())

	read.ok()
	settle(t, b)
	require.NoError(t, b.SetDeferredMode(false, false))
	ft.expectWrite(t, 3).ok()
	ft.expectRead(t).ok()
	settle(t, b)
}

func TestCriticalErrorHaltsIO(t *testing.T) {
	ft := newAutoTarget(0)
	b := mustNew(t, ft, Config{})
	settle(t, b)
	rec := record(b, StatusChanged)

	b.ReportCriticalError(errBoom)
	assert.Equal(t, StateError, b.State())
	assert.ErrorIs(t, b.Status(), errBoom)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := b.Refresh(ctx, nil)
	assert.ErrorIs(t, err, ErrCritical)
	assert.ErrorIs(t, err, errBoom)
	b.OnIndexChanged()
	require.NoError(t, b.SetValue(3, nil, false))

	n, err := b.OnRefresh(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	reads, writes := ft.counts()
	assert.Equal(t, 1, reads)
	assert.Equal(t, 0, writes)

	b.ReportCriticalError(nil)
	settle(t, b)
	assert.Equal(t, StateIdle, b.State())
	assert.NoError(t, b.Status())
	assert.Equal(t, 2, rec.count(StatusChanged))

	reads, writes = ft.counts()
	assert.Equal(t, 1, writes, "queued write runs on resume")
	assert.Equal(t, 2, reads, "confirmation read covers the pending refresh")
	assert.Equal(t, 3, b.CommittedValue())
}

func TestCriticalErrorLetsInFlightReadFinish(t *testing.T) {
	ft := newManualTarget(0)
	b := mustNew(t, ft, Config{})
	read := ft.expectRead(t)
	ch := b.RefreshAsync(nil)

	b.ReportCriticalError(errBoom)
	ft.setValue(4)
	read.ok()

	assert.NoError(t, waitErr(t, ch))
	settle(t, b)
	assert.Equal(t, StateError, b.State())
	assert.Equal(t, 4, b.Value())
	assert.ErrorIs(t, b.Status(), errBoom, "read success does not clear a critical status")
}

func TestDisconnectedWritesAreHeld(t *testing.T) {
	ft := newAutoTarget(0)
	b := mustNew(t, ft, Config{})
	settle(t, b)

	ft.disconnect()
	require.NoError(t, b.SetValue(1, nil, false))
	require.NoError(t, b.SetValue(2, nil, false))
	assert.Equal(t, 2, b.Value())
	_, writes := ft.counts()
	assert.Equal(t, 0, writes)

	ft.connect()
	settle(t, b)
	assert.Equal(t, []Value{2}, ft.written())
	assert.Equal(t, 2, b.CommittedValue())

	// Going back to the committed value drops the held write.
	ft.disconnect()
	require.NoError(t, b.SetValue(5, nil, false))
	require.NoError(t, b.SetValue(2, nil, false))
	ft.connect()
	settle(t, b)
	time.Sleep(20 * time.Millisecond)
	settle(t, b)
	assert.Equal(t, []Value{2}, ft.written())
	assert.Equal(t, 2, b.Value())
}

func TestNewerValueReplacesHeldWrite(t *testing.T) {
	ft := newAutoTarget(0)
	b := mustNew(t, ft, Config{})
	settle(t, b)

	ft.disconnect()
	p := NewProgress()
	require.NoError(t, b.SetValue(5, p, false))
	require.NoError(t, b.SetValue(7, p, false))
	ft.connect()
	require.NoError(t, b.SetValue(9, p, false))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	settle(t, b)

	written := ft.written()
	require.NotEmpty(t, written)
	assert.Equal(t, 9, written[len(written)-1])
	assert.NotContains(t, written, 5)
	assert.Equal(t, 9, b.Value())
}

func TestEventsArriveInTransitionOrder(t *testing.T) {
	ft := newAutoTarget(0)
	b := mustNew(t, ft, Config{})
	settle(t, b)
	rec := record(b, ValueChanged)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 1; i <= 50; i++ {
				_ = b.SetValue(g*100+i, nil, false)
				if i%7 == 0 {
					ft.setValue(-i)
					b.RefreshAsync(nil)
				}
			}
		}(g)
	}
	wg.Wait()
	settle(t, b)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.events)
	assert.Equal(t, 0, rec.events[0].OldValue)
	for i := 1; i < len(rec.events); i++ {
		require.Equal(t, rec.events[i-1].NewValue, rec.events[i].OldValue, "event %d", i)
	}
	assert.Equal(t, b.Value(), rec.events[len(rec.events)-1].NewValue)
}

func TestUpdateValue(t *testing.T) {
	ft := newAutoTarget(0)
	b := mustNew(t, ft, Config{})
	settle(t, b)
	rec := record(b, ValueChanged, StreamingData)

	b.UpdateValue(5, false)
	b.UpdateValue(5, false)
	b.UpdateValue(6, true)

	assert.Equal(t, 6, b.Value())
	assert.Equal(t, 6, b.CommittedValue())
	assert.Equal(t, 2, rec.count(ValueChanged))
	assert.Equal(t, 2, rec.count(StreamingData))
	reads, _ := ft.counts()
	assert.Equal(t, 1, reads)
}

func TestSetQualifierResetsPolicy(t *testing.T) {
	ft := newAutoTarget(1)
	b := mustNew(t, ft, Config{Qualifier: Const})
	settle(t, b)

	require.NoError(t, b.SetQualifier(Normal))
	settle(t, b)
	reads, _ := ft.counts()
	assert.Equal(t, 2, reads)
	assert.Equal(t, Normal, b.Qualifier())

	assert.ErrorIs(t, b.SetQualifier(Qualifier(99)), ErrInvalidQualifier)
}

func TestCloseResolvesQueuedRequests(t *testing.T) {
	ft := newManualTarget(0)
	b, err := New(ft, Config{})
	require.NoError(t, err)

	read := ft.expectRead(t)
	p := NewProgress()
	require.NoError(t, b.SetValue(5, p, false))
	b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), ErrClosed)

	read.ok()
	ft.expectNoCall(t)
	assert.ErrorIs(t, b.SetValue(1, nil, false), ErrClosed)
	assert.ErrorIs(t, waitErr(t, b.RefreshAsync(nil)), ErrClosed)
}

func TestListenerMayCallBack(t *testing.T) {
	ft := newAutoTarget(0)
	b := mustNew(t, ft, Config{})
	settle(t, b)

	var seen []Value
	var id ListenerID
	id = b.AddEventListener(ValueChanged, func(ev Event) {
		seen = append(seen, b.Value())
		if !ev.SuppressSideEffects {
			b.UpdateValue(ev.NewValue, true)
		}
	})
	assert.Equal(t, 1, b.ListenerCount(ValueChanged))

	require.NoError(t, b.SetValue(2, nil, false))
	settle(t, b)
	assert.NotEmpty(t, seen)

	assert.True(t, b.RemoveEventListener(id))
	assert.False(t, b.RemoveEventListener(id))
	assert.Equal(t, 0, b.ListenerCount(ValueChanged))
}

func TestAtMostOneOutstandingCall(t *testing.T) {
	ft := newAutoTarget(0)
	ft.latency = time.Millisecond
	b := mustNew(t, ft, Config{})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 50; i++ {
				switch r.Intn(3) {
				case 0:
					b.RefreshAsync(nil)
				case 1:
					b.OnIndexChanged()
				default:
					_ = b.SetValue(r.Intn(10), nil, false)
				}
			}
		}(int64(g))
	}
	wg.Wait()
	settle(t, b)

	assert.Equal(t, 1, ft.peak())
	assert.Equal(t, b.CommittedValue(), b.Value())
}

func TestProgressWait(t *testing.T) {
	p := NewProgress()
	assert.NoError(t, p.Wait(context.Background()))

	p.add()
	p.add()
	p.finish(nil)
	assert.Equal(t, 1, p.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)

	p.finish(errBoom)
	assert.ErrorIs(t, p.Wait(context.Background()), errBoom)
	assert.Equal(t, 2, p.Total())

	var nilProgress *Progress
	nilProgress.add()
	nilProgress.finish(nil)
}
