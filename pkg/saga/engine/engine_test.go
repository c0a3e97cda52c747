// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmech/sagaflow/pkg/saga"
	"github.com/flowmech/sagaflow/pkg/saga/state/storage"
)

// fakePublisher records every published command and can be told to fail.
type fakePublisher struct {
	mu       sync.Mutex
	commands []*saga.Command
	failNext int
}

func (p *fakePublisher) PublishCommand(ctx context.Context, cmd *saga.Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext > 0 {
		p.failNext--
		return errors.New("broker unavailable")
	}
	p.commands = append(p.commands, cmd)
	return nil
}

func (p *fakePublisher) published() []*saga.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*saga.Command, len(p.commands))
	copy(out, p.commands)
	return out
}

func (p *fakePublisher) channels() []string {
	cmds := p.published()
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.CommandType
	}
	return out
}

func onboardingDefinition() *saga.Definition {
	return &saga.Definition{
		Name: "user-onboarding",
		Steps: []saga.StepDefinition{
			{
				Name:                         "CreateUser",
				CommandChannel:               "user.create",
				SuccessEventType:             "user.created",
				FailureEventType:             "user.create.failed",
				CompensationChannel:          "user.delete",
				CompensationSuccessEventType: "user.deleted",
				CompensationFailureEventType: "user.delete.failed",
				Timeout:                      time.Minute,
			},
			{
				Name:                         "OpenAccount",
				CommandChannel:               "account.open",
				SuccessEventType:             "account.opened",
				FailureEventType:             "account.open.failed",
				CompensationChannel:          "account.close",
				CompensationSuccessEventType: "account.closed",
				CompensationFailureEventType: "account.close.failed",
				Timeout:                      time.Minute,
			},
			{
				Name:             "SendNotification",
				CommandChannel:   "notification.send",
				SuccessEventType: "notification.sent",
				FailureEventType: "notification.send.failed",
				Timeout:          time.Minute,
			},
		},
	}
}

type fixture struct {
	engine    *Engine
	store     *storage.MemoryStore
	publisher *fakePublisher
}

func newFixture(t *testing.T, defs ...*saga.Definition) *fixture {
	t.Helper()

	registry := saga.NewRegistry()
	if len(defs) == 0 {
		defs = []*saga.Definition{onboardingDefinition()}
	}
	for _, def := range defs {
		require.NoError(t, registry.Register(def))
	}

	store := storage.NewMemoryStore()
	publisher := &fakePublisher{}
	eng, err := New(Options{
		Registry:  registry,
		Store:     store,
		Publisher: publisher,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = eng.Close()
		_ = store.Close()
	})

	return &fixture{engine: eng, store: store, publisher: publisher}
}

// latestView reduces the step history to the latest row per step name, in
// first-appearance order.
func latestView(t *testing.T, f *fixture, sagaID string) map[string]saga.StepStatus {
	t.Helper()
	history, err := f.engine.StepHistory(context.Background(), sagaID)
	require.NoError(t, err)
	out := make(map[string]saga.StepStatus)
	for _, rec := range history {
		out[rec.StepName] = rec.Status
	}
	return out
}

func TestStartSagaDispatchesFirstCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst, err := f.engine.StartSaga(ctx, "user-onboarding", []byte(`{"email":"a@b.c"}`))
	require.NoError(t, err)
	assert.Equal(t, saga.StatusRunning, inst.Status)

	cmds := f.publisher.published()
	require.Len(t, cmds, 1)
	assert.Equal(t, "user.create", cmds[0].CommandType)
	assert.Equal(t, inst.ID, cmds[0].SagaID)
	assert.NotEmpty(t, cmds[0].CommandID)
	assert.NotEmpty(t, cmds[0].CorrelationID)
	assert.JSONEq(t, `{"email":"a@b.c"}`, string(cmds[0].Payload))

	rec, err := f.store.LatestStep(ctx, inst.ID, "CreateUser")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, saga.StepStatusStarted, rec.Status)
}

func TestStartSagaUnknownName(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.StartSaga(context.Background(), "no-such-saga", nil)
	require.Error(t, err)
	assert.True(t, saga.IsUnknownSaga(err))
	assert.Empty(t, f.publisher.published(), "no command may leave the engine")

	inflight, err := f.store.InFlightSteps(context.Background())
	require.NoError(t, err)
	assert.Empty(t, inflight, "no instance may be created")
}

// failingCreateStore rejects instance creation to simulate a storage fault
// during saga startup.
type failingCreateStore struct {
	*storage.MemoryStore
}

func (s *failingCreateStore) CreateInstance(ctx context.Context, sagaName, firstStep string, command func(sagaID string) ([]byte, error)) (*saga.Instance, error) {
	return nil, saga.NewStorageError("CreateInstance", errors.New("write failed"))
}

func TestStartSagaStorageFailureLeavesNoOrphan(t *testing.T) {
	registry := saga.NewRegistry()
	require.NoError(t, registry.Register(onboardingDefinition()))

	mem := storage.NewMemoryStore()
	defer mem.Close()
	publisher := &fakePublisher{}
	eng, err := New(Options{
		Registry:  registry,
		Store:     &failingCreateStore{MemoryStore: mem},
		Publisher: publisher,
		Config:    Config{RedispatchAfter: time.Nanosecond},
	})
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.StartSaga(context.Background(), "user-onboarding", nil)
	require.Error(t, err)
	assert.Empty(t, publisher.published(), "no command may leave the engine")

	// A failed start leaves no half-created instance behind: the recovery
	// loops see no in-flight work to time out or redispatch.
	inflight, err := mem.InFlightSteps(context.Background())
	require.NoError(t, err)
	assert.Empty(t, inflight)

	timedOut, err := eng.ScanTimeouts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, timedOut)

	swept, err := eng.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestHappyPathCompletesSaga(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst, err := f.engine.StartSaga(ctx, "user-onboarding", nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser", Outcome{Success: true}))
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "OpenAccount", Outcome{Success: true}))
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "SendNotification", Outcome{Success: true}))

	got, err := f.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompleted, got.Status)

	assert.Equal(t, []string{"user.create", "account.open", "notification.send"}, f.publisher.channels())

	view := latestView(t, f, inst.ID)
	assert.Equal(t, saga.StepStatusCompleted, view["CreateUser"])
	assert.Equal(t, saga.StepStatusCompleted, view["OpenAccount"])
	assert.Equal(t, saga.StepStatusCompleted, view["SendNotification"])
}

func TestSerialExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst, err := f.engine.StartSaga(ctx, "user-onboarding", nil)
	require.NoError(t, err)

	// After each outcome at most one step may be unanswered.
	countInFlight := func() int {
		inflight, err := f.store.InFlightSteps(ctx)
		require.NoError(t, err)
		n := 0
		for _, s := range inflight {
			if s.Instance.ID == inst.ID {
				n++
			}
		}
		return n
	}

	assert.Equal(t, 1, countInFlight())
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser", Outcome{Success: true}))
	assert.Equal(t, 1, countInFlight())
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "OpenAccount", Outcome{Success: true}))
	assert.Equal(t, 1, countInFlight())
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "SendNotification", Outcome{Success: true}))
	assert.Equal(t, 0, countInFlight())
}

func TestFailureCompensatesCompletedSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst, err := f.engine.StartSaga(ctx, "user-onboarding", nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser", Outcome{Success: true}))
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "OpenAccount", Outcome{
		Success:      false,
		ErrorMessage: "insufficient funds",
	}))

	got, err := f.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompensating, got.Status)

	// The compensation command targets the most recently completed step.
	cmds := f.publisher.published()
	require.Len(t, cmds, 3)
	assert.Equal(t, "user.delete", cmds[2].CommandType)

	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser-compensation", Outcome{Success: true}))

	got, err = f.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompensated, got.Status)

	view := latestView(t, f, inst.ID)
	assert.Equal(t, saga.StepStatusCompleted, view["CreateUser"])
	assert.Equal(t, saga.StepStatusFailed, view["OpenAccount"])
	assert.Equal(t, saga.StepStatusCompleted, view["CreateUser-compensation"])
}

func TestReverseCompensationOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst, err := f.engine.StartSaga(ctx, "user-onboarding", nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser", Outcome{Success: true}))
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "OpenAccount", Outcome{Success: true}))
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "SendNotification", Outcome{Success: false}))

	// OpenAccount unwinds before CreateUser.
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "OpenAccount-compensation", Outcome{Success: true}))
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser-compensation", Outcome{Success: true}))

	got, err := f.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompensated, got.Status)

	assert.Equal(t, []string{
		"user.create", "account.open", "notification.send",
		"account.close", "user.delete",
	}, f.publisher.channels())
}

func TestFirstStepFailureCompensatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst, err := f.engine.StartSaga(ctx, "user-onboarding", nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser", Outcome{Success: false}))

	got, err := f.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompensated, got.Status)
	assert.Equal(t, []string{"user.create"}, f.publisher.channels())
}

func TestCompensationFailureParksSaga(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst, err := f.engine.StartSaga(ctx, "user-onboarding", nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser", Outcome{Success: true}))
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "OpenAccount", Outcome{Success: false}))
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser-compensation", Outcome{
		Success:      false,
		ErrorMessage: "user service rejected delete",
	}))

	got, err := f.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompensationFailed, got.Status)

	// Terminal: nothing further is accepted or dispatched.
	published := len(f.publisher.published())
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser-compensation", Outcome{Success: true}))
	assert.Len(t, f.publisher.published(), published)
}

func TestStepsWithoutCompensationAreSkippedWhileUnwinding(t *testing.T) {
	def := &saga.Definition{
		Name: "mixed",
		Steps: []saga.StepDefinition{
			{
				Name:                         "Reserve",
				CommandChannel:               "stock.reserve",
				SuccessEventType:             "stock.reserved",
				FailureEventType:             "stock.reserve.failed",
				CompensationChannel:          "stock.release",
				CompensationSuccessEventType: "stock.released",
				CompensationFailureEventType: "stock.release.failed",
				Timeout:                      time.Minute,
			},
			{
				Name:             "Audit",
				CommandChannel:   "audit.log",
				SuccessEventType: "audit.logged",
				FailureEventType: "audit.log.failed",
				Timeout:          time.Minute,
			},
			{
				Name:             "Charge",
				CommandChannel:   "payment.charge",
				SuccessEventType: "payment.charged",
				FailureEventType: "payment.charge.failed",
				Timeout:          time.Minute,
			},
		},
	}
	f := newFixture(t, def)
	ctx := context.Background()

	inst, err := f.engine.StartSaga(ctx, "mixed", nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "Reserve", Outcome{Success: true}))
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "Audit", Outcome{Success: true}))
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "Charge", Outcome{Success: false}))

	// Audit has no compensation: it is marked COMPENSATED and skipped, and
	// unwinding proceeds straight to Reserve.
	view := latestView(t, f, inst.ID)
	assert.Equal(t, saga.StepStatusCompensated, view["Audit"])

	cmds := f.publisher.channels()
	assert.Equal(t, "stock.release", cmds[len(cmds)-1])

	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "Reserve-compensation", Outcome{Success: true}))
	got, err := f.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompensated, got.Status)
}

func TestDuplicateOutcomeIsAbsorbed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst, err := f.engine.StartSaga(ctx, "user-onboarding", nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser", Outcome{Success: true}))
	published := len(f.publisher.published())
	historyBefore, err := f.engine.StepHistory(ctx, inst.ID)
	require.NoError(t, err)

	// Redelivery of the same reply must change nothing.
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser", Outcome{Success: true}))

	historyAfter, err := f.engine.StepHistory(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, historyAfter, len(historyBefore))
	assert.Len(t, f.publisher.published(), published)
}

func TestLateSuccessAfterFailureIsAbsorbed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst, err := f.engine.StartSaga(ctx, "user-onboarding", nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser", Outcome{Success: false}))
	got, err := f.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, saga.StatusCompensated, got.Status)

	// The real reply arrives after the failure was already decided.
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser", Outcome{Success: true}))

	got, err = f.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompensated, got.Status)
}

func TestConcurrentDuplicateOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst, err := f.engine.StartSaga(ctx, "user-onboarding", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser", Outcome{Success: true}))
		}()
	}
	wg.Wait()

	history, err := f.engine.StepHistory(ctx, inst.ID)
	require.NoError(t, err)
	completed := 0
	for _, rec := range history {
		if rec.StepName == "CreateUser" && rec.Status == saga.StepStatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed, "exactly one outcome may be applied")
}

func TestOutcomeForUnknownInstance(t *testing.T) {
	f := newFixture(t)

	err := f.engine.OnStepOutcome(context.Background(), "no-such-id", "CreateUser", Outcome{Success: true})
	require.Error(t, err)
	assert.True(t, saga.IsSagaNotFound(err))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst, err := f.engine.StartSaga(ctx, "user-onboarding", nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.Cancel(ctx, inst.ID))
	got, err := f.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCancelled, got.Status)

	// Cancellation is terminal; late replies are absorbed.
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser", Outcome{Success: true}))
	got, err = f.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCancelled, got.Status)
}

func TestCancelTerminalSaga(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst, err := f.engine.StartSaga(ctx, "user-onboarding", nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser", Outcome{Success: true}))
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "OpenAccount", Outcome{Success: true}))
	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "SendNotification", Outcome{Success: true}))

	err = f.engine.Cancel(ctx, inst.ID)
	require.Error(t, err)
	assert.True(t, saga.IsInvalidState(err))
}

func TestScanTimeoutsSynthesizesFailure(t *testing.T) {
	def := onboardingDefinition()
	def.Steps[0].Timeout = time.Nanosecond
	f := newFixture(t, def)
	ctx := context.Background()

	inst, err := f.engine.StartSaga(ctx, "user-onboarding", nil)
	require.NoError(t, err)

	n, err := f.engine.ScanTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	view := latestView(t, f, inst.ID)
	assert.Equal(t, saga.StepStatusFailed, view["CreateUser"])

	got, err := f.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompensated, got.Status, "no completed step to unwind")

	// A second scan finds nothing: the timeout fired exactly once.
	n, err = f.engine.ScanTimeouts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLateReplyAfterTimeoutIsAbsorbed(t *testing.T) {
	def := onboardingDefinition()
	def.Steps[0].Timeout = time.Nanosecond
	f := newFixture(t, def)
	ctx := context.Background()

	inst, err := f.engine.StartSaga(ctx, "user-onboarding", nil)
	require.NoError(t, err)

	n, err := f.engine.ScanTimeouts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, f.engine.OnStepOutcome(ctx, inst.ID, "CreateUser", Outcome{Success: true}))
	got, err := f.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompensated, got.Status)
}

func TestSweepRedispatchesStalledCommands(t *testing.T) {
	registry := saga.NewRegistry()
	require.NoError(t, registry.Register(onboardingDefinition()))
	store := storage.NewMemoryStore()
	publisher := &fakePublisher{failNext: 1}
	eng, err := New(Options{
		Registry:  registry,
		Store:     store,
		Publisher: publisher,
		Config:    Config{RedispatchAfter: time.Nanosecond},
	})
	require.NoError(t, err)
	defer eng.Close()
	defer store.Close()
	ctx := context.Background()

	// The first publish fails; the step is persisted anyway.
	inst, err := eng.StartSaga(ctx, "user-onboarding", nil)
	require.NoError(t, err)
	assert.Empty(t, publisher.published())

	n, err := eng.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cmds := publisher.published()
	require.Len(t, cmds, 1)
	assert.Equal(t, "user.create", cmds[0].CommandType)
	assert.Equal(t, inst.ID, cmds[0].SagaID)
}

func TestSweepReusesPersistedCommandID(t *testing.T) {
	registry := saga.NewRegistry()
	require.NoError(t, registry.Register(onboardingDefinition()))
	store := storage.NewMemoryStore()
	publisher := &fakePublisher{}
	eng, err := New(Options{
		Registry:  registry,
		Store:     store,
		Publisher: publisher,
		Config:    Config{RedispatchAfter: time.Nanosecond},
	})
	require.NoError(t, err)
	defer eng.Close()
	defer store.Close()
	ctx := context.Background()

	_, err = eng.StartSaga(ctx, "user-onboarding", nil)
	require.NoError(t, err)

	n, err := eng.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	cmds := publisher.published()
	require.Len(t, cmds, 2)
	assert.Equal(t, cmds[0].CommandID, cmds[1].CommandID,
		"redispatch must reuse the persisted command so collaborators can deduplicate")
}

func TestEngineClosed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Close())

	_, err := f.engine.StartSaga(context.Background(), "user-onboarding", nil)
	assert.ErrorIs(t, err, ErrEngineClosed)

	err = f.engine.OnStepOutcome(context.Background(), "x", "CreateUser", Outcome{})
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestNewRequiresDependencies(t *testing.T) {
	registry := saga.NewRegistry()
	store := storage.NewMemoryStore()
	defer store.Close()
	publisher := &fakePublisher{}

	_, err := New(Options{Store: store, Publisher: publisher})
	assert.ErrorIs(t, err, ErrRegistryNotConfigured)

	_, err = New(Options{Registry: registry, Publisher: publisher})
	assert.ErrorIs(t, err, ErrStoreNotConfigured)

	_, err = New(Options{Registry: registry, Store: store})
	assert.ErrorIs(t, err, ErrPublisherNotConfigured)
}
