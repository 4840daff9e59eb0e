package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"block-streamer/internal/block"
	"block-streamer/internal/failover"
)

const genesisTime = 1_700_000_000

func hashOf(n uint64) string {
	return fmt.Sprintf("0x%064x", n)
}

func goodBlock(n uint64) block.Record {
	return block.Record{
		Number:     n,
		Hash:       hashOf(n),
		ParentHash: hashOf(n - 1),
		Timestamp:  genesisTime + n*12,
		TxCount:    int(n % 7),
	}
}

type chainProvider struct {
	name string

	mu      sync.Mutex
	head    uint64
	headErr error
	blocks  map[uint64]block.Record
	fetched []uint64
}

func newChain(name string, head uint64, from uint64) *chainProvider {
	p := &chainProvider{name: name, head: head, blocks: map[uint64]block.Record{}}
	for n := from; n <= head; n++ {
		p.blocks[n] = goodBlock(n)
	}
	return p
}

func (p *chainProvider) Name() string { return p.name }

func (p *chainProvider) HeadNumber(context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head, p.headErr
}

func (p *chainProvider) BlockByNumber(_ context.Context, n uint64) (block.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetched = append(p.fetched, n)
	rec, ok := p.blocks[n]
	if !ok {
		return block.Record{}, fmt.Errorf("block %d unavailable", n)
	}
	return rec, nil
}

func (p *chainProvider) AverageLatency() time.Duration { return 0 }
func (p *chainProvider) ErrorRatio() float64           { return 0 }

type fakeFailover struct {
	active         failover.Provider
	switchOK       bool
	healthCalls    int
	consensusCalls int
	lags           []time.Duration
}

func (f *fakeFailover) Active() failover.Provider { return f.active }

func (f *fakeFailover) RecordMetrics(lag time.Duration) { f.lags = append(f.lags, lag) }

func (f *fakeFailover) SwitchToHealthyProvider(context.Context) bool {
	f.healthCalls++
	return f.switchOK
}

func (f *fakeFailover) SwitchProviderConsensusBased(context.Context) bool {
	f.consensusCalls++
	return true
}

type recordingSink struct {
	mu      sync.Mutex
	records []block.Record
	err     error
}

func (s *recordingSink) Emit(_ context.Context, rec block.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *recordingSink) numbers() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.records))
	for i, r := range s.records {
		out[i] = r.Number
	}
	return out
}

func startAt(n uint64) *Cursor {
	return &Cursor{Number: n, Hash: hashOf(n)}
}

func newTestStreamer(t *testing.T, ctrl Failover, sink Sink, opts Options) *Streamer {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	s, err := New(ctrl, sink, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("new streamer: %v", err)
	}
	return s
}

func equalNumbers(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewRejectsNonPositivePollInterval(t *testing.T) {
	if _, err := New(&fakeFailover{}, &recordingSink{}, Options{}, zerolog.Nop()); err == nil {
		t.Fatal("zero poll interval should be rejected")
	}
}

func TestTamperedParentTriggersConsensusSwitch(t *testing.T) {
	p := newChain("alpha", 100, 98)
	tampered := p.blocks[100]
	tampered.ParentHash = hashOf(12345)
	p.blocks[100] = tampered

	ctrl := &fakeFailover{active: p}
	sink := &recordingSink{}
	s := newTestStreamer(t, ctrl, sink, Options{Start: startAt(97)})

	s.iterate(context.Background())

	if got := sink.numbers(); !equalNumbers(got, []uint64{98, 99}) {
		t.Fatalf("expected blocks 98,99 emitted, got %v", got)
	}
	cur := s.Cursor()
	if cur.Number != 99 || cur.Hash != hashOf(99) {
		t.Fatalf("cursor should stop at 99, got %+v", cur)
	}
	if ctrl.consensusCalls != 1 || ctrl.healthCalls != 0 {
		t.Fatalf("expected one consensus switch, got consensus=%d health=%d", ctrl.consensusCalls, ctrl.healthCalls)
	}
}

func TestCorruptedBlockTriggersConsensusSwitch(t *testing.T) {
	p := newChain("alpha", 98, 98)
	broken := p.blocks[98]
	broken.Hash = ""
	p.blocks[98] = broken

	ctrl := &fakeFailover{active: p}
	sink := &recordingSink{}
	s := newTestStreamer(t, ctrl, sink, Options{Start: startAt(97)})

	s.iterate(context.Background())

	if len(sink.numbers()) != 0 {
		t.Fatalf("corrupted block must not be emitted, got %v", sink.numbers())
	}
	if s.Cursor().Number != 97 {
		t.Fatalf("cursor should not move, got %d", s.Cursor().Number)
	}
	if ctrl.consensusCalls != 1 {
		t.Fatalf("expected consensus switch, got %d", ctrl.consensusCalls)
	}
}

func TestTransportErrorTriggersHealthSwitch(t *testing.T) {
	p := newChain("alpha", 100, 98)
	p.headErr = errors.New("connection refused")

	ctrl := &fakeFailover{active: p, switchOK: true}
	s := newTestStreamer(t, ctrl, &recordingSink{}, Options{Start: startAt(97), NoHealthyBackoff: time.Hour})

	done := make(chan struct{})
	go func() {
		s.iterate(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("successful switch should not back off")
	}
	if ctrl.healthCalls != 1 || ctrl.consensusCalls != 0 {
		t.Fatalf("expected one health switch, got health=%d consensus=%d", ctrl.healthCalls, ctrl.consensusCalls)
	}
}

func TestNoHealthyCandidateBacksOff(t *testing.T) {
	p := newChain("alpha", 100, 98)
	p.headErr = errors.New("timeout")

	ctrl := &fakeFailover{active: p}
	s := newTestStreamer(t, ctrl, &recordingSink{}, Options{Start: startAt(97), NoHealthyBackoff: 20 * time.Millisecond})

	start := time.Now()
	s.iterate(context.Background())
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("expected backoff, iteration took %s", elapsed)
	}
}

func TestMissingBlockIsTransportError(t *testing.T) {
	p := newChain("alpha", 100, 98)
	delete(p.blocks, 99)

	ctrl := &fakeFailover{active: p, switchOK: true}
	sink := &recordingSink{}
	s := newTestStreamer(t, ctrl, sink, Options{Start: startAt(97)})

	s.iterate(context.Background())

	if got := sink.numbers(); !equalNumbers(got, []uint64{98}) {
		t.Fatalf("expected only block 98, got %v", got)
	}
	if ctrl.healthCalls != 1 {
		t.Fatalf("fetch failure should trigger health switch, got %d", ctrl.healthCalls)
	}
}

func TestFirstIterationStartsAtHead(t *testing.T) {
	p := newChain("alpha", 50, 1)
	ctrl := &fakeFailover{active: p}
	sink := &recordingSink{}
	s := newTestStreamer(t, ctrl, sink, Options{})

	s.iterate(context.Background())

	cur := s.Cursor()
	if !cur.Set || cur.Number != 50 {
		t.Fatalf("cursor should start at head 50, got %+v", cur)
	}
	if len(p.fetched) != 0 || len(sink.numbers()) != 0 {
		t.Fatal("no blocks should be fetched on the first iteration")
	}
	if len(ctrl.lags) != 0 {
		t.Fatal("lag is not recorded before the first accepted block")
	}

	p.mu.Lock()
	p.head = 52
	p.blocks[51], p.blocks[52] = goodBlock(51), goodBlock(52)
	p.mu.Unlock()
	s.iterate(context.Background())

	if got := sink.numbers(); !equalNumbers(got, []uint64{51, 52}) {
		t.Fatalf("expected 51,52, got %v", got)
	}
	if ctrl.healthCalls+ctrl.consensusCalls != 0 {
		t.Fatalf("clean catch-up must not fail over, got health=%d consensus=%d", ctrl.healthCalls, ctrl.consensusCalls)
	}
}

func TestLagRecordedFromLastBlockTimestamp(t *testing.T) {
	p := newChain("alpha", 99, 98)
	ctrl := &fakeFailover{active: p}
	s := newTestStreamer(t, ctrl, &recordingSink{}, Options{Start: startAt(97)})
	s.now = func() time.Time { return time.Unix(genesisTime+99*12+30, 0) }

	s.iterate(context.Background())

	if len(ctrl.lags) != 1 || ctrl.lags[0] != 30*time.Second {
		t.Fatalf("expected lag 30s, got %v", ctrl.lags)
	}
}

func TestSinkErrorDoesNotHoldCursor(t *testing.T) {
	p := newChain("alpha", 99, 98)
	ctrl := &fakeFailover{active: p}
	sink := &recordingSink{err: errors.New("disk full")}
	s := newTestStreamer(t, ctrl, sink, Options{Start: startAt(97)})

	s.iterate(context.Background())

	if s.Cursor().Number != 99 {
		t.Fatalf("cursor should reach 99, got %d", s.Cursor().Number)
	}
	if ctrl.healthCalls+ctrl.consensusCalls != 0 {
		t.Fatal("sink errors must not trigger failover")
	}
}

func TestCancelledIterationSkipsRecovery(t *testing.T) {
	p := newChain("alpha", 100, 98)
	p.headErr = context.Canceled

	ctrl := &fakeFailover{active: p}
	s := newTestStreamer(t, ctrl, &recordingSink{}, Options{Start: startAt(97)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.iterate(ctx)

	if ctrl.healthCalls+ctrl.consensusCalls != 0 {
		t.Fatal("shutdown must not be treated as a provider failure")
	}
}

func TestHealthSwitchMovesStreamToNextProvider(t *testing.T) {
	down := newChain("down", 100, 98)
	down.headErr = errors.New("503 service unavailable")
	up := newChain("up", 99, 98)

	ctrl, err := failover.New([]failover.Provider{down, up}, failover.Options{
		LagThreshold:   time.Minute,
		ErrorThreshold: 0.2,
		HalfLife:       time.Minute,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	sink := &recordingSink{}
	s := newTestStreamer(t, ctrl, sink, Options{Start: startAt(97)})

	s.iterate(context.Background())
	if ctrl.Active().Name() != "up" {
		t.Fatalf("expected switch to up, active=%s", ctrl.Active().Name())
	}

	s.iterate(context.Background())
	if got := sink.numbers(); !equalNumbers(got, []uint64{98, 99}) {
		t.Fatalf("expected 98,99 from the new provider, got %v", got)
	}
}

func TestTamperedParentSwitchesToConsensusProvider(t *testing.T) {
	forked := newChain("forked", 100, 98)
	tampered := forked.blocks[100]
	tampered.ParentHash = hashOf(12345)
	forked.blocks[100] = tampered
	beta := newChain("beta", 101, 98)
	gamma := newChain("gamma", 101, 98)

	ctrl, err := failover.New([]failover.Provider{forked, beta, gamma}, failover.Options{
		LagThreshold:   time.Minute,
		ErrorThreshold: 0.2,
		HalfLife:       time.Minute,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	sink := &recordingSink{}
	s := newTestStreamer(t, ctrl, sink, Options{Start: startAt(97)})

	s.iterate(context.Background())
	if got := sink.numbers(); !equalNumbers(got, []uint64{98, 99}) {
		t.Fatalf("expected 98,99 before the tampered block, got %v", got)
	}
	if ctrl.ActiveIndex() != 1 {
		t.Fatalf("expected switch to beta, active=%s", ctrl.Active().Name())
	}

	s.iterate(context.Background())
	if got := sink.numbers(); !equalNumbers(got, []uint64{98, 99, 100, 101}) {
		t.Fatalf("expected 100,101 from beta, got %v", got)
	}
	if cur := s.Cursor(); cur.Number != 101 || cur.Hash != hashOf(101) {
		t.Fatalf("unexpected cursor %+v", cur)
	}
}

func TestRunStopsAfterStop(t *testing.T) {
	p := newChain("alpha", 10, 1)
	s := newTestStreamer(t, &fakeFailover{active: p}, &recordingSink{}, Options{})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for !s.Running() {
		if time.Now().After(deadline) {
			t.Fatal("stream never started")
		}
		time.Sleep(time.Millisecond)
	}
	s.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop should end Run cleanly, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	p := newChain("alpha", 10, 1)
	s := newTestStreamer(t, &fakeFailover{active: p}, &recordingSink{}, Options{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
