package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-proposal-backend/internal/broker"
	"github.com/tbourn/go-proposal-backend/internal/domain"
	"github.com/tbourn/go-proposal-backend/internal/repo"
)

const pendingEx = "pending-proposal.ex"

func newProposalService(t *testing.T) (*ProposalService, *broker.Memory, *repoShim) {
	t.Helper()
	db := newTestDB(t)
	mem := broker.NewMemory()
	shim := &repoShim{}
	return NewProposalService(db, shim, mem, pendingEx), mem, shim
}

func TestCreate_Success_IntegratedAndPublishedOnce(t *testing.T) {
	svc, mem, shim := newProposalService(t)

	p, err := svc.Create(context.Background(), validInput(15000))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !p.Integrated || p.Approved != nil || p.Observation != nil {
		t.Fatalf("unexpected state: %+v", p)
	}
	pubs := mem.Published()
	if len(pubs) != 1 || pubs[0].Exchange != pendingEx || pubs[0].Priority != domain.PriorityHigh {
		t.Fatalf("unexpected publishes: %+v", pubs)
	}
	if shim.updateCalls != 0 {
		t.Fatalf("no corrective write expected on success")
	}

	stored, _ := repo.GetProposal(context.Background(), svc.DB, p.ID)
	if !stored.Integrated {
		t.Fatalf("stored flag should be true")
	}
}

func TestCreate_StandardPriorityForLowIncome(t *testing.T) {
	svc, mem, _ := newProposalService(t)
	if _, err := svc.Create(context.Background(), validInput(5000)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if pubs := mem.Published(); len(pubs) != 1 || pubs[0].Priority != domain.PriorityStandard {
		t.Fatalf("expected standard priority, got %+v", pubs)
	}
}

func TestCreate_PublishFailure_MarksPendingBeforeReturning(t *testing.T) {
	svc, mem, shim := newProposalService(t)
	mem.SetFailure(errors.New("broker unreachable"))

	p, err := svc.Create(context.Background(), validInput(15000))
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if !errors.Is(err, broker.ErrDelivery) {
		t.Fatalf("expected broker cause to be wrapped, got %v", err)
	}
	if p == nil || p.Integrated {
		t.Fatalf("expected pending proposal to be returned, got %+v", p)
	}
	if shim.updateCalls != 1 {
		t.Fatalf("expected exactly one corrective write, got %d", shim.updateCalls)
	}

	stored, err := repo.GetProposal(context.Background(), svc.DB, p.ID)
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if stored.Integrated || stored.PublishAttempts != 1 || stored.LastPublishError == nil {
		t.Fatalf("unexpected stored state: %+v", stored)
	}
}

// cancellingPublisher cancels the caller's context before failing, the way a
// client disconnect surfaces mid-publish.
type cancellingPublisher struct {
	cancel context.CancelFunc
}

func (p *cancellingPublisher) Publish(ctx context.Context, _ *domain.Proposal, exchange string, _ domain.Priority) error {
	p.cancel()
	return &broker.DeliveryError{Exchange: exchange, Op: "publish", Err: context.Canceled}
}

func (p *cancellingPublisher) Close() error { return nil }

func TestCreate_CancelledRequest_StillMarksPending(t *testing.T) {
	db := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shim := &repoShim{}
	svc := NewProposalService(db, shim, &cancellingPublisher{cancel: cancel}, pendingEx)

	p, err := svc.Create(ctx, validInput(15000))
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if shim.updateCtxErr != nil {
		t.Fatalf("corrective write ran on a cancelled context: %v", shim.updateCtxErr)
	}

	stored, err := repo.GetProposal(context.Background(), db, p.ID)
	if err != nil {
		t.Fatalf("GetProposal: %v", err)
	}
	if stored.Integrated {
		t.Fatalf("undelivered proposal must be stored pending: %+v", stored)
	}
	pending, _ := repo.ListProposalsByIntegrated(context.Background(), db, false)
	if len(pending) != 1 || pending[0].ID != p.ID {
		t.Fatalf("sweeper would not see the proposal: %+v", pending)
	}
}

func TestCreate_CorrectiveWriteFailure_IsInternal(t *testing.T) {
	svc, mem, shim := newProposalService(t)
	mem.SetFailure(errors.New("broker unreachable"))
	shim.updateErr = errors.New("disk full")

	p, err := svc.Create(context.Background(), validInput(15000))
	if err == nil || p != nil {
		t.Fatalf("expected error and nil proposal, got %v %v", p, err)
	}
	if errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("corrective write failure must not look like a plain delivery failure")
	}
	if !errors.Is(err, shim.updateErr) || !errors.Is(err, broker.ErrDelivery) {
		t.Fatalf("expected both causes wrapped, got %v", err)
	}
}

func TestCreate_ValidationFailure_NoSideEffects(t *testing.T) {
	svc, mem, _ := newProposalService(t)
	in := validInput(15000)
	in.CPF = "abc"

	_, err := svc.Create(context.Background(), in)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Fields["cpf"] == "" {
		t.Fatalf("expected cpf validation error, got %v", err)
	}
	if n, _ := repo.CountProposals(context.Background(), svc.DB, nil); n != 0 {
		t.Fatalf("nothing should be stored, got %d", n)
	}
	if len(mem.Published()) != 0 {
		t.Fatalf("nothing should be published")
	}
}

func TestGet_NotFound(t *testing.T) {
	svc, _, _ := newProposalService(t)
	if _, err := svc.Get(context.Background(), 404); !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("expected ErrProposalNotFound, got %v", err)
	}
}

func TestListPage_DefaultsAndFilter(t *testing.T) {
	svc, mem, _ := newProposalService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.Create(ctx, validInput(1000)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	mem.SetFailure(errors.New("down"))
	_, _ = svc.Create(ctx, validInput(1000))

	items, total, err := svc.ListPage(ctx, nil, 0, 0)
	if err != nil || total != 4 || len(items) != 4 {
		t.Fatalf("ListPage(nil) = %d items, total %d, %v", len(items), total, err)
	}

	f := false
	items, total, err = svc.ListPage(ctx, &f, 1, 10)
	if err != nil || total != 1 || len(items) != 1 || items[0].Integrated {
		t.Fatalf("ListPage(false) = %+v, %d, %v", items, total, err)
	}

	all, err := svc.List(ctx, nil)
	if err != nil || len(all) != 4 {
		t.Fatalf("List = %d, %v", len(all), err)
	}

	count, maxAt, err := svc.Stats(ctx, nil)
	if err != nil || count != 4 || maxAt == nil {
		t.Fatalf("Stats = %d, %v, %v", count, maxAt, err)
	}
}

func TestReplayAndRemember(t *testing.T) {
	svc, _, _ := newProposalService(t)
	ctx := context.Background()

	if _, ok := svc.Replay(ctx, "ip:1", "k1"); ok {
		t.Fatalf("unexpected replay before Remember")
	}
	p, err := svc.Create(ctx, validInput(1000))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	svc.Remember(ctx, "ip:1", "k1", p.ID, 201)
	svc.Remember(ctx, "ip:1", "k1", p.ID+1, 201) // duplicate is ignored

	got, ok := svc.Replay(ctx, "ip:1", "k1")
	if !ok || got.ID != p.ID {
		t.Fatalf("Replay = %+v, %v", got, ok)
	}
	if _, ok := svc.Replay(ctx, "ip:2", "k1"); ok {
		t.Fatalf("keys must be scoped per client")
	}
}
