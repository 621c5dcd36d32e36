package disputes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ggmarket/ggmarket-backend/internal/checkout"
	"github.com/ggmarket/ggmarket-backend/internal/orders"
	"github.com/ggmarket/ggmarket-backend/internal/settlement"
	"github.com/ggmarket/ggmarket-backend/pkg/config"
	dbpkg "github.com/ggmarket/ggmarket-backend/pkg/db"
	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/enums"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
	"github.com/ggmarket/ggmarket-backend/pkg/outbox"
	"github.com/ggmarket/ggmarket-backend/pkg/outbox/payloads"
	"github.com/ggmarket/ggmarket-backend/pkg/scheduler"
)

// Resolution is the admin's ruling on an open dispute.
type Resolution string

const (
	ResolutionBuyer  Resolution = "buyer"
	ResolutionSeller Resolution = "seller"
)

// Service handles buyer disputes. Opening a dispute freezes settlement; the
// resolution either refunds the buyer or resumes the seller's payout.
type Service interface {
	Open(ctx context.Context, input OpenInput) (*models.Dispute, error)
	Resolve(ctx context.Context, input ResolveInput) (*models.Dispute, error)
	AddEvidence(ctx context.Context, input EvidenceInput) (*models.DisputeEvidence, error)
	ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeEvidence, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error)
	ListOpen(ctx context.Context, limit int) ([]models.Dispute, error)
}

type OpenInput struct {
	OrderID uuid.UUID
	BuyerID uuid.UUID
	Reason  string
	Meta    orders.ActorMeta
}

type ResolveInput struct {
	DisputeID uuid.UUID
	ActorID   uuid.UUID
	InFavorOf Resolution
	Note      string
}

type EvidenceInput struct {
	DisputeID     uuid.UUID
	SubmittedByID uuid.UUID
	Body          string
	AttachmentURL *string
}

type ServiceParams struct {
	Repo       Repository
	DB         orders.TxRunner
	Orders     orders.Service
	Settlement settlement.Service
	Outbox     *outbox.Service
	Scheduler  checkout.JobScheduler
	Config     config.SettlementConfig
	Logger     *logger.Logger
}

type service struct {
	repo       Repository
	db         orders.TxRunner
	orders     orders.Service
	settlement settlement.Service
	outbox     *outbox.Service
	scheduler  checkout.JobScheduler
	cfg        config.SettlementConfig
	logg       *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("disputes repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Settlement == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Scheduler == nil {
		return nil, fmt.Errorf("job scheduler required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Config.DisputeWindow <= 0 {
		params.Config.DisputeWindow = 168 * time.Hour
	}
	return &service{
		repo:       params.Repo,
		db:         params.DB,
		orders:     params.Orders,
		settlement: params.Settlement,
		outbox:     params.Outbox,
		scheduler:  params.Scheduler,
		cfg:        params.Config,
		logg:       params.Logger,
	}, nil
}

// Open creates the dispute, its support ticket and the order transition in
// one transaction. The unique order index allows one dispute per order ever.
func (s *service) Open(ctx context.Context, input OpenInput) (*models.Dispute, error) {
	if input.OrderID == uuid.Nil || input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order and buyer ids required")
	}
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason required")
	}

	order, err := s.orders.Get(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != input.BuyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer may open a dispute")
	}
	switch order.Status {
	case enums.OrderStatusDelivered:
	case enums.OrderStatusCompleted:
		// Completed orders stay disputable for a limited window after the
		// buyer confirmed (or the auto-complete fired).
		if order.CompletedAt == nil || time.Since(*order.CompletedAt) > s.cfg.DisputeWindow {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "dispute window has closed")
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not disputable")
	}

	var dispute *models.Dispute
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		orderID := order.ID

		ticket := &models.SupportTicket{
			ID:      uuid.New(),
			UserID:  input.BuyerID,
			OrderID: &orderID,
			Subject: fmt.Sprintf("Dispute on order %s", order.ID),
			Body:    input.Reason,
			Status:  enums.TicketStatusOpen,
		}
		if err := repo.CreateTicket(ctx, ticket); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create support ticket")
		}

		dispute = &models.Dispute{
			ID:         uuid.New(),
			OrderID:    order.ID,
			OpenedByID: input.BuyerID,
			TicketID:   ticket.ID,
			Status:     enums.DisputeStatusOpen,
			Reason:     input.Reason,
		}
		if err := repo.Create(ctx, dispute); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_disputes_order_id") {
				return pkgerrors.New(pkgerrors.CodeConflict, "order already has a dispute")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create dispute")
		}

		if err := s.orders.MarkDisputed(ctx, tx, order.ID, input.BuyerID, input.Reason); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeOpened,
			AggregateType: enums.AggregateDispute,
			AggregateID:   dispute.ID,
			Actor:         &outbox.ActorRef{UserID: input.BuyerID, Role: "buyer"},
			Version:       1,
			Data: payloads.DisputeOpenedEvent{
				DisputeID: dispute.ID,
				OrderID:   order.ID,
				OpenedBy:  input.BuyerID,
				Reason:    input.Reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.cancelSettlementJobs(ctx, order.ID)
	return dispute, nil
}

// cancelSettlementJobs is best effort. Release itself re-checks for open
// disputes, so a job that slips through still cannot move money.
func (s *service) cancelSettlementJobs(ctx context.Context, orderID uuid.UUID) {
	jobs := []struct {
		queue string
		jobID string
	}{
		{scheduler.QueueSettlement, scheduler.JobID(scheduler.JobSettlementRelease, orderID.String())},
		{scheduler.QueueOrders, scheduler.JobID(scheduler.JobOrderAutoComplete, orderID.String())},
	}
	for _, job := range jobs {
		if _, err := s.scheduler.Cancel(ctx, job.queue, job.jobID); err != nil {
			s.logg.Warn(s.logg.WithOrderID(ctx, orderID.String()), "cancel job after dispute opened")
		}
	}
}

// Resolve closes an open dispute. A buyer ruling refunds through settlement,
// a seller ruling completes the order and re-enqueues the release.
func (s *service) Resolve(ctx context.Context, input ResolveInput) (*models.Dispute, error) {
	if input.DisputeID == uuid.Nil || input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute and actor ids required")
	}
	if input.InFavorOf != ResolutionBuyer && input.InFavorOf != ResolutionSeller {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resolution must favor buyer or seller")
	}

	var dispute *models.Dispute
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		var err error
		dispute, err = repo.FindByIDForUpdate(ctx, input.DisputeID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load dispute")
		}
		if dispute.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "dispute already resolved")
		}

		now := time.Now()
		resolution := string(input.InFavorOf)
		if input.Note != "" {
			resolution = resolution + ": " + input.Note
		}
		if input.InFavorOf == ResolutionBuyer {
			dispute.Status = enums.DisputeStatusResolved
		} else {
			dispute.Status = enums.DisputeStatusRejected
		}
		dispute.Resolution = &resolution
		dispute.ResolvedAt = &now
		if err := repo.Save(ctx, dispute); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save dispute")
		}
		if err := repo.UpdateTicketStatus(ctx, dispute.TicketID, enums.TicketStatusResolved); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "close support ticket")
		}

		if input.InFavorOf == ResolutionSeller {
			if err := s.orders.CompleteFromDispute(ctx, tx, dispute.OrderID, input.ActorID, resolution); err != nil {
				return err
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeResolved,
			AggregateType: enums.AggregateDispute,
			AggregateID:   dispute.ID,
			Actor:         &outbox.ActorRef{UserID: input.ActorID, Role: "admin"},
			Version:       1,
			Data: payloads.DisputeResolvedEvent{
				DisputeID:  dispute.ID,
				OrderID:    dispute.OrderID,
				Status:     string(dispute.Status),
				Resolution: resolution,
				ResolvedAt: now,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if input.InFavorOf == ResolutionBuyer {
		actorID := input.ActorID
		if _, err := s.settlement.Refund(ctx, settlement.RefundInput{
			OrderID: dispute.OrderID,
			ActorID: &actorID,
			Reason:  "dispute resolved for buyer",
		}); err != nil {
			return nil, err
		}
	} else {
		jobID := scheduler.JobID(scheduler.JobSettlementRelease, dispute.OrderID.String())
		if _, err := s.scheduler.Schedule(ctx, scheduler.QueueSettlement, jobID, time.Now()); err != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, dispute.OrderID.String()), "enqueue settlement release after dispute", err)
		}
	}
	return dispute, nil
}

// AddEvidence appends a statement or attachment to an open dispute. Either
// order participant may submit; resolved disputes are closed for evidence.
func (s *service) AddEvidence(ctx context.Context, input EvidenceInput) (*models.DisputeEvidence, error) {
	if input.DisputeID == uuid.Nil || input.SubmittedByID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute and submitter ids required")
	}
	if input.Body == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "evidence body required")
	}

	dispute, err := s.Get(ctx, input.DisputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "dispute already resolved")
	}
	order, err := s.orders.Get(ctx, dispute.OrderID)
	if err != nil {
		return nil, err
	}
	if input.SubmittedByID != order.BuyerID && input.SubmittedByID != order.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only order participants may submit evidence")
	}

	evidence := &models.DisputeEvidence{
		ID:            uuid.New(),
		DisputeID:     dispute.ID,
		SubmittedByID: input.SubmittedByID,
		Body:          input.Body,
		AttachmentURL: input.AttachmentURL,
	}
	if err := s.repo.CreateEvidence(ctx, evidence); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create dispute evidence")
	}
	return evidence, nil
}

func (s *service) ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeEvidence, error) {
	rows, err := s.repo.ListEvidence(ctx, disputeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list dispute evidence")
	}
	return rows, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find dispute")
	}
	return dispute, nil
}

func (s *service) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find dispute")
	}
	return dispute, nil
}

func (s *service) ListOpen(ctx context.Context, limit int) ([]models.Dispute, error) {
	rows, err := s.repo.ListByStatus(ctx, enums.DisputeStatusOpen, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list disputes")
	}
	return rows, nil
}
