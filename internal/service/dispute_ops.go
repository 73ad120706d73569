package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gigvault/escrow/internal/client"
	"github.com/gigvault/escrow/internal/metrics"
	"github.com/gigvault/escrow/internal/model"
	"github.com/gigvault/escrow/internal/repository"
)

// InitiateDispute opens a dispute case against a milestone and freezes it:
// submit/approve/reject are rejected until the dispute resolves. Released
// milestones cannot be disputed; one active dispute per milestone.
func (s *EscrowService) InitiateDispute(ctx context.Context, escrowID, milestoneID string, req *model.InitiateDisputeRequest) (*model.DisputeCase, error) {
	unlock := s.lock(escrowID)
	defer unlock()

	account, milestone, err := s.loadMilestone(ctx, escrowID, milestoneID)
	if err != nil {
		return nil, err
	}
	if milestone.Status == model.MilestoneStatusReleased {
		return nil, fmt.Errorf("%w: released milestones cannot be disputed", ErrInvalidTransition)
	}
	open, err := s.disputes.ListOpenByEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	for _, d := range open {
		if d.MilestoneID == milestoneID {
			return nil, fmt.Errorf("%w: milestone already has an open dispute", ErrInvalidTransition)
		}
	}

	now := time.Now()
	dispute := &model.DisputeCase{
		ID:          uuid.New().String(),
		EscrowID:    escrowID,
		MilestoneID: milestoneID,
		InitiatedBy: req.InitiatedBy,
		Reason:      req.Reason,
		Description: req.Description,
		Status:      model.DisputeStatusOpen,
		CreatedAt:   now,
	}
	if err := s.disputes.Create(ctx, dispute); err != nil {
		return nil, fmt.Errorf("failed to create dispute: %w", err)
	}

	milestone.Status = model.MilestoneStatusDisputed
	milestone.DisputedAt = &now
	if err := s.save(ctx, account); err != nil {
		return nil, err
	}

	metrics.OpenDisputes.Inc()
	metrics.OperationsTotal.WithLabelValues("dispute", "ok").Inc()
	return dispute, nil
}

// ResolveDispute records the administrative decision. refund_business voids
// the milestone hold and resets the milestone to pending; release_talent
// delegates to the normal approval/release path; partial_split settles the
// milestone in two movements — resolutionAmount to the talent, the remainder
// back to the business. mediation_required keeps the case under review.
func (s *EscrowService) ResolveDispute(ctx context.Context, disputeID string, req *model.ResolveDisputeRequest) (*model.DisputeCase, error) {
	dispute, err := s.loadDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(dispute.EscrowID)
	defer unlock()

	// Re-read under the lock; a concurrent resolve may have won.
	dispute, err = s.loadDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !dispute.IsOpen() {
		return nil, fmt.Errorf("%w: dispute is %s", ErrInvalidTransition, dispute.Status)
	}

	account, milestone, err := s.loadMilestone(ctx, dispute.EscrowID, dispute.MilestoneID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var ledger []*model.EscrowTransaction
	switch req.Resolution {
	case model.ResolutionMediationRequired:
		dispute.Status = model.DisputeStatusUnderReview
		dispute.Resolution = model.ResolutionMediationRequired
		dispute.ResolutionNotes = req.Notes
		dispute.AdminNotes = req.AdminNotes
		if err := s.disputes.Save(ctx, dispute); err != nil {
			return nil, err
		}
		return dispute, nil

	case model.ResolutionRefundBusiness:
		refundTx, err := s.refundBusiness(ctx, account, milestone)
		if err != nil {
			return nil, err
		}
		if refundTx != nil {
			ledger = append(ledger, refundTx)
		}

	case model.ResolutionReleaseTalent:
		releaseTx, err := s.releaseMilestone(ctx, account, milestone, req.Notes, true)
		if err != nil {
			return nil, err
		}
		ledger = append(ledger, releaseTx)
		metrics.ReleasesTotal.Inc()

	case model.ResolutionPartialSplit:
		if req.ResolutionAmount == nil {
			return nil, fmt.Errorf("%w: resolutionAmount is required for partial_split", ErrValidation)
		}
		splitTxs, err := s.partialSplit(ctx, account, milestone, *req.ResolutionAmount, req.Notes)
		if err != nil {
			return nil, err
		}
		ledger = append(ledger, splitTxs...)

	default:
		return nil, fmt.Errorf("%w: unknown resolution %q", ErrValidation, req.Resolution)
	}

	dispute.Status = model.DisputeStatusResolved
	dispute.Resolution = req.Resolution
	dispute.ResolutionAmount = req.ResolutionAmount
	dispute.ResolutionNotes = req.Notes
	dispute.AdminNotes = req.AdminNotes
	dispute.ResolvedAt = &now
	if err := s.disputes.Save(ctx, dispute); err != nil {
		return nil, err
	}

	// With the dispute resolved the account flag clears back to whatever the
	// milestone statuses imply.
	if err := s.save(ctx, account); err != nil {
		return nil, err
	}
	for _, tx := range ledger {
		s.appendTransaction(ctx, tx)
	}

	metrics.OpenDisputes.Dec()
	metrics.OperationsTotal.WithLabelValues("resolve", "ok").Inc()
	return dispute, nil
}

// CloseDispute is the purely administrative resolved -> closed transition.
// No fund effect; closed is terminal.
func (s *EscrowService) CloseDispute(ctx context.Context, disputeID, adminNotes string) (*model.DisputeCase, error) {
	dispute, err := s.loadDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status != model.DisputeStatusResolved {
		return nil, fmt.Errorf("%w: cannot close dispute in status %s", ErrInvalidTransition, dispute.Status)
	}
	now := time.Now()
	dispute.Status = model.DisputeStatusClosed
	dispute.ClosedAt = &now
	if adminNotes != "" {
		dispute.AdminNotes = adminNotes
	}
	if err := s.disputes.Save(ctx, dispute); err != nil {
		return nil, err
	}
	return dispute, nil
}

// GetDispute returns a dispute case by id.
func (s *EscrowService) GetDispute(ctx context.Context, disputeID string) (*model.DisputeCase, error) {
	return s.loadDispute(ctx, disputeID)
}

// refundBusiness voids the milestone's hold if one exists and resets the
// milestone to pending. Work is considered not delivered; a fresh submission
// cycle requires a new agreement.
func (s *EscrowService) refundBusiness(ctx context.Context, account *model.EscrowAccount, milestone *model.Milestone) (*model.EscrowTransaction, error) {
	var refundTx *model.EscrowTransaction
	if milestone.PaymentIntentID != "" {
		if _, err := s.cancelHold(ctx, milestone.PaymentIntentID, opKey(account.ID, milestone.ID, "dispute-refund")); err != nil {
			return nil, err
		}
		refundTx = &model.EscrowTransaction{
			EscrowID:     account.ID,
			MilestoneID:  milestone.ID,
			Type:         model.TransactionTypeRefund,
			Amount:       milestone.Amount,
			Currency:     account.Currency,
			Status:       model.TransactionStatusPending,
			ProcessorRef: milestone.PaymentIntentID,
		}
	}
	for i := range milestone.Deliverables {
		milestone.Deliverables[i].Status = model.DeliverableStatusRejected
	}
	milestone.Status = model.MilestoneStatusPending
	milestone.SubmittedAt = nil
	milestone.DisputedAt = nil
	milestone.PaymentIntentID = ""
	return refundTx, nil
}

// partialSplit captures amount (net of fees computed on that share) to the
// talent and refunds the remainder of the milestone to the business. Each
// movement gets its own ledger record.
func (s *EscrowService) partialSplit(ctx context.Context, account *model.EscrowAccount, milestone *model.Milestone, amount decimal.Decimal, notes string) ([]*model.EscrowTransaction, error) {
	if !amount.IsPositive() || amount.GreaterThan(milestone.Amount) {
		return nil, fmt.Errorf("%w: resolutionAmount must be positive and at most the milestone amount", ErrValidation)
	}

	breakdown, err := s.fees.Breakdown(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !breakdown.NetAmount.IsPositive() {
		return nil, fmt.Errorf("%w: resolutionAmount %s does not cover the fees", ErrValidation, amount.StringFixed(2))
	}
	remainder := milestone.Amount.Sub(amount)

	auth, err := s.authorize(ctx, &client.AuthorizeParams{
		Amount:               milestone.Amount,
		Currency:             account.Currency,
		DestinationAccountID: account.PayoutAccountID,
		ApplicationFeeAmount: breakdown.PlatformFee,
		Metadata: client.PaymentMetadata{
			EscrowID:     account.ID,
			MilestoneID:  milestone.ID,
			ContractID:   account.ContractID,
			GrossAmount:  breakdown.GrossAmount.StringFixed(2),
			PlatformFee:  breakdown.PlatformFee.StringFixed(2),
			ProcessorFee: breakdown.ProcessorFee.StringFixed(2),
		},
		IdempotencyKey: opKey(account.ID, milestone.ID, "split-auth"),
	})
	if err != nil {
		return nil, err
	}
	// Capturing less than authorized sends the un-captured remainder back to
	// the payer on the processor side.
	net := breakdown.NetAmount
	if _, err := s.capture(ctx, &client.CaptureParams{
		AuthorizationID: auth.ID,
		AmountToCapture: &net,
		IdempotencyKey:  opKey(account.ID, milestone.ID, "split-capture"),
	}); err != nil {
		if _, cancelErr := s.cancelHold(ctx, auth.ID, opKey(account.ID, milestone.ID, "split-void")); cancelErr != nil {
			log.Printf("Warning: failed to void hold %s after capture failure: %v", auth.ID, cancelErr)
		}
		return nil, err
	}

	now := time.Now()
	milestone.Status = model.MilestoneStatusReleased
	milestone.ApprovedAt = &now
	milestone.ReleasedAt = &now
	milestone.PaymentIntentID = auth.ID
	milestone.ApprovalNotes = notes
	milestone.DisputedAt = nil

	out := []*model.EscrowTransaction{{
		EscrowID:     account.ID,
		MilestoneID:  milestone.ID,
		Type:         model.TransactionTypeRelease,
		Amount:       breakdown.NetAmount,
		Currency:     account.Currency,
		Status:       model.TransactionStatusPending,
		ProcessorRef: auth.ID,
		Breakdown:    &breakdown,
	}}
	if remainder.IsPositive() {
		out = append(out, &model.EscrowTransaction{
			EscrowID:    account.ID,
			MilestoneID: milestone.ID,
			Type:        model.TransactionTypeRefund,
			Amount:      remainder,
			Currency:    account.Currency,
			Status:      model.TransactionStatusPending,
			// Same processor object: the un-captured remainder reverts to
			// the payer when the capture settles.
			ProcessorRef: auth.ID,
		})
	}
	metrics.ReleasesTotal.Inc()
	return out, nil
}

func (s *EscrowService) loadDispute(ctx context.Context, disputeID string) (*model.DisputeCase, error) {
	dispute, err := s.disputes.Get(ctx, disputeID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, fmt.Errorf("%w: dispute %s", ErrNotFound, disputeID)
		}
		return nil, err
	}
	return dispute, nil
}
