package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/payflow/internal/models"
	"github.com/punchamoorthee/payflow/internal/money"
	"github.com/punchamoorthee/payflow/internal/session"
)

var (
	ErrSelfTransfer      = errors.New("cannot send payment to yourself")
	ErrReceiverNotFound  = errors.New("receiver does not exist")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrReceiverCapacity  = errors.New("receiver balance limit exceeded")
	ErrTransferFailed    = errors.New("payment failed due to system error")
)

type TransferService struct {
	db *pgxpool.Pool
}

func NewTransferService(db *pgxpool.Pool) *TransferService {
	return &TransferService{db: db}
}

// Execute moves amountCents from the authenticated sender to the user named
// receiverUserName as one atomic unit: conditional debit, conditional credit
// and the success record all commit together or not at all.
//
// The debit is a single conditional update ("decrement only where balance >=
// amount") rather than a read-then-write, so two concurrent transfers from
// the same sender can never both spend the same balance: the second one
// matches zero rows and fails closed. The credit guards MAX_BALANCE the same
// way. No application-level locking is needed on top of this.
func (s *TransferService) Execute(ctx context.Context, sender session.Identity, receiverUserName string, amountCents int64, description string) (*models.Payment, error) {
	if receiverUserName == sender.UserName {
		return nil, ErrSelfTransfer
	}

	record, mutated, err := s.executeTx(ctx, sender, receiverUserName, amountCents, description)
	if err == nil {
		return record, nil
	}

	// Business-rule failures with no money moved: nothing to record.
	if errors.Is(err, ErrReceiverNotFound) || errors.Is(err, ErrInsufficientFunds) {
		return nil, err
	}

	// A system failure before the balance updates began (tx begin, party
	// lookups) leaves no audit trail: the attempt never touched any money.
	if !mutated {
		log.Printf("transfer: aborted before balance updates: %v", err)
		return nil, ErrTransferFailed
	}

	// The transaction aborted during or after the balance updates (capacity
	// breach or an unexpected store error), so the updates have been rolled
	// back. Write a standalone failure record outside the dead transaction so
	// the sender keeps an auditable trace of the attempt. Best-effort only:
	// the audit trail's durability is preferred over its atomicity here.
	failed := s.recordFailure(ctx, sender, receiverUserName, amountCents, description)

	if errors.Is(err, ErrReceiverCapacity) {
		if failed != nil {
			return failed, ErrReceiverCapacity
		}
		return nil, ErrReceiverCapacity
	}

	log.Printf("transfer: aborted with system error: %v", err)
	if failed != nil {
		return failed, ErrTransferFailed
	}
	return nil, ErrTransferFailed
}

// executeTx runs the transfer transaction. The bool reports whether the
// balance-update phase was reached: failures before it leave no audit trail,
// failures from it onward get a standalone failure record.
func (s *TransferService) executeTx(ctx context.Context, sender session.Identity, receiverUserName string, amountCents int64, description string) (*models.Payment, bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, false, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// Resolve receiver and capture both parties' display names as of now.
	// The snapshots go into the record verbatim; a later rename must not
	// rewrite payment history.
	var receiverID, receiverFullName string
	err = tx.QueryRow(ctx,
		"SELECT id, full_name FROM users WHERE user_name = $1",
		receiverUserName).Scan(&receiverID, &receiverFullName)
	if err == pgx.ErrNoRows {
		return nil, false, ErrReceiverNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("receiver lookup failed: %w", err)
	}

	var senderFullName string
	err = tx.QueryRow(ctx,
		"SELECT full_name FROM users WHERE id = $1",
		sender.UserID).Scan(&senderFullName)
	if err != nil {
		return nil, false, fmt.Errorf("sender lookup failed: %w", err)
	}

	// Debit: zero rows affected means the balance no longer covers the
	// amount, whether it never did or a concurrent transfer got there first.
	debit := func() error {
		tag, err := tx.Exec(ctx,
			"UPDATE users SET balance = balance - $1, updated_at = now() WHERE id = $2 AND balance >= $1",
			amountCents, sender.UserID)
		if err != nil {
			return fmt.Errorf("debit failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrInsufficientFunds
		}
		return nil
	}
	// Credit: guarded against breaching the balance ceiling.
	credit := func() error {
		tag, err := tx.Exec(ctx,
			"UPDATE users SET balance = balance + $1, updated_at = now() WHERE id = $2 AND balance + $1 <= $3",
			amountCents, receiverID, money.MaxBalanceCents)
		if err != nil {
			return fmt.Errorf("credit failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrReceiverCapacity
		}
		return nil
	}

	// Both updates run in account-id order so opposing concurrent transfers
	// (A->B and B->A) take their row locks in the same order and cannot
	// deadlock. The transaction still rolls back as a whole if either fails.
	first, second := debit, credit
	if receiverID < sender.UserID {
		first, second = credit, debit
	}
	if err := first(); err != nil {
		return nil, true, err
	}
	if err := second(); err != nil {
		return nil, true, err
	}

	record := &models.Payment{
		ID:                       uuid.NewString(),
		SenderID:                 sender.UserID,
		ReceiverID:               receiverID,
		SenderUserName:           sender.UserName,
		ReceiverUserName:         receiverUserName,
		SenderFullNameSnapshot:   senderFullName,
		ReceiverFullNameSnapshot: receiverFullName,
		Amount:                   amountCents,
		AmountStr:                money.FormatCents(amountCents),
		Description:              description,
		Status:                   models.PaymentStatusSuccess,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO payments (id, sender_id, receiver_id, sender_user_name, receiver_user_name,
		                       sender_full_name_snapshot, receiver_full_name_snapshot,
		                       amount, description, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
		 RETURNING created_at`,
		record.ID, record.SenderID, record.ReceiverID, record.SenderUserName, record.ReceiverUserName,
		record.SenderFullNameSnapshot, record.ReceiverFullNameSnapshot,
		record.Amount, record.Description, record.Status,
	).Scan(&record.CreatedAt)
	if err != nil {
		return nil, true, fmt.Errorf("payment insert failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, true, fmt.Errorf("tx commit failed: %w", err)
	}
	return record, true, nil
}

// recordFailure writes a standalone failed payment row after the transfer
// transaction has aborted. Returns nil if even this write fails; that gets
// logged and the caller still reports a generic system error.
func (s *TransferService) recordFailure(ctx context.Context, sender session.Identity, receiverUserName string, amountCents int64, description string) *models.Payment {
	record := &models.Payment{
		ID:               uuid.NewString(),
		SenderID:         sender.UserID,
		SenderUserName:   sender.UserName,
		ReceiverUserName: receiverUserName,
		Amount:           amountCents,
		AmountStr:        money.FormatCents(amountCents),
		Description:      description,
		Status:           models.PaymentStatusFailed,
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO payments (id, sender_id, receiver_id, sender_user_name, receiver_user_name,
		                       sender_full_name_snapshot, receiver_full_name_snapshot,
		                       amount, description, status)
		 SELECT $1, s.id, r.id, s.user_name, r.user_name, s.full_name, r.full_name, $4, NULLIF($5, ''), $6
		 FROM users s, users r
		 WHERE s.id = $2 AND r.user_name = $3
		 RETURNING receiver_id, sender_full_name_snapshot, receiver_full_name_snapshot, created_at`,
		record.ID, sender.UserID, receiverUserName,
		record.Amount, record.Description, record.Status,
	).Scan(&record.ReceiverID, &record.SenderFullNameSnapshot, &record.ReceiverFullNameSnapshot, &record.CreatedAt)
	if err != nil {
		log.Printf("transfer: failed to save failure record for sender %s: %v", sender.UserID, err)
		return nil
	}
	return record
}
