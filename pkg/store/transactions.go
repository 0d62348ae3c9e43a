package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// ============================================
// TRANSACTIONS
// ============================================

// GetActiveTransaction returns the single active transaction for a
// (user, canvas) pair, or ErrTransactionNotFound when none is open.
func (s *GORMStore) GetActiveTransaction(ctx context.Context, userID, canvasID string) (*models.ActiveTransaction, error) {
	var txn models.ActiveTransaction
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND canvas_id = ? AND state = ?", userID, canvasID, models.TransactionActive).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

func (s *GORMStore) GetTransaction(ctx context.Context, id string) (*models.ActiveTransaction, error) {
	return getByField[models.ActiveTransaction](s.db, ctx, "id", id, models.ErrTransactionNotFound)
}

// BeginTransaction opens a transaction for the pair. Returns
// ErrTransactionActive if one is already open.
func (s *GORMStore) BeginTransaction(ctx context.Context, txn *models.ActiveTransaction) (string, error) {
	if _, err := s.GetActiveTransaction(ctx, txn.UserID, txn.CanvasID); err == nil {
		return "", models.ErrTransactionActive
	} else if !errors.Is(err, models.ErrTransactionNotFound) {
		return "", err
	}

	txn.State = models.TransactionActive
	if txn.StartedAt.IsZero() {
		txn.StartedAt = time.Now()
	}
	return createWithID(s.db, ctx, txn, func(t *models.ActiveTransaction, id string) { t.ID = id }, txn.ID, models.ErrTransactionActive)
}

// AppendTransactionOp adds an operation id to the transaction's bundle.
func (s *GORMStore) AppendTransactionOp(ctx context.Context, txnID, opID string) error {
	txn, err := s.GetTransaction(ctx, txnID)
	if err != nil {
		return err
	}
	ids := append(txn.OperationIDs(), opID)
	if err := txn.SetOperationIDs(ids); err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Model(&models.ActiveTransaction{}).
		Where("id = ?", txnID).
		Update("operations", txn.Operations).Error
}

// CloseTransaction marks a transaction committed or aborted.
func (s *GORMStore) CloseTransaction(ctx context.Context, txnID, state string) error {
	result := s.db.WithContext(ctx).
		Model(&models.ActiveTransaction{}).
		Where("id = ? AND state = ?", txnID, models.TransactionActive).
		Update("state", state)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrTransactionNotFound
	}
	return nil
}
