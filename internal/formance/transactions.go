package formance

import (
	"context"
	"fmt"
	"strconv"

	"metered-assistant-go/internal/models"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// Numscript templates. Metadata is set inside the script so each mirrored
// transaction is self-describing.

// numscriptGrant issues new credits (welcome bonus, admin top-up).
const numscriptGrant = `vars {
  asset $asset
  number $amount
  account $account_id
  string $reason
  string $description
  string $local_tx_id
}

send [$asset $amount] (
  source = @world
  destination = @accounts:$account_id
)

set_tx_meta("reason", $reason)
set_tx_meta("description", $description)
set_tx_meta("local_tx_id", $local_tx_id)
`

// numscriptRefund returns a usage charge from the platform to the account.
const numscriptRefund = `vars {
  asset $asset
  number $amount
  account $account_id
  string $reason
  string $description
  string $local_tx_id
}

send [$asset $amount] (
  source = @platform:usage allowing unbounded overdraft
  destination = @accounts:$account_id
)

set_tx_meta("reason", $reason)
set_tx_meta("description", $description)
set_tx_meta("local_tx_id", $local_tx_id)
`

// numscriptUsage moves spent credits to the platform. The local ledger has
// already enforced the balance, so the mirror never rejects on overdraft.
const numscriptUsage = `vars {
  asset $asset
  number $amount
  account $account_id
  string $reason
  string $description
  string $local_tx_id
}

send [$asset $amount] (
  source = @accounts:$account_id allowing unbounded overdraft
  destination = @platform:usage
)

set_tx_meta("reason", $reason)
set_tx_meta("description", $description)
set_tx_meta("local_tx_id", $local_tx_id)
`

// buildPosting maps a local transaction to its Formance posting.
func buildPosting(txn models.Transaction) (shared.V2PostTransaction, error) {
	if txn.Amount == 0 {
		return shared.V2PostTransaction{}, fmt.Errorf("transaction %s has zero amount", txn.Id)
	}

	var script string
	switch {
	case txn.Amount < 0:
		script = numscriptUsage
	case txn.Reason == models.ReasonRefund:
		script = numscriptRefund
	default:
		script = numscriptGrant
	}

	amount := txn.Amount
	if amount < 0 {
		amount = -amount
	}

	postTx := shared.V2PostTransaction{
		Reference: strPtr(txn.Id),
		Script: &shared.V2PostTransactionScript{
			Plain: script,
			Vars: map[string]string{
				"asset":       creditAsset,
				"amount":      strconv.FormatInt(amount, 10),
				"account_id":  txn.AccountId,
				"reason":      txn.Reason,
				"description": txn.Description,
				"local_tx_id": txn.Id,
			},
		},
	}
	if !txn.CreatedAt.IsZero() {
		ts := txn.CreatedAt
		postTx.Timestamp = &ts
	}
	return postTx, nil
}

// Publish records a committed local transaction. Replays are idempotent on
// the transaction reference.
func (s *Service) Publish(ctx context.Context, txn models.Transaction) error {
	postTx, err := buildPosting(txn)
	if err != nil {
		return err
	}
	if rc := models.GetRequestContext(ctx); rc != nil {
		postTx.Metadata = requestMetadata(rc)
	}

	_, err = s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			zap.L().Debug("Transaction already mirrored", zap.String("tx_id", txn.Id))
			return nil
		}
		return fmt.Errorf("error mirroring transaction %s: %w", txn.Id, err)
	}

	zap.L().Debug("Transaction mirrored to Formance",
		zap.String("tx_id", txn.Id),
		zap.String("account_id", txn.AccountId),
		zap.String("reason", txn.Reason),
		zap.Int64("amount", txn.Amount))
	return nil
}

// requestMetadata tags a posting with the inbound request that caused it.
func requestMetadata(rc *models.RequestContext) map[string]string {
	meta := map[string]string{}
	if rc.ExternalId != "" {
		meta["external_id"] = rc.ExternalId
	}
	if rc.RequestId != "" {
		meta["request_id"] = rc.RequestId
	}
	if rc.Model != "" {
		meta["model"] = rc.Model
	}
	return meta
}

func strPtr(s string) *string { return &s }
