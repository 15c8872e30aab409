package formance

import (
	"context"
	"fmt"
	"math/big"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// AccountBalance returns the mirrored credit balance for a local account id.
// Used by reporting tools to cross-check the authoritative ledger.
func (s *Service) AccountBalance(ctx context.Context, accountId string) (int64, error) {
	address := "accounts:" + accountId
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: address,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get account %s: %w", address, err)
	}

	bal := volumeBalance(resp.V2AccountResponse.Data.Volumes, creditAsset)
	if bal == nil {
		return 0, nil
	}
	if !bal.IsInt64() {
		zap.L().Warn("Mirrored balance out of range", zap.String("address", address))
		return 0, fmt.Errorf("mirrored balance for %s out of range", address)
	}
	return bal.Int64(), nil
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}
