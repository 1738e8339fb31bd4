// Package app holds the orchestration services: signal execution,
// position reconciliation, and the close workflow. Each service catches
// its own internal failures and converts them into persisted trade
// state plus a structured result; none of them let an exchange error
// escape to the caller.
package app

import (
	"context"
	"strings"

	"tradebridge/internal/domain"
	"tradebridge/internal/ports"
	"tradebridge/internal/vault"
)

// ClientProvider hands out configured exchange clients. gateway.Manager
// is the production implementation; tests substitute fakes.
type ClientProvider interface {
	Get(ctx context.Context, exchange domain.Exchange, apiKey, apiSecret string, isTestnet bool) (ports.ExchangeClient, error)
}

// decryptCredentials resolves a strategy's stored key material into
// usable form. Stored values may be legacy plaintext, which the vault
// passes through unchanged, so both paths get trimmed.
func decryptCredentials(v *vault.Vault, s *domain.Strategy) (string, string, error) {
	apiKey, err := v.Decrypt(s.APIKey)
	if err != nil {
		return "", "", err
	}
	apiSecret, err := v.Decrypt(s.APISecret)
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(apiKey), strings.TrimSpace(apiSecret), nil
}
