package domain

import "time"

// Strategy is a configured trading policy binding a symbol, venue,
// credentials and sizing parameters. Credentials are stored encrypted;
// decryption happens only at the point of use.
type Strategy struct {
	ID              string    // UUID
	Name            string    // Display name
	Symbol          string    // Target symbol as configured (e.g. "BTC/USDT")
	Exchange        Exchange  // Target venue
	IsActive        bool      // Inactive strategies never produce orders
	IsDryRun        bool      // Dry-run strategies never reach order placement
	IsTestnet       bool      // Route to the venue's sandbox
	DefaultQuantity float64   // Fallback order size when the signal carries none
	APIKey          string    // Encrypted API key
	APISecret       string    // Encrypted API secret
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
