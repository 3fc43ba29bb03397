package domain

import "time"

// KnownMerchant — мерчант, с которым организация уже проводила покупку.
// Отсутствие строки (organization_id, normalized) означает "новый вендор".
type KnownMerchant struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	MerchantName   string `json:"merchant_name"`
	// lower + trim; ключ уникальности вместе с organization_id
	MerchantNameNormalized string    `json:"merchant_name_normalized"`
	TransactionCount       int64     `json:"transaction_count"`
	FirstSeenAt            time.Time `json:"first_seen_at"`
	LastSeenAt             time.Time `json:"last_seen_at"`
}
