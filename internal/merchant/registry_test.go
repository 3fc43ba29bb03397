package merchant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "acme corp", Normalize("  Acme Corp "))
	assert.Equal(t, "github, inc.", Normalize("GitHub, Inc."))
	assert.Equal(t, "", Normalize("   "))
}

func TestMatchesAny(t *testing.T) {
	testCases := []struct {
		name     string
		merchant string
		patterns []string
		want     bool
	}{
		{"exact match", "aws", []string{"aws"}, true},
		{"case insensitive", "AWS Marketplace", []string{"aws"}, true},
		{"substring hit", "Grand Casino Royale", []string{"casino"}, true},
		{"no match", "DigitalOcean", []string{"aws", "github"}, false},
		{"empty patterns", "anything", nil, false},
		{"empty pattern string skipped", "anything", []string{""}, false},
		{"pattern longer than name", "aws", []string{"aws marketplace"}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MatchesAny(tc.merchant, tc.patterns))
		})
	}
}

type memMerchants struct {
	known map[string]*domain.KnownMerchant // key: orgID + "|" + normalized
	ups   int
}

func (m *memMerchants) GetKnownMerchant(ctx context.Context, orgID, normalized string) (*domain.KnownMerchant, error) {
	return m.known[orgID+"|"+normalized], nil
}

func (m *memMerchants) UpsertKnownMerchant(ctx context.Context, orgID, merchantName, normalized string) error {
	m.ups++
	m.known[orgID+"|"+normalized] = &domain.KnownMerchant{
		OrganizationID:         orgID,
		MerchantName:           merchantName,
		MerchantNameNormalized: normalized,
	}
	return nil
}

func TestRegistryIsNewVendor(t *testing.T) {
	store := &memMerchants{known: map[string]*domain.KnownMerchant{}}
	r := NewRegistry(store)

	isNew, err := r.IsNewVendor(context.Background(), "org-1", "Acme Corp")
	require.NoError(t, err)
	assert.True(t, isNew)

	require.NoError(t, r.Record(context.Background(), "org-1", "Acme Corp"))

	// Реестр нормализует имя: регистр и пробелы не делают вендора "новым"
	isNew, err = r.IsNewVendor(context.Background(), "org-1", "  ACME CORP ")
	require.NoError(t, err)
	assert.False(t, isNew)

	// Для другой организации вендор по-прежнему новый
	isNew, err = r.IsNewVendor(context.Background(), "org-2", "Acme Corp")
	require.NoError(t, err)
	assert.True(t, isNew)
}
