package merchant

/*
Пакет merchant отвечает за реестр известных мерчантов организации
("новый вендор" = нет строки в known_merchants) и за сопоставление имени
мерчанта со списками block/allow/category.

Сопоставление — case-insensitive ПОДСТРОКА, а не точное равенство.
Это осознанно грубая политика (наследие исходного поведения): частичные
совпадения могут пере-блокировать или пере-разрешать. Токенизированное
сравнение снизило бы ложные срабатывания, но молча менять семантику нельзя.
*/

import (
	"context"
	"strings"

	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

// Normalize приводит имя мерчанта к ключу реестра: lower + trim.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// MatchesAny сообщает, содержит ли имя мерчанта любой из паттернов.
func MatchesAny(merchantName string, patterns []string) bool {
	lower := strings.ToLower(merchantName)
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Store — персистентность реестра. Ключ: (organization_id, normalized name).
type Store interface {
	GetKnownMerchant(ctx context.Context, orgID, normalized string) (*domain.KnownMerchant, error)
	UpsertKnownMerchant(ctx context.Context, orgID, merchantName, normalized string) error
}

type Registry struct {
	store Store
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// IsNewVendor — true, если организация еще не покупала у этого мерчанта.
func (r *Registry) IsNewVendor(ctx context.Context, orgID, merchantName string) (bool, error) {
	known, err := r.store.GetKnownMerchant(ctx, orgID, Normalize(merchantName))
	if err != nil {
		return false, err
	}
	return known == nil, nil
}

// Record фиксирует мерчанта как известного. Вызывается ТОЛЬКО после успешного
// выпуска карты: решение, не дошедшее до выпуска, не должно портить реестр.
func (r *Registry) Record(ctx context.Context, orgID, merchantName string) error {
	return r.store.UpsertKnownMerchant(ctx, orgID, merchantName, Normalize(merchantName))
}
