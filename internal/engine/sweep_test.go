package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agentpay-gateway/internal/domain"
)

type sweepWorld struct {
	expired []*domain.VirtualCard
	cards   map[string]*domain.VirtualCard // по intent id
	intents map[string]*domain.PurchaseIntent
	fees    map[string]*domain.TransactionFee
	stalled []string
}

func (w *sweepWorld) FindExpiredActiveCards(ctx context.Context, limit int) ([]*domain.VirtualCard, error) {
	return w.expired, nil
}

func (w *sweepWorld) FindStalledApprovedIntents(ctx context.Context, updatedBefore time.Time, limit int) ([]string, error) {
	return w.stalled, nil
}

func (w *sweepWorld) SerializeIntent(ctx context.Context, intentID string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (w *sweepWorld) GetCardByIntent(ctx context.Context, intentID string) (*domain.VirtualCard, error) {
	return w.cards[intentID], nil
}

func (w *sweepWorld) MarkCardStatus(ctx context.Context, cardID string, status domain.CardStatus) error {
	for _, c := range w.cards {
		if c.ID == cardID {
			c.Status = status
		}
	}
	return nil
}

func (w *sweepWorld) GetIntent(ctx context.Context, id string) (*domain.PurchaseIntent, error) {
	p, ok := w.intents[id]
	if !ok {
		return nil, domain.ErrIntentNotFound
	}
	return p, nil
}

func (w *sweepWorld) TransitionIntent(ctx context.Context, id string, from, to domain.IntentStatus) error {
	p := w.intents[id]
	if p == nil || p.Status != from {
		return domain.ErrInvalidTransition
	}
	p.Status = to
	return nil
}

func (w *sweepWorld) GetFeeByIntent(ctx context.Context, intentID string) (*domain.TransactionFee, error) {
	return w.fees[intentID], nil
}

func (w *sweepWorld) UpdateFeeStatus(ctx context.Context, feeID string, status domain.FeeStatus, captureRef *string) error {
	for _, f := range w.fees {
		if f.ID == feeID {
			f.Status = status
		}
	}
	return nil
}

func TestSweepExpiresCard(t *testing.T) {
	holdRef := "hold_9"
	card := &domain.VirtualCard{
		ID:               "card-9",
		PurchaseIntentID: "int-9",
		ProviderCardID:   "ic_9",
		Status:           domain.CardActive,
	}
	w := &sweepWorld{
		expired: []*domain.VirtualCard{card},
		cards:   map[string]*domain.VirtualCard{"int-9": card},
		intents: map[string]*domain.PurchaseIntent{"int-9": {
			ID:         "int-9",
			Amount:     decimal.RequireFromString("50"),
			Status:     domain.IntentApproved,
			PreAuthRef: &holdRef,
		}},
		fees: map[string]*domain.TransactionFee{"int-9": {
			ID:     "fee-9",
			Status: domain.FeePending,
		}},
	}
	p := &fakeProvider{}
	s := NewSweeper(w, p, nil, nil, time.Minute, zap.NewNop())

	require.NoError(t, s.SweepOnce(context.Background()))

	// Карта погашена у провайдера и у нас, холд отпущен
	assert.Equal(t, []string{"ic_9"}, p.canceledCards)
	assert.Equal(t, []string{"hold_9"}, p.canceledHolds)
	assert.Equal(t, domain.CardExpired, card.Status)
	assert.Equal(t, domain.IntentFailed, w.intents["int-9"].Status)
	assert.Equal(t, domain.FeeFailed, w.fees["int-9"].Status)
}

func TestSweepSkipsRacedCard(t *testing.T) {
	// К моменту прохода авторизация успела первой: карта уже used
	card := &domain.VirtualCard{
		ID:               "card-9",
		PurchaseIntentID: "int-9",
		ProviderCardID:   "ic_9",
		Status:           domain.CardUsed,
	}
	w := &sweepWorld{
		expired: []*domain.VirtualCard{card},
		cards:   map[string]*domain.VirtualCard{"int-9": card},
		intents: map[string]*domain.PurchaseIntent{"int-9": {ID: "int-9", Status: domain.IntentCaptured}},
		fees:    map[string]*domain.TransactionFee{},
	}
	p := &fakeProvider{}
	s := NewSweeper(w, p, nil, nil, time.Minute, zap.NewNop())

	require.NoError(t, s.SweepOnce(context.Background()))
	assert.Empty(t, p.canceledCards)
	assert.Equal(t, domain.IntentCaptured, w.intents["int-9"].Status)
}

func TestSweepRedrivesStalledIntents(t *testing.T) {
	w := &sweepWorld{stalled: []string{"int-a", "int-b"}}
	var redriven []string
	redrive := func(ctx context.Context, intentID string) error {
		redriven = append(redriven, intentID)
		return nil
	}
	s := NewSweeper(w, &fakeProvider{}, nil, redrive, time.Minute, zap.NewNop())

	require.NoError(t, s.SweepOnce(context.Background()))
	assert.Equal(t, []string{"int-a", "int-b"}, redriven)
}
