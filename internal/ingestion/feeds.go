package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"IntentLedger/internal/chain"
	"IntentLedger/internal/intent"
	"IntentLedger/internal/ledger"
	"IntentLedger/internal/observability"
	"IntentLedger/internal/oracle"
)

// Feed subjects. Each feed has its own subject so publishers scale
// independently.
const (
	SubjectPrices    = "liq.feeds.prices.>"
	SubjectPositions = "liq.feeds.positions.>"
	SubjectProofs    = "liq.feeds.proofs.>"
	SubjectHeads     = "liq.feeds.heads"
	SubjectFunding   = "liq.feeds.funding.>"
)

// PriceUpdate is one price feed message.
type PriceUpdate struct {
	Asset string `json:"asset"`
	Price int64  `json:"price"` // quote scale 1e6
}

// PositionUpdate is one position feed message.
type PositionUpdate struct {
	Account         string `json:"account"`
	Venue           string `json:"venue"`
	CollateralValue int64  `json:"collateral_value"`
	DebtValue       int64  `json:"debt_value"`
	HealthRatio     int64  `json:"health_ratio"`
}

// ProofUpdate is one proof-verifier feed message.
type ProofUpdate struct {
	IntentID   string    `json:"intent_id"`
	Valid      bool      `json:"valid"`
	VerifiedAt time.Time `json:"verified_at"`
}

// HeadUpdate is one chain-head feed message.
type HeadUpdate struct {
	Height uint64 `json:"height"`
}

// FundingUpdate is one custody feed message: a settled deposit into or
// withdrawal from a user's collateral account, crossing the external funding
// boundary.
type FundingUpdate struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  int64  `json:"amount"`
	Kind    string `json:"kind"` // deposit | withdrawal
}

// FeedSubscriber consumes oracle feeds and keeps the in-process caches and
// the chain head current. Messages are applied in arrival order; a malformed
// message is terminated, not redelivered.
type FeedSubscriber struct {
	js        jetstream.JetStream
	prices    *oracle.PriceCache
	positions *oracle.PositionCache
	proofs    *oracle.ProofCache
	clock     *chain.FeedClock
	vault     *ledger.BalanceTracker
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func NewFeedSubscriber(js jetstream.JetStream, prices *oracle.PriceCache, positions *oracle.PositionCache, proofs *oracle.ProofCache, clock *chain.FeedClock, vault *ledger.BalanceTracker, log zerolog.Logger, metrics *observability.Metrics) *FeedSubscriber {
	return &FeedSubscriber{
		js:        js,
		prices:    prices,
		positions: positions,
		proofs:    proofs,
		clock:     clock,
		vault:     vault,
		log:       log,
		metrics:   metrics,
	}
}

// Subscribe creates JetStream consumers for every feed subject.
// Consumers use explicit ACK; only the latest state matters, so delivery
// starts from new messages.
func (fs *FeedSubscriber) Subscribe(ctx context.Context) error {
	feeds := []struct {
		subject  string
		durable  string
		handler  func(data []byte) error
		feedName string
	}{
		{SubjectPrices, "liq-feed-prices", fs.applyPrice, "prices"},
		{SubjectPositions, "liq-feed-positions", fs.applyPosition, "positions"},
		{SubjectProofs, "liq-feed-proofs", fs.applyProof, "proofs"},
		{SubjectHeads, "liq-feed-heads", fs.applyHead, "heads"},
		{SubjectFunding, "liq-feed-funding", fs.applyFunding, "funding"},
	}

	for _, f := range feeds {
		f := f
		consumer, err := fs.js.CreateOrUpdateConsumer(ctx, "LIQ_FEEDS", jetstream.ConsumerConfig{
			Durable:       f.durable,
			FilterSubject: f.subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", f.durable, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			if err := f.handler(msg.Data()); err != nil {
				fs.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("malformed feed message")
				msg.Term()
				return
			}
			if fs.metrics != nil {
				fs.metrics.FeedUpdates.WithLabelValues(f.feedName).Inc()
			}
			msg.Ack()
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", f.durable, err)
		}

		fs.consumers = append(fs.consumers, cc)
		fs.log.Info().Str("subject", f.subject).Str("consumer", f.durable).Msg("feed subscribed")
	}

	return nil
}

// Stop gracefully stops all feed consumers.
func (fs *FeedSubscriber) Stop() {
	for _, cc := range fs.consumers {
		cc.Stop()
	}
	fs.log.Info().Msg("feed subscribers stopped")
}

func (fs *FeedSubscriber) applyPrice(data []byte) error {
	var u PriceUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("decode price update: %w", err)
	}
	if u.Asset == "" || u.Price <= 0 {
		return fmt.Errorf("invalid price update: asset=%q price=%d", u.Asset, u.Price)
	}
	fs.prices.SetPrice(u.Asset, u.Price)
	return nil
}

func (fs *FeedSubscriber) applyPosition(data []byte) error {
	var u PositionUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("decode position update: %w", err)
	}
	if u.Account == "" || u.Venue == "" {
		return fmt.Errorf("invalid position update: account=%q venue=%q", u.Account, u.Venue)
	}
	fs.positions.Update(u.Account, u.Venue, oracle.PositionReading{
		CollateralValue: u.CollateralValue,
		DebtValue:       u.DebtValue,
		HealthRatio:     u.HealthRatio,
	})
	return nil
}

func (fs *FeedSubscriber) applyProof(data []byte) error {
	var u ProofUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("decode proof update: %w", err)
	}
	id, err := intent.ParseID(u.IntentID)
	if err != nil {
		return fmt.Errorf("invalid proof update: %w", err)
	}
	fs.proofs.Record(id, u.Valid, u.VerifiedAt)
	return nil
}

func (fs *FeedSubscriber) applyHead(data []byte) error {
	var u HeadUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("decode head update: %w", err)
	}
	fs.clock.SetHeight(u.Height)
	if fs.metrics != nil {
		fs.metrics.ChainHeight.Set(float64(fs.clock.Height()))
	}
	return nil
}

// applyFunding credits or debits user collateral against the external funding
// boundary. Withdrawals are balance-checked; an overdraw is a malformed
// message and is terminated like any other.
func (fs *FeedSubscriber) applyFunding(data []byte) error {
	var u FundingUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("decode funding update: %w", err)
	}
	if u.Account == "" || u.Amount <= 0 {
		return fmt.Errorf("invalid funding update: account=%q amount=%d", u.Account, u.Amount)
	}
	assetID, ok := ledger.GetAssetID(u.Asset)
	if !ok {
		return fmt.Errorf("invalid funding update: unknown asset %q", u.Asset)
	}

	key := ledger.NewUserAccountKey(u.Account, ledger.SubTypeCollateral, assetID)
	boundary := ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, assetID)
	batch := ledger.NewBatch("funding:"+u.Account, time.Now().UnixMicro())

	switch u.Kind {
	case "deposit":
		batch.Add(ledger.JournalTypeDeposit, key, boundary, assetID, u.Amount)
		return fs.vault.ApplyBatch(batch)
	case "withdrawal":
		batch.Add(ledger.JournalTypeWithdrawal, boundary, key, assetID, u.Amount)
		return fs.vault.ApplyBatchChecked(batch, key)
	default:
		return fmt.Errorf("invalid funding update: kind %q", u.Kind)
	}
}

// EnsureFeedStream creates the inbound feed stream.
func EnsureFeedStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "LIQ_FEEDS",
		Subjects:  []string{"liq.feeds.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create feed stream: %w", err)
	}
	return nil
}
