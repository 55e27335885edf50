package core

import (
	"fmt"
	"sort"
	"time"

	lerrors "TaniLedger/internal/errors"
	"TaniLedger/internal/event"
	"TaniLedger/internal/ledger"
	"TaniLedger/internal/observability"
	"TaniLedger/internal/state"
)

// DeterministicCore is the single-threaded command processor. It is not safe
// for concurrent use; Runner owns it on one goroutine.
type DeterministicCore struct {
	cfg       Config
	verifiers map[string]struct{}
	tokens    map[string]struct{}

	sequence       int64 // Next sequence to assign
	hasher         *StateHasher
	balanceTracker *ledger.BalanceTracker
	journalGen     *ledger.JournalGenerator
	validator      *ledger.InvariantValidator
	registry       *state.AssetRegistry
	listings       *state.ListingBook
	loans          *state.LoanBook
	idempotency    *IdempotencyChecker
	metrics        *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// NewDeterministicCore builds a core that assigns startSequence to the next
// committed command. Either output channel may be nil.
func NewDeterministicCore(
	cfg Config,
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) (*DeterministicCore, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("core config: %w", err)
	}
	if startSequence < 1 {
		startSequence = 1
	}

	balanceTracker := ledger.NewBalanceTracker()

	c := &DeterministicCore{
		cfg:            cfg,
		verifiers:      make(map[string]struct{}, len(cfg.Verifiers)),
		tokens:         make(map[string]struct{}, len(cfg.PaymentTokens)),
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		balanceTracker: balanceTracker,
		journalGen:     ledger.NewJournalGenerator(balanceTracker),
		validator:      ledger.NewInvariantValidator(balanceTracker),
		registry:       state.NewAssetRegistry(),
		listings:       state.NewListingBook(),
		loans:          state.NewLoanBook(),
		idempotency:    NewIdempotencyChecker(cfg.IdempotencyLRUCapacity, dbChecker, metrics),
		metrics:        metrics,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
	for _, v := range cfg.Verifiers {
		c.verifiers[v] = struct{}{}
	}
	for _, t := range cfg.PaymentTokens {
		c.tokens[t] = struct{}{}
	}

	return c, nil
}

// ProcessEvent is the main processing pipeline. A command either commits in
// full and returns a receipt, or returns a typed error with no state change.
func (c *DeterministicCore) ProcessEvent(evt event.Event) (*Receipt, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	requestID := evt.IdempotencyKey()

	// Step 1: Admission checks
	if requestID == "" {
		return nil, c.reject(eventType, lerrors.InvalidArgument.New("request_id is required"))
	}
	ts := evt.OccurredAt()
	if ts.IsZero() {
		return nil, c.reject(eventType, lerrors.InvalidArgument.New("timestamp is required"))
	}
	ts = ts.UTC()

	// Step 2: Idempotency check (two-tier)
	dup, err := c.idempotency.IsDuplicate(eventType, requestID)
	if err != nil {
		return nil, c.reject(eventType, lerrors.Internal.Wrap(err).WithMetadata("request_id", requestID))
	}
	if dup {
		return nil, c.reject(eventType, lerrors.DuplicateRequest.
			New("request %s already processed", requestID).
			WithMetadata("request_id", requestID))
	}

	// Step 3: Dispatch. Handlers check every precondition and stage journals
	// plus a commit closure; nothing is mutated yet.
	p := c.newPlan(evt, requestID, ts)
	if err := c.dispatch(evt, p); err != nil {
		return nil, c.reject(eventType, err)
	}

	// Encoded after dispatch so malformed enums surface as handler errors
	payload, err := event.EncodeCommand(evt)
	if err != nil {
		return nil, c.reject(eventType, lerrors.Internal.Wrap(fmt.Errorf("encode payload: %w", err)))
	}

	// Step 4: Apply
	batch := p.builder.Build()
	if len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch at seq %d: %v", c.sequence, err))
		}
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch at seq %d: %v", c.sequence, err))
		}
	}
	if p.commit != nil {
		p.commit()
	}

	// Step 5: Post-checks
	if err := c.postCheckInvariants(p, batch); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated at seq %d: %v", c.sequence, err))
	}

	// Step 6: Hash chain
	hashStart := time.Now()
	stateDigest := c.computeStateDigest(p, batch)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	// Step 7: Envelope
	p.record.Sequence = c.sequence
	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: requestID,
		EventType:      evt.EventType(),
		AssetID:        p.record.AssetID,
		Timestamp:      ts,
		Payload:        payload,
		Record:         p.record,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:    envelope,
		Batch:       batch,
		StateDigest: stateDigest,
		Delta:       c.buildDelta(p, batch),
	}

	receipt := p.receipt
	receipt.Sequence = c.sequence
	receipt.RequestID = requestID
	receipt.EventType = evt.EventType()
	receipt.StateHash = hexHash(stateHash)
	receipt.Timestamp = ts

	c.sequence++

	// Step 8: Emit
	c.emit(output)

	// Step 9: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(requestID)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(envelope.Sequence))
		for _, j := range batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}

	return &receipt, nil
}

// emit hands the output to downstream workers. The persist channel blocks so no
// committed event is lost; the projection channel drops when full because the
// mirror can be rebuilt from the event log.
func (c *DeterministicCore) emit(output CoreOutput) {
	if c.persistChan != nil {
		if c.metrics != nil && len(c.persistChan) == cap(c.persistChan) {
			c.metrics.PersistBackpressure.Inc()
		}
		c.persistChan <- output
	}

	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("mirror").Inc()
			}
		}
	}
}

func (c *DeterministicCore) reject(eventType string, err error) error {
	typed := lerrors.As(err)
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, typed.CodeName()).Inc()
	}
	return typed
}

func (c *DeterministicCore) newPlan(evt event.Event, requestID string, ts time.Time) *plan {
	return &plan{
		seq:     c.sequence,
		ts:      ts,
		builder: c.journalGen.NewBatch(c.sequence, requestID, ts.UnixMicro()),
		record: &event.LedgerEvent{
			Kind:         evt.EventType(),
			RequestID:    requestID,
			Participants: make([]string, 0, 3),
			Timestamp:    ts,
		},
		assets:   make(map[uint64]struct{}),
		listings: make(map[uint64]struct{}),
		loans:    make(map[uint64]struct{}),
	}
}

// dispatch routes a command to its module handler
func (c *DeterministicCore) dispatch(evt event.Event, p *plan) error {
	switch e := evt.(type) {
	// Asset Registry
	case *event.RegisterAsset:
		return c.handleRegisterAsset(e, p)
	case *event.VerifyAsset:
		return c.handleVerifyAsset(e, p)
	case *event.RecordSupplyChainStage:
		return c.handleRecordSupplyChainStage(e, p)

	// Ledger Core
	case *event.IssueUnits:
		return c.handleIssueUnits(e, p)
	case *event.TransferUnits:
		return c.handleTransferUnits(e, p)
	case *event.WithdrawFunds:
		return c.handleWithdrawFunds(e, p)

	// Marketplace
	case *event.CreateListing:
		return c.handleCreateListing(e, p)
	case *event.PurchaseListing:
		return c.handlePurchaseListing(e, p)
	case *event.CancelListing:
		return c.handleCancelListing(e, p)

	// Lending
	case *event.ProposeLoan:
		return c.handleProposeLoan(e, p)
	case *event.FundLoan:
		return c.handleFundLoan(e, p)
	case *event.RepayLoan:
		return c.handleRepayLoan(e, p)
	case *event.MarkDefault:
		return c.handleMarkDefault(e, p)
	case *event.Liquidate:
		return c.handleLiquidate(e, p)

	default:
		return lerrors.InvalidArgument.New("unsupported command %T", evt)
	}
}

// mustLeg panics on a ledger leg whose precondition the handler already
// established. Failing here means state and balances disagree.
func mustLeg(err error) {
	if err != nil {
		panic(fmt.Sprintf("FATAL: ledger leg failed after validation: %v", err))
	}
}

// computeStateDigest creates canonical bytes for the state hash: every account
// the batch touched, then every asset, listing and loan the command touched.
func (c *DeterministicCore) computeStateDigest(p *plan, batch *ledger.Batch) []byte {
	accounts := batch.Affected()
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+128)

	for _, key := range accounts {
		path := key.AccountPath()
		digest = appendUint64LE(digest, uint64(len(path)))
		digest = append(digest, path...)
		digest = appendUint64LE(digest, uint64(c.balanceTracker.GetBalance(key)))
	}

	for _, id := range sortedIDs(p.assets) {
		digest = append(digest, 'A')
		digest = append(digest, c.registry.GetAsset(id).CanonicalBytes()...)
	}
	for _, id := range sortedIDs(p.listings) {
		digest = append(digest, 'L')
		digest = append(digest, c.listings.GetListing(id).CanonicalBytes()...)
	}
	for _, id := range sortedIDs(p.loans) {
		digest = append(digest, 'O')
		digest = append(digest, c.loans.GetLoan(id).CanonicalBytes()...)
	}

	return digest
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

type holdingKey struct {
	assetID uint64
	holder  string
}

// touchedHoldings returns user unit positions and cash balances in the batch
func touchedHoldings(batch *ledger.Batch) ([]holdingKey, []ledger.AccountKey) {
	seenHolding := make(map[holdingKey]bool)
	seenCash := make(map[ledger.AccountKey]bool)
	holdings := make([]holdingKey, 0)
	cash := make([]ledger.AccountKey, 0)

	for _, key := range batch.Affected() {
		if key.Scope != ledger.AccountScopeUser {
			continue
		}
		switch key.Instrument.Kind {
		case ledger.InstrumentUnits:
			hk := holdingKey{assetID: key.Instrument.AssetID, holder: key.Holder}
			if !seenHolding[hk] {
				seenHolding[hk] = true
				holdings = append(holdings, hk)
			}
		case ledger.InstrumentMoney:
			if !seenCash[key] {
				seenCash[key] = true
				cash = append(cash, key)
			}
		}
	}

	sort.Slice(holdings, func(i, j int) bool {
		if holdings[i].assetID != holdings[j].assetID {
			return holdings[i].assetID < holdings[j].assetID
		}
		return holdings[i].holder < holdings[j].holder
	})
	sort.Slice(cash, func(i, j int) bool { return cash[i].AccountPath() < cash[j].AccountPath() })
	return holdings, cash
}

// postCheckInvariants validates invariants after batch application
func (c *DeterministicCore) postCheckInvariants(p *plan, batch *ledger.Batch) error {
	if err := c.validator.ValidateAccountsNonNegative(batch); err != nil {
		return err
	}

	assets := make(map[uint64]struct{}, len(p.assets))
	for id := range p.assets {
		assets[id] = struct{}{}
	}

	holdings, _ := touchedHoldings(batch)
	for _, hk := range holdings {
		assets[hk.assetID] = struct{}{}

		// Lock sub-accounts must mirror the objects that own them
		h := c.balanceTracker.GetHolding(hk.assetID, hk.holder)
		if want := c.loans.LockedCollateral(hk.holder, hk.assetID); h.LoanLocked != want {
			return fmt.Errorf("holder %s asset %d: loan_locked %d, open loans pledge %d",
				hk.holder, hk.assetID, h.LoanLocked, want)
		}
		if want := c.listings.ListedUnits(hk.holder, hk.assetID); h.Listed != want {
			return fmt.Errorf("holder %s asset %d: listed %d, active listings offer %d",
				hk.holder, hk.assetID, h.Listed, want)
		}
	}

	for _, id := range sortedIDs(assets) {
		asset := c.registry.GetAsset(id)
		if asset == nil {
			return fmt.Errorf("asset %d has balances but no registry entry", id)
		}
		if err := c.validator.ValidateSupplyConservation(id, asset.TotalSupply, asset.UnitsSold); err != nil {
			return err
		}
	}

	// Periodic global zero-sum check
	if c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return err
		}
	}

	return nil
}

// buildDelta copies every touched object for the projection worker
func (c *DeterministicCore) buildDelta(p *plan, batch *ledger.Batch) *StateDelta {
	delta := &StateDelta{}

	for _, id := range sortedIDs(p.assets) {
		delta.Assets = append(delta.Assets, c.registry.GetAsset(id).Clone())
	}
	for _, id := range sortedIDs(p.listings) {
		delta.Listings = append(delta.Listings, c.listings.GetListing(id).Clone())
	}
	for _, id := range sortedIDs(p.loans) {
		delta.Loans = append(delta.Loans, c.loans.GetLoan(id).Clone())
	}

	holdings, cash := touchedHoldings(batch)
	for _, hk := range holdings {
		delta.Holdings = append(delta.Holdings, c.balanceTracker.GetHolding(hk.assetID, hk.holder))
	}
	for _, key := range cash {
		delta.Cash = append(delta.Cash, CashBalance{
			Holder:  key.Holder,
			Token:   key.Instrument.Token,
			Balance: c.balanceTracker.GetBalance(key),
		})
	}

	return delta
}

func (c *DeterministicCore) isVerifier(identity string) bool {
	_, ok := c.verifiers[identity]
	return ok
}

// acceptedToken normalizes token, defaulting to the primary token when empty
func (c *DeterministicCore) acceptedToken(token string) (string, error) {
	token = ledger.NormalizeToken(token)
	if token == "" {
		return c.cfg.PrimaryToken(), nil
	}
	if _, ok := c.tokens[token]; !ok {
		return "", lerrors.InvalidArgument.New("payment token %s is not accepted", token).
			WithMetadata("token", token)
	}
	return token, nil
}

// GetSequence returns the last committed sequence (0 before the first commit)
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence - 1
}

// GetStateHash returns the current chain tip
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// WarmLRU loads recently committed request ids into the tier-1 cache
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}
