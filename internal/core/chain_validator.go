package core

import (
	"fmt"
)

// ChainLink is the part of a persisted event needed to check the hash chain.
type ChainLink struct {
	Sequence    int64
	PrevHash    [32]byte
	StateHash   [32]byte
	StateDigest []byte // nil when the row predates digest persistence
}

// ChainValidator checks that persisted events form one unbroken chain: no
// sequence gaps, no reordering, and each prev_hash equal to the previous
// state_hash. Not thread-safe.
type ChainValidator struct {
	expectedSeq int64
	tip         [32]byte
	metrics     *ChainMetrics
}

// NewChainValidator starts at the genesis tip, expecting sequence 1.
func NewChainValidator() *ChainValidator {
	return &ChainValidator{
		expectedSeq: 1,
		tip:         GenesisHash(),
		metrics:     &ChainMetrics{},
	}
}

// ResumeFrom positions the validator after a snapshot at lastSeq with tip.
func (cv *ChainValidator) ResumeFrom(lastSeq int64, tip [32]byte) {
	cv.expectedSeq = lastSeq + 1
	cv.tip = tip
}

// Validate checks the next link and advances on success.
func (cv *ChainValidator) Validate(link ChainLink) error {
	if link.Sequence < cv.expectedSeq {
		cv.metrics.outOfOrder++
		return fmt.Errorf("out-of-order event: expected=%d, got=%d", cv.expectedSeq, link.Sequence)
	}
	if link.Sequence > cv.expectedSeq {
		cv.metrics.gaps++
		return fmt.Errorf("sequence gap: expected=%d, got=%d", cv.expectedSeq, link.Sequence)
	}
	if link.PrevHash != cv.tip {
		cv.metrics.brokenLinks++
		return fmt.Errorf("broken chain at seq %d: prev_hash %x, tip %x", link.Sequence, link.PrevHash, cv.tip)
	}
	if link.StateDigest != nil && !VerifyLink(link.PrevHash, link.Sequence, link.StateDigest, link.StateHash) {
		cv.metrics.brokenLinks++
		return fmt.Errorf("state hash mismatch at seq %d", link.Sequence)
	}

	cv.expectedSeq++
	cv.tip = link.StateHash
	cv.metrics.verified++
	return nil
}

// ExpectedSequence returns the next sequence the validator will accept
func (cv *ChainValidator) ExpectedSequence() int64 {
	return cv.expectedSeq
}

// Tip returns the last validated state hash
func (cv *ChainValidator) Tip() [32]byte {
	return cv.tip
}

func (cv *ChainValidator) Metrics() ChainMetrics {
	return *cv.metrics
}

// --- Metrics ---

// ChainMetrics counts validation outcomes.
type ChainMetrics struct {
	verified    int64
	gaps        int64
	outOfOrder  int64
	brokenLinks int64
}

func (m ChainMetrics) Verified() int64    { return m.verified }
func (m ChainMetrics) Gaps() int64        { return m.gaps }
func (m ChainMetrics) OutOfOrder() int64  { return m.outOfOrder }
func (m ChainMetrics) BrokenLinks() int64 { return m.brokenLinks }
