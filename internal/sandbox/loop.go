package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// LoopClassification is the side observer's verdict for one agent step,
// comparing the current (code, outcome) pair against the previous one.
type LoopClassification string

const (
	ClassificationFullProgress  LoopClassification = "full-progress"
	ClassificationWorldChanged  LoopClassification = "world-changed"
	ClassificationStuck         LoopClassification = "stuck"
	ClassificationFullStagnation LoopClassification = "full-stagnation"
)

// LoopDetector hashes each (code, outcome) pair the interpreter produces
// and classifies it relative to the previous step, tracking consecutive
// streaks of stuck/stagnation classifications so the caller can warn and
// eventually hard-block a runaway agent.
type LoopDetector struct {
	WarnThreshold  int
	BlockThreshold int

	mu           sync.Mutex
	lastCodeHash string
	lastOutHash  string
	streak       int
}

// NewLoopDetector constructs a detector with the given warn/block streak
// thresholds. A threshold of 0 disables that trigger.
func NewLoopDetector(warnThreshold, blockThreshold int) *LoopDetector {
	return &LoopDetector{WarnThreshold: warnThreshold, BlockThreshold: blockThreshold}
}

// Observe records one (code, outcome) pair and returns its classification
// plus whether the caller should warn or hard-block based on the current
// streak.
func (d *LoopDetector) Observe(code, outcome string) (classification LoopClassification, shouldWarn, shouldBlock bool) {
	codeHash := hashOf(code)
	outHash := hashOf(outcome)

	d.mu.Lock()
	defer d.mu.Unlock()

	sameCode := codeHash == d.lastCodeHash
	sameOutcome := outHash == d.lastOutHash

	switch {
	case !sameCode && !sameOutcome:
		classification = ClassificationFullProgress
	case sameCode && !sameOutcome:
		classification = ClassificationWorldChanged
	case !sameCode && sameOutcome:
		classification = ClassificationStuck
	default:
		classification = ClassificationFullStagnation
	}

	if classification == ClassificationStuck || classification == ClassificationFullStagnation {
		d.streak++
	} else {
		d.streak = 0
	}

	d.lastCodeHash = codeHash
	d.lastOutHash = outHash

	if d.WarnThreshold > 0 && d.streak >= d.WarnThreshold {
		shouldWarn = true
	}
	if d.BlockThreshold > 0 && d.streak >= d.BlockThreshold {
		shouldBlock = true
	}
	return classification, shouldWarn, shouldBlock
}

// Reset clears the detector's streak state, e.g. after a human-approved
// escalation changes the agent's available roots.
func (d *LoopDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastCodeHash = ""
	d.lastOutHash = ""
	d.streak = 0
}

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
