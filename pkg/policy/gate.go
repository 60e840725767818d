// Package policy decides whether a memory operation may proceed. It sits
// between the authenticated surface (HTTP middleware, realtime gate) and
// the memory service: every write and recall is evaluated against a
// [Gate] and produces an auditable [Decision].
//
// Decisions are self-describing: alongside the effect they carry the
// machine-readable reason codes that produced it, the evaluation
// timestamp, and a non-reversible hash of the inputs, so an audit trail
// can be reconstructed without logging memory content.
package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/mnemora/mnemora-core/pkg/models"
)

// Effect is the outcome of a policy evaluation.
type Effect string

const (
	// EffectAllow permits the operation.
	EffectAllow Effect = "allow"

	// EffectDeny blocks the operation; the decision's reason codes say why.
	EffectDeny Effect = "deny"
)

// Operation names the memory operation being evaluated.
type Operation string

const (
	// OperationWrite stores a new memory.
	OperationWrite Operation = "write"

	// OperationRecall reads memories back.
	OperationRecall Operation = "recall"

	// OperationForget deletes a memory.
	OperationForget Operation = "forget"
)

// Reason codes attached to deny decisions. Codes are stable identifiers
// for automated handling; human-readable context belongs in logs.
const (
	// ReasonMissingUser means the request carried no pseudonymous user
	// identifier.
	ReasonMissingUser = "missing_user"

	// ReasonTextTooLong means the memory text exceeds the gate's limit.
	ReasonTextTooLong = "text_too_long"

	// ReasonKindNotAllowed means the memory kind is outside the gate's
	// allow-list.
	ReasonKindNotAllowed = "kind_not_allowed"

	// ReasonUnknownOperation means the operation is not one the gate
	// recognizes. Unknown operations always deny.
	ReasonUnknownOperation = "unknown_operation"
)

// Input carries the facts a gate evaluates. Only derived identifiers
// appear here; the gate never sees credentials.
type Input struct {
	// UserID is the pseudonymous identifier of the acting principal.
	UserID string

	// Operation is the memory operation being attempted.
	Operation Operation

	// Kind is the memory kind for write operations; empty otherwise.
	Kind models.MemoryKind

	// TextLength is the memory text length in bytes for write
	// operations; zero otherwise. The gate deliberately receives the
	// length, not the text.
	TextLength int
}

// Decision is the auditable outcome of one evaluation.
type Decision struct {
	// Effect is allow or deny.
	Effect Effect `json:"effect"`

	// ReasonCodes lists, in sorted order, every reason that contributed
	// to a deny. Empty for allow decisions.
	ReasonCodes []string `json:"reason_codes,omitempty"`

	// Timestamp is the UTC evaluation time.
	Timestamp time.Time `json:"timestamp"`

	// InputsHash is a short non-reversible digest of the evaluated
	// inputs, linking the decision to its inputs in audit logs without
	// recording them.
	InputsHash string `json:"inputs_hash"`
}

// Allowed reports whether the decision permits the operation.
func (d Decision) Allowed() bool {
	return d.Effect == EffectAllow
}

// Gate evaluates a memory operation. Implementations must be safe for
// concurrent use.
type Gate interface {
	Evaluate(ctx context.Context, in Input) Decision
}

// DefaultMaxTextLength is the write-path text limit applied by
// [BasicGate] when no explicit limit is configured.
const DefaultMaxTextLength = 8192

// BasicGate is the standard policy gate: it checks that the principal
// is present, the operation is known, and writes stay within the
// configured kind allow-list and text limit.
type BasicGate struct {
	maxTextLength int
	allowedKinds  map[models.MemoryKind]bool
}

// NewBasicGate creates a gate with the given write-path limits. A zero
// maxTextLength defaults to [DefaultMaxTextLength]; an empty kinds list
// allows every valid kind.
func NewBasicGate(maxTextLength int, kinds ...models.MemoryKind) *BasicGate {
	if maxTextLength <= 0 {
		maxTextLength = DefaultMaxTextLength
	}
	g := &BasicGate{maxTextLength: maxTextLength}
	if len(kinds) > 0 {
		g.allowedKinds = make(map[models.MemoryKind]bool, len(kinds))
		for _, k := range kinds {
			g.allowedKinds[k] = true
		}
	}
	return g
}

// Evaluate implements [Gate]. The decision is deterministic for a given
// input; only the timestamp varies between calls.
func (g *BasicGate) Evaluate(_ context.Context, in Input) Decision {
	var reasons []string

	if in.UserID == "" {
		reasons = append(reasons, ReasonMissingUser)
	}

	switch in.Operation {
	case OperationWrite:
		if !in.Kind.Valid() || (g.allowedKinds != nil && !g.allowedKinds[in.Kind]) {
			reasons = append(reasons, ReasonKindNotAllowed)
		}
		if in.TextLength > g.maxTextLength {
			reasons = append(reasons, ReasonTextTooLong)
		}
	case OperationRecall, OperationForget:
		// No additional checks beyond the principal.
	default:
		reasons = append(reasons, ReasonUnknownOperation)
	}

	decision := Decision{
		Effect:     EffectAllow,
		Timestamp:  time.Now().UTC(),
		InputsHash: hashInputs(in),
	}
	if len(reasons) > 0 {
		sort.Strings(reasons)
		decision.Effect = EffectDeny
		decision.ReasonCodes = reasons
	}
	return decision
}

// hashInputs digests the evaluated inputs into a short hex string. The
// encoding is positional and unambiguous, so equal inputs always hash
// equally and different inputs practically never collide.
func hashInputs(in Input) string {
	canonical := fmt.Sprintf("%s\x00%s\x00%s\x00%d",
		in.UserID, in.Operation, in.Kind, in.TextLength)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:16]
}
