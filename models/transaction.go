package models

import "math/big"

// Visibility of a transition input or output, as reported by the explorer.
const (
	VisibilityPublic = "public"
	VisibilityFuture = "future"
	VisibilityRecord = "record"
)

const ProveTierFunction = "prove_tier"

// Transaction is the subset of an explorer transaction document the service reads.
type Transaction struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Execution *Execution `json:"execution,omitempty"`
}

type Execution struct {
	Transitions []Transition `json:"transitions"`
}

type Transition struct {
	ID       string     `json:"id"`
	Program  string     `json:"program"`
	Function string     `json:"function"`
	Inputs   []Argument `json:"inputs"`
	Outputs  []Argument `json:"outputs"`
}

type Argument struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Value string `json:"value"`
}

// ProofFields holds what could be extracted from a proof transaction. Nil
// fields were not found.
type ProofFields struct {
	Tier        *Tier
	Commitment  *string
	BlockHeight *uint32

	// Matches is the number of transitions that qualified. More than one
	// means the transaction is ambiguous and the first values found were kept.
	Matches int
}

func (t *Transaction) transitions() []Transition {
	if t == nil || t.Execution == nil {
		return nil
	}
	return t.Execution.Transitions
}

// ExtractProof scans the transitions of tx that call function on program and
// pulls out the public tier, the commitment passed to finalize and the block
// height input. The first value found for each field wins.
func ExtractProof(tx *Transaction, program, function string) ProofFields {
	var pf ProofFields
	for _, tr := range tx.transitions() {
		if tr.Function != function || tr.Program != program {
			continue
		}
		pf.Matches++

		for _, in := range tr.Inputs {
			if pf.BlockHeight != nil {
				break
			}
			if in.Type != VisibilityPublic || in.Value == "" {
				continue
			}
			if l, ok := ParseLiteral(in.Value); ok && l.Type == LiteralU32 {
				h := uint32(l.Uint64())
				pf.BlockHeight = &h
			}
		}

		for _, out := range tr.Outputs {
			if out.Value == "" {
				continue
			}
			switch out.Type {
			case VisibilityPublic:
				if pf.Tier != nil {
					continue
				}
				if l, ok := ParseLiteral(out.Value); ok && l.Type == LiteralU8 {
					tier := Tier(l.Uint64())
					pf.Tier = &tier
				}
			case VisibilityFuture:
				if pf.Commitment != nil {
					continue
				}
				if l, ok := FindFieldLiteral(out.Value); ok {
					c := l.String()
					pf.Commitment = &c
				}
			}
		}
	}
	return pf
}

// RecordOutput is an encrypted record emitted by one of the program's transitions.
type RecordOutput struct {
	Ciphertext   string
	TransitionID string
	Function     string
}

// RecordOutputs lists the record ciphertexts produced by program in tx.
func RecordOutputs(tx *Transaction, program string) []RecordOutput {
	var records []RecordOutput
	for _, tr := range tx.transitions() {
		if tr.Program != program {
			continue
		}
		for _, out := range tr.Outputs {
			if out.Type == VisibilityRecord && out.Value != "" {
				records = append(records, RecordOutput{
					Ciphertext:   out.Value,
					TransitionID: tr.ID,
					Function:     tr.Function,
				})
			}
		}
	}
	return records
}

// CommitmentDigits returns the numeric part of a `<digits>field` commitment.
func CommitmentDigits(commitment string) (*big.Int, bool) {
	l, ok := ParseLiteral(commitment)
	if !ok || l.Type != LiteralField {
		return nil, false
	}
	return l.Value, true
}
