package reconcile

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"nakula/pkg/ledger"
)

// TransferPair links the two legs of an internal transfer by transaction index.
type TransferPair struct {
	// Withdrawal is the leg that left the account.
	Withdrawal int `json:"withdrawal"`
	// Deposit is the leg that arrived.
	Deposit int `json:"deposit"`
	// Ambiguous is set when the deposit was chosen among several candidates.
	Ambiguous bool `json:"ambiguous"`
	// PairID is stamped on both InternalTransfer events.
	PairID string `json:"pair_id"`
}

// TransferReport describes what PairTransfers did.
type TransferReport struct {
	Pairs []TransferPair `json:"pairs"`
	// Reclassified lists transactions rewritten as strategy deposits or withdrawals.
	Reclassified []int `json:"reclassified"`
}

type transferPairer struct {
	txs    []ledger.Transaction
	pool   []int
	paired map[int]bool
	opts   Options
	report TransferReport
}

// PairTransfers pairs unresolved internal transfers in txs and rewrites txs in place.
//
// Phase one pairs a transfer only when exactly one opposite leg qualifies. Phase two pairs
// what is left with the first qualifying leg. A transfer still alone afterwards is money
// moving to or from an account the venue does not expose; it becomes a Strategy transaction.
func PairTransfers(txs []ledger.Transaction, opts Options) TransferReport {
	p := &transferPairer{
		txs:    txs,
		paired: make(map[int]bool),
		opts:   opts,
	}
	for i, tx := range txs {
		if isOpenTransfer(tx) {
			p.pool = append(p.pool, i)
		}
	}

	p.phase(false)
	p.phase(true)
	p.reclassify()

	return p.report
}

func isOpenTransfer(tx ledger.Transaction) bool {
	e, ok := tx.Event.(ledger.InternalTransfer)
	if !ok || e.PairID != "" {
		return false
	}
	return len(tx.Flows) == 1 && tx.Flows[0].Label == ledger.LabelInternalTransfer
}

func (p *transferPairer) phase(acceptAmbiguous bool) {
	for _, i := range p.pool {
		if p.paired[i] {
			continue
		}
		candidates := p.candidates(i)
		switch {
		case len(candidates) == 0:
			continue
		case len(candidates) == 1:
			p.pair(i, candidates[0], false)
		case acceptAmbiguous:
			p.pair(i, candidates[0], true)
		}
	}
}

func (p *transferPairer) candidates(i int) []int {
	leg := p.txs[i].Flows[0]
	var out []int
	for _, j := range p.pool {
		if j == i || p.paired[j] {
			continue
		}
		other := p.txs[j].Flows[0]
		if other.Asset != leg.Asset || leg.Change.Sign()*other.Change.Sign() >= 0 {
			continue
		}
		net := ledger.Abs(ledger.Sum(leg.Change, other.Change))
		if net.Cmp(&p.opts.TransferMaxDelta) >= 0 {
			continue
		}
		if absDuration(leg.Time.Sub(other.Time)) >= p.opts.TransferMaxTime {
			continue
		}
		out = append(out, j)
	}
	return out
}

func (p *transferPairer) pair(i, j int, ambiguous bool) {
	withdrawal, deposit := i, j
	if p.txs[i].Flows[0].IsCredit() {
		withdrawal, deposit = j, i
	}
	id := pairID(p.txs[withdrawal].Flows[0], p.txs[deposit].Flows[0], withdrawal, deposit)

	for _, k := range []int{withdrawal, deposit} {
		e := p.txs[k].Event.(ledger.InternalTransfer)
		e.PairID = id
		p.txs[k].Event = e
		p.paired[k] = true
	}
	p.report.Pairs = append(p.report.Pairs, TransferPair{
		Withdrawal: withdrawal,
		Deposit:    deposit,
		Ambiguous:  ambiguous,
		PairID:     id,
	})

	phase := "unambiguous"
	if ambiguous {
		phase = "ambiguous"
		TransfersAmbiguous.Inc()
		p.opts.Logger.Warn().
			Int("withdrawal", withdrawal).
			Int("deposit", deposit).
			Str("asset", p.txs[withdrawal].Flows[0].Asset).
			Msg("internal transfer paired among several candidates")
	}
	TransfersPaired.WithLabelValues(phase).Inc()
}

func (p *transferPairer) reclassify() {
	for _, i := range p.pool {
		if p.paired[i] {
			continue
		}
		leg := p.txs[i].Flows[0]
		direction := ledger.StrategyWithdrawal
		if leg.Change.Sign() < 0 {
			direction = ledger.StrategyDeposit
		}
		strategy := ledger.Strategy{
			Time:      p.txs[i].Time(),
			Asset:     leg.Asset,
			Qty:       ledger.Abs(leg.Change),
			Direction: direction,
		}
		p.txs[i] = ledger.NewTransaction(strategy, []ledger.Flow{leg.WithLabel(direction.Label())})
		p.report.Reclassified = append(p.report.Reclassified, i)

		TransfersReclassified.Inc()
		p.opts.Logger.Debug().
			Int("index", i).
			Str("asset", leg.Asset).
			Str("direction", direction.String()).
			Msg("unpaired internal transfer booked as strategy")
	}
}

// pairID derives a stable identifier from both legs so reruns over the same batch agree.
func pairID(withdrawal, deposit ledger.Flow, wi, di int) string {
	key := fmt.Sprintf("%s|%d|%d|%s|%s|%d|%d",
		withdrawal.Asset,
		withdrawal.Time.UnixNano(), deposit.Time.UnixNano(),
		withdrawal.Change.String(), deposit.Change.String(),
		wi, di)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
