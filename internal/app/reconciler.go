/**
 * @description
 * Reconciliation between the local wallet cache and the remote authoritative
 * ledger. The chain node owns (balance, stake); any drift detected locally is
 * resolved in its favor, which makes the cache self-healing after a partially
 * failed paired operation. A correction is a normal, logged, counted event,
 * never an error.
 */

package app

import (
	"context"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconcileCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_reconcile_corrections_total",
		Help: "Local wallet rows overwritten with remote ledger state",
	})
	reconcileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_reconcile_failures_total",
		Help: "Reconciliation attempts that failed at the remote ledger",
	})
)

// Reconcile pulls the authoritative (balance, stake) pair for an address and
// overwrites the local row when it has drifted. Returns whether a correction
// was applied.
//
// A remote failure leaves local state untouched: known-good cached values are
// never discarded on a transient chain node error. Calling Reconcile twice
// with no intervening remote change corrects at most once.
func (s *Service) Reconcile(ctx context.Context, address string) (corrected bool, err error) {
	wallet, err := s.repo.FindWalletByAddress(ctx, address)
	if err != nil {
		return false, err
	}

	remote, err := s.ledger.GetBalance(ctx, address)
	if err != nil {
		reconcileFailures.Inc()
		return false, err
	}

	if wallet.Balance == remote.Balance && wallet.Stake == remote.Stake {
		return false, nil
	}

	if err := s.repo.OverwriteLedgerState(ctx, address, remote.Balance, remote.Stake); err != nil {
		return false, err
	}

	reconcileCorrections.Inc()
	log.Printf("level=info component=reconciler msg=\"drift corrected\" address=%s local_balance=%f local_stake=%f remote_balance=%f remote_stake=%f",
		address, wallet.Balance, wallet.Stake, remote.Balance, remote.Stake)
	return true, nil
}
