package app

import (
	"context"
	"errors"
	"testing"

	"github.com/nilotic/wallet-service/internal/domain"
	"github.com/nilotic/wallet-service/internal/store"
	"github.com/nilotic/wallet-service/pkg/ledgerclient"
)

func TestMine_AppliesChainSettlement(t *testing.T) {
	repo := newWalletRepoStub()
	miner, wallet := repo.addUser("miner@example.com", true, true, 10)

	ledger := &ledgerStub{mineResult: &ledgerclient.MineResult{Reward: 2.5, BlockHash: "0xabc"}}
	svc := newTestService(repo, ledger)

	result, err := svc.Mine(context.Background(), miner.ID, domain.MineRequest{
		WalletAddress: wallet.Address,
		Stake:         4,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Simulated {
		t.Fatal("did not expect simulated settlement when the chain node answers")
	}
	if result.Reward != 2.5 || result.BlockHash != "0xabc" {
		t.Fatalf("unexpected settlement: reward=%f hash=%s", result.Reward, result.BlockHash)
	}
	if result.NewBalance != 8.5 {
		t.Fatalf("expected balance 10 - 4 + 2.5 = 8.5, got %f", result.NewBalance)
	}
	if result.Stake != 4 {
		t.Fatalf("expected stake 4, got %f", result.Stake)
	}
}

func TestMine_SimulatesWhenChainNodeDownAndEnabled(t *testing.T) {
	repo := newWalletRepoStub()
	miner, wallet := repo.addUser("miner@example.com", true, true, 10)

	ledger := &ledgerStub{mineErr: errors.New("connection refused")}
	svc := NewService(repo, ledger, nil, Config{SimulateMining: true})

	result, err := svc.Mine(context.Background(), miner.ID, domain.MineRequest{
		WalletAddress: wallet.Address,
		Stake:         4,
	})
	if err != nil {
		t.Fatalf("expected simulated settlement, got %v", err)
	}
	if !result.Simulated {
		t.Fatal("expected simulated flag")
	}
	if result.Reward != ledgerclient.DefaultReward {
		t.Fatalf("expected default reward %f, got %f", ledgerclient.DefaultReward, result.Reward)
	}
	if result.BlockHash != simulatedBlockHash {
		t.Fatalf("expected sentinel block hash, got %q", result.BlockHash)
	}
	if result.NewBalance != 11 {
		t.Fatalf("expected balance 10 - 4 + 5 = 11, got %f", result.NewBalance)
	}
}

func TestMine_FailsClosedWhenSimulationDisabled(t *testing.T) {
	repo := newWalletRepoStub()
	miner, wallet := repo.addUser("miner@example.com", true, true, 10)

	ledger := &ledgerStub{mineErr: errors.New("connection refused")}
	svc := newTestService(repo, ledger)

	_, err := svc.Mine(context.Background(), miner.ID, domain.MineRequest{
		WalletAddress: wallet.Address,
		Stake:         4,
	})
	if !errors.Is(err, ErrMiningUnavailable) {
		t.Fatalf("expected mining unavailable, got %v", err)
	}
	if repo.settleCalled {
		t.Fatal("did not expect a settlement when the chain node is down and simulation is off")
	}
	if repo.wallets[wallet.Address].Balance != 10 || repo.wallets[wallet.Address].Stake != 0 {
		t.Fatal("expected wallet row to be untouched")
	}
}

func TestMine_RejectsZeroReward(t *testing.T) {
	repo := newWalletRepoStub()
	miner, wallet := repo.addUser("miner@example.com", true, true, 10)

	ledger := &ledgerStub{mineResult: &ledgerclient.MineResult{Reward: 0, BlockHash: "0xabc"}}
	svc := newTestService(repo, ledger)

	_, err := svc.Mine(context.Background(), miner.ID, domain.MineRequest{
		WalletAddress: wallet.Address,
		Stake:         4,
	})
	if !errors.Is(err, ErrNoReward) {
		t.Fatalf("expected no-reward rejection, got %v", err)
	}
	if repo.settleCalled {
		t.Fatal("did not expect settlement for a zero reward")
	}
}

func TestMine_RejectsStakeAboveBalance(t *testing.T) {
	repo := newWalletRepoStub()
	miner, wallet := repo.addUser("miner@example.com", true, true, 3)

	ledger := &ledgerStub{}
	svc := newTestService(repo, ledger)

	_, err := svc.Mine(context.Background(), miner.ID, domain.MineRequest{
		WalletAddress: wallet.Address,
		Stake:         4,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if ledger.mineCalled {
		t.Fatal("did not expect a chain call for an underfunded stake")
	}
}

func TestMine_RejectsWalletNotOwnedByCaller(t *testing.T) {
	repo := newWalletRepoStub()
	repo.addUser("miner@example.com", true, true, 10)
	other, _ := repo.addUser("other@example.com", true, true, 10)
	_, minerWallet := repo.addUser("third@example.com", true, true, 10)

	svc := newTestService(repo, &ledgerStub{})

	_, err := svc.Mine(context.Background(), other.ID, domain.MineRequest{
		WalletAddress: minerWallet.Address,
		Stake:         2,
	})
	if !errors.Is(err, store.ErrWalletNotFound) {
		t.Fatalf("expected wallet lookup rejection, got %v", err)
	}
}
