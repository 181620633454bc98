package tracker

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// assertNoError asserts no error occurred
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// assertError asserts a specific error occurred
func assertError(t *testing.T, err error, want error) {
	t.Helper()
	if err == nil {
		t.Errorf("expected error %v, got nil", want)
		return
	}
	if !errors.Is(err, want) {
		t.Errorf("expected error %v, got %v", want, err)
	}
}

// assertStatus asserts wallet status
func assertStatus(t *testing.T, tr *Tracker, index int, want types.WalletStatus) {
	t.Helper()
	w, err := tr.Get(index)
	if err != nil {
		t.Errorf("wallet %d not found", index)
		return
	}
	if w.Status != want {
		t.Errorf("wallet %d status: got %s, want %s", index, w.Status, want)
	}
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestRegister(t *testing.T) {
	tr := New()
	assertNoError(t, tr.Register(1, "0xaaa"))
	assertStatus(t, tr, 1, types.WalletPending)

	assertError(t, tr.Register(1, "0xaaa"), ErrDuplicateWallet)
}

func TestLifecycleCompleted(t *testing.T) {
	tr := New()
	assertNoError(t, tr.Register(1, "0xaaa"))
	assertNoError(t, tr.Start(1))
	assertStatus(t, tr, 1, types.WalletRunning)

	tr.SetModule(1, "onchaingm")
	tr.RecordModule(1, "onchaingm", true)
	tr.RecordModule(1, "morkie_mint", false)
	tr.Observe(1, types.StateRunningTask, 3)

	assertNoError(t, tr.Finish(1, nil))
	assertStatus(t, tr, 1, types.WalletCompleted)

	w, _ := tr.Get(1)
	if w.Module != "onchaingm" || w.RunState != types.StateRunningTask || w.TaskIndex != 3 {
		t.Errorf("unexpected detail: %+v", w)
	}
	if len(w.Succeeded) != 1 || len(w.Failed) != 1 {
		t.Errorf("unexpected module results: %+v", w)
	}
	if w.StartedAt == 0 || w.FinishedAt == 0 {
		t.Error("timestamps not set")
	}
}

func TestLifecycleFailed(t *testing.T) {
	tr := New()
	assertNoError(t, tr.Register(2, "0xbbb"))
	assertNoError(t, tr.Start(2))
	assertNoError(t, tr.Finish(2, fmt.Errorf("login failed")))
	assertStatus(t, tr, 2, types.WalletFailed)

	w, _ := tr.Get(2)
	if w.Error != "login failed" {
		t.Errorf("error: got %q", w.Error)
	}
}

func TestInvalidTransitions(t *testing.T) {
	tr := New()
	assertError(t, tr.Start(9), ErrWalletNotFound)
	assertError(t, tr.Finish(9, nil), ErrWalletNotFound)

	assertNoError(t, tr.Register(1, "0xaaa"))
	assertError(t, tr.Finish(1, nil), ErrInvalidStatus)
	assertNoError(t, tr.Start(1))
	assertError(t, tr.Start(1), ErrInvalidStatus)

	_, err := tr.Get(9)
	assertError(t, err, ErrWalletNotFound)

	// 未註冊的錢包更新直接略過
	tr.Observe(9, types.StateDone, 0)
}

func TestGetReturnsCopy(t *testing.T) {
	tr := New()
	assertNoError(t, tr.Register(1, "0xaaa"))
	assertNoError(t, tr.Start(1))
	tr.RecordModule(1, "a", true)

	w, _ := tr.Get(1)
	w.Succeeded[0] = "mutated"

	again, _ := tr.Get(1)
	if again.Succeeded[0] != "a" {
		t.Error("Get leaked internal slice")
	}
}

func TestStatsAndSnapshot(t *testing.T) {
	tr := New()
	for i := 1; i <= 4; i++ {
		assertNoError(t, tr.Register(i, fmt.Sprintf("0x%d", i)))
	}
	assertNoError(t, tr.Start(1))
	assertNoError(t, tr.Finish(1, nil))
	assertNoError(t, tr.Start(2))
	assertNoError(t, tr.Finish(2, errors.New("boom")))
	assertNoError(t, tr.Start(3))

	stats := tr.Stats()
	want := map[string]int{"total": 4, "pending": 1, "running": 1, "completed": 1, "failed": 1}
	for k, v := range want {
		if stats[k] != v {
			t.Errorf("stats[%s]: got %d, want %d", k, stats[k], v)
		}
	}

	snap := tr.Snapshot()
	if len(snap.Wallets) != 4 {
		t.Fatalf("snapshot wallets: got %d", len(snap.Wallets))
	}
	for i, w := range snap.Wallets {
		if w.Index != i+1 {
			t.Errorf("snapshot order: got %d at %d", w.Index, i)
		}
	}
}

// ============================================================================
// Concurrency Tests
// ============================================================================

func TestConcurrentUpdates(t *testing.T) {
	tr := New()
	const n = 50
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assertNoError(t, tr.Register(i, fmt.Sprintf("0x%d", i)))
			assertNoError(t, tr.Start(i))
			tr.Observe(i, types.StateLoggingIn, 0)
			tr.RecordModule(i, "faucet", true)
			assertNoError(t, tr.Finish(i, nil))
		}(i)
	}
	wg.Wait()

	if got := tr.Stats()["completed"]; got != n {
		t.Errorf("completed: got %d, want %d", got, n)
	}
}
