//go:build integration

package blackboard_test

import (
	"context"
	"sync"
	"testing"

	"github.com/dyluth/lockstep/internal/testutil"
	"github.com/dyluth/lockstep/pkg/blackboard"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// TestCreateRewardRecord_ConcurrentSingleWinner races record creation for one
// participant against a real Redis; exactly one caller may win.
func TestCreateRewardRecord_ConcurrentSingleWinner(t *testing.T) {
	client := testutil.NewBlackboard(t, testutil.StartRedis(t), "integration")
	ctx := context.Background()
	sessionID := uuid.New().String()

	const racers = 20
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := client.CreateRewardRecord(ctx, &blackboard.RewardRecord{
				SessionID:        sessionID,
				ParticipantID:    "alice",
				IdempotencyToken: "token",
				Amount:           10,
				Status:           blackboard.RewardStatusPending,
			})
			assert.NoError(t, err)
			wins <- created
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for w := range wins {
		if w {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestNextEventSeq_ConcurrentGapless(t *testing.T) {
	client := testutil.NewBlackboard(t, testutil.StartRedis(t), "integration")
	ctx := context.Background()

	const n = 50
	var mu sync.Mutex
	seen := make(map[uint64]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := client.NextEventSeq(ctx, "s1")
			assert.NoError(t, err)
			mu.Lock()
			seen[seq] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	for seq := uint64(1); seq <= n; seq++ {
		assert.True(t, seen[seq], "sequence %d missing", seq)
	}
}
