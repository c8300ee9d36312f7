package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/lockstep/internal/config"
	"github.com/dyluth/lockstep/internal/printer"
	"github.com/dyluth/lockstep/pkg/blackboard"
)

// connectBlackboard opens the instance's blackboard and checks Redis answers.
func connectBlackboard(ctx context.Context, cfg *config.LockstepConfig) (*blackboard.Client, error) {
	opts, err := cfg.RedisOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client, err := blackboard.NewClient(opts, cfg.Instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create blackboard client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"cannot reach Redis",
			"The blackboard did not answer a ping.",
			map[string]string{
				"redis_url": cfg.RedisURL,
				"instance":  cfg.Instance,
				"error":     err.Error(),
			},
			[]string{
				"Start Redis locally:\n  docker run -d -p 6379:6379 redis:7-alpine",
				"Or point at another server:\n  export REDIS_URL=redis://host:6379",
			},
		)
	}

	return client, nil
}
