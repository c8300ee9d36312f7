package commands

import (
	"github.com/dyluth/lockstep/internal/broker"
	"github.com/dyluth/lockstep/internal/config"
	"github.com/dyluth/lockstep/internal/eventbus"
	"github.com/dyluth/lockstep/internal/interpreter"
	"github.com/dyluth/lockstep/internal/puzzle"
	"github.com/dyluth/lockstep/internal/reward"
	"github.com/dyluth/lockstep/internal/session"
	"github.com/dyluth/lockstep/pkg/blackboard"
)

// engine is the set of components one serve process runs.
type engine struct {
	bus     *eventbus.Bus
	issuer  *reward.Issuer
	manager *session.Manager
}

// newEngine wires the session manager and its collaborators. A nil model
// means Anna narrates from templates and commands are matched by keyword only.
func newEngine(cfg *config.LockstepConfig, client *blackboard.Client, model broker.LanguageModel, transfer reward.Transferer) *engine {
	var interpOpts []interpreter.Option
	if model != nil && cfg.ParaphraseEnabled() {
		interpOpts = append(interpOpts, interpreter.WithParaphraser(broker.NewParaphraser(model, cfg.Broker.Timeout)))
	}

	bus := eventbus.New(client)
	issuer := reward.New(client, transfer, bus, reward.Config{
		Instance:       cfg.Instance,
		Amount:         cfg.Rewards.Amount,
		MaxRetries:     *cfg.Rewards.MaxRetries,
		InitialBackoff: cfg.Rewards.InitialBackoff,
		MaxBackoff:     cfg.Rewards.MaxBackoff,
	})

	manager := session.NewManager(session.Deps{
		Store:       client,
		Graphs:      puzzle.NewLibrary(cfg.Puzzles.Dir),
		Interpreter: interpreter.New(interpOpts...),
		Broker:      broker.New(model, cfg.Broker.Timeout),
		Bus:         bus,
		Rewards:     issuer,
	}, session.Config{
		Instance:        cfg.Instance,
		MaxParticipants: cfg.Sessions.MaxParticipants,
		IdleTimeout:     cfg.Sessions.IdleTimeout,
		ArchiveGrace:    cfg.Sessions.ArchiveGrace,
		QueueDepth:      cfg.Sessions.QueueDepth,
		HistoryLimit:    cfg.Broker.HistoryLimit,
	})

	return &engine{bus: bus, issuer: issuer, manager: manager}
}

// newTransferer posts to the configured transfer service, or keeps an
// in-process ledger when none is configured.
func newTransferer(cfg *config.LockstepConfig) reward.Transferer {
	if cfg.Rewards.TransferURL == "" {
		return reward.NewMemoryTransferer()
	}
	return reward.NewHTTPTransferer(cfg.Rewards.TransferURL, cfg.Rewards.TransferTimeout)
}
