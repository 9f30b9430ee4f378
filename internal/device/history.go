package device

import (
	"context"
	"time"
)

// defaultHistoryTimeout bounds one history write.
const defaultHistoryTimeout = 5 * time.Second

// StateReader returns a device's current state.
type StateReader interface {
	DeviceState(id string) (State, error)
}

// HistoryObserver records a snapshot of every changed device into a
// StateHistoryRepository.
type HistoryObserver struct {
	repo    StateHistoryRepository
	states  StateReader
	logger  Logger
	timeout time.Duration
}

// NewHistoryObserver creates an observer writing to repo.
func NewHistoryObserver(repo StateHistoryRepository, states StateReader, logger Logger) *HistoryObserver {
	if logger == nil {
		logger = noopLogger{}
	}
	return &HistoryObserver{
		repo:    repo,
		states:  states,
		logger:  logger,
		timeout: defaultHistoryTimeout,
	}
}

// StateChanged implements Observer.
func (h *HistoryObserver) StateChanged(deviceID string) {
	state, err := h.states.DeviceState(deviceID)
	if err != nil {
		h.logger.Warn("reading state for history failed", "device_id", deviceID, "error", err)
		return
	}

	// Changes not caused by a command (adapter readings) are tagged system.
	source := SourceSystem
	if lc, ok := state.LastCommand(); ok {
		source = lc.Source
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.repo.RecordStateChange(ctx, deviceID, state, source); err != nil {
		h.logger.Warn("recording state history failed", "device_id", deviceID, "error", err)
	}
}

// RunPruner deletes history older than retention every interval until ctx is
// cancelled.
func RunPruner(ctx context.Context, repo StateHistoryRepository, retention, interval time.Duration, logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	if retention <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := repo.PruneHistory(ctx, retention)
			if err != nil {
				logger.Warn("pruning state history failed", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Info("pruned state history", "deleted", deleted)
			}
		}
	}
}
