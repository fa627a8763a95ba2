package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mnemo/mnemo/pkg/logger"
	"github.com/mnemo/mnemo/pkg/metrics"
	"github.com/mnemo/mnemo/pkg/store/cache"
)

// STMConfig holds short-term memory tunables.
type STMConfig struct {
	// WindowSize is the default entries kept per session, 1 to 100.
	WindowSize int

	// TTL is the window expiry, refreshed on every append and resize.
	TTL time.Duration
}

// DefaultSTMConfig returns the standard window settings.
func DefaultSTMConfig() STMConfig {
	return STMConfig{WindowSize: 10, TTL: time.Hour}
}

// STMManager is the per-session sliding window over the cache store. The
// window holds raw strings, oldest evicted first; there is no importance
// scoring at this tier.
type STMManager struct {
	cfg     STMConfig
	store   cache.Store
	logger  logger.Logger
	metrics *metrics.Manager
}

// NewSTMManager creates a short-term memory manager.
func NewSTMManager(cfg STMConfig, store cache.Store, log logger.Logger, m *metrics.Manager) *STMManager {
	if cfg.WindowSize < 1 || cfg.WindowSize > 100 {
		cfg.WindowSize = DefaultSTMConfig().WindowSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSTMConfig().TTL
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NoOpManager()
	}
	return &STMManager{cfg: cfg, store: store, logger: log, metrics: m}
}

func stmKey(sessionID string) string {
	return "stm:" + sessionID
}

func stmWindowKey(sessionID string) string {
	return "stm:" + sessionID + ":window_size"
}

// Append pushes text to the tail of the session window, trims to the window
// size and refreshes the expiry.
func (s *STMManager) Append(ctx context.Context, sessionID, text string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrValidation)
	}
	if text == "" {
		return fmt.Errorf("%w: text is required", ErrValidation)
	}

	window, err := s.windowSize(ctx, sessionID)
	if err != nil {
		return err
	}

	key := stmKey(sessionID)
	n, err := s.store.RPush(ctx, key, text)
	if err != nil {
		return fmt.Errorf("failed to append to session %s: %w", sessionID, err)
	}

	if n > int64(window) {
		if err := s.store.LTrim(ctx, key, -int64(window), -1); err != nil {
			return fmt.Errorf("failed to trim session %s: %w", sessionID, err)
		}
		n = int64(window)
	}

	if err := s.refreshTTL(ctx, sessionID); err != nil {
		return err
	}

	s.metrics.SetSTMWindowEntries(sessionID, int(n))
	s.logger.Debug("stm append", "session_id", sessionID, "entries", n)
	return nil
}

// AppendAll appends multiple texts in order.
func (s *STMManager) AppendAll(ctx context.Context, sessionID string, texts ...string) error {
	for _, text := range texts {
		if err := s.Append(ctx, sessionID, text); err != nil {
			return err
		}
	}
	return nil
}

// Read returns the full ordered window, oldest first. A missing session
// reads as empty.
func (s *STMManager) Read(ctx context.Context, sessionID string) ([]string, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrValidation)
	}
	entries, err := s.store.LRange(ctx, stmKey(sessionID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	return entries, nil
}

// ReadJoined returns the window joined with a separator.
func (s *STMManager) ReadJoined(ctx context.Context, sessionID, sep string) (string, error) {
	entries, err := s.Read(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return strings.Join(entries, sep), nil
}

// SetWindowSize changes the session's window, trimming existing contents
// immediately and refreshing the expiry.
func (s *STMManager) SetWindowSize(ctx context.Context, sessionID string, size int) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrValidation)
	}
	if size < 1 || size > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidWindowSize, size)
	}

	if err := s.store.Set(ctx, stmWindowKey(sessionID), strconv.Itoa(size), s.cfg.TTL); err != nil {
		return fmt.Errorf("failed to set window size for session %s: %w", sessionID, err)
	}

	if err := s.store.LTrim(ctx, stmKey(sessionID), -int64(size), -1); err != nil {
		return fmt.Errorf("failed to trim session %s: %w", sessionID, err)
	}

	if err := s.refreshTTL(ctx, sessionID); err != nil {
		return err
	}

	s.logger.Debug("stm window resized", "session_id", sessionID, "window_size", size)
	return nil
}

// WindowSize returns the session's effective window size.
func (s *STMManager) WindowSize(ctx context.Context, sessionID string) (int, error) {
	return s.windowSize(ctx, sessionID)
}

func (s *STMManager) windowSize(ctx context.Context, sessionID string) (int, error) {
	raw, err := s.store.Get(ctx, stmWindowKey(sessionID))
	if errors.Is(err, cache.ErrNotFound) {
		return s.cfg.WindowSize, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read window size for session %s: %w", sessionID, err)
	}

	size, err := strconv.Atoi(raw)
	if err != nil || size < 1 || size > 100 {
		return s.cfg.WindowSize, nil
	}
	return size, nil
}

// Clear removes the session window and its window-size override.
func (s *STMManager) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrValidation)
	}
	if err := s.store.Del(ctx, stmKey(sessionID), stmWindowKey(sessionID)); err != nil {
		return fmt.Errorf("failed to clear session %s: %w", sessionID, err)
	}
	s.metrics.SetSTMWindowEntries(sessionID, 0)
	return nil
}

// Length returns the number of entries in the session window.
func (s *STMManager) Length(ctx context.Context, sessionID string) (int, error) {
	n, err := s.store.LLen(ctx, stmKey(sessionID))
	if err != nil {
		return 0, fmt.Errorf("failed to read session length %s: %w", sessionID, err)
	}
	return int(n), nil
}

// Exists reports whether the session has a live window.
func (s *STMManager) Exists(ctx context.Context, sessionID string) (bool, error) {
	return s.store.Exists(ctx, stmKey(sessionID))
}

// TimeToLive returns the remaining window expiry. Zero means no expiry;
// a missing session returns ErrNotFound.
func (s *STMManager) TimeToLive(ctx context.Context, sessionID string) (time.Duration, error) {
	d, err := s.store.TTL(ctx, stmKey(sessionID))
	if errors.Is(err, cache.ErrNotFound) {
		return 0, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	return d, err
}

// SessionStats summarizes one live session window.
type SessionStats struct {
	SessionID  string        `json:"session_id"`
	Entries    int           `json:"entries"`
	WindowSize int           `json:"window_size"`
	TTL        time.Duration `json:"ttl"`
}

// Stats enumerates the live session windows.
func (s *STMManager) Stats(ctx context.Context) ([]SessionStats, error) {
	keys, err := s.store.Keys(ctx, "stm:*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}

	var stats []SessionStats
	for _, key := range keys {
		if strings.HasSuffix(key, ":window_size") {
			continue
		}
		sessionID := strings.TrimPrefix(key, "stm:")

		length, err := s.Length(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		window, err := s.windowSize(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		ttl, _ := s.store.TTL(ctx, key)

		stats = append(stats, SessionStats{
			SessionID:  sessionID,
			Entries:    length,
			WindowSize: window,
			TTL:        ttl,
		})
	}
	return stats, nil
}

// refreshTTL resets the expiry on the window and its size override.
func (s *STMManager) refreshTTL(ctx context.Context, sessionID string) error {
	// The window list may not exist yet when only the size was set.
	if err := s.store.Expire(ctx, stmKey(sessionID), s.cfg.TTL); err != nil && !errors.Is(err, cache.ErrNotFound) {
		return fmt.Errorf("failed to refresh ttl for session %s: %w", sessionID, err)
	}
	// The size override may not exist; that's fine.
	_ = s.store.Expire(ctx, stmWindowKey(sessionID), s.cfg.TTL)
	return nil
}
