package websocket

import (
	"time"

	"go.uber.org/zap"
)

// SessionCleanupService ends relay sessions whose link never became ready
// or whose client stopped sending audio.
type SessionCleanupService struct {
	hub             *Hub
	interval        time.Duration
	linkOpenTimeout time.Duration
	idleTimeout     time.Duration
	logger          *zap.Logger
	stopChan        chan struct{}
}

// NewSessionCleanupService creates a new session cleanup service. A zero
// timeout disables that check.
func NewSessionCleanupService(hub *Hub, linkOpenTimeout, idleTimeout time.Duration, logger *zap.Logger) *SessionCleanupService {
	interval := 5 * time.Second
	for _, d := range []time.Duration{linkOpenTimeout, idleTimeout} {
		if d > 0 && d/2 < interval {
			interval = d / 2
		}
	}
	return &SessionCleanupService{
		hub:             hub,
		interval:        interval,
		linkOpenTimeout: linkOpenTimeout,
		idleTimeout:     idleTimeout,
		logger:          logger,
		stopChan:        make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started",
		zap.Duration("interval", s.interval),
		zap.Duration("linkOpenTimeout", s.linkOpenTimeout),
		zap.Duration("idleTimeout", s.idleTimeout))
}

// Stop gracefully stops the cleanup service
func (s *SessionCleanupService) Stop() {
	close(s.stopChan)
	s.logger.Info("Session cleanup service stopped")
}

// cleanupLoop runs the cleanup process periodically
func (s *SessionCleanupService) cleanupLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case now := <-ticker.C:
			s.runCleanup(now)
		}
	}
}

// runCleanup checks every registered session once
func (s *SessionCleanupService) runCleanup(now time.Time) {
	for _, session := range s.hub.Sessions() {
		session.checkHealth(now, s.linkOpenTimeout, s.idleTimeout)
	}
}
