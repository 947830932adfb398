package auth

import "sync/atomic"

// defaultService is the process-wide Service instance. The flow is
// inherently process-global (one user, one persisted session), so most
// applications configure a single Service at startup and share it.
var defaultService atomic.Pointer[Service]

// SetDefault installs the process-wide Service.
func SetDefault(s *Service) {
	defaultService.Store(s)
}

// Default returns the process-wide Service, or nil if none was installed.
func Default() *Service {
	return defaultService.Load()
}
