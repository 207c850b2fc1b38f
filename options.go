package socketserver

import (
	"github.com/flightaware/socketserver/bridge"
	E "github.com/flightaware/socketserver/common/exceptions"
)

type Option func(*Service)

// WithDispatcher replaces the default single-goroutine callback loop.
func WithDispatcher(dispatcher bridge.Dispatcher) Option {
	return func(service *Service) {
		service.dispatcher = dispatcher
	}
}

// WithNotifier replaces the default poll-based readiness watch; one
// notifier is created per registered consumer.
func WithNotifier(newNotifier func() bridge.Notifier) Option {
	return func(service *Service) {
		service.newNotifier = newNotifier
	}
}

// WithErrorHandler receives per-delivery and bridge-level failures that
// have no synchronous caller to return to.
func WithErrorHandler(handler E.Handler) Option {
	return func(service *Service) {
		service.errorHandler = handler
	}
}
