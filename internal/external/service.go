package external

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"userlifecycle/pkg/obs"
	"userlifecycle/pkg/resilience"
)

// Service fronts the external dependency. Every call goes through a circuit
// breaker with bounded retry and a per-call timeout, and every operation has
// a degraded local answer, so callers never see a raw dependency failure.
type Service struct {
	dep         Dependency
	emailGuard  *resilience.Executor
	locateGuard *resilience.Executor
	healthGuard *resilience.Executor
	sink        obs.Sink
	log         *zap.Logger
}

// NewService wraps dep with one breaker per operation so a failing lookup
// endpoint does not trip email validation.
func NewService(dep Dependency, breaker resilience.Settings, retry resilience.RetrySettings, sink obs.Sink, log *zap.Logger) *Service {
	return &Service{
		dep:         dep,
		emailGuard:  resilience.NewExecutor(resilience.NewBreaker("email-validation", breaker), retry),
		locateGuard: resilience.NewExecutor(resilience.NewBreaker("ip-location", breaker), retry),
		healthGuard: resilience.NewExecutor(resilience.NewBreaker("dependency-health", breaker), retry),
		sink:        sink,
		log:         log,
	}
}

// ValidateEmail asks the dependency whether the address is deliverable.
// When the dependency is down the fallback is a local syntactic check, so a
// well-formed address is never rejected just because the validator is out.
func (s *Service) ValidateEmail(ctx context.Context, email string) (bool, error) {
	return resilience.Execute(ctx, s.emailGuard,
		func(ctx context.Context) (bool, error) {
			return s.dep.CheckEmail(ctx, email)
		},
		func(_ context.Context, cause error) (bool, error) {
			s.sink.RecordEvent("external.fallback", map[string]string{"operation": "validate_email"})
			s.log.Warn("email validation degraded to syntactic check",
				zap.String("breaker", s.emailGuard.Breaker().State().String()),
				zap.Error(cause),
			)
			return emailLooksValid(email), nil
		})
}

// LocationByIP resolves a coarse location for the address. The fallback is
// an explicit unknown location rather than an error.
func (s *Service) LocationByIP(ctx context.Context, ip string) (Location, error) {
	return resilience.Execute(ctx, s.locateGuard,
		func(ctx context.Context) (Location, error) {
			return s.dep.Locate(ctx, ip)
		},
		func(_ context.Context, cause error) (Location, error) {
			s.sink.RecordEvent("external.fallback", map[string]string{"operation": "location_by_ip"})
			s.log.Warn("location lookup degraded to unknown",
				zap.String("ip", ip),
				zap.Error(cause),
			)
			return Location{Country: "unknown", City: "unknown"}, nil
		})
}

// Health reports reachability of the dependency plus the state of each
// breaker guarding it.
type Health struct {
	Reachable bool              `json:"reachable"`
	Breakers  map[string]string `json:"breakers"`
}

// HealthCheck pings the dependency through its own guard so a down remote
// shows up as unreachable instead of an error.
func (s *Service) HealthCheck(ctx context.Context) Health {
	reachable, _ := resilience.Execute(ctx, s.healthGuard,
		func(ctx context.Context) (bool, error) {
			return true, s.dep.Ping(ctx)
		},
		func(_ context.Context, _ error) (bool, error) {
			return false, nil
		})

	return Health{
		Reachable: reachable,
		Breakers: map[string]string{
			"email-validation":  s.emailGuard.Breaker().State().String(),
			"ip-location":       s.locateGuard.Breaker().State().String(),
			"dependency-health": s.healthGuard.Breaker().State().String(),
		},
	}
}

// emailLooksValid is the local syntactic check used when the dependency
// cannot answer.
func emailLooksValid(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}
