package attestation

import (
	"context"
	"errors"
	"time"

	"github.com/MrGarbonzo/secret-moltbot/internal/logx"
)

// Engine assembles live attestation views on demand. It retains no state
// between calls; a View is a pure function of what the two collectors return
// at that instant.
type Engine struct {
	enclave  EnclaveSource
	service  ServiceSource
	endpoint string
	now      func() time.Time
}

// NewEngine wires an enclave source and a service source against the given
// inference endpoint URL.
func NewEngine(enclave EnclaveSource, service ServiceSource, serviceEndpoint string) *Engine {
	return &Engine{
		enclave:  enclave,
		service:  service,
		endpoint: serviceEndpoint,
		now:      time.Now,
	}
}

// CollectView computes a fresh attestation view. Collector transient failures
// and enclave unavailability degrade classification but never fail the call;
// only integrity failures (malformed quote data) are returned as errors.
func (e *Engine) CollectView(ctx context.Context) (View, error) {
	ms, err := e.enclave.Collect(ctx)
	var enclaveErrText string
	if err != nil {
		if errors.Is(err, ErrMalformedQuote) {
			// Integrity failure: never folded into a lower tier.
			return View{}, err
		}
		enclaveErrText = err.Error()
		logx.Warnf("attestation.enclave degraded: %v", err)
		ms = AbsentMeasurementSet()
	}

	sa, err := e.service.Collect(ctx, e.endpoint)
	if err != nil {
		// Transient: the attestation carries the error, classification runs.
		logx.Warnf("attestation.service degraded: %v", err)
	}

	cls := Classify(ms, sa)
	binding := Bind(ms.Digest(), sa.Digest(), e.now())

	return View{
		Enclave:        ms,
		EnclaveError:   enclaveErrText,
		Service:        sa,
		Binding:        binding,
		Classification: cls,
		FullyVerified:  cls.Tier == TierHigh,
		CollectedAt:    binding.Timestamp,
	}, nil
}
