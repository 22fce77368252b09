// Package loader - Owns the single active segmentation model and its fallback policy.
package loader

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-rembg/inference"
	"github.com/nvr-ai/go-rembg/inference/providers"
	"github.com/nvr-ai/go-rembg/models"
)

var (
	// ErrModelInitialization is returned when neither the requested nor the fallback model loads.
	ErrModelInitialization = errors.New("model initialization failed")
	// ErrModelNotInitialized is returned when inference is requested before a model is active.
	ErrModelNotInitialized = errors.New("model not initialized")
)

// Info describes the active model.
type Info struct {
	// ModelID is the active model, empty before initialization.
	ModelID models.ID `json:"model_id"`
	// Backend is the execution provider of the active model.
	Backend providers.ProviderBackend `json:"backend"`
	// AcceleratedSupported reports whether hardware acceleration was detected.
	AcceleratedSupported bool `json:"accelerated_supported"`
	// Requested is the model asked for by the last initialization.
	Requested models.ID `json:"requested"`
	// FallbackUsed is true when the requested model was replaced by the fallback.
	FallbackUsed bool `json:"fallback_used"`
	// Ready is true once a model is active.
	Ready bool `json:"ready"`
	// LoadedAt is when the active model was swapped in.
	LoadedAt time.Time `json:"loaded_at"`
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Loader) {
		l.log = log
	}
}

// WithActivationHook registers fn to run after every successful model swap.
func WithActivationHook(fn func(Info)) Option {
	return func(l *Loader) {
		l.onActivate = fn
	}
}

// Loader holds exactly one active model/preprocessor pair.
//
// A switch loads the new pair first, swaps it under the write lock, then closes the old pair.
// Inference holds the read lock, so a pair is never read while being replaced and in-flight
// inference finishes on the model it started with.
type Loader struct {
	runtime    inference.Runtime
	caps       providers.Capabilities
	log        logrus.FieldLogger
	onActivate func(Info)

	// switching serializes Initialize calls.
	switching sync.Mutex

	mu     sync.RWMutex
	active *inference.Pair
	info   Info
}

// New creates a loader without an active model.
//
// Arguments:
//   - runtime: The runtime that loads models.
//   - caps: The detected acceleration capabilities.
//   - opts: Optional settings.
//
// Returns:
//   - *Loader: The loader.
func New(runtime inference.Runtime, caps providers.Capabilities, opts ...Option) *Loader {
	l := &Loader{
		runtime: runtime,
		caps:    caps,
		log:     logrus.StandardLogger(),
		info:    Info{AcceleratedSupported: caps.Accelerated},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Initialize activates preferred, or the fallback model when preferred is empty.
//
// An accelerated model is only attempted when acceleration was detected. If it fails to load,
// the fallback model is loaded once on the CPU. When nothing loads, the previously active pair
// stays active and ErrModelInitialization is returned.
//
// Arguments:
//   - ctx: The context for loading.
//   - preferred: The requested model id.
//
// Returns:
//   - Info: The state after the switch.
//   - error: models.ErrUnknownModel or ErrModelInitialization.
func (l *Loader) Initialize(ctx context.Context, preferred models.ID) (Info, error) {
	spec := models.Default()
	if preferred != "" {
		var err error
		if spec, err = models.Lookup(preferred); err != nil {
			return l.Active(), err
		}
	}

	l.switching.Lock()
	defer l.switching.Unlock()

	log := l.log.WithField("model_id", spec.ID)
	fallbackUsed := false
	var pair *inference.Pair

	if spec.Accelerated() {
		if l.caps.Accelerated {
			var err error
			pair, err = l.load(ctx, spec, l.caps.Backend)
			if err != nil {
				log.WithError(err).WithField("backend", l.caps.Backend).
					Warn("accelerated model failed to load, falling back")
			}
		} else {
			log.WithField("reason", l.caps.Reason).Info("no accelerator available, using fallback model")
		}

		if pair == nil {
			spec = models.Default()
			fallbackUsed = true
		}
	}

	if pair == nil {
		var err error
		pair, err = l.load(ctx, spec, providers.CPUProviderBackend)
		if err != nil {
			log.WithError(err).Error("model initialization failed")
			return l.Active(), errors.Wrapf(ErrModelInitialization, "%s: %v", spec.ID, err)
		}
	}

	info := Info{
		ModelID:              pair.Spec.ID,
		Backend:              pair.Backend,
		AcceleratedSupported: l.caps.Accelerated,
		Requested:            preferred,
		FallbackUsed:         fallbackUsed,
		Ready:                true,
		LoadedAt:             time.Now(),
	}

	l.mu.Lock()
	old := l.active
	l.active = pair
	l.info = info
	l.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			l.log.WithError(err).WithField("model_id", old.Spec.ID).Warn("closing previous model")
		}
	}

	l.log.WithFields(logrus.Fields{
		"model_id":      info.ModelID,
		"backend":       info.Backend,
		"fallback_used": info.FallbackUsed,
	}).Info("model activated")

	if l.onActivate != nil {
		l.onActivate(info)
	}

	return info, nil
}

func (l *Loader) load(
	ctx context.Context,
	spec models.Spec,
	backend providers.ProviderBackend,
) (*inference.Pair, error) {
	provider, err := providers.ForBackend(backend)
	if err != nil {
		return nil, err
	}
	return inference.NewPair(ctx, l.runtime, spec, provider)
}

// Active returns the state of the active model.
func (l *Loader) Active() Info {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.info
}

// Use runs fn with the active pair while holding it against replacement.
//
// Arguments:
//   - ctx: The request context.
//   - fn: The function receiving the active pair.
//
// Returns:
//   - error: ErrModelNotInitialized before initialization, otherwise the error of fn.
func (l *Loader) Use(ctx context.Context, fn func(*inference.Pair) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.active == nil {
		return ErrModelNotInitialized
	}
	return fn(l.active)
}

// Close releases the active pair.
func (l *Loader) Close() error {
	l.switching.Lock()
	defer l.switching.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.active.Close()
	l.active = nil
	l.info = Info{AcceleratedSupported: l.caps.Accelerated}
	return err
}
