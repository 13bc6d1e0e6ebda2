package reconcile

import (
	"fmt"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Options tunes a reconciliation run.
type Options struct {
	// MaxTimeWindow caps the widening search of the matcher.
	MaxTimeWindow time.Duration `validate:"min=1s"`
	// TransferMaxTime is the largest gap, exclusive, between two legs of an internal transfer.
	TransferMaxTime time.Duration `validate:"min=1ms"`
	// TransferMaxDelta is the largest net amount, exclusive, two legs may leave behind.
	TransferMaxDelta apd.Decimal `validate:"-"`

	Logger zerolog.Logger `validate:"-"`
}

// Option mutates Options.
type Option func(*Options)

// DefaultOptions returns a 1h matching window, 15s transfer window and 1e-6 transfer tolerance.
func DefaultOptions() Options {
	return Options{
		MaxTimeWindow:    time.Hour,
		TransferMaxTime:  15 * time.Second,
		TransferMaxDelta: *apd.New(1, -6),
		Logger:           zerolog.Nop(),
	}
}

// WithMaxTimeWindow sets the widest window the matcher may try.
func WithMaxTimeWindow(d time.Duration) Option {
	return func(o *Options) {
		o.MaxTimeWindow = d
	}
}

// WithTransferMaxTime sets the time tolerance between transfer legs.
func WithTransferMaxTime(d time.Duration) Option {
	return func(o *Options) {
		o.TransferMaxTime = d
	}
}

// WithTransferMaxDelta sets the amount tolerance between transfer legs.
func WithTransferMaxDelta(d apd.Decimal) Option {
	return func(o *Options) {
		o.TransferMaxDelta = d
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// ApplyOptions applies opts on top of DefaultOptions.
func ApplyOptions(opts ...Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

var validate = validator.New()

// Validate checks the options.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if o.TransferMaxDelta.Sign() <= 0 {
		return fmt.Errorf("%w: TransferMaxDelta must be positive, got %s", ErrInvalidOptions, o.TransferMaxDelta.String())
	}
	return nil
}
