package actions

import (
	"time"

	"github.com/dshills/codeactions/internal/logging"
)

// DefaultBulbDelay is how long the cursor must rest before the lightbulb asks for actions.
const DefaultBulbDelay = 800 * time.Millisecond

// DefaultTimeout bounds a blocking dispatch's wait for one respondent.
const DefaultTimeout = 10 * time.Second

type options struct {
	logger  *logging.Logger
	timeout time.Duration
	delay   time.Duration
}

// Option configures the components of this package.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTimeout bounds how long a blocking dispatch waits for each respondent.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithDelay sets the lightbulb debounce delay.
func WithDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.delay = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:  logging.Nop(),
		timeout: DefaultTimeout,
		delay:   DefaultBulbDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
