package natsserver

import "github.com/rs/zerolog"

// zerologAdapter routes embedded NATS server logs into the relay's logger.
type zerologAdapter struct {
	logger zerolog.Logger
}

func newZerologAdapter(l zerolog.Logger) *zerologAdapter {
	return &zerologAdapter{logger: l.With().Str("component", "nats").Logger()}
}

func (z *zerologAdapter) Noticef(format string, v ...interface{}) {
	z.logger.Debug().Msgf(format, v...)
}
func (z *zerologAdapter) Warnf(format string, v ...interface{}) {
	z.logger.Warn().Msgf(format, v...)
}

// Fatalf does not exit: the event bus is auxiliary and must not take the relay down.
func (z *zerologAdapter) Fatalf(format string, v ...interface{}) {
	z.logger.Error().Bool("fatal", true).Msgf(format, v...)
}
func (z *zerologAdapter) Errorf(format string, v ...interface{}) {
	z.logger.Error().Msgf(format, v...)
}
func (z *zerologAdapter) Debugf(format string, v ...interface{}) {
	z.logger.Debug().Msgf(format, v...)
}
func (z *zerologAdapter) Tracef(format string, v ...interface{}) {
	z.logger.Trace().Msgf(format, v...)
}
