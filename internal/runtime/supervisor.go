package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	errspkg "github.com/drblury/shopmesh/internal/runtime/errors"
	loggingpkg "github.com/drblury/shopmesh/internal/runtime/logging"
)

// healthyRun is how long a listener must stay up before the restart delay
// starts over from its initial interval.
const healthyRun = time.Minute

// Start serves the registered HTTP handlers and runs the listener until ctx
// is cancelled. A listener that loses the bus is restarted with exponential
// backoff; Start only returns early for errors a restart cannot fix.
func (s *Service) Start(ctx context.Context) error {
	servers, err := s.startHTTPServers()
	if err != nil {
		return err
	}
	defer s.shutdownHTTPServers(servers)

	return s.superviseListener(ctx)
}

// Serve runs the HTTP servers only, for processes that publish but register
// no event handlers, such as the gateway.
func (s *Service) Serve(ctx context.Context) error {
	servers, err := s.startHTTPServers()
	if err != nil {
		return err
	}
	defer s.shutdownHTTPServers(servers)

	<-ctx.Done()
	return nil
}

func (s *Service) superviseListener(ctx context.Context) error {
	s.restart.Reset()
	listen := func() (struct{}, error) {
		started := time.Now()
		err := s.Listen(ctx)
		if ctx.Err() != nil {
			return struct{}{}, nil
		}
		if err == nil {
			err = errspkg.ErrBusUnavailable
		}
		if !errors.Is(err, errspkg.ErrBusUnavailable) {
			return struct{}{}, backoff.Permanent(err)
		}
		if time.Since(started) >= healthyRun {
			s.restart.Reset()
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, listen,
		backoff.WithBackOff(s.restart),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.metrics.RecordListenerRestart()
			s.Logger.Error("Event bus listener stopped, restarting", err, loggingpkg.LogFields{
				"retry_in": next.String(),
			})
		}),
	)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
