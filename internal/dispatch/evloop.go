// Package dispatch receives webhook events, converts them to change events
// and runs their processing asynchronously with retries.
package dispatch

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/simplesurance/gatekeeper/internal/changeevent"
	"github.com/simplesurance/gatekeeper/internal/logfields"
	github_prov "github.com/simplesurance/gatekeeper/internal/provider/github"
	"github.com/simplesurance/gatekeeper/internal/routines"
)

const (
	DefEventChannelBufferSize = 512
	DefWorkers                = 4
)

const loggerName = "event_loop"

// EventHandler processes change events.
type EventHandler interface {
	HandleEvent(context.Context, changeevent.ChangeEvent) error
}

// EvLoop receives webhook events from a channel and passes them as change
// events to an EventHandler.
// Events are processed concurrently by a pool of go-routines, failed
// processing is retried when the error is retryable.
type EvLoop struct {
	ch      chan *github_prov.Event
	logger  *zap.Logger
	handler EventHandler

	workers        int
	pool           *routines.Pool
	retryer        *Retryer
	ignoreFilter   *IgnoreFilter
	repositories   map[string]struct{}
	routineDefer   func()
	started        atomic.Bool
	loopTerminated chan struct{}

	processed atomic.Uint64
	failed    atomic.Uint64
	ignored   atomic.Uint64
}

type Option func(*EvLoop)

// WithWorkers sets the number of events that are processed concurrently.
func WithWorkers(n int) Option {
	return func(e *EvLoop) {
		e.workers = n
	}
}

// WithIgnoreFilter sets a filter for events that are not processed.
func WithIgnoreFilter(f *IgnoreFilter) Option {
	return func(e *EvLoop) {
		e.ignoreFilter = f
	}
}

// WithRepositories restricts processing to events of the repositories.
// The repositories are specified in the format "owner/name", the comparison
// is case-insensitive.
func WithRepositories(repos []string) Option {
	return func(e *EvLoop) {
		e.repositories = make(map[string]struct{}, len(repos))
		for _, r := range repos {
			e.repositories[strings.ToLower(r)] = struct{}{}
		}
	}
}

// WithRoutineDeferFunc sets a function to be run when a go-routine that
// processes an event returns.
// It can be used to set a panic handler.
func WithRoutineDeferFunc(fn func()) Option {
	return func(e *EvLoop) {
		e.routineDefer = fn
	}
}

func withRetryer(r *Retryer) Option {
	return func(e *EvLoop) {
		e.retryer = r
	}
}

func NewEventLoop(handler EventHandler, opts ...Option) *EvLoop {
	evl := EvLoop{
		ch:             make(chan *github_prov.Event, DefEventChannelBufferSize),
		handler:        handler,
		workers:        DefWorkers,
		loopTerminated: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(&evl)
	}

	if evl.logger == nil {
		evl.logger = zap.L().Named(loggerName)
	}

	if evl.retryer == nil {
		evl.retryer = NewRetryer()
	}

	evl.pool = routines.NewPool(evl.workers)

	return &evl
}

// C returns the event channel.
// Events sent to this channel will be processed.
// The channel is closed when Stop() is called.
func (e *EvLoop) C() chan<- *github_prov.Event {
	return e.ch
}

// Start processes events until the event channel is closed.
func (e *EvLoop) Start() {
	e.started.Store(true)
	defer close(e.loopTerminated)

	ctx := context.Background()
	e.logger.Info("ready to process events", logfields.Event("eventloop_started"))

	for ev := range e.ch {
		e.dispatch(ctx, ev)
	}

	e.logger.Info(
		"event loop terminated, event channel was closed",
		logfields.Event("eventloop_terminated"),
	)
}

func (e *EvLoop) isMonitoredRepository(repo *changeevent.Repository) bool {
	if len(e.repositories) == 0 {
		return true
	}

	_, exist := e.repositories[strings.ToLower(repo.Owner+"/"+repo.Name)]
	return exist
}

func (e *EvLoop) ignore(logger *zap.Logger, msg string, fields ...zap.Field) {
	e.ignored.Inc()
	webhookEvents.WithLabelValues(resultIgnored).Inc()

	logger.Debug(msg, append(fields, logfields.Event("github_event_ignored"))...)
}

func (e *EvLoop) dispatch(ctx context.Context, ev *github_prov.Event) {
	logger := e.logger.With(ev.LogFields...)

	logger.Debug("event received", logfields.Event("event_received"))

	if e.ignoreFilter != nil {
		match, err := e.ignoreFilter.Match(ctx, ev.JSON)
		if err != nil {
			logger.Warn(
				"evaluating ignore filter failed, processing event",
				logfields.Event("ignore_filter_evaluation_failed"),
				zap.Error(err),
			)
		} else if match {
			e.ignore(logger, "event matches ignore filter, ignoring event")
			return
		}
	}

	cev, err := changeevent.Normalize(ev.DeliveryID, ev.Event)
	if err != nil {
		if errors.Is(err, changeevent.ErrUnsupported) {
			e.ignore(logger, "event is not supported, ignoring event", zap.Error(err))
			return
		}

		e.failed.Inc()
		webhookEvents.WithLabelValues(resultFailed).Inc()
		logger.Warn(
			"converting event failed, ignoring event",
			logfields.Event("event_conversion_failed"),
			zap.Error(err),
		)

		return
	}

	if !e.isMonitoredRepository(cev.Repo()) {
		e.ignore(logger, "repository is not monitored, ignoring event", cev.Repo().LogFields()...)
		return
	}

	e.pool.Queue(func() {
		if e.routineDefer != nil {
			defer e.routineDefer()
		}

		err := e.retryer.Run(ctx, func(ctx context.Context) error {
			return e.handler.HandleEvent(ctx, cev)
		}, cev.LogFields())
		if err != nil {
			e.failed.Inc()
			webhookEvents.WithLabelValues(resultFailed).Inc()
			return
		}

		e.processed.Inc()
		webhookEvents.WithLabelValues(resultProcessed).Inc()
	})
}

// Stats returns the number of processed, failed and ignored events.
func (e *EvLoop) Stats() (processed, failed, ignored uint64) {
	return e.processed.Load(), e.failed.Load(), e.ignored.Load()
}

// Stop closes the event channel and waits until all events that are being
// processed finished.
// Pending retries are aborted.
func (e *EvLoop) Stop() {
	e.logger.Debug("event loop terminating", logfields.Event("eventloop_terminating"))
	close(e.ch)

	e.retryer.Stop()

	if e.started.Load() {
		<-e.loopTerminated
	}

	e.logger.Debug(
		"waiting for event processing routines to terminate",
		logfields.Event("eventloop_terminating"),
	)
	e.pool.Wait()

	processed, failed, ignored := e.Stats()
	e.logger.Info(
		"event loop terminated",
		logfields.Event("eventloop_terminated"),
		zap.Uint64("events_processed", processed),
		zap.Uint64("events_failed", failed),
		zap.Uint64("events_ignored", ignored),
	)
}
