// Package conversation drives one voice-guided data-capture session.
//
// A [Session] walks the user through identifying a customer, then a vehicle,
// then one or more (service, hours, price) line items, and finally commits a
// service log or invoice. Every answer is obtained through the same turn:
// speak a prompt, record the microphone, transcribe, then parse or resolve.
// Turns never overlap; the next prompt is not spoken until the previous answer
// has been fully handled.
//
// Failures described by [Kind] never escape [Session.Run]. They are spoken to
// the user and end the session in [Idle] (or [Cancelled]), and the returned
// [Result] reports them.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/torqueshop/voicedesk/internal/capture"
	"github.com/torqueshop/voicedesk/internal/commit"
	"github.com/torqueshop/voicedesk/internal/directory"
	"github.com/torqueshop/voicedesk/internal/lineitem"
	"github.com/torqueshop/voicedesk/internal/observe"
	"github.com/torqueshop/voicedesk/internal/quantity"
	"github.com/torqueshop/voicedesk/internal/resolve"
	"github.com/torqueshop/voicedesk/internal/speech"
	"github.com/torqueshop/voicedesk/internal/transcribe"
	"github.com/torqueshop/voicedesk/pkg/shop"
)

// DefaultMaxRetries is how many times a failed turn is re-prompted before the
// session gives up.
const DefaultMaxRetries = 2

// ErrAlreadyRun is returned in [Result.Err] when [Session.Run] is called more
// than once.
var ErrAlreadyRun = errors.New("conversation: session already run")

// Speaker plays a prompt and returns when playback has ended. It returns an
// error only when ctx is done.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Recorder captures one bounded utterance from the microphone.
type Recorder interface {
	Record(ctx context.Context) (capture.Recording, error)
}

// Transcriber turns a recording into non-empty text.
type Transcriber interface {
	Transcribe(ctx context.Context, rec capture.Recording, hints []string) (string, error)
}

// Committer submits a finished record.
type Committer interface {
	Commit(ctx context.Context, rec shop.Record) (shop.Receipt, error)
}

var (
	_ Speaker     = (*speech.Player)(nil)
	_ Recorder    = (*capture.Controller)(nil)
	_ Transcriber = (*transcribe.Gateway)(nil)
	_ Committer   = (*commit.Gateway)(nil)
)

// Deps are the collaborators a session drives. All fields are required.
type Deps struct {
	Speaker     Speaker
	Recorder    Recorder
	Transcriber Transcriber
	Committer   Committer

	// Directory is the customer and vehicle snapshot the session resolves
	// against. It is never modified.
	Directory *directory.Snapshot
}

// Option is a functional option for [New].
type Option func(*Session)

// WithMaxRetries sets how many re-prompts a failed turn gets. Negative values
// are ignored.
func WithMaxRetries(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithMode selects the record the session commits. Invalid kinds are ignored.
func WithMode(kind shop.RecordKind) Option {
	return func(s *Session) {
		if kind.IsValid() {
			s.mode = kind
		}
	}
}

// WithResolver replaces the default lexical resolver.
func WithResolver(r *resolve.Resolver) Option {
	return func(s *Session) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithParser replaces the default quantity parser.
func WithParser(p *quantity.Parser) Option {
	return func(s *Session) {
		if p != nil {
			s.parser = p
		}
	}
}

// WithSessionID sets the session identifier instead of a random one.
func WithSessionID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithClock sets the time source for event timestamps and the record date.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is one conversation. It runs once; create a new session to start
// over.
//
// Run must be called from a single goroutine. Cancel, Snapshot and State are
// safe to call concurrently with Run.
type Session struct {
	id         string
	deps       Deps
	resolver   *resolve.Resolver
	parser     *quantity.Parser
	maxRetries int
	mode       shop.RecordKind
	now        func() time.Time
	metrics    *observe.Metrics

	mu              sync.Mutex
	state           State
	events          []Event
	ledger          lineitem.Ledger
	customer        *shop.Customer
	candidates      []shop.Vehicle
	vehicle         *shop.Vehicle
	errMsg          string
	lastErr         error
	started         bool
	cancelRequested bool
	cancel          context.CancelCauseFunc
}

// New creates an idle session.
func New(deps Deps, opts ...Option) (*Session, error) {
	var errs []error
	if deps.Speaker == nil {
		errs = append(errs, errors.New("speaker is required"))
	}
	if deps.Recorder == nil {
		errs = append(errs, errors.New("recorder is required"))
	}
	if deps.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if deps.Committer == nil {
		errs = append(errs, errors.New("committer is required"))
	}
	if deps.Directory == nil {
		errs = append(errs, errors.New("directory is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}

	s := &Session{
		id:         uuid.NewString(),
		deps:       deps,
		resolver:   resolve.New(),
		parser:     quantity.New(),
		maxRetries: DefaultMaxRetries,
		mode:       shop.KindServiceLog,
		now:        time.Now,
		state:      Idle{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Mode returns the kind of record the session commits.
func (s *Session) Mode() shop.RecordKind { return s.mode }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cancel abandons the session. An in-progress prompt or recording is stopped
// immediately and the session ends in [Cancelled] without committing. Cancel
// before Run makes Run end at once; Cancel after a terminal state is a no-op.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelRequested = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel(ErrCancelled)
	}
}

// Result is the outcome of [Session.Run].
type Result struct {
	// Step is the terminal step: idle, complete or cancelled.
	Step Step

	// Err is the failure that ended the session; nil when complete.
	Err error

	// Receipt is set when the record was committed.
	Receipt *shop.Receipt

	Snapshot Snapshot
}

// Run drives the session to a terminal state.
func (s *Session) Run(ctx context.Context) Result {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return Result{Step: s.State().Step(), Err: ErrAlreadyRun, Snapshot: s.Snapshot()}
	}
	s.started = true
	ctx, cancel := context.WithCancelCause(ctx)
	s.cancel = cancel
	cancelled := s.cancelRequested
	s.mu.Unlock()
	defer cancel(nil)
	if cancelled {
		cancel(ErrCancelled)
	}

	ctx = observe.WithSession(ctx, s.id)
	ctx, span := observe.StartSpan(ctx, "conversation.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", s.id),
		attribute.String("session.mode", string(s.mode)),
	)

	start := s.now()
	observe.Logger(ctx).Info("conversation: session started", "mode", s.mode)

	var st State = AskingCustomer{}
	s.transition(ctx, st)
	for !st.Step().Terminal() {
		st = s.advance(ctx, st)
		s.transition(ctx, st)
	}

	res := Result{Step: st.Step(), Snapshot: s.Snapshot()}
	s.mu.Lock()
	res.Err = s.lastErr
	s.mu.Unlock()
	if c, ok := st.(Complete); ok {
		r := c.Receipt
		res.Receipt = &r
		res.Err = nil
	}

	outcome := string(res.Step)
	if res.Step == StepIdle {
		outcome = Kind(res.Err).String()
	}
	s.metrics.RecordSession(ctx, outcome)
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	observe.Logger(ctx).Info("conversation: session ended",
		"step", res.Step, "outcome", outcome, "items", res.Snapshot.ItemCount(),
		"duration", s.now().Sub(start), "err", res.Err)
	return res
}

// advance performs the work of st and returns the next state.
func (s *Session) advance(ctx context.Context, st State) State {
	switch st := st.(type) {
	case AskingCustomer:
		return s.ask(ctx, promptCustomer, ListeningCustomer{})
	case ListeningCustomer:
		return s.onCustomer(ctx)
	case AskingVehicle:
		return s.ask(ctx, promptVehicle(st.Customer, st.Candidates),
			ListeningVehicle(st))
	case ListeningVehicle:
		return s.onVehicle(ctx, st)
	case AskingItemHours:
		prompt := promptNextService
		if s.itemCount() == 0 {
			prompt = promptFirstService(st.Target)
		}
		return s.ask(ctx, prompt, ListeningItemHours(st))
	case ListeningItemHours:
		return s.onHours(ctx, st)
	case AskingItemPrice:
		return s.ask(ctx, promptPrice(st.Service, st.Hours), ListeningItemPrice(st))
	case ListeningItemPrice:
		return s.onPrice(ctx, st)
	case AskingMore:
		return s.ask(ctx, promptMore(st.Added), ListeningMore{Target: st.Target})
	case ListeningMore:
		return s.onMore(ctx, st)
	case Creating:
		return s.create(ctx, st)
	default:
		return s.abort(ctx, fmt.Errorf("conversation: no handler for step %s", st.Step()), "")
	}
}

// ask speaks a prompt and moves to the listening state that waits for its
// answer.
func (s *Session) ask(ctx context.Context, prompt string, next State) State {
	if err := s.say(ctx, prompt); err != nil {
		return s.abort(ctx, context.Cause(ctx), "")
	}
	return next
}

func (s *Session) onCustomer(ctx context.Context) State {
	text, err := s.listen(ctx, StepListeningCustomer, s.deps.Directory.CustomerHints())
	if err != nil {
		return s.abort(ctx, err, "")
	}
	c, tier, ok := s.resolver.Customer(text, s.deps.Directory.Customers())
	if !ok {
		return s.abort(ctx, fmt.Errorf("%w: customer %q", ErrNoEntityMatch, text), text)
	}
	vehicles := s.deps.Directory.VehiclesOf(c.ID)
	observe.Logger(ctx).Info("conversation: customer matched",
		"customer_id", c.ID, "tier", tier, "vehicles", len(vehicles))

	s.mu.Lock()
	s.customer = &c
	s.candidates = vehicles
	s.mu.Unlock()

	switch len(vehicles) {
	case 0:
		return s.abort(ctx, fmt.Errorf("%w: customer %s", ErrNoVehicles, c.ID), c.Name)
	case 1:
		s.setVehicle(vehicles[0])
		return AskingItemHours{Target: Target{Customer: c, Vehicle: vehicles[0]}}
	default:
		return AskingVehicle{Customer: c, Candidates: vehicles}
	}
}

func (s *Session) onVehicle(ctx context.Context, st ListeningVehicle) State {
	text, err := s.listen(ctx, StepListeningVehicle, directory.VehicleHints(st.Candidates))
	if err != nil {
		return s.abort(ctx, err, "")
	}
	v, tier, ok := s.resolver.Vehicle(text, st.Candidates)
	if !ok {
		return s.abort(ctx, fmt.Errorf("%w: vehicle %q", ErrNoEntityMatch, text), text)
	}
	observe.Logger(ctx).Info("conversation: vehicle matched", "vehicle_id", v.ID, "tier", tier)
	s.setVehicle(v)
	return AskingItemHours{Target: Target{Customer: st.Customer, Vehicle: v}}
}

func (s *Session) onHours(ctx context.Context, st ListeningItemHours) State {
	text, err := s.listen(ctx, StepListeningItemHours, nil)
	if err != nil {
		return s.abort(ctx, err, "")
	}
	if isDone(text) {
		return AskingMore{Target: st.Target}
	}
	sh := s.parser.ServiceAndHours(text)
	service := sh.Service
	if service == "" {
		service = text
	}
	if service == "" {
		service = "Service"
	}
	return AskingItemPrice{Target: st.Target, Service: service, Hours: sh.Hours}
}

func (s *Session) onPrice(ctx context.Context, st ListeningItemPrice) State {
	text, err := s.listen(ctx, StepListeningItemPrice, nil)
	if err != nil {
		return s.abort(ctx, err, "")
	}
	item := shop.LineItem{Name: st.Service, Hours: st.Hours, Price: s.parser.Price(text)}
	s.mu.Lock()
	err = s.ledger.Add(item)
	s.mu.Unlock()
	if err != nil {
		return s.abort(ctx, err, "")
	}
	observe.Logger(ctx).Info("conversation: item added",
		"service", item.Name, "hours", item.Hours, "price", item.Price)
	return AskingMore{Target: st.Target, Added: &item}
}

func (s *Session) onMore(ctx context.Context, st ListeningMore) State {
	text, err := s.listen(ctx, StepListeningMore, nil)
	if err != nil {
		return s.abort(ctx, err, "")
	}
	if isAffirmative(text) {
		return AskingItemHours(st)
	}
	s.mu.Lock()
	items := s.ledger.Items()
	s.mu.Unlock()
	if len(items) == 0 {
		return s.abort(ctx, ErrNoItems, "")
	}
	return Creating{Record: shop.Record{
		Kind:       s.mode,
		SessionID:  s.id,
		CustomerID: st.Target.Customer.ID,
		VehicleID:  st.Target.Vehicle.ID,
		Mileage:    st.Target.Vehicle.Mileage,
		Date:       s.now(),
		Items:      items,
	}}
}

func (s *Session) create(ctx context.Context, st Creating) State {
	var total float64
	for _, it := range st.Record.Items {
		total += it.Price
	}
	if err := s.say(ctx, promptSummary(st.Record.Kind, len(st.Record.Items), total)); err != nil {
		return s.abort(ctx, context.Cause(ctx), "")
	}

	receipt, err := s.deps.Committer.Commit(ctx, st.Record)
	if err != nil {
		if ctx.Err() != nil {
			err = context.Cause(ctx)
		}
		return s.abort(ctx, err, "")
	}
	observe.Logger(ctx).Info("conversation: record committed",
		"kind", receipt.Kind, "id", receipt.ID, "total", receipt.Total)

	// The record exists now; an interrupted confirmation does not undo it.
	_ = s.say(ctx, promptComplete(st.Record.Kind))
	return Complete{Receipt: receipt}
}

// listen runs one turn for step: capture, transcribe and return the text.
// Retryable failures are re-prompted up to maxRetries times. A spoken cancel
// phrase returns [ErrCancelled].
func (s *Session) listen(ctx context.Context, step Step, hints []string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "conversation.turn")
	defer span.End()
	span.SetAttributes(attribute.String("step", string(step)))

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := s.say(ctx, promptRetry); err != nil {
				return "", context.Cause(ctx)
			}
		}
		s.log(EventListen, step, "")
		text, err := s.hear(ctx, hints)
		if ctx.Err() != nil {
			s.metrics.RecordTurn(ctx, string(step), "cancelled")
			return "", context.Cause(ctx)
		}
		if err == nil {
			s.log(EventHeard, step, text)
			s.setErrMsg("")
			if isCancel(text) {
				s.metrics.RecordTurn(ctx, string(step), "cancelled")
				return "", fmt.Errorf("%w: said %q", ErrCancelled, text)
			}
			s.metrics.RecordTurn(ctx, string(step), "ok")
			return text, nil
		}

		s.log(EventFailure, step, err.Error())
		s.setErrMsg(err.Error())
		if !retryable(err) || attempt >= s.maxRetries {
			s.metrics.RecordTurn(ctx, string(step), "failed")
			span.RecordError(err)
			return "", err
		}
		s.metrics.RecordTurn(ctx, string(step), "retry")
		observe.Logger(ctx).Info("conversation: retrying turn",
			"step", step, "attempt", attempt+1, "kind", Kind(err), "err", err)
	}
}

func (s *Session) hear(ctx context.Context, hints []string) (string, error) {
	rec, err := s.deps.Recorder.Record(ctx)
	if err != nil {
		return "", err
	}
	return s.deps.Transcriber.Transcribe(ctx, rec, hints)
}

// say speaks text and logs it once playback has finished.
func (s *Session) say(ctx context.Context, text string) error {
	if err := s.deps.Speaker.Speak(ctx, text); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log(EventSpeak, s.State().Step(), text)
	return nil
}

// abort ends the session because of err. Cancellation ends in [Cancelled];
// every other failure is explained to the user and ends in [Idle]. heard is
// the utterance the failure refers to, if any.
func (s *Session) abort(ctx context.Context, err error, heard string) State {
	if err == nil {
		err = ErrCancelled
	}
	s.mu.Lock()
	s.lastErr = err
	s.errMsg = err.Error()
	s.mu.Unlock()
	s.log(EventFailure, s.State().Step(), err.Error())

	if Kind(err) == KindCancelled {
		if ctx.Err() == nil {
			_ = s.say(ctx, promptCancel)
		}
		return Cancelled{}
	}

	observe.Logger(ctx).Warn("conversation: session failed", "kind", Kind(err), "err", err)
	if s.say(ctx, failureMessage(err, heard)) != nil {
		return Cancelled{}
	}
	return Idle{Err: err}
}

func (s *Session) transition(ctx context.Context, next State) {
	s.mu.Lock()
	prev := s.state.Step()
	s.state = next
	s.mu.Unlock()
	s.log(EventTransition, next.Step(), "")
	observe.Logger(ctx).Debug("conversation: transition", "from", prev, "to", next.Step())
}

func (s *Session) log(typ EventType, step Step, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{
		Seq:  len(s.events) + 1,
		At:   s.now(),
		Type: typ,
		Step: step,
		Text: text,
	})
}

func (s *Session) setVehicle(v shop.Vehicle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicle = &v
}

func (s *Session) setErrMsg(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = msg
}

func (s *Session) itemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Len()
}
