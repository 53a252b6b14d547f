// Package creation drives a room from draft to active. It calls the
// resolver, payment, agent-evaluator and invite collaborators, feeds their
// outcomes into the lifecycle machine, and performs the side effects each
// transition asks for.
package creation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/roundtable/internal/room"
)

// ErrUnknownParticipant is returned by SignalHere for an id that is not a
// human seat of the room.
var ErrUnknownParticipant = errors.New("creation: not a human participant of this room")

// Opts holds parameters for creating a Coordinator.
type Opts struct {
	Store     Store
	Resolver  Resolver
	Payments  Payments
	Evaluator AgentEvaluator
	Invites   InviteDispatcher // optional

	// OnActivate is called with the committed snapshot once a room turns
	// active. Optional.
	OnActivate func(room.Snapshot)

	Now   func() time.Time // defaults to time.Now
	NewID func() string    // defaults to uuid.NewString
}

// Coordinator runs room creation. Work on one room is serialised; rooms do
// not block each other.
type Coordinator struct {
	store      Store
	resolver   Resolver
	payments   Payments
	evaluator  AgentEvaluator
	invites    InviteDispatcher
	onActivate func(room.Snapshot)
	now        func() time.Time
	newID      func() string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Coordinator.
func New(opts Opts) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("creation: store is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("creation: resolver is required")
	}
	if opts.Payments == nil {
		return nil, fmt.Errorf("creation: payments is required")
	}
	if opts.Evaluator == nil {
		return nil, fmt.Errorf("creation: agent evaluator is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Coordinator{
		store:      opts.Store,
		resolver:   opts.Resolver,
		payments:   opts.Payments,
		evaluator:  opts.Evaluator,
		invites:    opts.Invites,
		onActivate: opts.OnActivate,
		now:        now,
		newID:      newID,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

func (c *Coordinator) lock(roomID string) func() {
	c.mu.Lock()
	l, ok := c.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[roomID] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Create persists a draft room for spec and runs it as far as it can go
// without the humans. An empty spec ID or zero CreatedAt is filled in.
func (c *Coordinator) Create(ctx context.Context, spec room.RoomSpec) (room.Snapshot, error) {
	if spec.ID == "" {
		spec.ID = c.newID()
	}
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = c.now()
	}
	s, err := room.NewSnapshot(spec)
	if err != nil {
		return room.Snapshot{}, fmt.Errorf("creation: %w", err)
	}

	unlock := c.lock(spec.ID)
	defer unlock()

	s, err = c.store.Commit(ctx, s)
	if err != nil {
		return room.Snapshot{}, fmt.Errorf("creation: store draft room %s: %w", spec.ID, err)
	}
	log.Printf("creation: room %s drafted [tier=%s participants=%d first=%v]",
		spec.ID, spec.Tier, len(spec.Participants), spec.IsFirstRoom)
	return c.run(ctx, s)
}

// Run resumes creation of an existing room from whatever state it is in.
// It returns once the room is waiting on humans, active, or terminal. A
// room that ends defunct is reported as a *room.DefunctError. Transient
// collaborator failures leave the room where it was and are returned.
func (c *Coordinator) Run(ctx context.Context, roomID string) (room.Snapshot, error) {
	unlock := c.lock(roomID)
	defer unlock()

	s, err := c.store.Load(ctx, roomID)
	if err != nil {
		return room.Snapshot{}, fmt.Errorf("creation: %w", err)
	}
	return c.run(ctx, s)
}

func (c *Coordinator) run(ctx context.Context, s room.Snapshot) (room.Snapshot, error) {
	switch st := s.Lifecycle.State.(type) {
	case room.Draft:
		ev, err := c.resolve(ctx, s.Lifecycle.Spec)
		if err != nil {
			return s, err
		}
		return c.advance(ctx, s, followUp{event: ev})
	case room.PendingAgentAcceptance:
		return c.resume(ctx, s, room.EffectRequestAgentPresence)
	case room.PendingHumans:
		if st.Signaled.ContainsAll(s.Lifecycle.Spec.Humans()) {
			return c.captureSignaled(ctx, s)
		}
	case room.PendingCapture:
		return c.resume(ctx, s, room.EffectCapturePayment)
	}
	return s, outcome(s)
}

// SignalHere records that a human seat is present. The last signal
// captures payment and activates the room. Repeat signals are no-ops,
// except that a room whose signals all arrived without a capture gets one.
func (c *Coordinator) SignalHere(ctx context.Context, roomID string, id room.ParticipantID) (room.Snapshot, error) {
	unlock := c.lock(roomID)
	defer unlock()

	s, err := c.store.Load(ctx, roomID)
	if err != nil {
		return room.Snapshot{}, fmt.Errorf("creation: %w", err)
	}
	humans := s.Lifecycle.Spec.Humans()
	switch st := s.Lifecycle.State.(type) {
	case room.PendingHumans:
		if !humans.Contains(id) {
			return s, fmt.Errorf("creation: room %s: %s: %w", roomID, id, ErrUnknownParticipant)
		}
		if !st.Signaled.Contains(id) {
			return c.advance(ctx, s, followUp{event: room.HumanSignaled{ParticipantID: id}})
		}
		if st.Signaled.ContainsAll(humans) {
			return c.captureSignaled(ctx, s)
		}
		return s, nil
	case room.PendingCapture:
		if !humans.Contains(id) {
			return s, fmt.Errorf("creation: room %s: %s: %w", roomID, id, ErrUnknownParticipant)
		}
		return c.resume(ctx, s, room.EffectCapturePayment)
	}
	return s, &room.InvalidStateError{State: s.Lifecycle.State.Kind(), Event: room.EventHumanSignaled}
}

// captureSignaled moves a pending-humans room whose signal set is already
// complete on to capture. Such a room comes from signals recorded on
// different devices.
func (c *Coordinator) captureSignaled(ctx context.Context, s room.Snapshot) (room.Snapshot, error) {
	pending := s.Clone()
	pending.Lifecycle.State = room.PendingCapture{}
	pending.Lifecycle.ModifiedAt = c.now()
	stored, err := c.store.Commit(ctx, pending)
	if err != nil {
		return s, fmt.Errorf("creation: commit room %s for capture: %w", s.ID(), err)
	}
	if _, ok := stored.Lifecycle.State.(room.PendingCapture); !ok {
		return stored, outcome(stored)
	}
	log.Printf("creation: room %s has every signal, capturing", s.ID())
	return c.resume(ctx, stored, room.EffectCapturePayment)
}

// Cancel abandons a room that has not gone active yet, releasing any hold.
func (c *Coordinator) Cancel(ctx context.Context, roomID string) (room.Snapshot, error) {
	return c.end(ctx, roomID, room.Cancelled{})
}

// Expire ends a room whose humans never all arrived, releasing the hold.
func (c *Coordinator) Expire(ctx context.Context, roomID string) (room.Snapshot, error) {
	return c.end(ctx, roomID, room.Expired{})
}

func (c *Coordinator) end(ctx context.Context, roomID string, ev room.Event) (room.Snapshot, error) {
	unlock := c.lock(roomID)
	defer unlock()

	s, err := c.store.Load(ctx, roomID)
	if err != nil {
		return room.Snapshot{}, fmt.Errorf("creation: %w", err)
	}
	s, err = c.advance(ctx, s, followUp{event: ev})
	var de *room.DefunctError
	if errors.As(err, &de) {
		return s, nil
	}
	return s, err
}

// Settle releases a hold still recorded on a room that no longer needs it,
// for instance after an earlier release attempt failed.
func (c *Coordinator) Settle(ctx context.Context, roomID string) (room.Snapshot, error) {
	unlock := c.lock(roomID)
	defer unlock()

	s, err := c.store.Load(ctx, roomID)
	if err != nil {
		return room.Snapshot{}, fmt.Errorf("creation: %w", err)
	}
	if s.Hold == nil || room.HoldsAuthorization(s.Lifecycle.State) || s.Lifecycle.State.Kind() == room.StateDraft {
		return s, nil
	}
	c.release(ctx, &s)
	return s, nil
}

// followUp is the outcome of a side effect: the event to apply next and
// any change to the recorded hold that goes with it.
type followUp struct {
	event     room.Event
	hold      *room.Hold
	clearHold bool
}

// advance applies f, commits, and performs the resulting side effects,
// feeding their outcomes back in until the room settles.
func (c *Coordinator) advance(ctx context.Context, s room.Snapshot, f followUp) (room.Snapshot, error) {
	for f.event != nil {
		next, effects, err := c.commit(ctx, s, f)
		if err != nil {
			if f.hold != nil {
				// The hold was granted but never recorded.
				c.releaseHold(ctx, s.ID(), *f.hold)
			}
			return s, err
		}
		s = next
		f = followUp{}
		for _, eff := range effects {
			out, err := c.perform(ctx, &s, eff)
			if err != nil {
				return s, err
			}
			if out.event != nil {
				f = out
			}
		}
	}
	return s, outcome(s)
}

// resume performs eff for a room already sitting in the state that asked
// for it.
func (c *Coordinator) resume(ctx context.Context, s room.Snapshot, eff room.SideEffect) (room.Snapshot, error) {
	f, err := c.perform(ctx, &s, eff)
	if err != nil {
		return s, err
	}
	return c.advance(ctx, s, f)
}

func (c *Coordinator) commit(ctx context.Context, s room.Snapshot, f followUp) (room.Snapshot, []room.SideEffect, error) {
	lc, effects, err := room.Step(s.Lifecycle, f.event, c.now())
	if err != nil {
		return s, nil, err
	}
	pending := s.Clone()
	pending.Lifecycle = lc
	if sig, ok := f.event.(room.HumanSignaled); ok {
		pending.MarkSignaled(sig.ParticipantID)
	}
	if f.hold != nil {
		h := *f.hold
		pending.Hold = &h
	}
	if f.clearHold {
		pending.Hold = nil
	}

	stored, err := c.store.Commit(ctx, pending)
	if err != nil {
		return s, nil, fmt.Errorf("creation: commit room %s after %s: %w", s.ID(), f.event.Kind(), err)
	}
	_, wasPending := lc.State.(room.PendingHumans)
	if _, capture := stored.Lifecycle.State.(room.PendingCapture); capture && wasPending {
		// Another device's signals completed the set.
		log.Printf("creation: room %s %s -> %s after merge", s.ID(), f.event.Kind(), room.StatePendingCapture)
		return stored, []room.SideEffect{room.EffectCapturePayment}, nil
	}
	if got, want := stored.Lifecycle.State.Kind(), lc.State.Kind(); got != want {
		// Another device moved the room further; its effects are its own.
		log.Printf("creation: room %s is %s after merge, expected %s [dropped=%v]", s.ID(), got, want, effects)
		return stored, nil, nil
	}
	log.Printf("creation: room %s %s -> %s", s.ID(), f.event.Kind(), lc.State.Kind())
	return stored, effects, nil
}

func (c *Coordinator) perform(ctx context.Context, s *room.Snapshot, eff room.SideEffect) (followUp, error) {
	spec := s.Lifecycle.Spec
	switch eff {
	case room.EffectAuthorizePayment:
		hold, err := c.payments.Authorize(ctx, spec.ID, spec.AuthorizationCents())
		if err != nil {
			if IsTransient(err) {
				return followUp{}, fmt.Errorf("creation: authorize room %s: %w", spec.ID, err)
			}
			log.Printf("creation: room %s authorization failed: %v", spec.ID, err)
			return followUp{event: room.PaymentAuthorizationFailed{}}, nil
		}
		return followUp{event: room.PaymentAuthorized{}, hold: &hold}, nil

	case room.EffectRequestAgentPresence:
		verdict, err := c.evaluator.Evaluate(ctx, spec.Participants, spec.Tier)
		if err != nil {
			return followUp{}, fmt.Errorf("creation: evaluate agent for room %s: %w", spec.ID, err)
		}
		switch verdict {
		case Accepted:
			return followUp{event: room.AgentAccepted{}}, nil
		case Declined:
			return followUp{event: room.AgentDeclined{}}, nil
		}
		return followUp{}, fmt.Errorf("creation: evaluate agent for room %s: unexpected verdict %s", spec.ID, verdict)

	case room.EffectDispatchInvites:
		if c.invites == nil {
			return followUp{}, nil
		}
		if err := c.invites.DispatchInvites(ctx, s.Clone()); err != nil {
			log.Printf("creation: room %s invite dispatch: %v", spec.ID, err)
		}
		return followUp{}, nil

	case room.EffectCapturePayment:
		if s.Hold == nil {
			log.Printf("creation: room %s has no hold to capture", spec.ID)
			return followUp{event: room.PaymentCaptureFailed{}}, nil
		}
		if err := c.payments.Capture(ctx, *s.Hold); err != nil {
			if IsTransient(err) {
				return followUp{}, fmt.Errorf("creation: capture room %s: %w", spec.ID, err)
			}
			log.Printf("creation: room %s capture failed: %v", spec.ID, err)
			return followUp{event: room.PaymentCaptureFailed{}, clearHold: true}, nil
		}
		return followUp{event: room.PaymentCaptured{}, clearHold: true}, nil

	case room.EffectActivateRoom:
		log.Printf("creation: room %s active", spec.ID)
		if c.onActivate != nil {
			c.onActivate(s.Clone())
		}
		return followUp{}, nil

	case room.EffectReleasePaymentAuthorization:
		c.release(ctx, s)
		return followUp{}, nil
	}
	return followUp{}, fmt.Errorf("creation: room %s: unknown side effect %q", spec.ID, eff)
}

// release gives back the hold recorded on s and commits the cleared
// snapshot. A room without a hold is left alone, so a second release is a
// no-op. Failures are logged and the hold stays recorded for Settle.
func (c *Coordinator) release(ctx context.Context, s *room.Snapshot) {
	if s.Hold == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if !c.releaseHold(ctx, s.ID(), *s.Hold) {
		return
	}
	cleared := s.Clone()
	cleared.Hold = nil
	stored, err := c.store.Commit(ctx, cleared)
	if err != nil {
		log.Printf("creation: room %s clear released hold: %v", s.ID(), err)
		return
	}
	*s = stored
}

func (c *Coordinator) releaseHold(ctx context.Context, roomID string, hold room.Hold) bool {
	if err := c.payments.Release(context.WithoutCancel(ctx), hold); err != nil {
		log.Printf("creation: room %s release hold %s: %v", roomID, hold.ID, err)
		return false
	}
	log.Printf("creation: room %s released hold %s [cents=%d]", roomID, hold.ID, hold.Cents)
	return true
}

type resolveError struct {
	id  room.ParticipantID
	err error
}

func (e *resolveError) Error() string { return fmt.Sprintf("resolve %s: %v", e.id, e.err) }
func (e *resolveError) Unwrap() error { return e.err }

// resolve resolves every seat in parallel. The first failure cancels the
// rest.
func (c *Coordinator) resolve(ctx context.Context, spec room.RoomSpec) (room.Event, error) {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range spec.Participants {
		g.Go(func() error {
			ref, err := c.resolver.Resolve(gctx, p)
			if err != nil {
				return &resolveError{id: p.ID, err: err}
			}
			log.Printf("creation: room %s resolved %s [ref=%s]", spec.ID, p.ID, ref)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		return room.ParticipantsResolved{}, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("creation: resolve room %s: %w", spec.ID, ctx.Err())
	}
	var re *resolveError
	if errors.As(err, &re) && !IsTransient(re.err) {
		log.Printf("creation: room %s resolution failed [participant=%s]: %v", spec.ID, re.id, re.err)
		return room.ResolutionFailed{ParticipantID: re.id}, nil
	}
	return nil, fmt.Errorf("creation: resolve room %s: %w", spec.ID, err)
}

func outcome(s room.Snapshot) error {
	if d, ok := s.Lifecycle.State.(room.Defunct); ok {
		return &room.DefunctError{RoomID: s.ID(), Reason: d.Reason}
	}
	return nil
}
