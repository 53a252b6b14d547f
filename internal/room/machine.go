package room

import "time"

// Transition is the lifecycle transition table. It is pure and total: a
// (state, event) pair with no entry returns the state unchanged, no side
// effects, and ok=false.
func Transition(spec RoomSpec, state RoomState, ev Event) (next RoomState, effects []SideEffect, ok bool) {
	switch st := state.(type) {
	case Draft:
		switch e := ev.(type) {
		case ParticipantsResolved:
			return st, []SideEffect{EffectAuthorizePayment}, true
		case ResolutionFailed:
			if _, known := spec.Participant(e.ParticipantID); !known {
				break
			}
			return defunct(DefunctResolutionFailed, e.ParticipantID), nil, true
		case PaymentAuthorized:
			return PendingAgentAcceptance{}, []SideEffect{EffectRequestAgentPresence}, true
		case PaymentAuthorizationFailed:
			return defunct(DefunctPaymentAuthFailed, ""), nil, true
		case Cancelled:
			// Nothing has been authorised yet, so there is nothing to release.
			return defunct(DefunctCancelled, ""), nil, true
		}

	case PendingAgentAcceptance:
		switch ev.(type) {
		case PaymentAuthorizationFailed:
			return defunct(DefunctPaymentAuthFailed, ""), nil, true
		case AgentAccepted:
			return PendingHumans{Signaled: IDSet{}}, []SideEffect{EffectDispatchInvites}, true
		case AgentDeclined:
			return defunct(DefunctAgentDeclined, ""), []SideEffect{EffectReleasePaymentAuthorization}, true
		case Cancelled:
			return defunct(DefunctCancelled, ""), []SideEffect{EffectReleasePaymentAuthorization}, true
		}

	case PendingHumans:
		switch e := ev.(type) {
		case HumanSignaled:
			humans := spec.Humans()
			if !humans.Contains(e.ParticipantID) || st.Signaled.Contains(e.ParticipantID) {
				break
			}
			signaled := st.Signaled.With(e.ParticipantID)
			if signaled.ContainsAll(humans) {
				return PendingCapture{}, []SideEffect{EffectCapturePayment}, true
			}
			return PendingHumans{Signaled: signaled}, nil, true
		case Cancelled:
			return defunct(DefunctCancelled, ""), []SideEffect{EffectReleasePaymentAuthorization}, true
		case Expired:
			return defunct(DefunctExpired, ""), []SideEffect{EffectReleasePaymentAuthorization}, true
		}

	case PendingCapture:
		switch ev.(type) {
		case PaymentCaptured:
			return Active{Turn: InitialTurn()}, []SideEffect{EffectActivateRoom}, true
		case PaymentCaptureFailed:
			return defunct(DefunctPaymentCaptureFailed, ""), nil, true
		case Cancelled:
			return defunct(DefunctCancelled, ""), []SideEffect{EffectReleasePaymentAuthorization}, true
		}

	case Active:
		switch e := ev.(type) {
		case ClosingTextWritten:
			return Locked{ClosingText: e.Text, FinalTurn: st.Turn}, nil, true
		case ParticipantDeclined:
			if _, known := spec.Participant(e.ParticipantID); !known {
				break
			}
			return defunct(DefunctParticipantDeclined, e.ParticipantID), nil, true
		case ParticipantLeft:
			if _, known := spec.Participant(e.ParticipantID); !known {
				break
			}
			return defunct(DefunctParticipantLeft, e.ParticipantID), nil, true
		}

	case Locked, Defunct:
		// Terminal.
	}
	return state, nil, false
}

func defunct(kind DefunctKind, id ParticipantID) Defunct {
	return Defunct{Reason: DefunctReason{Kind: kind, ParticipantID: id}}
}

// Apply runs ev against lc. Inapplicable events leave lc untouched and emit
// nothing. ModifiedAt moves to now only when the event applied.
func Apply(lc RoomLifecycle, ev Event, now time.Time) (RoomLifecycle, []SideEffect) {
	next, effects, ok := Transition(lc.Spec, lc.State, ev)
	if !ok {
		return lc, nil
	}
	lc.State = next
	lc.ModifiedAt = now
	return lc, effects
}

// Step is Apply for callers that treat an inapplicable event as a contract
// violation: it returns an *InvalidStateError instead of a silent no-op.
func Step(lc RoomLifecycle, ev Event, now time.Time) (RoomLifecycle, []SideEffect, error) {
	next, effects, ok := Transition(lc.Spec, lc.State, ev)
	if !ok {
		return lc, nil, &InvalidStateError{State: lc.State.Kind(), Event: ev.Kind()}
	}
	lc.State = next
	lc.ModifiedAt = now
	return lc, effects, nil
}
