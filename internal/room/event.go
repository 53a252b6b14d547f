package room

// EventKind names the variant of an Event.
type EventKind string

const (
	EventParticipantsResolved       EventKind = "participants_resolved"
	EventResolutionFailed           EventKind = "resolution_failed"
	EventPaymentAuthorized          EventKind = "payment_authorized"
	EventPaymentAuthorizationFailed EventKind = "payment_authorization_failed"
	EventAgentAccepted              EventKind = "agent_accepted"
	EventAgentDeclined              EventKind = "agent_declined"
	EventHumanSignaled              EventKind = "human_signaled"
	EventPaymentCaptured            EventKind = "payment_captured"
	EventPaymentCaptureFailed       EventKind = "payment_capture_failed"
	EventClosingTextWritten         EventKind = "closing_text_written"
	EventParticipantDeclined        EventKind = "participant_declined"
	EventParticipantLeft            EventKind = "participant_left"
	EventCancelled                  EventKind = "cancelled"
	EventExpired                    EventKind = "expired"
)

// Event is an input to the lifecycle machine.
type Event interface {
	Kind() EventKind
	isEvent()
}

type (
	ParticipantsResolved       struct{}
	ResolutionFailed           struct{ ParticipantID ParticipantID }
	PaymentAuthorized          struct{}
	PaymentAuthorizationFailed struct{}
	AgentAccepted              struct{}
	AgentDeclined              struct{}
	HumanSignaled              struct{ ParticipantID ParticipantID }
	PaymentCaptured            struct{}
	PaymentCaptureFailed       struct{}
	ClosingTextWritten         struct{ Text string }
	ParticipantDeclined        struct{ ParticipantID ParticipantID }
	ParticipantLeft            struct{ ParticipantID ParticipantID }
	Cancelled                  struct{}
	Expired                    struct{}
)

func (ParticipantsResolved) Kind() EventKind       { return EventParticipantsResolved }
func (ResolutionFailed) Kind() EventKind           { return EventResolutionFailed }
func (PaymentAuthorized) Kind() EventKind          { return EventPaymentAuthorized }
func (PaymentAuthorizationFailed) Kind() EventKind { return EventPaymentAuthorizationFailed }
func (AgentAccepted) Kind() EventKind              { return EventAgentAccepted }
func (AgentDeclined) Kind() EventKind              { return EventAgentDeclined }
func (HumanSignaled) Kind() EventKind              { return EventHumanSignaled }
func (PaymentCaptured) Kind() EventKind            { return EventPaymentCaptured }
func (PaymentCaptureFailed) Kind() EventKind       { return EventPaymentCaptureFailed }
func (ClosingTextWritten) Kind() EventKind         { return EventClosingTextWritten }
func (ParticipantDeclined) Kind() EventKind        { return EventParticipantDeclined }
func (ParticipantLeft) Kind() EventKind            { return EventParticipantLeft }
func (Cancelled) Kind() EventKind                  { return EventCancelled }
func (Expired) Kind() EventKind                    { return EventExpired }

func (ParticipantsResolved) isEvent()       {}
func (ResolutionFailed) isEvent()           {}
func (PaymentAuthorized) isEvent()          {}
func (PaymentAuthorizationFailed) isEvent() {}
func (AgentAccepted) isEvent()              {}
func (AgentDeclined) isEvent()              {}
func (HumanSignaled) isEvent()              {}
func (PaymentCaptured) isEvent()            {}
func (PaymentCaptureFailed) isEvent()       {}
func (ClosingTextWritten) isEvent()         {}
func (ParticipantDeclined) isEvent()        {}
func (ParticipantLeft) isEvent()            {}
func (Cancelled) isEvent()                  {}
func (Expired) isEvent()                    {}

// SideEffect is a signal emitted by a transition for the caller to act on.
type SideEffect string

const (
	EffectAuthorizePayment            SideEffect = "authorize_payment"
	EffectRequestAgentPresence        SideEffect = "request_agent_presence"
	EffectDispatchInvites             SideEffect = "dispatch_invites"
	EffectCapturePayment              SideEffect = "capture_payment"
	EffectActivateRoom                SideEffect = "activate_room"
	EffectReleasePaymentAuthorization SideEffect = "release_payment_authorization"
)
