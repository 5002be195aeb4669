package persona

// Persona identifies one of the remote advisory services a conversation can be
// routed to. The set is closed: anything the classifier returns outside of it
// maps to Inactive.
type Persona string

const (
	Pediatrician      Persona = "Pediatrician"
	ChildPsychologist Persona = "Child Psychologist"
	MontessoriCoach   Persona = "Montessori Coach"
	Nutritionist      Persona = "Nutritionist"
	ParentingCoach    Persona = "Parenting Coach"
	SleepConsultant   Persona = "Sleep Consultant"
	OutOfScope        Persona = "Out of Scope"
	Inactive          Persona = "Persona Inactive"
)

// Classifier labels that do not share their persona's name.
const (
	LabelOutOfScope = "out_of_scope"
	LabelError      = "error_classification"
)

var intentToPersona = map[string]Persona{
	"Child Psychologist": ChildPsychologist,
	"Montessori Coach":   MontessoriCoach,
	"Nutritionist":       Nutritionist,
	"Parenting Coach":    ParentingCoach,
	"Pediatrician":       Pediatrician,
	"Sleep Consultant":   SleepConsultant,
	LabelOutOfScope:      OutOfScope,
	LabelError:           Inactive,
}

// FromIntent maps a classifier label to a persona. Unrecognized labels map to
// Inactive rather than failing: classification noise must never break a turn.
func FromIntent(label string) Persona {
	if p, ok := intentToPersona[label]; ok {
		return p
	}
	return Inactive
}

// Streaming reports whether the persona is reached over the long-lived
// WebSocket channel instead of one-shot requests.
func (p Persona) Streaming() bool {
	return p == ChildPsychologist
}

// CollectsFields reports whether the persona runs the multi-turn
// field-collection flow over the request/response channel.
func (p Persona) CollectsFields() bool {
	return p == Pediatrician
}

// Handled reports whether a persona endpoint exists for p. The remaining
// personas are classified but not yet backed by a service.
func (p Persona) Handled() bool {
	return p == Pediatrician || p == ChildPsychologist
}

// Fixed replies recorded when no persona endpoint is invoked.
const (
	OutOfScopeReply = "I'm not trained to handle this kind of question yet. Please ask something related to your child’s health, symptoms, or developmental concerns."

	UnsupportedReply = "I'm currently only trained to handle pediatric health or child psychology queries. Stay tuned — soon I’ll support topics like nutrition, sleep coaching, and parenting guidance."
)

// FallbackReply returns the canned response for a persona that has no backing
// service, distinguishing explicitly out-of-scope questions from personas that
// are classified but not yet supported.
func (p Persona) FallbackReply() string {
	if p == OutOfScope {
		return OutOfScopeReply
	}
	return UnsupportedReply
}
