package persona

import "testing"

func TestFromIntent(t *testing.T) {
	cases := []struct {
		label string
		want  Persona
	}{
		{"Pediatrician", Pediatrician},
		{"Child Psychologist", ChildPsychologist},
		{"Sleep Consultant", SleepConsultant},
		{"out_of_scope", OutOfScope},
		{"error_classification", Inactive},
		{"", Inactive},
		{"Dermatologist", Inactive},
	}

	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			if got := FromIntent(tc.label); got != tc.want {
				t.Errorf("FromIntent(%q) = %q, want %q", tc.label, got, tc.want)
			}
		})
	}
}

func TestChannelKind(t *testing.T) {
	if !ChildPsychologist.Streaming() {
		t.Error("Child Psychologist should use the streaming channel")
	}
	if ChildPsychologist.CollectsFields() {
		t.Error("Child Psychologist should not run the field-collection flow")
	}
	if !Pediatrician.CollectsFields() {
		t.Error("Pediatrician should run the field-collection flow")
	}
	if Pediatrician.Streaming() {
		t.Error("Pediatrician should not use the streaming channel")
	}

	for _, p := range []Persona{MontessoriCoach, Nutritionist, ParentingCoach, SleepConsultant, OutOfScope, Inactive} {
		if p.Handled() {
			t.Errorf("%q should not be backed by a service", p)
		}
	}
}

func TestFallbackReply(t *testing.T) {
	if OutOfScope.FallbackReply() != OutOfScopeReply {
		t.Error("out-of-scope persona should use the out-of-scope reply")
	}
	if SleepConsultant.FallbackReply() != UnsupportedReply {
		t.Error("unsupported persona should use the not-yet-supported reply")
	}
	if OutOfScopeReply == UnsupportedReply {
		t.Error("the two fallback replies must be distinguishable")
	}
}
