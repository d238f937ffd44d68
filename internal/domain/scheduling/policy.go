package scheduling

import (
	"fmt"

	"github.com/telehealth/telehealth/internal/platform/apperr"
	"github.com/telehealth/telehealth/internal/platform/auth"
)

type Action string

const (
	ActionInitiate Action = "initiate"
	ActionConfirm  Action = "confirm"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

// Policy decides which roles may perform each workflow action. Patients and
// doctors must additionally be the appointment's own patient or doctor;
// admins skip the ownership check.
type Policy struct {
	roles map[Action]map[auth.Role]bool
}

func DefaultPolicy() Policy {
	p, _ := NewPolicy(
		[]string{"PATIENT"},
		[]string{"DOCTOR", "ADMIN", "SUPER_ADMIN"},
		[]string{"PATIENT", "ADMIN", "SUPER_ADMIN"},
		[]string{"PATIENT", "DOCTOR", "ADMIN", "SUPER_ADMIN"},
	)
	return p
}

func NewPolicy(initiate, confirm, cancel, complete []string) (Policy, error) {
	p := Policy{roles: make(map[Action]map[auth.Role]bool)}
	for action, names := range map[Action][]string{
		ActionInitiate: initiate,
		ActionConfirm:  confirm,
		ActionCancel:   cancel,
		ActionComplete: complete,
	} {
		set := make(map[auth.Role]bool, len(names))
		for _, n := range names {
			r, ok := auth.ParseRole(n)
			if !ok {
				return Policy{}, fmt.Errorf("%s policy: unknown role %q", action, n)
			}
			set[r] = true
		}
		p.roles[action] = set
	}
	return p, nil
}

// Allows reports whether role may perform action at all.
func (p Policy) Allows(action Action, role auth.Role) bool {
	return p.roles[action][role]
}

// CanInitiate checks the actor's role for booking.
func (p Policy) CanInitiate(actor auth.Identity) error {
	if !p.Allows(ActionInitiate, actor.Role) {
		return apperr.Newf(apperr.ErrForbidden, "role %s may not initiate appointments", actor.Role)
	}
	return nil
}

// Authorize checks role and ownership for an action on appt.
func (p Policy) Authorize(action Action, actor auth.Identity, appt *Appointment) error {
	if !p.Allows(action, actor.Role) {
		return apperr.Newf(apperr.ErrForbidden, "role %s may not %s appointments", actor.Role, action)
	}
	if actor.IsAdmin() {
		return nil
	}
	owns := false
	switch actor.Role {
	case auth.RolePatient:
		owns = appt.PatientID == actor.UserID
	case auth.RoleDoctor:
		owns = appt.DoctorID == actor.UserID
	}
	if !owns {
		return apperr.Newf(apperr.ErrForbidden, "user %s may not %s appointment %s", actor.UserID, action, appt.ID)
	}
	return nil
}
