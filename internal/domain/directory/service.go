package directory

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telehealth/telehealth/internal/platform/apperr"
	"github.com/telehealth/telehealth/internal/platform/auth"
	"github.com/telehealth/telehealth/internal/platform/notification"
)

const minPasswordLength = 8

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service owns accounts, doctor profiles and the hospital catalogue. It also
// resolves contacts for the notification dispatcher and doctor existence for
// the slot ledger.
type Service struct {
	tx        Transactor
	users     UserRepository
	doctors   DoctorRepository
	hospitals HospitalRepository
	tokens    *auth.TokenIssuer
	revoker   auth.Revoker
	logger    zerolog.Logger
}

func NewService(tx Transactor, users UserRepository, doctors DoctorRepository, hospitals HospitalRepository,
	tokens *auth.TokenIssuer, revoker auth.Revoker, logger zerolog.Logger) *Service {
	return &Service{
		tx:        tx,
		users:     users,
		doctors:   doctors,
		hospitals: hospitals,
		tokens:    tokens,
		revoker:   revoker,
		logger:    logger,
	}
}

var _ notification.Directory = (*Service)(nil)

type RegisterRequest struct {
	Email     string  `json:"email" validate:"required,email"`
	Password  string  `json:"password" validate:"required"`
	FirstName string  `json:"firstName" validate:"required"`
	LastName  string  `json:"lastName" validate:"required"`
	Phone     *string `json:"phone"`
}

// Register creates a patient account. Doctors and admins are provisioned by
// an admin.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	return s.createUser(ctx, req, auth.RolePatient)
}

func (s *Service) createUser(ctx context.Context, req RegisterRequest, role auth.Role) (*User, error) {
	if utf8.RuneCountInString(req.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	u := &User{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Phone:        req.Phone,
		Role:         role,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", string(role)).Msg("user registered")
	return u, nil
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResult struct {
	*auth.IssuedToken
	User *User `json:"user"`
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(req.Email))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}
	tok, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{IssuedToken: tok, User: u}, nil
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked so each refresh token works once, and the new pair carries the
// account's current role.
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (*LoginResult, error) {
	claims, err := s.tokens.ParseRefresh(req.RefreshToken)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, auth.Unauthorized("refresh token has been revoked")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, auth.Unauthorized("invalid token subject")
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, auth.Unauthorized("account no longer exists")
	}
	if err != nil {
		return nil, err
	}
	if err := s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return nil, err
	}
	tok, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{IssuedToken: tok, User: u}, nil
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Logout revokes the presented access token, and the caller's refresh token
// when one is sent, until their natural expiry.
func (s *Service) Logout(ctx context.Context, claims *auth.Claims, req LogoutRequest) error {
	if claims == nil || claims.ID == "" {
		return apperr.New(apperr.ErrValidation, "token has no id")
	}
	if err := s.revoker.Revoke(ctx, claims.ID, expiry(claims)); err != nil {
		return err
	}
	if req.RefreshToken == "" {
		return nil
	}
	refresh, err := s.tokens.ParseRefresh(req.RefreshToken)
	if err != nil {
		// expired or malformed tokens cannot be exchanged anyway
		return nil
	}
	if refresh.Subject != claims.Subject {
		return apperr.New(apperr.ErrForbidden, "refresh token belongs to another account")
	}
	return s.revoker.Revoke(ctx, refresh.ID, expiry(refresh))
}

func expiry(c *auth.Claims) time.Time {
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Now().Add(time.Hour)
}

func (s *Service) Me(ctx context.Context, caller auth.Identity) (*User, error) {
	return s.users.GetByID(ctx, caller.UserID)
}

func (s *Service) ListUsers(ctx context.Context, f UserFilter) ([]*User, int, error) {
	return s.users.List(ctx, f)
}

// GetUser returns an account to its owner or an admin.
func (s *Service) GetUser(ctx context.Context, caller auth.Identity, id uuid.UUID) (*User, error) {
	if !caller.IsAdmin() && caller.UserID != id {
		return nil, ErrNotAccountOwner
	}
	return s.users.GetByID(ctx, id)
}

type UpdateUserRequest struct {
	Email     *string `json:"email" validate:"omitempty,email"`
	Password  *string `json:"password"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Phone     *string `json:"phone"`
	Role      *string `json:"role"`
}

// UpdateUser applies a partial update. Owners may edit their own profile;
// only admins may change roles, and never to or from DOCTOR.
func (s *Service) UpdateUser(ctx context.Context, caller auth.Identity, id uuid.UUID, req UpdateUserRequest) (*User, error) {
	if !caller.IsAdmin() && caller.UserID != id {
		return nil, ErrNotAccountOwner
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Role != nil {
		role, ok := auth.ParseRole(*req.Role)
		if !ok {
			return nil, apperr.Newf(apperr.ErrValidation, "unknown role %q", *req.Role)
		}
		if role != u.Role {
			if !caller.IsAdmin() {
				return nil, ErrRoleChange
			}
			if role == auth.RoleDoctor || u.Role == auth.RoleDoctor {
				return nil, ErrDoctorRole
			}
			u.Role = role
		}
	}
	if req.Password != nil {
		if utf8.RuneCountInString(*req.Password) < minPasswordLength {
			return nil, ErrWeakPassword
		}
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}
	if req.Email != nil {
		u.Email = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	if req.FirstName != nil {
		if u.FirstName = strings.TrimSpace(*req.FirstName); u.FirstName == "" {
			return nil, ErrBlankName
		}
	}
	if req.LastName != nil {
		if u.LastName = strings.TrimSpace(*req.LastName); u.LastName == "" {
			return nil, ErrBlankName
		}
	}
	if req.Phone != nil {
		u.Phone = req.Phone
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("actor_id", caller.UserID.String()).Msg("user updated")
	return u, nil
}

// DeleteUser removes an account that has no pending or confirmed
// appointments as a patient and no pending payments.
func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.users.GetByID(ctx, id); err != nil {
			return err
		}
		deps, err := s.users.Dependents(ctx, id)
		if err != nil {
			return err
		}
		if deps.ActiveAppointments > 0 || deps.PendingPayments > 0 {
			return ErrUserActive
		}
		return s.users.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("user_id", id.String()).Msg("user deleted")
	return nil
}

// SeedAdmin creates a SUPER_ADMIN account unless the email is already taken,
// in which case it reports created=false.
func (s *Service) SeedAdmin(ctx context.Context, req RegisterRequest) (*User, bool, error) {
	u, err := s.createUser(ctx, req, auth.RoleSuperAdmin)
	if errors.Is(err, ErrEmailTaken) {
		existing, gerr := s.users.GetByEmail(ctx, req.Email)
		if gerr != nil {
			return nil, false, gerr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// ContactFor implements notification.Directory.
func (s *Service) ContactFor(ctx context.Context, userID uuid.UUID) (notification.Contact, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return notification.Contact{}, err
	}
	return notification.Contact{Email: u.Email, Name: u.FullName()}, nil
}

// =========== Doctors ===========

type CreateDoctorRequest struct {
	RegisterRequest
	Specialty  string     `json:"specialty" validate:"required"`
	HospitalID *uuid.UUID `json:"hospitalId"`
	Bio        *string    `json:"bio"`
}

// CreateDoctor provisions the doctor's account and profile together.
func (s *Service) CreateDoctor(ctx context.Context, req CreateDoctorRequest) (*Doctor, error) {
	var d *Doctor
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if req.HospitalID != nil {
			if _, err := s.hospitals.GetByID(ctx, *req.HospitalID); err != nil {
				return err
			}
		}
		u, err := s.createUser(ctx, req.RegisterRequest, auth.RoleDoctor)
		if err != nil {
			return err
		}
		d = &Doctor{
			ID:         u.ID,
			Specialty:  strings.TrimSpace(req.Specialty),
			HospitalID: req.HospitalID,
			Bio:        req.Bio,
			FirstName:  u.FirstName,
			LastName:   u.LastName,
			Email:      u.Email,
			Phone:      u.Phone,
		}
		return s.doctors.Create(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, f)
}

type UpdateDoctorRequest struct {
	Specialty  *string    `json:"specialty"`
	HospitalID *uuid.UUID `json:"hospitalId"`
	Bio        *string    `json:"bio"`
	FirstName  *string    `json:"firstName"`
	LastName   *string    `json:"lastName"`
	Phone      *string    `json:"phone"`
}

// UpdateDoctor applies a partial update to the profile and its account
// names.
func (s *Service) UpdateDoctor(ctx context.Context, id uuid.UUID, req UpdateDoctorRequest) (*Doctor, error) {
	var d *Doctor
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.doctors.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if req.HospitalID != nil {
			if _, err := s.hospitals.GetByID(ctx, *req.HospitalID); err != nil {
				return err
			}
			d.HospitalID = req.HospitalID
		}
		if req.Specialty != nil {
			if d.Specialty = strings.TrimSpace(*req.Specialty); d.Specialty == "" {
				return apperr.New(apperr.ErrValidation, "specialty must not be blank")
			}
		}
		if req.Bio != nil {
			d.Bio = req.Bio
		}
		if req.FirstName != nil {
			if d.FirstName = strings.TrimSpace(*req.FirstName); d.FirstName == "" {
				return ErrBlankName
			}
		}
		if req.LastName != nil {
			if d.LastName = strings.TrimSpace(*req.LastName); d.LastName == "" {
				return ErrBlankName
			}
		}
		if req.Phone != nil {
			d.Phone = req.Phone
		}
		return s.doctors.Update(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// DeleteDoctor removes a doctor with no pending or confirmed appointments
// and no open slots.
func (s *Service) DeleteDoctor(ctx context.Context, id uuid.UUID) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.doctors.GetByID(ctx, id); err != nil {
			return err
		}
		deps, err := s.doctors.Dependents(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case deps.ActiveAppointments > 0:
			return ErrDoctorHasAppointments
		case deps.AvailableSlots > 0:
			return ErrDoctorHasSlots
		}
		return s.doctors.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("doctor_id", id.String()).Msg("doctor deleted")
	return nil
}

// DoctorExists satisfies the slot ledger's doctor lookup.
func (s *Service) DoctorExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := s.doctors.GetByID(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// =========== Hospitals ===========

type HospitalRequest struct {
	Name         string   `json:"name" validate:"required"`
	Address      string   `json:"address" validate:"required"`
	Phone        *string  `json:"phone"`
	Latitude     *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude    *float64 `json:"longitude" validate:"omitempty,longitude"`
	Services     []string `json:"services"`
	ContactEmail *string  `json:"contactEmail" validate:"omitempty,email"`
	Rating       *float64 `json:"rating"`
}

func (r HospitalRequest) apply(h *Hospital) error {
	if r.Rating != nil && (*r.Rating < 0 || *r.Rating > 5) {
		return ErrInvalidRating
	}
	h.Name = strings.TrimSpace(r.Name)
	h.Address = strings.TrimSpace(r.Address)
	h.Phone = r.Phone
	h.Latitude = r.Latitude
	h.Longitude = r.Longitude
	h.Services = r.Services
	h.ContactEmail = r.ContactEmail
	h.Rating = r.Rating
	return nil
}

func (s *Service) CreateHospital(ctx context.Context, req HospitalRequest) (*Hospital, error) {
	h := &Hospital{}
	if err := req.apply(h); err != nil {
		return nil, err
	}
	if err := s.hospitals.Create(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Service) GetHospital(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	return s.hospitals.GetByID(ctx, id)
}

func (s *Service) UpdateHospital(ctx context.Context, id uuid.UUID, req HospitalRequest) (*Hospital, error) {
	h, err := s.hospitals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := req.apply(h); err != nil {
		return nil, err
	}
	if err := s.hospitals.Update(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Service) DeleteHospital(ctx context.Context, id uuid.UUID) error {
	return s.hospitals.Delete(ctx, id)
}

func (s *Service) ListHospitals(ctx context.Context, f HospitalFilter) ([]*Hospital, int, error) {
	return s.hospitals.List(ctx, f)
}
