package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"sicet-backend-go/internal/db"
	"sicet-backend-go/internal/models"
)

const MinPasswordLength = 8

const profileColumns = `id, email, role, status, auth_id, password_hash, created_at, updated_at, last_login_at`

// Caller is the authenticated profile resolved once per request.
type Caller struct {
	ID     string
	Email  string
	Role   string
	Status string
}

func (c Caller) Can(resource Resource, action Action) bool {
	return CanAccess(c.Role, resource, action)
}

func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", ErrBadRequest("Email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrBadRequest("Invalid email")
	}
	return email, nil
}

func ValidRole(role string) bool {
	switch role {
	case models.RoleOperator, models.RoleAdmin, models.RoleReferrer:
		return true
	}
	return false
}

// LoadCaller resolves the caller behind an access token. Only activated
// profiles may call the API.
func LoadCaller(ctx context.Context, db *sqlx.DB, profileID string) (Caller, error) {
	var profile models.Profile
	if err := db.GetContext(ctx, &profile, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, profileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Caller{}, ErrUnauthorized("Authentication failed")
		}
		return Caller{}, err
	}
	if profile.Status != models.ProfileActivated {
		return Caller{}, ErrUnauthorized("Authentication failed")
	}
	return Caller{ID: profile.ID, Email: profile.Email, Role: profile.Role, Status: profile.Status}, nil
}

func GetProfile(ctx context.Context, db *sqlx.DB, profileID string) (models.Profile, error) {
	var profile models.Profile
	if err := db.GetContext(ctx, &profile, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, profileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Profile{}, ErrNotFound("User not found")
		}
		return models.Profile{}, err
	}
	return profile, nil
}

func findProfileByEmail(ctx context.Context, q sqlx.QueryerContext, email string) (models.Profile, bool, error) {
	var profile models.Profile
	err := sqlx.GetContext(ctx, q, &profile, `SELECT `+profileColumns+` FROM profiles WHERE lower(email) = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, false, nil
	}
	if err != nil {
		return models.Profile{}, false, err
	}
	return profile, true, nil
}

type ProfileFilter struct {
	Search   string
	Status   string
	Page     int
	PageSize int
}

func ListProfiles(ctx context.Context, db *sqlx.DB, filter ProfileFilter) ([]models.Profile, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 25
	}
	clauses := []string{}
	args := []interface{}{}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		clauses = append(clauses, fmt.Sprintf("lower(email) LIKE $%d", len(args)))
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		args = append(args, status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := db.GetContext(ctx, &total, "SELECT count(*) FROM profiles "+where, args...); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	query := fmt.Sprintf(`SELECT %s FROM profiles %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		profileColumns, where, len(args)-1, len(args))
	items := []models.Profile{}
	if err := db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// PreRegister creates a profile in the registered state. The invited user
// completes it through ActivateProfile. A previously deleted profile with the
// same email is re-invited.
func PreRegister(ctx context.Context, database *sqlx.DB, actorID, rawEmail, role string) (models.Profile, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return models.Profile{}, err
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if !ValidRole(role) {
		return models.Profile{}, ErrBadRequest("Invalid role")
	}
	now := time.Now().UTC()
	var profile models.Profile
	err = db.WithTx(ctx, database, func(tx *sqlx.Tx) error {
		existing, found, err := findProfileByEmail(ctx, tx, email)
		if err != nil {
			return err
		}
		if found && existing.Status != models.ProfileDeleted {
			return ErrConflict("User already exists")
		}
		if found {
			profile = existing
			profile.Role = role
			profile.Status = models.ProfileRegistered
			profile.PasswordHash = nil
			profile.UpdatedAt = now
			if _, err := tx.ExecContext(ctx, `
UPDATE profiles SET role = $2, status = 'registered', password_hash = NULL, updated_at = $3 WHERE id = $1
`, profile.ID, role, now); err != nil {
				return err
			}
		} else {
			profile = models.Profile{
				ID:        uuid.NewString(),
				Email:     email,
				Role:      role,
				Status:    models.ProfileRegistered,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO profiles (id, email, role, status, created_at, updated_at)
VALUES ($1,$2,$3,'registered',$4,$4)
`, profile.ID, email, role, now); err != nil {
				return err
			}
		}
		return RecordAudit(ctx, tx, actorID, "pre_register", "profile", profile.ID, map[string]interface{}{"email": email, "role": role})
	})
	return profile, err
}

// ActivateProfile sets the password of a registered (or reset) profile and
// links its auth identity.
func ActivateProfile(ctx context.Context, database *sqlx.DB, tokens TokenService, rawEmail, password string) (models.Profile, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return models.Profile{}, err
	}
	if len(password) < MinPasswordLength {
		return models.Profile{}, ErrBadRequest(fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}
	profile, found, err := findProfileByEmail(ctx, database, email)
	if err != nil {
		return models.Profile{}, err
	}
	if !found || profile.Status == models.ProfileDeleted {
		return models.Profile{}, ErrNotFound("No invitation for this email")
	}
	if profile.Status == models.ProfileActivated {
		return models.Profile{}, ErrConflict("Account already activated")
	}
	hash, err := tokens.HashPassword(password)
	if err != nil {
		return models.Profile{}, err
	}
	authID := uuid.NewString()
	if profile.AuthID != nil {
		authID = *profile.AuthID
	}
	now := time.Now().UTC()
	if _, err := database.ExecContext(ctx, `
UPDATE profiles SET status = 'activated', auth_id = $2, password_hash = $3, updated_at = $4 WHERE id = $1
`, profile.ID, authID, hash, now); err != nil {
		return models.Profile{}, err
	}
	profile.Status = models.ProfileActivated
	profile.AuthID = &authID
	profile.PasswordHash = &hash
	profile.UpdatedAt = now
	return profile, nil
}

// Authenticate checks credentials and stamps the login time.
func Authenticate(ctx context.Context, database *sqlx.DB, tokens TokenService, rawEmail, password string) (models.Profile, error) {
	email := strings.ToLower(strings.TrimSpace(rawEmail))
	if email == "" || strings.TrimSpace(password) == "" {
		return models.Profile{}, ErrBadRequest("Authentication failed")
	}
	profile, found, err := findProfileByEmail(ctx, database, email)
	if err != nil {
		return models.Profile{}, err
	}
	if !found || profile.PasswordHash == nil {
		return models.Profile{}, ErrUnauthorized("Authentication failed")
	}
	if profile.Status != models.ProfileActivated {
		return models.Profile{}, ErrForbidden("Account not active")
	}
	if !tokens.VerifyPassword(password, *profile.PasswordHash) {
		return models.Profile{}, ErrUnauthorized("Authentication failed")
	}
	if err := SetLastLogin(ctx, database, profile.ID); err != nil {
		return models.Profile{}, err
	}
	return profile, nil
}

// ChangePassword rotates the credential of an activated profile after
// checking the current one.
func ChangePassword(ctx context.Context, db *sqlx.DB, tokens TokenService, profileID, current, next string) error {
	if len(next) < MinPasswordLength {
		return ErrBadRequest(fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}
	profile, err := GetProfile(ctx, db, profileID)
	if err != nil {
		return err
	}
	if profile.PasswordHash == nil || !tokens.VerifyPassword(current, *profile.PasswordHash) {
		return ErrBadRequest("Current password is incorrect")
	}
	hash, err := tokens.HashPassword(next)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `UPDATE profiles SET password_hash = $2, updated_at = $3 WHERE id = $1`, profileID, hash, time.Now().UTC())
	return err
}

func SetLastLogin(ctx context.Context, db *sqlx.DB, profileID string) error {
	_, err := db.ExecContext(ctx, `UPDATE profiles SET last_login_at = $1 WHERE id = $2`, time.Now().UTC(), profileID)
	return err
}

// ForcePasswordReset clears the credential so the user has to activate again.
func ForcePasswordReset(ctx context.Context, database *sqlx.DB, actorID, profileID string) (models.Profile, error) {
	return transitionProfile(ctx, database, actorID, profileID, models.ProfileResetPassword, "reset_password")
}

func DeleteProfile(ctx context.Context, database *sqlx.DB, actorID, profileID string) (models.Profile, error) {
	if actorID == profileID {
		return models.Profile{}, ErrBadRequest("You cannot delete your own account")
	}
	return transitionProfile(ctx, database, actorID, profileID, models.ProfileDeleted, "delete")
}

func transitionProfile(ctx context.Context, database *sqlx.DB, actorID, profileID, status, action string) (models.Profile, error) {
	var profile models.Profile
	err := db.WithTx(ctx, database, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &profile, `SELECT `+profileColumns+` FROM profiles WHERE id = $1 FOR UPDATE`, profileID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound("User not found")
			}
			return err
		}
		if profile.Status == models.ProfileDeleted {
			return ErrBadRequest("User is deleted")
		}
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
UPDATE profiles SET status = $2, password_hash = NULL, updated_at = $3 WHERE id = $1
`, profileID, status, now); err != nil {
			return err
		}
		profile.Status = status
		profile.PasswordHash = nil
		profile.UpdatedAt = now
		return RecordAudit(ctx, tx, actorID, action, "profile", profileID, map[string]interface{}{"email": profile.Email})
	})
	return profile, err
}
