package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

var ErrInvalidRole = errors.New("unexpected role claim")

// StaffClaims are carried by teacher and admin JWTs issued after a
// username+password login.
type StaffClaims struct {
	Role     string `json:"role"`
	FullName string `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}

// LaunchIdentity is the already-authenticated student identity extracted from
// a launch token minted by the super-app shell. The verifier trusts these
// fields; identity authentication happens upstream.
type LaunchIdentity struct {
	StudentExternalID string
	StudentName       string
	StudentEmail      string
}

type launchClaims struct {
	StudentID    any    `json:"student_id"`
	StudentName  string `json:"student_name"`
	StudentEmail string `json:"student_email,omitempty"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	issuer       string
	staffSecret  []byte
	launchSecret []byte
	staffTTL     time.Duration
}

func NewJWTManager(issuer, staffSecret, launchSecret string, staffTTL time.Duration) *JWTManager {
	return &JWTManager{
		issuer:       issuer,
		staffSecret:  []byte(staffSecret),
		launchSecret: []byte(launchSecret),
		staffTTL:     staffTTL,
	}
}

func (m *JWTManager) SignTeacherToken(teacherID, fullName string) (string, error) {
	return m.signStaff(teacherID, RoleTeacher, fullName)
}

func (m *JWTManager) SignAdminToken() (string, error) {
	return m.signStaff("admin", RoleAdmin, "")
}

func (m *JWTManager) signStaff(subject, role, fullName string) (string, error) {
	claims := StaffClaims{
		Role:     role,
		FullName: fullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.staffTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.staffSecret)
}

// ParseStaffToken validates signature, expiry and the role claim.
func (m *JWTManager) ParseStaffToken(raw, requiredRole string) (*StaffClaims, error) {
	claims := &StaffClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return m.staffSecret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Role != requiredRole {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, claims.Role)
	}
	return claims, nil
}

// ParseLaunchToken validates a super-app launch token and normalizes the
// student identity it carries. student_id may arrive as a string or a number
// depending on the issuing shell version.
func (m *JWTManager) ParseLaunchToken(raw string) (*LaunchIdentity, error) {
	claims := &launchClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return m.launchSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	id := normalizeStudentID(claims.StudentID)
	if id == "" || claims.StudentName == "" {
		return nil, errors.New("launch token payload is incomplete")
	}
	return &LaunchIdentity{
		StudentExternalID: id,
		StudentName:       claims.StudentName,
		StudentEmail:      claims.StudentEmail,
	}, nil
}

func normalizeStudentID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	case int64:
		return fmt.Sprintf("%d", id)
	default:
		return ""
	}
}

// SignLaunchToken mints a student launch token. The service itself only
// verifies launch tokens; signing is used by tests and local tooling.
func (m *JWTManager) SignLaunchToken(identity LaunchIdentity, ttl time.Duration) (string, error) {
	claims := launchClaims{
		StudentID:    identity.StudentExternalID,
		StudentName:  identity.StudentName,
		StudentEmail: identity.StudentEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.launchSecret)
}
