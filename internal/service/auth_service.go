package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/polytech-platform/traffic-attendance-service/internal/domain"
	"github.com/polytech-platform/traffic-attendance-service/internal/repository"
	"github.com/polytech-platform/traffic-attendance-service/internal/security"
)

type AuthService struct {
	teachers repository.TeacherRepository
	jwt      *security.JWTManager

	adminUsername string
	adminPassword string

	logger *slog.Logger
}

func NewAuthService(
	teachers repository.TeacherRepository,
	jwt *security.JWTManager,
	adminUsername, adminPassword string,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		teachers:      teachers,
		jwt:           jwt,
		adminUsername: adminUsername,
		adminPassword: adminPassword,
		logger:        logger,
	}
}

// TeacherLogin exchanges a username and password for a staff token. Unknown
// usernames and wrong passwords report the same error.
func (s *AuthService) TeacherLogin(ctx context.Context, username, password string) (string, *domain.Teacher, error) {
	teacher, err := s.teachers.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrTeacherNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(teacher.PasswordHash), []byte(password)) != nil {
		s.logger.WarnContext(ctx, "teacher login rejected", "username", username)
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.jwt.SignTeacherToken(teacher.ID, teacher.FullName)
	if err != nil {
		return "", nil, err
	}
	s.logger.InfoContext(ctx, "teacher logged in", "teacher_id", teacher.ID)
	return token, teacher, nil
}

// AdminLogin checks the statically configured operator credentials. An empty
// configured password disables admin login entirely.
func (s *AuthService) AdminLogin(ctx context.Context, username, password string) (string, error) {
	if s.adminPassword == "" {
		return "", ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.adminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.adminPassword)) == 1
	if !userOK || !passOK {
		s.logger.WarnContext(ctx, "admin login rejected")
		return "", ErrInvalidCredentials
	}
	token, err := s.jwt.SignAdminToken()
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "admin logged in")
	return token, nil
}

// CreateTeacher provisions a teacher account. Admin only at the HTTP layer.
func (s *AuthService) CreateTeacher(ctx context.Context, username, password, fullName string) (*domain.Teacher, error) {
	if _, err := s.teachers.FindByUsername(ctx, username); err == nil {
		return nil, ErrTeacherExists
	} else if !errors.Is(err, repository.ErrTeacherNotFound) {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	teacher := &domain.Teacher{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		FullName:     fullName,
	}
	if err := s.teachers.Create(ctx, teacher); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "teacher created", "teacher_id", teacher.ID, "username", username)
	return teacher, nil
}

// VerifyLaunch validates a super-app launch token and extracts the student
// identity embedded in it.
func (s *AuthService) VerifyLaunch(tokenString string) (*security.LaunchIdentity, error) {
	identity, err := s.jwt.ParseLaunchToken(tokenString)
	if err != nil {
		return nil, ErrInvalidLaunchToken
	}
	return identity, nil
}
