package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/auth"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/config"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/models"
)

// IGuestService runs the phone -> code -> terms gate for sessions without an
// authenticated user. It verifies a phone number; it never signs anyone in.
type IGuestService interface {
	// StartVerification validates the phone, stores a fresh one-time code in
	// redis and moves the session to the OTP step. The code is returned so
	// the caller can dispatch it (and surface it in dev mode).
	StartVerification(ctx context.Context, session *models.DraftSession, phone string) (string, error)
	// ConfirmCode checks the submitted code. A match advances to the terms
	// step; a mismatch stays on the OTP step until the attempt budget runs
	// out, after which the code is invalidated and the flow restarts.
	ConfirmCode(ctx context.Context, session *models.DraftSession, code string) (bool, error)
	// Back steps the flow backwards one step (terms -> otp -> phone -> none).
	Back(ctx context.Context, session *models.DraftSession) error
	// AcceptTerms records the terms acceptance and closes the gate. The
	// session stays a guest session; publishing still requires sign-in.
	AcceptTerms(ctx context.Context, session *models.DraftSession, accepted bool) error
}

var (
	// Saudi mobile numbers, with or without the country prefix.
	guestPhoneRegexp = regexp.MustCompile(`^(?:\+?9665|05)[0-9]{8}$`)

	ErrInvalidPhone     = errors.New("invalid phone number")
	ErrCodeExpired      = errors.New("verification code expired or was never sent")
	ErrTooManyAttempts  = errors.New("too many incorrect attempts, request a new code")
	ErrWrongGuestStep   = errors.New("operation not valid for the current verification step")
	ErrTermsNotAccepted = errors.New("terms must be accepted to continue")
)

type guestService struct {
	db  *mongo.Database
	rdb *redis.Client
	cfg *config.Config
}

// NewGuestService creates a new GuestService.
func NewGuestService(db *mongo.Database, rdb *redis.Client, cfg *config.Config) IGuestService {
	return &guestService{db: db, rdb: rdb, cfg: cfg}
}

func otpKey(sessionID string) string {
	return "guest:otp:" + sessionID
}

func otpAttemptsKey(sessionID string) string {
	return "guest:otp:attempts:" + sessionID
}

// normalizePhone strips spaces and dashes and canonicalises the local 05
// prefix to +9665.
func normalizePhone(phone string) string {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	if strings.HasPrefix(p, "05") {
		p = "+9665" + p[2:]
	} else if strings.HasPrefix(p, "9665") {
		p = "+" + p
	}
	return p
}

func (s *guestService) generateCode() (string, error) {
	digits := make([]byte, s.cfg.OtpCodeLength)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate verification code: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

func (s *guestService) StartVerification(ctx context.Context, session *models.DraftSession, phone string) (string, error) {
	normalized := normalizePhone(phone)
	if !guestPhoneRegexp.MatchString(normalized) {
		return "", ErrInvalidPhone
	}

	code, err := s.generateCode()
	if err != nil {
		return "", err
	}

	// Only the hash touches redis; the plaintext code exists in the SMS and
	// in the caller's hands.
	hashed, err := auth.HashPassword(code)
	if err != nil {
		return "", fmt.Errorf("failed to hash verification code: %w", err)
	}

	ttl := s.cfg.OtpCodeTTL
	sessionID := session.ID.String()
	if err := s.rdb.Set(ctx, otpKey(sessionID), hashed, ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store verification code for session %s: %w", sessionID, err)
	}
	// A fresh code resets the attempt budget.
	if err := s.rdb.Del(ctx, otpAttemptsKey(sessionID)).Err(); err != nil {
		log.Printf("WARN: failed to reset OTP attempt counter for session %s: %v", sessionID, err)
	}

	session.Guest.Step = models.GuestStepOtp
	session.Guest.Phone = normalized
	if err := s.saveGuestState(ctx, session); err != nil {
		return "", err
	}

	log.Printf("DEBUG: OTP issued for session %s (phone %s)", sessionID, normalized)
	return code, nil
}

func (s *guestService) ConfirmCode(ctx context.Context, session *models.DraftSession, code string) (bool, error) {
	if session.Guest.Step != models.GuestStepOtp {
		return false, ErrWrongGuestStep
	}
	sessionID := session.ID.String()

	stored, err := s.rdb.Get(ctx, otpKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, ErrCodeExpired
		}
		return false, fmt.Errorf("failed to read verification code for session %s: %w", sessionID, err)
	}

	if !auth.CheckPasswordHash(strings.TrimSpace(code), stored) {
		attempts, incErr := s.rdb.Incr(ctx, otpAttemptsKey(sessionID)).Result()
		if incErr != nil {
			return false, fmt.Errorf("failed to count OTP attempt for session %s: %w", sessionID, incErr)
		}
		if attempts == 1 {
			s.rdb.Expire(ctx, otpAttemptsKey(sessionID), s.cfg.OtpCodeTTL)
		}
		if attempts >= int64(s.cfg.OtpMaxAttempts) {
			// Burn the code and push the flow back to the phone step.
			s.rdb.Del(ctx, otpKey(sessionID), otpAttemptsKey(sessionID))
			session.Guest.Step = models.GuestStepPhone
			if saveErr := s.saveGuestState(ctx, session); saveErr != nil {
				return false, saveErr
			}
			return false, ErrTooManyAttempts
		}
		return false, nil
	}

	s.rdb.Del(ctx, otpKey(sessionID), otpAttemptsKey(sessionID))
	session.Guest.Step = models.GuestStepTerms
	if err := s.saveGuestState(ctx, session); err != nil {
		return false, err
	}
	return true, nil
}

func (s *guestService) Back(ctx context.Context, session *models.DraftSession) error {
	switch session.Guest.Step {
	case models.GuestStepTerms:
		session.Guest.Step = models.GuestStepOtp
	case models.GuestStepOtp:
		session.Guest.Step = models.GuestStepPhone
		// Any outstanding code is dead once the user leaves the OTP step.
		s.rdb.Del(ctx, otpKey(session.ID.String()), otpAttemptsKey(session.ID.String()))
	case models.GuestStepPhone:
		session.Guest.Step = models.GuestStepNone
	default:
		return ErrWrongGuestStep
	}
	return s.saveGuestState(ctx, session)
}

func (s *guestService) AcceptTerms(ctx context.Context, session *models.DraftSession, accepted bool) error {
	if session.Guest.Step != models.GuestStepTerms {
		return ErrWrongGuestStep
	}
	if !accepted {
		return ErrTermsNotAccepted
	}
	session.Guest.TermsAccepted = true
	session.Guest.Step = models.GuestStepNone
	return s.saveGuestState(ctx, session)
}

func (s *guestService) saveGuestState(ctx context.Context, session *models.DraftSession) error {
	collection := s.db.Collection(sessionsCollection)
	session.UpdatedAt = time.Now().UTC()
	update := bson.M{"$set": bson.M{
		"guest":      session.Guest,
		"updated_at": session.UpdatedAt,
	}}
	_, err := collection.UpdateOne(ctx, bson.M{"_id": session.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to save guest state for session %s: %w", session.ID.String(), err)
	}
	return nil
}
