package services

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/auth"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/config"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/models"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/utils"
)

func setupGuestRedis(t *testing.T) *redis.Client {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	err := rdb.FlushAll(ctx).Err()
	require.NoError(t, err, "Failed to flush Redis")
	return rdb
}

func guestTestConfig() *config.Config {
	return &config.Config{
		OtpCodeLength:  4,
		OtpCodeTTL:     5 * time.Minute,
		OtpMaxAttempts: 3,
	}
}

func setupGuestService(t *testing.T, dbName string) (IGuestService, *mongo.Database, *redis.Client) {
	db := utils.SetupTestDB(t, dbName, sessionsCollection)
	rdb := setupGuestRedis(t)
	return NewGuestService(db, rdb, guestTestConfig()), db, rdb
}

func insertGuestSession(t *testing.T, db *mongo.Database) *models.DraftSession {
	t.Helper()
	session := &models.DraftSession{
		ID:    utils.NewSixID(),
		Draft: models.NewRequestDraft(),
		Guest: models.GuestVerification{Step: models.GuestStepNone},
	}
	_, err := db.Collection(sessionsCollection).InsertOne(context.Background(), session)
	require.NoError(t, err)
	return session
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+966501234567", normalizePhone("0501234567"))
	assert.Equal(t, "+966501234567", normalizePhone("966501234567"))
	assert.Equal(t, "+966501234567", normalizePhone("+966 50 123 4567"))
	assert.Equal(t, "+966501234567", normalizePhone("050-123-4567"))
}

func TestGuestService_StartVerification(t *testing.T) {
	svc, db, rdb := setupGuestService(t, "testdb_guest_start")
	session := insertGuestSession(t, db)
	ctx := context.Background()

	code, err := svc.StartVerification(ctx, session, "0501234567")
	assert.NoError(t, err)
	assert.Len(t, code, 4)
	assert.Equal(t, models.GuestStepOtp, session.Guest.Step)
	assert.Equal(t, "+966501234567", session.Guest.Phone)

	// Only a bcrypt hash reaches redis, never the plaintext code or mongo
	stored, err := rdb.Get(ctx, otpKey(session.ID.String())).Result()
	assert.NoError(t, err)
	assert.NotEqual(t, code, stored)
	assert.True(t, auth.CheckPasswordHash(code, stored))

	var doc models.DraftSession
	err = db.Collection(sessionsCollection).FindOne(ctx, map[string]interface{}{"_id": session.ID}).Decode(&doc)
	assert.NoError(t, err)
	assert.Equal(t, models.GuestStepOtp, doc.Guest.Step)
}

func TestGuestService_StartVerification_InvalidPhone(t *testing.T) {
	svc, db, _ := setupGuestService(t, "testdb_guest_badphone")
	session := insertGuestSession(t, db)

	_, err := svc.StartVerification(context.Background(), session, "12345")
	assert.ErrorIs(t, err, ErrInvalidPhone)
	assert.Equal(t, models.GuestStepNone, session.Guest.Step)

	_, err = svc.StartVerification(context.Background(), session, "+14155551234")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestGuestService_ConfirmCode_Match(t *testing.T) {
	svc, db, rdb := setupGuestService(t, "testdb_guest_confirm")
	session := insertGuestSession(t, db)
	ctx := context.Background()

	code, err := svc.StartVerification(ctx, session, "0501234567")
	require.NoError(t, err)

	verified, err := svc.ConfirmCode(ctx, session, code)
	assert.NoError(t, err)
	assert.True(t, verified)
	assert.Equal(t, models.GuestStepTerms, session.Guest.Step)

	// Code consumed
	_, err = rdb.Get(ctx, otpKey(session.ID.String())).Result()
	assert.ErrorIs(t, err, redis.Nil)
}

func TestGuestService_ConfirmCode_WrongThenRight(t *testing.T) {
	svc, db, _ := setupGuestService(t, "testdb_guest_wrongright")
	session := insertGuestSession(t, db)
	ctx := context.Background()

	code, err := svc.StartVerification(ctx, session, "0501234567")
	require.NoError(t, err)

	wrong := "0000"
	if wrong == code {
		wrong = "1111"
	}
	verified, err := svc.ConfirmCode(ctx, session, wrong)
	assert.NoError(t, err)
	assert.False(t, verified)
	assert.Equal(t, models.GuestStepOtp, session.Guest.Step)

	verified, err = svc.ConfirmCode(ctx, session, code)
	assert.NoError(t, err)
	assert.True(t, verified)
}

func TestGuestService_ConfirmCode_AttemptBudget(t *testing.T) {
	svc, db, rdb := setupGuestService(t, "testdb_guest_attempts")
	session := insertGuestSession(t, db)
	ctx := context.Background()

	code, err := svc.StartVerification(ctx, session, "0501234567")
	require.NoError(t, err)

	wrong := "0000"
	if wrong == code {
		wrong = "1111"
	}

	for i := 0; i < 2; i++ {
		verified, err := svc.ConfirmCode(ctx, session, wrong)
		assert.NoError(t, err)
		assert.False(t, verified)
	}

	// Third wrong attempt exhausts the budget, burns the code and restarts
	verified, err := svc.ConfirmCode(ctx, session, wrong)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.False(t, verified)
	assert.Equal(t, models.GuestStepPhone, session.Guest.Step)

	_, err = rdb.Get(ctx, otpKey(session.ID.String())).Result()
	assert.ErrorIs(t, err, redis.Nil)
}

func TestGuestService_ConfirmCode_Expired(t *testing.T) {
	svc, db, _ := setupGuestService(t, "testdb_guest_expired")
	session := insertGuestSession(t, db)
	session.Guest.Step = models.GuestStepOtp

	// No code was ever stored
	_, err := svc.ConfirmCode(context.Background(), session, "1234")
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestGuestService_ConfirmCode_WrongStep(t *testing.T) {
	svc, db, _ := setupGuestService(t, "testdb_guest_wrongstep")
	session := insertGuestSession(t, db)

	_, err := svc.ConfirmCode(context.Background(), session, "1234")
	assert.ErrorIs(t, err, ErrWrongGuestStep)
}

func TestGuestService_Back(t *testing.T) {
	svc, db, rdb := setupGuestService(t, "testdb_guest_back")
	session := insertGuestSession(t, db)
	ctx := context.Background()

	_, err := svc.StartVerification(ctx, session, "0501234567")
	require.NoError(t, err)
	assert.Equal(t, models.GuestStepOtp, session.Guest.Step)

	// Leaving the OTP step kills the outstanding code
	err = svc.Back(ctx, session)
	assert.NoError(t, err)
	assert.Equal(t, models.GuestStepPhone, session.Guest.Step)
	_, err = rdb.Get(ctx, otpKey(session.ID.String())).Result()
	assert.ErrorIs(t, err, redis.Nil)

	err = svc.Back(ctx, session)
	assert.NoError(t, err)
	assert.Equal(t, models.GuestStepNone, session.Guest.Step)

	err = svc.Back(ctx, session)
	assert.ErrorIs(t, err, ErrWrongGuestStep)
}

func TestGuestService_AcceptTerms(t *testing.T) {
	svc, db, _ := setupGuestService(t, "testdb_guest_terms")
	session := insertGuestSession(t, db)
	ctx := context.Background()

	// Not at the terms step yet
	err := svc.AcceptTerms(ctx, session, true)
	assert.ErrorIs(t, err, ErrWrongGuestStep)

	code, err := svc.StartVerification(ctx, session, "0501234567")
	require.NoError(t, err)
	_, err = svc.ConfirmCode(ctx, session, code)
	require.NoError(t, err)

	err = svc.AcceptTerms(ctx, session, false)
	assert.ErrorIs(t, err, ErrTermsNotAccepted)

	err = svc.AcceptTerms(ctx, session, true)
	assert.NoError(t, err)
	assert.True(t, session.Guest.TermsAccepted)
	// The gate closes; the session remains a guest session
	assert.Equal(t, models.GuestStepNone, session.Guest.Step)
	assert.Nil(t, session.UserID)
}
