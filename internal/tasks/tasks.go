package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/config"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/models"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/services"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/sms"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/storage"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/utils"
)

// TaskType defines the type of a background task.
const (
	TypeOtpDelivery       = "otp:deliver"
	TypeAttachmentProcess = "attachment:process"
	TypeAttachmentDelete  = "attachment:delete"
	TypeSessionCleanup    = "session:cleanup"
)

// sessionCleanupInterval is how often the aged-session sweep reschedules
// itself.
const sessionCleanupInterval = 24 * time.Hour

// --- Task Client (Enqueuing tasks) ---

func NewClient(rdb *redis.Client) *asynq.Client {
	clientOpt := asynq.RedisClientOpt{
		Addr: rdb.Options().Addr,
	}
	return asynq.NewClient(clientOpt)
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg            *config.Config
	smsSender      sms.Sender
	storageService storage.IS3Storage
	sessionService services.ISessionService
	requestService services.IRequestService
	s3Client       *s3.Client
	taskClient     *asynq.Client
}

func NewTaskProcessor(
	cfg *config.Config,
	smsSender sms.Sender,
	storageService storage.IS3Storage,
	sessionService services.ISessionService,
	requestService services.IRequestService,
	s3Client *s3.Client,
	taskClient *asynq.Client,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:            cfg,
		smsSender:      smsSender,
		storageService: storageService,
		sessionService: sessionService,
		requestService: requestService,
		s3Client:       s3Client,
		taskClient:     taskClient,
	}
}

// SetupServer configures and returns an Asynq server instance.
func SetupServer(rdb *redis.Client, processor *TaskProcessor, isImageWorker bool, isBgWorker bool) *asynq.Server {
	serverOpt := asynq.RedisClientOpt{
		Addr: rdb.Options().Addr,
	}

	srv := asynq.NewServer(
		serverOpt,
		asynq.Config{
			Queues: map[string]int{
				"critical": 6, // OTP delivery must not wait behind images
				"default":  3,
				"low":      1,
				"images":   5,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				fmt.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v\n", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	// Register handlers based on worker type
	mux := asynq.NewServeMux()

	if isBgWorker {
		mux.HandleFunc(TypeOtpDelivery, processor.HandleOtpDeliveryTask)
		mux.HandleFunc(TypeAttachmentDelete, processor.HandleAttachmentDeleteTask)
		mux.HandleFunc(TypeSessionCleanup, processor.HandleSessionCleanupTask)
		fmt.Println("Registered background task handlers (OTP, attachment deletion, session cleanup).")
	}

	if isImageWorker {
		mux.HandleFunc(TypeAttachmentProcess, processor.HandleAttachmentProcessTask)
		fmt.Println("Registered attachment processing task handlers.")
	}

	if !isBgWorker && !isImageWorker {
		fmt.Println("Running in API mode, no task server started.")
		return nil
	}

	if err := srv.Run(mux); err != nil {
		log.Fatalf("Could not run Asynq server: %v", err)
	}

	return srv
}

// --- Task Handlers ---

// OtpTaskPayload defines the data for one-time code delivery.
type OtpTaskPayload struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// HandleOtpDeliveryTask delivers a verification code by SMS.
func (p *TaskProcessor) HandleOtpDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload OtpTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal OTP task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Phone == "" || payload.Code == "" {
		return fmt.Errorf("OTP task payload missing phone or code: %w", asynq.SkipRetry)
	}

	message := fmt.Sprintf("رمز التحقق في %s: %s", p.cfg.AppName, payload.Code)
	if err := p.smsSender.Send(ctx, payload.Phone, message); err != nil {
		return fmt.Errorf("failed to send OTP SMS to %s: %w", payload.Phone, err)
	}

	log.Printf("OTP delivered to %s", payload.Phone)
	return nil
}

// AttachmentTaskPayload defines the data for attachment normalization.
type AttachmentTaskPayload struct {
	S3Key     string `json:"s3_key"`
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
}

// HandleAttachmentProcessTask normalizes an uploaded attachment and links it
// to the draft session. Images are bounded in dimensions and re-encoded;
// other kinds are linked as-is.
func (p *TaskProcessor) HandleAttachmentProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload AttachmentTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal attachment task payload: %v: %w", err, asynq.SkipRetry)
	}

	sessionID, err := utils.ParseSixID(payload.SessionID)
	if err != nil {
		log.Printf("Invalid SessionID in attachment task payload: %s", payload.SessionID)
		return fmt.Errorf("invalid session ID in payload: %w", asynq.SkipRetry)
	}

	kind := models.AttachmentKind(payload.Kind)
	switch kind {
	case models.AttachmentKindImage, models.AttachmentKindAudio, models.AttachmentKindFile:
	default:
		return fmt.Errorf("unknown attachment kind %q: %w", payload.Kind, asynq.SkipRetry)
	}

	log.Printf("Processing attachment task: S3Key=%s, SessionID=%s, Kind=%s", payload.S3Key, payload.SessionID, payload.Kind)

	if kind == models.AttachmentKindImage {
		if err := p.normalizeImage(ctx, payload.S3Key); err != nil {
			return err
		}
	}

	session, err := p.sessionService.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			// Session aged out mid-upload; drop the orphan object.
			if delErr := p.storageService.DeleteObject(ctx, payload.S3Key); delErr != nil {
				log.Printf("WARN: failed to delete orphan attachment %s: %v", payload.S3Key, delErr)
			}
			return fmt.Errorf("session gone, attachment discarded: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("failed to load session %s: %w", payload.SessionID, err)
	}

	attachment := models.Attachment{Key: payload.S3Key, Kind: kind}
	if err := p.sessionService.AddAttachment(ctx, session, attachment); err != nil {
		return fmt.Errorf("failed to attach %s to session %s: %w", payload.S3Key, payload.SessionID, err)
	}

	// A session that already published keeps its live record in sync; the
	// upload landed after the publish, not before it.
	if session.Published && session.PublishedRequestID != nil {
		if err := p.requestService.AddAttachmentToRequest(ctx, *session.PublishedRequestID, attachment); err != nil {
			return fmt.Errorf("failed to attach %s to request %s: %w", payload.S3Key, session.PublishedRequestID.String(), err)
		}
	}

	log.Printf("Attachment task processed successfully: Key=%s, SessionID=%s", payload.S3Key, payload.SessionID)
	return nil
}

// normalizeImage downloads the object, bounds its dimensions and re-encodes
// it as JPEG, overwriting the original key.
func (p *TaskProcessor) normalizeImage(ctx context.Context, s3Key string) error {
	getObjectOutput, err := p.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.AwsS3Bucket),
		Key:    aws.String(s3Key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Printf("S3 object %s not found, likely upload failed or key incorrect.", s3Key)
			return fmt.Errorf("s3 object not found: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("failed to download image from S3: %w", err)
	}
	defer getObjectOutput.Body.Close()

	imgData, err := io.ReadAll(getObjectOutput.Body)
	if err != nil {
		return fmt.Errorf("failed to read image data for key %s: %w", s3Key, err)
	}

	// Check initial size before decoding (more efficient)
	maxSizeBytes := int64(p.cfg.ImageMaxSizeMB) * 1024 * 1024
	if int64(len(imgData)) > maxSizeBytes {
		log.Printf("Image %s exceeds max size (%d > %d bytes). Deleting.", s3Key, len(imgData), maxSizeBytes)
		if delErr := p.storageService.DeleteObject(ctx, s3Key); delErr != nil {
			log.Printf("WARN: failed to delete oversized image %s: %v", s3Key, delErr)
		}
		return fmt.Errorf("image exceeds max size: %w", asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}
	log.Printf("Decoded image %s, format: %s, size: %dx%d", s3Key, format, img.Bounds().Dx(), img.Bounds().Dy())

	maxWidth := uint(p.cfg.ImageMaxDimension)
	maxHeight := uint(p.cfg.ImageMaxDimension)
	if uint(img.Bounds().Dx()) <= maxWidth && uint(img.Bounds().Dy()) <= maxHeight {
		return nil
	}

	log.Printf("Resizing image %s (original: %dx%d, max: %dx%d)", s3Key, img.Bounds().Dx(), img.Bounds().Dy(), maxWidth, maxHeight)
	resizedImg := resize.Thumbnail(maxWidth, maxHeight, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err = jpeg.Encode(&buf, resizedImg, &jpeg.Options{Quality: 85}); err != nil {
		return fmt.Errorf("failed to re-encode resized image: %w", err)
	}
	if int64(buf.Len()) > maxSizeBytes {
		return fmt.Errorf("resized image still exceeds max size: %w", asynq.SkipRetry)
	}

	_, err = p.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.AwsS3Bucket),
		Key:         aws.String(s3Key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload processed image: %w", err)
	}
	log.Printf("Resized image %s to %dx%d", s3Key, resizedImg.Bounds().Dx(), resizedImg.Bounds().Dy())
	return nil
}

// AttachmentDeletePayload carries the object keys to remove from storage.
type AttachmentDeletePayload struct {
	Keys []string `json:"keys"`
}

// HandleAttachmentDeleteTask removes attachment objects from storage, e.g.
// after the user cleared the attachments section.
func (p *TaskProcessor) HandleAttachmentDeleteTask(ctx context.Context, t *asynq.Task) error {
	var payload AttachmentDeletePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal attachment delete payload: %v: %w", err, asynq.SkipRetry)
	}
	if len(payload.Keys) == 0 {
		return nil
	}
	if err := p.storageService.DeleteObjects(ctx, payload.Keys); err != nil {
		return fmt.Errorf("attachment deletion incomplete: %w", err)
	}
	log.Printf("Deleted %d attachment objects", len(payload.Keys))
	return nil
}

// HandleSessionCleanupTask sweeps aged-out unpublished sessions and
// reschedules itself.
func (p *TaskProcessor) HandleSessionCleanupTask(ctx context.Context, t *asynq.Task) error {
	deleted, orphanKeys, err := p.sessionService.DeleteAged(ctx)
	if err != nil {
		return fmt.Errorf("aged session sweep failed: %w", err)
	}
	if deleted > 0 {
		log.Printf("Session cleanup removed %d aged sessions", deleted)
	}

	if len(orphanKeys) > 0 {
		payloadBytes, marshalErr := json.Marshal(AttachmentDeletePayload{Keys: orphanKeys})
		if marshalErr == nil {
			task := asynq.NewTask(TypeAttachmentDelete, payloadBytes, asynq.Queue("low"))
			if _, enqueueErr := p.taskClient.EnqueueContext(ctx, task); enqueueErr != nil {
				log.Printf("WARN: failed to enqueue orphan attachment cleanup: %v", enqueueErr)
			}
		}
	}

	// Reschedule the next sweep.
	next := asynq.NewTask(TypeSessionCleanup, nil, asynq.Queue("low"))
	if _, err := p.taskClient.EnqueueContext(ctx, next, asynq.ProcessIn(sessionCleanupInterval)); err != nil {
		log.Printf("WARN: failed to reschedule session cleanup: %v", err)
	}
	return nil
}
