package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mohmad1412-cmd/abeely-sub001/internal/ai"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/api/handlers"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/api/middleware"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/captcha"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/config"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/services"
	"github.com/mohmad1412-cmd/abeely-sub001/internal/storage"
)

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, db *mongo.Database, rdb *redis.Client, taskClient handlers.IAsynqClient) *gin.Engine {
	// Initialize services needed by API handlers HERE
	userService := services.NewUserService(db)
	requestService := services.NewRequestService(db, cfg)
	clarifyService := services.NewClarifyService()
	questionService := services.NewQuestionService()
	generator := ai.NewGenerator(cfg)
	connChecker := ai.NewConnectionChecker(cfg, rdb)
	sessionService := services.NewSessionService(db, cfg, clarifyService, questionService, generator)
	publishService := services.NewPublishService(db, cfg, requestService)
	guestService := services.NewGuestService(db, rdb, cfg)
	s3StorageService, err := storage.NewS3Storage(cfg)
	if err != nil {
		log.Fatalf("CRITICAL: Failed to initialize S3 storage for API: %v", err)
	}

	// Initialize Captcha Verifier
	captchaVerifier := captcha.NewTurnstileVerifier(cfg)

	r := gin.Default()

	// Initialize Middleware
	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)

	// Apply global middleware first (order matters)
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.CaptchaMiddleware(cfg, captchaVerifier))
	r.Use(rateLimiter.Limit())

	// Initialize handlers
	jsonApiHandler := handlers.NewJsonApiHandler(
		cfg, rdb, taskClient,
		userService, sessionService, publishService, guestService, requestService,
		s3StorageService, connChecker)
	restRequestHandler := handlers.NewRestRequestHandler(requestService)
	restUserHandler := handlers.NewRestUserHandler(userService, requestService)

	v1 := r.Group("/v1")
	{
		// Public Routes (Rate limiting already applied globally)
		v1.POST("/api", jsonApiHandler.HandleRequest)

		// Published request reads
		v1.GET("/request/search", restRequestHandler.SearchRequests)
		v1.GET("/request/:id", restRequestHandler.GetRequestByID)
		v1.GET("/user/:id", restUserHandler.GetUserByID)
		v1.GET("/user/:id/request", restRequestHandler.GetUserRequests)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Admin Routes (already have rate limiting from global middleware)
		adminRequired := v1.Group("/admin")
		adminRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret), middleware.AdminMiddleware())
		{
			// Example: adminRequired.POST("/users/:id/suspend", adminHandler.SuspendUser)
		}
	}

	return r
}

// SetupServiceRouter configures and returns the service Gin engine.
// Requires Redis to look up mock SMS payloads captured in development.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"` // Use RawMessage
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			fmt.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
				fmt.Println("Shutdown signal sent successfully.")
			default:
				fmt.Println("Shutdown channel already signaled or blocked.")
			}
		case "getTestSms":
			var args []string // Expect ["phone"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 1 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [phone]"})
				return
			}
			phone := args[0]
			redisKey := fmt.Sprintf("mocksms:%s", phone)

			// Poll Redis briefly for the key
			var smsJsonData string
			var getErr error
			found := false
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second) // Short timeout for service call
			defer cancel()
			for i := 0; i < 10; i++ { // Poll up to ~2 seconds
				smsJsonData, getErr = rdb.Get(ctx, redisKey).Result()
				if getErr == nil {
					found = true
					rdb.Del(ctx, redisKey) // Delete after fetching
					break
				}
				if getErr != redis.Nil {
					log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, getErr)
					c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
					return
				}
				// If redis.Nil, wait and retry
				time.Sleep(200 * time.Millisecond)
			}

			if !found {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test SMS not found in Redis for key %s", redisKey)})
				return
			}

			// Unmarshal the found JSON data
			var smsData map[string]interface{}
			if err := json.Unmarshal([]byte(smsJsonData), &smsData); err != nil {
				log.Printf("Service API: Error unmarshalling SMS data from key %s: %v", redisKey, err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored SMS data"})
				return
			}

			// Return the full SMS data object
			c.JSON(http.StatusOK, gin.H{"success": true, "data": smsData})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
