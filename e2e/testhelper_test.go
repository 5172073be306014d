package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/songlab/api/internal/audio"
	"github.com/songlab/api/internal/auth"
	"github.com/songlab/api/internal/client"
	"github.com/songlab/api/internal/config"
	"github.com/songlab/api/internal/handler"
	"github.com/songlab/api/internal/middleware"
	"github.com/songlab/api/internal/pipeline"
	"github.com/songlab/api/internal/poller"
	"github.com/songlab/api/internal/service"
	"github.com/songlab/api/internal/storage"
	"github.com/songlab/api/internal/store"
	"github.com/songlab/api/internal/websocket"
	"github.com/songlab/api/internal/worker"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app        *fiber.App
	controller *pipeline.Controller
	workers    *worker.Workers
}

// setupApp creates a Fiber app identical to main.go but with an in-memory
// project store and unconfigured external clients, so no provider is ever
// called. Redis must be running on localhost for job-record tests.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	// Redis (localhost, must be running)
	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})

	// Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	// In-memory project store; storage gateway without R2 yields mock CDN URLs
	projectStore := store.NewMemoryStore()
	controller := pipeline.NewController(projectStore)
	gateway := storage.NewGateway(nil)

	// Services
	jobService := service.NewJobService(redisClient, asynqClient)
	pipelineService := service.NewPipelineService(controller, jobService)
	uploadService := service.NewUploadService(gateway)

	// Workers with credential-less providers; handlers take the mock path
	hub := websocket.NewHub()
	go hub.Run()
	workers := worker.New(
		jobService, controller, gateway, hub,
		client.NewSeparatorClient(&config.SeparatorConfig{}),
		client.NewInstrumentalClient(&config.InstrumentalConfig{}),
		client.NewMixerClient(&config.MixerConfig{}),
		audio.NewMerger(),
		poller.DefaultOptions(),
	)

	// Handlers
	projectHandler := handler.NewProjectHandler(controller, validate)
	pipelineHandler := handler.NewPipelineHandler(pipelineService, validate)
	uploadHandler := handler.NewUploadHandler(uploadService, validate)

	// Auth handler (for /auth/verify)
	authHandler := handler.NewAuthHandler(nil, testJWTSecret)

	// Auth middleware: legacy HMAC only
	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 100 * 1024 * 1024,
	})

	// Base routes
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"separator":    false,
				"instrumental": false,
				"mixer":        false,
				"r2":           false,
				"postgres":     false,
				"auth":         true,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	// API routes (authenticated)
	api := app.Group("/api", authMiddleware.Authenticate())

	// Use very high rate limits so tests don't get blocked
	projects := api.Group("/projects", rateLimiter.ProjectLimit(10000))
	projects.Post("/", projectHandler.Create)
	projects.Get("/", projectHandler.List)
	projects.Get("/:projectId", projectHandler.Get)
	projects.Patch("/:projectId", projectHandler.Update)
	projects.Delete("/:projectId", projectHandler.Delete)
	projects.Post("/:projectId/advance", projectHandler.Advance)
	projects.Put("/:projectId/sections", projectHandler.SetSections)
	projects.Post("/:projectId/recordings", projectHandler.RecordSection)

	pipe := api.Group("/pipeline")
	pipe.Post("/separate", rateLimiter.SeparateLimit(10000), pipelineHandler.Separate)
	pipe.Post("/instrumentals", rateLimiter.GenerateLimit(10000), pipelineHandler.Instrumentals)
	pipe.Post("/intro-outro", rateLimiter.GenerateLimit(10000), pipelineHandler.IntroOutro)
	pipe.Post("/finalize", rateLimiter.FinalizeLimit(10000), pipelineHandler.Finalize)
	pipe.Get("/status/:jobId", pipelineHandler.Status)
	pipe.Post("/cancel/:jobId", pipelineHandler.Cancel)

	upload := api.Group("/upload", rateLimiter.UploadLimit(10000))
	upload.Post("/audio", uploadHandler.Audio)

	return &testApp{app: app, controller: controller, workers: workers}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := auth.LegacyClaims{
		UserID: "test-user-123",
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "songlab-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
