package main

import (
	"context"
	"log"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"google.golang.org/api/option"

	fbapp "firebase.google.com/go/v4"

	"builderhub/internal/adapter/api"
	"builderhub/internal/adapter/api/handler"
	apimiddleware "builderhub/internal/adapter/api/middleware"
	"builderhub/internal/adapter/api/router"
	"builderhub/internal/adapter/repository"
	"builderhub/internal/infrastructure/firebase"
	"builderhub/internal/infrastructure/ratelimit"
	"builderhub/internal/infrastructure/storage"
	"builderhub/internal/infrastructure/websocket"
	"builderhub/internal/usecase"
	"builderhub/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	var opt option.ClientOption
	credentialsPath := ""

	// Service account from environment variable (production) or file path
	// (local development).
	if serviceAccountJSON := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON"); serviceAccountJSON != "" {
		log.Printf("Using Firebase service account from environment variable")
		opt = option.WithCredentialsJSON([]byte(serviceAccountJSON))
	} else {
		credentialsPath = os.Getenv("FIREBASE_SERVICE_ACCOUNT_PATH")
		if credentialsPath == "" {
			credentialsPath = "./service-account.json"
		}
		if _, err := os.Stat(credentialsPath); os.IsNotExist(err) {
			log.Fatalf("Service account file does not exist: %s", credentialsPath)
		}
		log.Printf("Using Firebase service account from file: %s", credentialsPath)
		opt = option.WithCredentialsFile(credentialsPath)
	}

	firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opt)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase: %v", err)
	}

	firebaseAuth, err := firebaseApp.Auth(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase Auth: %v", err)
	}

	firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opt)
	if err != nil {
		log.Fatalf("Failed to create Firestore client: %v", err)
	}
	defer firestoreClient.Close()

	storageClient, err := storage.NewCloudStorageClient(ctx, cfg.StorageBucket, cfg.FirebaseProject, credentialsPath)
	if err != nil {
		log.Fatalf("Failed to initialize Cloud Storage: %v", err)
	}
	defer storageClient.Close()

	chatRepo := repository.NewFirestoreChatRepository(firestoreClient)
	userRepo := repository.NewFirestoreUserRepository(firestoreClient)

	authClient := firebase.NewAuthClient(firebaseAuth)

	wsManager := websocket.NewManager()
	wsManager.Start(ctx)

	limiter := ratelimit.NewRateLimiter()
	limiter.StartCleanupRoutine()

	resolver := usecase.NewSessionResolver(chatRepo)
	uploader := usecase.NewAttachmentUploader(storageClient).WithMaxBytes(cfg.MaxDocumentBytes)
	bot := usecase.NewBotResponder(chatRepo)

	chatHandler := handler.NewChatHandler(chatRepo, userRepo, resolver, uploader, bot, wsManager)
	wsHandler := handler.NewWebSocketHandler(wsManager, authClient, limiter, chatRepo, resolver, uploader, bot, cfg)
	healthHandler := handler.NewHealthHandler()

	authMiddleware := apimiddleware.NewAuthMiddleware(authClient)
	rateLimitMiddleware := apimiddleware.NewRateLimitMiddleware(limiter)

	e := echo.New()
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Validator = api.NewValidator()

	router.Setup(e, chatHandler, wsHandler, healthHandler, authMiddleware, rateLimitMiddleware)

	log.Printf("Starting server on port %s", cfg.ServerPort)
	if err := e.Start(":" + cfg.ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
