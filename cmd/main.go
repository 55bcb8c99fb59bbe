package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"randolink/backend/internal/api/handler"
	"randolink/backend/internal/chat"
	"randolink/backend/internal/models"
	"randolink/backend/internal/queue"
	"randolink/backend/internal/relay"
	"randolink/backend/internal/report"
	"randolink/backend/internal/session"
	"randolink/backend/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupDependencies() (*gorm.DB, *redis.Client) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		getenv("DB_HOST", "localhost"),
		getenv("DB_USER", "user"),
		getenv("DB_PASSWORD", "password"),
		getenv("DB_NAME", "randolinkdb"),
		getenv("DB_PORT", "5432"),
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect PostgreSQL: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     getenv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})

	ctx := context.Background()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.Conversation{},
		&models.Message{},
		&models.Report{},
	)
	if err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	log.Println("Database and Redis connections established, migrations complete.")
	return db, rdb
}

func main() {
	log.Println("Starting RandoLink Backend...")

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	db, rdb := setupDependencies()
	s := store.NewService(db, rdb)

	registry := session.NewRegistry(s)
	matchmaker := queue.NewMatchmaker(s, registry)
	channel := chat.NewChannel(s)
	reports := report.NewService(s)
	hub := relay.NewHub(matchmaker, registry, channel, reports)

	go hub.Run()

	r := gin.Default()
	h := handler.NewHandler(hub, s, channel, registry, reports, []byte(jwtSecret))

	r.GET("/anonid", h.GetAnonID)
	r.GET("/ws", h.ServeWebSocket)

	auth := r.Group("/", h.AuthRequired())
	auth.POST("/conversations", h.CreateConversation)
	auth.GET("/conversations/:id/messages", h.ListMessages)
	auth.POST("/conversations/:id/messages", h.SendMessage)
	auth.DELETE("/conversations/:id/messages/:messageId", h.DeleteMessage)
	auth.POST("/conversations/:id/read", h.MarkRead)
	auth.GET("/conversations/:id/unread", h.GetUnread)
	auth.GET("/users/:id/profile", h.GetProfile)
	auth.GET("/sessions/:id", h.GetSessionStatus)
	auth.POST("/sessions/:id/report", h.ReportPartner)

	server := &http.Server{
		Addr:           ":" + getenv("PORT", "8080"),
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	log.Fatal(server.ListenAndServe())
}
