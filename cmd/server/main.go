package main

import (
	"log"
	"strconv"

	"codeclash/config"
	"codeclash/db"
	"codeclash/internal/duel"
	"codeclash/middlewares"
	"codeclash/routes"
	"codeclash/services"
	"codeclash/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load the configuration from the specified YAML file
	cfg, err := config.LoadConfig("./config/config.prod.yml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	middlewares.InitAuth(cfg)

	// Connect to MongoDB using the URI from the configuration; the platform
	// runs in-memory only when persistence is not configured.
	if cfg.Database.URI != "" {
		if err := db.ConnectMongoDB(cfg.Database.URI); err != nil {
			log.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		log.Println("Connected to MongoDB")
	} else {
		log.Println("No MongoDB URI configured, duel history disabled")
	}

	if cfg.Redis.Addr != "" {
		if err := duel.InitRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
			log.Printf("Redis unavailable, event stream and distributed rate limits disabled: %v", err)
		} else {
			log.Println("Connected to Redis")
		}
	}

	problems := services.InitProblemService(cfg)
	judge := services.NewHTTPJudge(cfg.Judge)
	store := duel.NewSessionStore(db.NewDuelArchiver())
	engine := duel.NewEngine(cfg.Duel, store, judge, problems)

	publisher := duel.NewRedisPublisher()
	if publisher != nil {
		engine.SetPublisher(publisher)
	}

	limiter := duel.NewRateLimiter(cfg.Duel.TestRunsPerMinute)
	hub := websocket.NewDuelHub(engine, limiter)
	engine.SetBroadcaster(hub)

	matchmaker := services.NewMatchmakingService(engine)

	// Set up the Gin router and configure routes
	router := setupRouter(engine, matchmaker, publisher, hub)
	port := strconv.Itoa(cfg.Server.Port)
	log.Printf("Server starting on port %s", port)

	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func setupRouter(engine *duel.Engine, matchmaker *services.MatchmakingService, publisher *duel.RedisPublisher, hub *websocket.DuelHub) *gin.Engine {
	router := gin.Default()

	// Set trusted proxies (adjust as needed)
	router.SetTrustedProxies([]string{"127.0.0.1", "localhost"})

	// Configure CORS for your frontend (e.g., localhost:5173 for Vite)
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	router.OPTIONS("/*path", func(c *gin.Context) { c.Status(204) })

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public routes for authentication
	router.POST("/auth/guest", routes.GuestLoginHandler)
	router.POST("/auth/verify", routes.VerifyTokenHandler)

	// WebSocket duel channel; the handler validates the token itself since
	// browsers cannot set headers on websocket dials
	router.GET("/ws/duel/:sessionID", hub.DuelWebsocketHandler)

	// Public spectator channel fed by the Redis event stream
	router.GET("/ws/spectate/:sessionID", SpectatorWebsocketHandler)

	// Protected routes (JWT auth)
	auth := router.Group("/")
	auth.Use(middlewares.AuthMiddleware())
	{
		routes.SetupDuelRoutes(auth, engine, matchmaker, publisher)
	}

	return router
}
