package main

import (
	"time"

	"github.com/BluceCao2018/funbenchmark.com/internal/handlers"
	"github.com/BluceCao2018/funbenchmark.com/internal/storage"
	"github.com/BluceCao2018/funbenchmark.com/pkg/cache"
	"github.com/BluceCao2018/funbenchmark.com/pkg/clock"
	"github.com/BluceCao2018/funbenchmark.com/pkg/config"
	"github.com/BluceCao2018/funbenchmark.com/pkg/geoip"
	"github.com/BluceCao2018/funbenchmark.com/pkg/logging"
	"github.com/BluceCao2018/funbenchmark.com/pkg/monitoring"
	"github.com/BluceCao2018/funbenchmark.com/pkg/server"
	"github.com/BluceCao2018/funbenchmark.com/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService("funbenchmark")
	config.LoadEnv(logger)

	port := config.GetEnv("PORT", "18080")

	var gateway storage.Gateway
	var err error
	if bucket := config.GetEnv("S3_BUCKET", ""); bucket != "" {
		gateway, err = storage.NewS3Gateway(storage.S3Config{
			Bucket:    bucket,
			Prefix:    config.GetEnv("S3_PREFIX", ""),
			Region:    config.GetEnv("S3_REGION", "auto"),
			Endpoint:  config.GetEnv("S3_ENDPOINT", ""),
			AccessKey: config.GetEnv("S3_ACCESS_KEY", ""),
			SecretKey: config.GetEnv("S3_SECRET_KEY", ""),
			PublicURL: config.GetEnv("MEDIA_PUBLIC_URL", ""),
		}, logger)
	} else {
		gateway, err = storage.NewFileGateway(
			config.GetEnv("DATA_DIR", "./data"),
			config.GetEnv("MEDIA_PUBLIC_URL", "/media"),
			logger,
		)
	}
	if err != nil {
		logger.Fatal("Failed to initialize storage gateway: " + err.Error())
	}

	geoReader, err := geoip.NewReader(config.GetEnv("GEOIP_MMDB_PATH", ""))
	if err != nil {
		logger.Fatal("Failed to open GeoIP database: " + err.Error())
	}
	if geoReader == nil {
		logger.Warn("GeoIP database not configured, trials will carry no location tags")
	}
	geoCache := cache.New(cache.Options{
		TTL:         config.GetEnvDuration("GEOIP_CACHE_TTL", 1*time.Hour),
		NegativeTTL: config.GetEnvDuration("GEOIP_CACHE_NEGATIVE_TTL", 5*time.Minute),
		MaxEntries:  config.GetEnvInt("GEOIP_CACHE_MAX_ENTRIES", 10000),
	})
	geoResolver := geoip.NewResolver(geoReader, geoCache)

	healthChecker := monitoring.NewHealthChecker("funbenchmark", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("funbenchmark", version.Version, version.GitCommit)

	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"PORT": port,
	}))
	healthChecker.AddCheck("storage", monitoring.StorageHealthCheck(gateway.Ping))

	app := server.SetupServiceRouter(logger, "funbenchmark", healthChecker, metricsCollector)

	clk := clock.New()
	metrics := handlers.NewBenchmarkMetrics(metricsCollector)

	resultsHandler := handlers.NewResultsHandler(gateway, geoResolver, clk, logger, metrics)
	messagesHandler := handlers.NewMessagesHandler(gateway, clk, logger, metrics)
	scoreHandler := handlers.NewScoreHandler(logger, metrics)

	app.POST("/api/results/:testType", resultsHandler.Submit)
	app.GET("/api/results/:testType", resultsHandler.List)
	app.POST("/api/messages", messagesHandler.Create)
	app.GET("/api/messages", messagesHandler.Get)
	app.PATCH("/api/messages", messagesHandler.RecordAttempt)
	app.POST("/api/cpt/summary", scoreHandler.Summarize)

	serverConfig := server.DefaultConfig("funbenchmark", port)
	if err := server.Start(serverConfig, app, logger); err != nil {
		logger.Fatal(err.Error())
	}
}
