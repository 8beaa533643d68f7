package main

import (
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/blob"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/config"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/db"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/directory"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/friends"
	clog "github.com/mohitgusain8671/WanderSphere-Backend/internal/log"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/server"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/service"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/ws"
	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	blobs, err := blob.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("blob store init")
	}
	if blobs == nil {
		log.Warn().Msg("blob store disabled, media cleanup is a no-op")
	}

	dir := directory.New(gdb)
	oracle := friends.New(gdb)
	presence := ws.NewPresence()
	hub := ws.NewHub()

	chatSvc := service.NewChatService(gdb, dir, oracle)
	msgSvc := service.NewMessageService(gdb, dir, blobs, presence)
	gateway := ws.NewGateway(cfg, hub, presence, dir, chatSvc, msgSvc)

	h := server.NewHandler(chatSvc, msgSvc, dir, gateway)
	r := server.SetupRouter(cfg, h, gateway, dir)

	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("wander chat server starting")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
