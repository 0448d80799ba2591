package main

import (
	"context"
	"os"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/joinbot/internal/bot"
	"github.com/iamwavecut/joinbot/internal/cleanup"
	"github.com/iamwavecut/joinbot/internal/config"
	"github.com/iamwavecut/joinbot/internal/db/sqlite"
	"github.com/iamwavecut/joinbot/internal/flow"
	adminhandlers "github.com/iamwavecut/joinbot/internal/handlers/admin"
	requesthandlers "github.com/iamwavecut/joinbot/internal/handlers/requests"
	"github.com/iamwavecut/joinbot/internal/infra"
	"github.com/iamwavecut/joinbot/internal/infrastructure/telegram"
	"github.com/iamwavecut/joinbot/internal/lifecycle"
	"github.com/iamwavecut/joinbot/internal/notify"
	"github.com/iamwavecut/joinbot/internal/observability"
	"github.com/iamwavecut/joinbot/internal/templates"
)

func main() {
	cfg := config.Get()
	log.SetFormatter(&config.JbFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))

	if err := observability.Init(context.Background()); err != nil {
		log.WithError(err).Fatalln("cant init observability")
	}
	if err := templates.LoadOverrides(cfg.Settings.TemplatesPath); err != nil {
		log.WithError(err).Fatalln("cant load template overrides")
	}

	infra.GoRecoverable(-1, "process_updates", func() {
		ctx, cancelFunc := context.WithCancel(context.Background())
		defer cancelFunc()

		botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
		if err != nil {
			log.WithError(err).Errorln("cant initialize bot api")
			time.Sleep(1 * time.Second)
			log.Fatalln("exiting")
		}
		if log.Level(cfg.LogLevel) == log.TraceLevel {
			botAPI.Debug = true
		}
		defer botAPI.StopReceivingUpdates()

		store, err := sqlite.NewSQLiteClient(ctx, infra.GetWorkDir(cfg.DotPath), "bot.db")
		if err != nil {
			log.WithError(err).Fatalln("cant open store")
		}
		defer store.Close()

		service := bot.NewService(botAPI, store)
		platform := telegram.NewOperations(botAPI)
		notifier := notify.NewAdminNotifier(platform, cfg.AdminIDs)
		machine := flow.NewMachine(store, platform, notifier, cfg)
		cleanupTask := cleanup.NewTask(store, cfg.Settings.RetentionDays, cfg.Settings.CleanupSchedule)
		requests := requesthandlers.NewRequests(service, machine, platform, cfg)

		bot.RegisterUpdateHandler("admin", adminhandlers.NewAdmin(service, machine, platform, cleanupTask, cfg))
		bot.RegisterUpdateHandler("requests", requests)

		runtime := lifecycle.NewRuntime()
		runtime.Register("expiry_scheduler", requests)
		runtime.Register("cleanup", cleanupTask)
		runtime.Register("metrics", observability.NewServer(cfg.MetricsAddr))
		if err := runtime.Start(ctx); err != nil {
			log.WithError(err).Fatalln("cant start runtime")
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			if err := runtime.Stop(stopCtx); err != nil {
				log.WithError(err).Errorln("runtime stop failed")
			}
		}()

		updateConfig := api.NewUpdate(0)
		updateConfig.Timeout = 60
		updateProcessor := bot.NewUpdateProcessor(service, []string{"admin", "requests"})

		updateChan, errorChan := bot.GetUpdatesChans(ctx, botAPI, updateConfig)

		for {
			select {
			case err := <-errorChan:
				log.WithError(err).Fatalln("bot api get updates error")
			case update := <-updateChan:
				if err := updateProcessor.Process(ctx, &update); err != nil {
					log.WithError(err).Errorln("cant process update")
				}
			case <-ctx.Done():
				log.WithError(ctx.Err()).Errorln("no more updates")
				return
			}
		}
	})

	<-infra.MonitorExecutable(context.Background())
	log.Errorln("executable file was modified")
	os.Exit(0)
}
