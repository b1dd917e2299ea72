package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	mysqlstorage "github.com/gofiber/storage/mysql/v2"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"dailybrief/internal/aws"
	"dailybrief/internal/briefing"
	"dailybrief/internal/calendar"
	"dailybrief/internal/config"
	"dailybrief/internal/dashboard"
	"dailybrief/internal/lock"
	"dailybrief/internal/mailer"
	"dailybrief/internal/middleware"
	"dailybrief/internal/note"
	"dailybrief/internal/schedule"
	"dailybrief/internal/scheduler"
	"dailybrief/internal/slackbot"
)

func main() {
	var (
		configPath string
		region     string
		configFile string
		once       bool
	)
	flag.StringVar(&configPath, "conf", "/service/dailybrief", "parameter store key")
	flag.StringVar(&region, "region", "ap-northeast-2", "parameter store region")
	flag.StringVar(&configFile, "file", "", "load configuration from a YAML file instead of parameter store")
	flag.BoolVar(&once, "once", false, "run a single delivery pass, print the report and exit")
	flag.Parse()

	// Configure load
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.LoadParamStore(region, configPath)
	}
	if err != nil {
		log.Panic(err)
	}
	if err := config.SetupLogging(cfg.Log); err != nil {
		log.Warnf("invalid log config, keeping defaults: %v", err)
	}

	// DB connection
	dbo, err := aws.CreateConnection(cfg.Repository)
	if err != nil {
		log.Fatalf("Repository Connection failed. %v", err)
	}
	defer dbo.Close()
	log.Info("Successfully connected to the database.")

	// Dependency assembly

	// Schedule
	scheduleStore := schedule.NewStore(dbo)
	scheduleService := schedule.NewService(scheduleStore)
	scheduleHandler := schedule.NewScheduleHandler(scheduleService)

	// Briefing inputs
	noteHandler := note.NewNoteHandler(note.NewService(note.NewStore(dbo)))
	calendarHandler := calendar.NewCalendarHandler(calendar.NewService(calendar.NewStore(dbo), calendar.Calendars))

	// Briefing
	generator, err := briefing.NewGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("LLM generator setup failed: %v", err)
	}
	briefingStore := briefing.NewStore(dbo)
	briefingService := briefing.NewService(briefingStore, calendar.NewMockSource(), generator, cfg.Mail.InboundDomain)

	// Mailer
	sender, err := newSender(cfg.Mail)
	if err != nil {
		log.Fatalf("Mailer setup failed: %v", err)
	}
	briefingHandler := briefing.NewBriefingHandler(briefingService, scheduleStore, sender)

	// Runner
	var locker scheduler.Locker
	if cfg.Redis.URL != "" {
		redisLocker, err := lock.NewRedisLocker(cfg.Redis.URL)
		if err != nil {
			log.Warnf("Redis run lock unavailable, continuing with per-user claims only: %v", err)
		} else {
			defer redisLocker.Close()
			locker = redisLocker
		}
	}
	var notifiers []scheduler.Notifier
	if cfg.Slack.BotToken != "" {
		notifier, err := slackbot.NewNotifier(cfg.Slack.BotToken, cfg.Slack.Channel, cfg.Slack.OnlyFailures)
		if err != nil {
			log.Warnf("Slack notifications disabled: %v", err)
		} else {
			notifiers = append(notifiers, notifier)
		}
	}
	runner := scheduler.NewRunner(scheduleStore, briefingService, sender, locker, scheduler.Options{
		Workers:     cfg.Scheduler.Workers,
		UserTimeout: cfg.Scheduler.UserTimeout,
		ClaimTTL:    cfg.Scheduler.ClaimTTL,
	}, notifiers...)

	if once {
		code := runOnce(runner)
		dbo.Close()
		os.Exit(code)
	}

	schedulerHandler := scheduler.NewSchedulerHandler(runner)

	// Dashboard
	dashboardService := dashboard.NewService(scheduleStore, runner)
	dashboardHandler := dashboard.NewDashboardHandler(dashboardService)

	app := fiber.New(fiber.Config{
		AppName:      "dailybrief",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	})

	// Routes
	log.Info("Setting up routes...")

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	cronGroup := app.Group("/api/cron",
		triggerLimiter(dbo, cfg.Server.RateLimit),
		middleware.TriggerAuthMiddleware(cfg.Scheduler.TriggerSecret, cfg.Scheduler.TrustedAgents),
	)
	{
		cronGroup.Get("/send-briefings", schedulerHandler.HandleSendBriefings)
		cronGroup.Post("/send-briefings", schedulerHandler.HandleSendBriefings)
		cronGroup.Get("/last-run", schedulerHandler.HandleLastRun)
	}

	adminGroup := app.Group("/api", middleware.AdminTokenMiddleware(cfg.Server.AdminToken))
	{
		adminGroup.Get("/dashboard", dashboardHandler.HandleShowDashboard)
		adminGroup.Get("/users/:userID/schedule", scheduleHandler.HandleGetSchedule)
		adminGroup.Put("/users/:userID/schedule", scheduleHandler.HandleUpdateSchedule)
		adminGroup.Post("/users/:userID/briefing/test", briefingHandler.HandleTestBriefing)
		adminGroup.Get("/users/:userID/notes", noteHandler.HandleListNotes)
		adminGroup.Post("/users/:userID/notes", noteHandler.HandleCreateNote)
		adminGroup.Patch("/users/:userID/notes/:noteID", noteHandler.HandleUpdateNote)
		adminGroup.Delete("/users/:userID/notes/:noteID", noteHandler.HandleDeleteNote)
		adminGroup.Get("/users/:userID/calendar/settings", calendarHandler.HandleGetSettings)
		adminGroup.Put("/users/:userID/calendar/settings", calendarHandler.HandleUpdateSettings)
	}

	// Start (graceful shutdown)
	var cronScheduler *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		cronScheduler = scheduler.NewScheduler(runner, cfg.Scheduler.Spec)
		if err := cronScheduler.Start(); err != nil {
			log.Fatalf("Scheduler start failed: %v", err)
		}
	}

	go func() {
		log.Infof("dailybrief server (HTTP) starting on [::]:%s", cfg.Server.Port)
		if err := app.Listen(fmt.Sprintf(":%s", cfg.Server.Port)); err != nil {
			log.Panicf("HTTP server Listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit

	log.Info("[INFO] dailybrief shutdown signal received...")

	if cronScheduler != nil {
		cronScheduler.Stop()
	}

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		log.Errorf("HTTP server Shutdown failed: %v", err)
	}

	log.Info("[INFO] dailybrief stopped.")
}

func newSender(c config.MailConfig) (*mailer.Mailer, error) {
	renderer, err := mailer.NewRenderer()
	if err != nil {
		return nil, err
	}
	var transport mailer.Transport = mailer.LogTransport{}
	if c.SMTP.Host != "" {
		smtpTransport, err := mailer.NewSMTPTransport(c.SMTP)
		if err != nil {
			return nil, err
		}
		transport = smtpTransport
	} else {
		log.Warn("No SMTP host configured, briefings are logged instead of sent (dry-run).")
	}
	return mailer.New(renderer, transport, c.From)
}

// triggerLimiter shares the trigger budget across instances through MySQL.
func triggerLimiter(dbo *sqlx.DB, max int) fiber.Handler {
	if max <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: time.Minute,
		Storage: mysqlstorage.New(mysqlstorage.Config{
			Db:    dbo.DB,
			Table: "fiber_limiter",
		}),
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many requests"})
		},
	})
}

func runOnce(runner *scheduler.Runner) int {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	report, err := runner.Run(ctx)
	if err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			log.Info("another pass is in progress, nothing to do")
			return 0
		}
		log.Errorf("delivery pass failed: %v", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Errorf("encode report: %v", err)
		return 1
	}
	return 0
}
