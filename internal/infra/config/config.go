package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Asia/Shanghai"`

	Telegram struct {
		APIID   int    `envconfig:"TG_API_ID"`
		APIHash string `envconfig:"TG_API_HASH"`
	} `envconfig:""`

	TGService struct {
		Addr string `envconfig:"TGSERVICE_ADDR" default:":5056"`
		URL  string `envconfig:"TGSERVICE_URL" default:"http://localhost:5056"`
	} `envconfig:""`

	Scheduler struct {
		Addr              string `envconfig:"SCHEDULER_ADDR" default:":5057"`
		Enabled           bool   `envconfig:"SCHEDULER_ENABLED" default:"true"`
		Workers           int    `envconfig:"SCHEDULER_WORKERS" default:"20"`
		RescheduleHour    int    `envconfig:"SCHEDULER_RESCHEDULE_HOUR" default:"1"`
		RescheduleMinute  int    `envconfig:"SCHEDULER_RESCHEDULE_MINUTE" default:"0"`
		HealthIntervalSec int    `envconfig:"SESSION_HEALTH_INTERVAL_SEC" default:"300"`
	} `envconfig:""`

	Checkin struct {
		TimeoutSec    int     `envconfig:"CHECKIN_TIMEOUT_SEC" default:"10"`
		FollowUpGrace float64 `envconfig:"CHECKIN_FOLLOWUP_GRACE_SEC" default:"2.5"`
		ButtonKeyword string  `envconfig:"CHECKIN_BUTTON_KEYWORD" default:"签到"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Queues struct {
		RunNow string `envconfig:"RUN_NOW_QUEUE_KEY" default:"checkin_run_now"`
	} `envconfig:""`

	Notifier struct {
		BotToken string `envconfig:"NOTIFIER_BOT_TOKEN"`
		ChatID   int64  `envconfig:"NOTIFIER_CHAT_ID"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
