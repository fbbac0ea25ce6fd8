package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"tg-checkin-bot/internal/adapters/mtproto"
	"tg-checkin-bot/internal/adapters/repo"
	"tg-checkin-bot/internal/domain"
	"tg-checkin-bot/internal/infra/config"
	"tg-checkin-bot/internal/infra/db"
)

func main() {
	var (
		filePath   string
		telegramID int64
		nickname   string
		phone      string
	)
	flag.StringVar(&filePath, "file", "", "Path to MTProto session file (Telethon string/JSON or gotd JSON)")
	flag.Int64Var(&telegramID, "telegram-id", 0, "Telegram id of the account owner")
	flag.StringVar(&nickname, "nickname", "", "Display nickname of the account owner")
	flag.StringVar(&phone, "phone", "", "Phone number of the account owner")
	flag.Parse()

	if filePath == "" {
		log.Fatal().Msg("session-importer: path to session file is required (-file)")
	}
	if telegramID == 0 {
		log.Fatal().Msg("session-importer: telegram id is required (-telegram-id)")
	}

	sessionData, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("session-importer: failed to read session file")
	}
	normalized, converted, err := mtproto.NormalizeSessionBytes(sessionData)
	if err != nil {
		log.Fatal().Err(err).Msg("session-importer: unsupported MTProto session format")
	}
	sessionData = normalized

	cfg := config.Load()
	if cfg.PGDSN == "" {
		log.Fatal().Msg("session-importer: PG_DSN environment variable is required")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("session-importer: failed to connect to database")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessionName := fmt.Sprintf("session_%d", telegramID)
	if err := repoAdapter.StoreSessionBlob(ctx, sessionName, sessionData); err != nil {
		log.Fatal().Err(err).Msg("session-importer: failed to store session in database")
	}

	if _, err := repoAdapter.UpsertUser(ctx, domain.User{
		TelegramID:  telegramID,
		Nickname:    nickname,
		Phone:       phone,
		Status:      domain.UserLoggedIn,
		SessionName: sessionName,
	}); err != nil {
		log.Fatal().Err(err).Msg("session-importer: failed to upsert account owner")
	}

	if converted {
		fmt.Println("Session was converted to gotd JSON format before storing")
	}
	fmt.Printf("Stored MTProto session %q (%d bytes) in database\n", sessionName, len(sessionData))
}
