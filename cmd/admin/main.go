package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"campusconnect/backend/internal/app"
	"campusconnect/backend/internal/config"
	"campusconnect/backend/internal/logging"
	"campusconnect/backend/internal/matchmaker"
	"campusconnect/backend/internal/moderation"
	"campusconnect/backend/internal/session"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const usage = `Usage: admin <command> [args]

Commands:
  sweep                     remove expired waiting-pool entries
  end-chat <chat_id>        delete a chat session
  block <user_id> <target>  add target to the user's block list
  unblock <user_id> <target>
  ban <user_id>             ban a user (escalates like automatic bans)
  unban <user_id>
  reputation <user_id> <delta>`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deps, err := app.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open dependencies", zap.Error(err))
	}

	code := 0
	if err := run(ctx, cfg, deps, log, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code = 1
	}
	deps.Close()
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, deps *app.Dependencies, log *zap.Logger, args []string) error {
	mod := moderation.NewService(deps.Storage, log)

	need := func(n int, form string) error {
		if len(args) != n+1 {
			return errors.Errorf("usage: admin %s", form)
		}
		return nil
	}

	switch args[0] {
	case "sweep":
		sweeper := matchmaker.NewSweeper(deps.Docs, log, cfg.WaitingTTL, cfg.MatchedTTL)
		n, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d waiting entries.\n", n)

	case "end-chat":
		if err := need(1, "end-chat <chat_id>"); err != nil {
			return err
		}
		registry := session.NewRegistry(deps.Docs, deps.Storage, log)
		if err := registry.EndChat(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("Chat %s has been ended.\n", args[1])

	case "block":
		if err := need(2, "block <user_id> <target_id>"); err != nil {
			return err
		}
		if err := mod.Block(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("User %s now blocks %s.\n", args[1], args[2])

	case "unblock":
		if err := need(2, "unblock <user_id> <target_id>"); err != nil {
			return err
		}
		if err := mod.Unblock(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("User %s no longer blocks %s.\n", args[1], args[2])

	case "ban":
		if err := need(1, "ban <user_id>"); err != nil {
			return err
		}
		until, err := mod.Ban(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("User %s is banned until %s.\n", args[1], until.Format(time.RFC3339))

	case "unban":
		if err := need(1, "unban <user_id>"); err != nil {
			return err
		}
		if err := mod.Unban(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("User %s has been unbanned.\n", args[1])

	case "reputation":
		if err := need(2, "reputation <user_id> <delta>"); err != nil {
			return err
		}
		delta, err := strconv.Atoi(args[2])
		if err != nil {
			return errors.Errorf("invalid delta %q, please provide an integer", args[2])
		}
		if err := deps.Storage.UpdateUserReputation(ctx, args[1], delta); err != nil {
			return err
		}
		fmt.Printf("Reputation of %s changed by %d.\n", args[1], delta)

	default:
		return errors.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
	return nil
}
