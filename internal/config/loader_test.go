package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/ranklobby/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.RatingStore, convey.ShouldEqual, "sqlite")
				convey.So(cfg.KeepKickVotes, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("RANKLOBBY_ADDR", ":8080")
			_ = os.Setenv("RANKLOBBY_QUEUE_SIZE", "64")
			_ = os.Setenv("RANKLOBBY_KEEP_KICK_VOTES", "false")
			_ = os.Setenv("RANKLOBBY_DIFFICULTY_MODIFIER", "1.25")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.KeepKickVotes, convey.ShouldBeFalse)
				convey.So(cfg.DifficultyModifier, convey.ShouldEqual, 1.25)
			})
		})

		convey.Convey("When loading config with a YAML file and env overrides", func() {
			tmpFile := createTempConfigFile(`
addr: ":9090"
lobby_capacity: 8
recent_window: 10
tiers: [Iron, Gold, Diamond]
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("RANKLOBBY_CONFIG", tmpFile)
			_ = os.Setenv("RANKLOBBY_ADDR", ":7070")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then env should win and the file should fill the rest", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.LobbyCapacity, convey.ShouldEqual, 8)
				convey.So(cfg.RecentWindow, convey.ShouldEqual, 10)
				convey.So(cfg.Tiers, convey.ShouldResemble, []string{"Iron", "Gold", "Diamond"})
				convey.So(cfg.BucketSize, convey.ShouldEqual, 1000)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("RANKLOBBY_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("RANKLOBBY_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("RANKLOBBY_QUEUE_SIZE", "invalid")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, envVar := range []string{
		"RANKLOBBY_CONFIG",
		"RANKLOBBY_ADDR",
		"RANKLOBBY_QUEUE_SIZE",
		"RANKLOBBY_KEEP_KICK_VOTES",
		"RANKLOBBY_DIFFICULTY_MODIFIER",
	} {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "ranklobby-config-*.yaml")
	if err != nil {
		panic(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	if err := tmpFile.Close(); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
