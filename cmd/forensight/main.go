package main

import (
	"expvar"
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gowvp/forensight/internal/app"
	"github.com/gowvp/forensight/internal/conf"
	"github.com/gowvp/forensight/internal/core/pipeline"
	"github.com/ixugo/goddd/pkg/system"
)

var (
	buildVersion = "0.0.1" // 构建版本号
	gitBranch    = "dev"
	gitHash      = "debug"
)

var configDir = flag.String("conf", "./configs", "config directory, eg: -conf /configs/")

func main() {
	flag.Parse()
	expvar.NewString("version").Set(buildVersion)
	expvar.NewString("git_branch").Set(gitBranch)
	expvar.NewString("git_hash").Set(gitHash)

	dir := *configDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(system.Getwd(), dir)
	}
	bc, err := conf.SetupConfig(filepath.Join(dir, "config.toml"))
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(pipeline.ExitConfigError.Code())
	}
	bc.BuildVersion = buildVersion

	os.Exit(app.Run(bc))
}
