package main

import (
	"os"

	"go.uber.org/zap"

	"settlement-engine/internal/util"
)

func main() {
	if err := util.InitLogger(os.Getenv("ENV"), os.Getenv("LOG_LEVEL")); err != nil {
		panic(err)
	}
	defer util.SyncLogger()

	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		util.GetLogger().Fatal("settlectl failed", zap.Error(err))
	}
}
