package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/petiidev/goblockchain/cli"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	nodeID := os.Getenv("NODE_ID")
	if nodeID == "" {
		nodeID = "3000"
	}
	baseDir := os.Getenv("GOBLOCKCHAIN_DB")
	if baseDir == "" {
		baseDir = "db"
	}

	cmd := &cli.CommandLine{}
	if err := cmd.Run(os.Args[1:], baseDir, nodeID); err != nil {
		logrus.WithError(err).Error("goblockchain: command failed")
		os.Exit(1)
	}
}
