package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"esp32watch/config"
	"esp32watch/log"
	"esp32watch/services"
	"esp32watch/store"

	"go.uber.org/zap"
)

var (
	fromFlag = flag.String("from", "", "Start of the range, RFC3339 (default: 7 days before -to)")
	toFlag   = flag.String("to", "", "End of the range, RFC3339 (default: now)")
	outFlag  = flag.String("out", "", "Output file (default: detections_<from>_<to>.xlsx)")
)

func main() {
	flag.Parse()

	logger := log.GetInstance()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	to := time.Now().UTC()
	if *toFlag != "" {
		if to, err = time.Parse(time.RFC3339, *toFlag); err != nil {
			logger.Fatal("Invalid -to time", zap.Error(err))
		}
	}
	from := to.Add(-7 * 24 * time.Hour)
	if *fromFlag != "" {
		if from, err = time.Parse(time.RFC3339, *fromFlag); err != nil {
			logger.Fatal("Invalid -from time", zap.Error(err))
		}
	}

	loc, err := time.LoadLocation(cfg.DisplayTimezone)
	if err != nil {
		loc = time.UTC
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := store.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	exporter := services.NewDetectionExporter(store.NewDetectionStore(db), loc, logger)
	data, rows, err := exporter.Export(ctx, from, to)
	if err != nil {
		logger.Fatal("Failed to export detections", zap.Error(err))
	}

	out := *outFlag
	if out == "" {
		out = fmt.Sprintf("detections_%s_%s.xlsx", from.Format("20060102"), to.Format("20060102"))
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		logger.Fatal("Failed to write workbook", zap.String("path", out), zap.Error(err))
	}

	logger.Info("Workbook written", zap.String("path", out), zap.Int("rows", rows))
}
