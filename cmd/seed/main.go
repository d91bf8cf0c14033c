package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Wikid82/argus/backend/internal/assessor"
	"github.com/Wikid82/argus/backend/internal/config"
	"github.com/Wikid82/argus/backend/internal/database"
	"github.com/Wikid82/argus/backend/internal/ingest"
	"github.com/Wikid82/argus/backend/internal/logger"
	"github.com/Wikid82/argus/backend/internal/services"
)

// sampleBatch mixes summary rows, a detail record, a duplicate and an item
// with no attacker address so every ingestion path shows up in the data.
const sampleBatch = `{
  "response_code": 0,
  "list_infos": [
    {"client_id": "seed-ssh-01", "client_ip": "10.0.0.5", "service_name": "ssh", "service_type": "tcp",
     "attack_ip": "203.0.113.10", "attack_count": 7, "last_attack_time": %d, "labels": "brute_force"},
    {"client_id": "seed-web-01", "client_ip": "10.0.0.6", "service_name": "http", "service_type": "web",
     "attack_ip": "198.51.100.23", "attack_count": 2, "last_attack_time": "%s", "labels_cn": "扫描"},
    {"client_id": "seed-ssh-01", "attack_ip": "203.0.113.10", "attack_count": 7},
    {"client_id": "seed-broken"}
  ],
  "attack_infos": [
    {"info_id": "seed-detail-01", "attack_ip": "192.0.2.44", "attack_port": 3306, "attack_time": "%s",
     "victim_ip": "10.0.0.7", "attack_rule": ["mysql_login"], "session": "s-1",
     "info": {"url": "/login", "method": "POST", "status_code": 401, "user_agent": "sqlmap"}}
  ],
  "attack_trend": [
    {"attack_time": "%s", "attack_count": 9},
    {"attack_time": "%s", "attack_count": 3}
  ]
}`

func main() {
	logger.Init(false, os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}
	fmt.Println("✓ Database migrated successfully")

	now := time.Now().UTC()
	body := fmt.Sprintf(sampleBatch,
		now.Add(-10*time.Minute).Unix(),
		now.Add(-5*time.Minute).Format("2006-01-02 15:04:05"),
		now.Add(-2*time.Minute).Format(time.RFC3339),
		now.Add(-time.Hour).Format("2006-01-02 15:04:05"),
		now.Format("2006-01-02 15:04:05"),
	)

	var alert ingest.Alert
	if err := json.Unmarshal([]byte(body), &alert); err != nil {
		log.Fatalf("decode sample batch: %v", err)
	}

	audit := services.NewAuditService(db)
	svc := services.NewEventService(db, assessor.New(nil), audit)
	res, err := svc.Ingest(context.Background(), alert, "seed-"+now.Format("20060102T150405"))
	if err != nil {
		log.Fatalf("ingest sample batch: %v", err)
	}

	fmt.Printf("✓ Stored %d events, %d deduplicated\n", len(res.EventIDs), len(res.DedupedEventIDs))
	for _, reason := range res.InvalidReasons {
		fmt.Printf("  Skipped: %s\n", reason)
	}
	fmt.Printf("  Trace: %s\n", res.TraceID)
	fmt.Println("\n✓ Database seeding completed successfully!")
}
