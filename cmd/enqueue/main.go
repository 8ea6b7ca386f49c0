// Enqueue splits a campaign audience into chunk jobs and publishes them to
// the chunk-jobs topic. Recipient ids come from a file with one id per line.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"campaign-delivery/internal/config"
	"campaign-delivery/internal/infra/kafka"
	"campaign-delivery/internal/infra/logging"
	"campaign-delivery/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	campaignID := flag.String("campaign", "", "campaign id to deliver")
	recipientsPath := flag.String("recipients", "", "file with one recipient id per line")
	chunkSize := flag.Int("chunk-size", 0, "recipients per chunk (0 = default, negative = auto)")
	flag.Parse()

	if *campaignID == "" || *recipientsPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, true)

	ids, err := readRecipientIDs(*recipientsPath)
	if err != nil {
		log.Fatalf("recipients: %v", err)
	}
	if len(ids) == 0 {
		log.Fatal("recipients file is empty")
	}

	size := *chunkSize
	if size < 0 {
		size = usecase.OptimalChunkSize(len(ids))
		fmt.Printf("auto chunk size: %d\n", size)
	}

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID, logger)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	defer producer.Close()

	chunker := usecase.NewChunkProducer(producer, cfg.Kafka.Topics.ChunkJobs,
		cfg.Pipeline.DefaultChunkSize, cfg.Pipeline.MaxChunkSize, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	jobs, err := chunker.Publish(ctx, *campaignID, ids, size)
	if err != nil {
		log.Fatalf("publish: %v", err)
	}

	fmt.Printf("published %d chunk jobs for %d recipients\n", len(jobs), len(ids))
	for _, job := range jobs {
		fmt.Printf("  - %s (%d recipients)\n", job.JobID, len(job.RecipientIDs))
	}
}

func readRecipientIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id == "" || strings.HasPrefix(id, "#") {
			continue
		}
		ids = append(ids, id)
	}
	return ids, scanner.Err()
}
