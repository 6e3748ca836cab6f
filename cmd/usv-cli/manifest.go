package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest lists the partner batches to issue in one run.
type Manifest struct {
	Batches []ManifestBatch `yaml:"batches"`
}

type ManifestBatch struct {
	PartnerID string `yaml:"partnerId"`
	BatchInfo string `yaml:"batchInfo"`
	Count     uint32 `yaml:"count"`
}

func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Batches) == 0 {
		return nil, fmt.Errorf("manifest %s lists no batches", path)
	}
	for i, b := range m.Batches {
		if b.Count == 0 {
			return nil, fmt.Errorf("manifest batch %d: count must be positive", i)
		}
	}
	return &m, nil
}

type manifestResult struct {
	PartnerID string `json:"partnerId"`
	Sequence  uint64 `json:"sequence"`
	Address   string `json:"address"`
	Count     uint32 `json:"count"`
}

func runGenerateManifest(args []string) error {
	fs := flag.NewFlagSet("generate-manifest", flag.ContinueOnError)
	keyPath := fs.String("key", "", "Path to the authority keystore")
	file := fs.String("file", "", "Path to the YAML manifest")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*file) == "" {
		return errors.New("--file is required")
	}
	manifest, err := loadManifest(*file)
	if err != nil {
		return err
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return err
	}

	results := make([]manifestResult, 0, len(manifest.Batches))
	for i, b := range manifest.Batches {
		receipt, err := generateBatch(key, b.Count, b.PartnerID, b.BatchInfo)
		if err != nil {
			if len(results) > 0 {
				_ = printJSON(results)
			}
			return fmt.Errorf("batch %d (%s): %w", i, b.PartnerID, err)
		}
		if receipt.Batch == nil {
			return fmt.Errorf("batch %d (%s): receipt carried no batch", i, b.PartnerID)
		}
		results = append(results, manifestResult{
			PartnerID: b.PartnerID,
			Sequence:  receipt.Batch.Sequence,
			Address:   receipt.Batch.Address,
			Count:     receipt.Batch.Count,
		})
	}
	return printJSON(results)
}
