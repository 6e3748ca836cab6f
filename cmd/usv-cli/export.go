package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"usvchain/core"
	"usvchain/crypto"
	"usvchain/integrations/exports"
	"usvchain/native/rewards"
)

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	query := batchFlags(fs)
	format := fs.String("format", "csv", "Output format: csv, jsonl or parquet")
	out := fs.String("out", "", "Output file")
	claimBase := fs.String("claim-base", "", "Base URL for printed claim links")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q, err := query()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*out) == "" {
		return errors.New("--out is required")
	}

	var view core.BatchView
	if err := callInto("usv_getBatch", q, &view); err != nil {
		return err
	}
	var params chainParams
	if err := callInto("usv_getParams", nil, &params); err != nil {
		return err
	}
	addr, batch, err := batchFromView(&view)
	if err != nil {
		return err
	}
	rows := exports.BuildRows(addr, batch, params.RewardPerClaim, *claimBase)

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "csv":
		data, checksum, err := exports.CodesCSV(rows)
		if err != nil {
			return err
		}
		return writeExport(*out, data, checksum, len(rows))
	case "jsonl":
		data, checksum, err := exports.CodesJSONL(rows)
		if err != nil {
			return err
		}
		return writeExport(*out, data, checksum, len(rows))
	case "parquet":
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		if err := exports.WriteCodesParquet(f, rows); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "Wrote %d codes to %s\n", len(rows), *out)
		return err
	default:
		return fmt.Errorf("unsupported format %q", *format)
	}
}

func writeExport(path string, data []byte, checksum string, n int) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	_, err := fmt.Fprintf(stdout, "Wrote %d codes to %s (sha256 %s)\n", n, path, checksum)
	return err
}

func batchFromView(view *core.BatchView) ([20]byte, *rewards.QrBatch, error) {
	addr, err := crypto.ParseAddress(view.Address)
	if err != nil {
		return [20]byte{}, nil, fmt.Errorf("batch address: %w", err)
	}
	authority, err := crypto.ParseAddress(view.Authority)
	if err != nil {
		return [20]byte{}, nil, fmt.Errorf("batch authority: %w", err)
	}
	return addr, &rewards.QrBatch{
		Sequence:  view.Sequence,
		Authority: authority,
		Count:     view.Count,
		PartnerID: view.PartnerID,
		BatchInfo: view.BatchInfo,
		QRHashes:  view.QRHashes,
		CreatedAt: view.CreatedAt,
	}, nil
}
