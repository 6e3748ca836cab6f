package exports

import (
	"fmt"
	"io"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	Batch     string `parquet:"name=batch, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sequence  int64  `parquet:"name=sequence, type=INT64"`
	Index     int32  `parquet:"name=index, type=INT32"`
	Hash      string `parquet:"name=hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	ClaimURL  string `parquet:"name=claim_url, type=BYTE_ARRAY, convertedtype=UTF8"`
	PartnerID string `parquet:"name=partner_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	BatchInfo string `parquet:"name=batch_info, type=BYTE_ARRAY, convertedtype=UTF8"`
	Reward    string `parquet:"name=reward, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteCodesParquet streams rows to w as a Snappy-compressed Parquet file.
func WriteCodesParquet(w io.Writer, rows []CodeRow) error {
	fw := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			Batch:     row.Batch,
			Sequence:  int64(row.Sequence),
			Index:     int32(row.Index),
			Hash:      row.Hash,
			ClaimURL:  row.ClaimURL,
			PartnerID: row.PartnerID,
			BatchInfo: row.BatchInfo,
			Reward:    row.Reward,
			CreatedAt: row.CreatedAt,
		}
		if err := pw.Write(pr); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	return nil
}
