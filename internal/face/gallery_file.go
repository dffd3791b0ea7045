package face

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ayusman/watchpost/internal/store"
)

// maxNameLen and maxDim bound a record header so a corrupt file cannot force a huge allocation.
const (
	maxNameLen = 1 << 10
	maxDim     = 1 << 14
)

// FileRecord is one entry of a binary gallery file.
type FileRecord struct {
	Name   string
	Vector []float32
}

// ReadGalleryFile parses the binary gallery format: repeated
// uint32 name length, name bytes, uint32 dimension, dimension float32 values, all little endian.
func ReadGalleryFile(r io.Reader) ([]FileRecord, error) {
	br := bufio.NewReader(r)
	var records []FileRecord

	for {
		var nameLen uint32
		if err := binary.Read(br, binary.LittleEndian, &nameLen); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, fmt.Errorf("record %d: name length: %w", len(records), err)
		}
		if nameLen > maxNameLen {
			return records, fmt.Errorf("record %d: name length %d too large", len(records), nameLen)
		}

		name := make([]byte, nameLen)
		if _, err := io.ReadFull(br, name); err != nil {
			return records, fmt.Errorf("record %d: name: %w", len(records), err)
		}

		var dim uint32
		if err := binary.Read(br, binary.LittleEndian, &dim); err != nil {
			return records, fmt.Errorf("record %d: dimension: %w", len(records), err)
		}
		if dim == 0 || dim > maxDim {
			return records, fmt.Errorf("record %d: %w: %d", len(records), ErrDimension, dim)
		}

		vec := make([]float32, dim)
		if err := binary.Read(br, binary.LittleEndian, vec); err != nil {
			return records, fmt.Errorf("record %d: vector: %w", len(records), err)
		}

		records = append(records, FileRecord{Name: string(name), Vector: vec})
	}
}

// WriteGalleryFile writes records in the format ReadGalleryFile reads.
func WriteGalleryFile(w io.Writer, records []FileRecord) error {
	bw := bufio.NewWriter(w)
	for _, rec := range records {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(rec.Name))); err != nil {
			return err
		}
		if _, err := bw.WriteString(rec.Name); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(rec.Vector))); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, rec.Vector); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ImportGallery stores records through q at Low priority. Names are normalized and vectors
// renormalized; records that fail either check are skipped. progress, if set, is called after
// each record. It returns the number of records stored.
func ImportGallery(ctx context.Context, q *store.Queue, records []FileRecord, progress func()) (int, error) {
	stored := 0
	for _, rec := range records {
		ok, err := importRecord(ctx, q, rec)
		if err != nil {
			return stored, err
		}
		if ok {
			stored++
		}
		if progress != nil {
			progress()
		}
	}
	return stored, nil
}

func importRecord(ctx context.Context, q *store.Queue, rec FileRecord) (bool, error) {
	name, err := NormalizeName(rec.Name)
	if err != nil {
		return false, nil
	}
	emb, err := Normalize(rec.Vector)
	if err != nil {
		return false, nil
	}

	ident := store.NewInsertIdentity(name, store.Low)
	if err := q.Push(ident); err != nil {
		return false, err
	}
	if _, err := ident.Wait(ctx); err != nil {
		return false, fmt.Errorf("insert identity %q: %w", name, err)
	}

	ins := store.NewInsertEmbedding(name, emb, "import", store.Low)
	if err := q.Push(ins); err != nil {
		return false, err
	}
	if _, err := ins.Wait(ctx); err != nil {
		return false, fmt.Errorf("insert embedding %q: %w", name, err)
	}
	return true, nil
}
