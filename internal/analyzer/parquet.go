package analyzer

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
)

// analyzeParquet reads the footer only: the row count and the top-level
// columns. Nested groups are reported as json.
func analyzeParquet(data []byte) (Analysis, error) {
	pr, err := reader.NewParquetReader(newBytesFile(data), nil, 1)
	if err != nil {
		return Analysis{}, fmt.Errorf("read parquet footer: %w", err)
	}
	defer pr.ReadStop()
	if pr.Footer == nil {
		return Analysis{}, errors.New("read parquet footer: missing metadata")
	}

	elements := pr.Footer.Schema
	schema := domain.Schema{}
	if len(elements) > 0 {
		for i := 1; i < len(elements); {
			el := elements[i]
			schema = append(schema, domain.Column{Name: externalName(pr, i, el), Type: parquetColumnType(el)})
			i += subtreeSize(elements, i)
		}
	}
	return Analysis{RowCount: pr.GetNumRows(), Schema: schema}, nil
}

// externalName returns the column name as written in the file. The reader
// rewrites footer names into Go identifiers when it loads the schema.
func externalName(pr *reader.ParquetReader, i int, el *parquet.SchemaElement) string {
	if pr.SchemaHandler != nil && i < len(pr.SchemaHandler.Infos) {
		if info := pr.SchemaHandler.Infos[i]; info != nil && info.ExName != "" {
			return info.ExName
		}
	}
	return el.GetName()
}

// subtreeSize returns how many schema elements, starting at i, belong to the
// node at i in the flattened depth-first list.
func subtreeSize(elements []*parquet.SchemaElement, i int) int {
	if i >= len(elements) {
		return 1
	}
	size := 1
	for c := int32(0); c < elements[i].GetNumChildren(); c++ {
		if i+size >= len(elements) {
			break
		}
		size += subtreeSize(elements, i+size)
	}
	return size
}

func parquetColumnType(el *parquet.SchemaElement) domain.ColumnType {
	if el.GetNumChildren() > 0 {
		return domain.ColumnJSON
	}
	if lt := el.GetLogicalType(); lt != nil {
		switch {
		case lt.IsSetTIMESTAMP(), lt.IsSetDATE():
			return domain.ColumnTimestamp
		case lt.IsSetDECIMAL():
			return domain.ColumnFloat
		case lt.IsSetJSON():
			return domain.ColumnJSON
		}
	}
	if el.IsSetConvertedType() {
		switch el.GetConvertedType() {
		case parquet.ConvertedType_DATE, parquet.ConvertedType_TIMESTAMP_MILLIS, parquet.ConvertedType_TIMESTAMP_MICROS:
			return domain.ColumnTimestamp
		case parquet.ConvertedType_DECIMAL:
			return domain.ColumnFloat
		case parquet.ConvertedType_JSON:
			return domain.ColumnJSON
		}
	}
	switch el.GetType() {
	case parquet.Type_BOOLEAN:
		return domain.ColumnBoolean
	case parquet.Type_INT32, parquet.Type_INT64:
		return domain.ColumnInteger
	case parquet.Type_FLOAT, parquet.Type_DOUBLE:
		return domain.ColumnFloat
	case parquet.Type_INT96:
		return domain.ColumnTimestamp
	default:
		return domain.ColumnString
	}
}

// bytesFile is a read-only source.ParquetFile over an in-memory object.
type bytesFile struct {
	data []byte
	*bytes.Reader
}

func newBytesFile(data []byte) *bytesFile {
	return &bytesFile{data: data, Reader: bytes.NewReader(data)}
}

func (f *bytesFile) Open(string) (source.ParquetFile, error) {
	return newBytesFile(f.data), nil
}

func (f *bytesFile) Create(string) (source.ParquetFile, error) {
	return nil, errors.New("parquet source is read-only")
}

func (f *bytesFile) Write([]byte) (int, error) {
	return 0, io.ErrShortWrite
}

func (f *bytesFile) Close() error {
	return nil
}
