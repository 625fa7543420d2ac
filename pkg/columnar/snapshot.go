package columnar

import (
	"bufio"
	"encoding/binary"
	"io"
	"time"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/path"
)

var snapshotMagic = [6]byte{'S', 'T', 'R', 'C', 'I', '1'}

// maxSnapshotLength bounds any single length read from a snapshot.
const maxSnapshotLength = 1 << 30

// Manifest is the uncompressed snapshot header.
type Manifest struct {
	Name      string                `json:"name"`
	Algorithm compression.Algorithm `json:"algorithm"`
	Level     compression.Level     `json:"level"`
	Rows      int                   `json:"rows"`
	Columns   int                   `json:"columns"`
	CreatedAt time.Time             `json:"createdAt"`
}

// Save writes the index to w. The manifest is stored plainly, the columns
// are compressed with the configured codec.
//
// Layout: magic, uvarint manifest length, manifest JSON, compressed payload.
// The payload holds the row-id column followed by each path column: key,
// entry count, then per entry the RowID delta, shape and values.
func (idx *Index) Save(w io.Writer, cfg *compression.Config) (*Manifest, error) {
	codec, err := compression.NewCodec(cfg)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if err := idx.checkLive(); err != nil {
		return nil, err
	}

	m := &Manifest{
		Name:      idx.name,
		Algorithm: codec.Algorithm(),
		Level:     codec.Level(),
		Rows:      idx.rowIDs.Len(),
		Columns:   len(idx.keys),
		CreatedAt: time.Now().UTC(),
	}
	header, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode snapshot manifest")
	}

	var prefix []byte
	prefix = append(prefix, snapshotMagic[:]...)
	prefix = binary.AppendUvarint(prefix, uint64(len(header)))
	prefix = append(prefix, header...)
	if _, err := w.Write(prefix); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to write snapshot header")
	}

	cw, err := codec.NewWriter(w)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open snapshot compressor")
	}
	bw := bufio.NewWriterSize(cw, 64*1024)
	sw := &snapshotWriter{w: bw}

	sw.uvarint(uint64(len(idx.keys) + 1))
	sw.column(idx.rowIDs)
	for _, k := range idx.keys {
		sw.column(idx.columns[k])
	}
	if sw.err == nil {
		sw.err = bw.Flush()
	}
	if closeErr := cw.Close(); sw.err == nil {
		sw.err = closeErr
	}
	if sw.err != nil {
		return nil, errors.Wrap(sw.err, errors.ErrorTypeFile, "failed to write snapshot")
	}

	idx.logger.Info("column store snapshot saved",
		zap.Int("rows", m.Rows),
		zap.Int("columns", m.Columns),
		zap.String("algorithm", string(m.Algorithm)))
	return m, nil
}

// Load reads a snapshot written by Save into a new index.
func Load(r io.Reader, opts ...Option) (*Index, *Manifest, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	var magic [6]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read snapshot header")
	}
	if magic != snapshotMagic {
		return nil, nil, errors.New(errors.ErrorTypeStorage, "not a column store snapshot")
	}
	n, err := binary.ReadUvarint(br)
	if err != nil || n > maxSnapshotLength {
		return nil, nil, errors.New(errors.ErrorTypeStorage, "corrupt snapshot manifest length")
	}
	header := make([]byte, n)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeStorage, "truncated snapshot manifest")
	}
	m := &Manifest{}
	if err := json.Unmarshal(header, m); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeStorage, "corrupt snapshot manifest")
	}

	codec, err := compression.NewCodec(&compression.Config{Algorithm: m.Algorithm, Level: m.Level})
	if err != nil {
		return nil, nil, err
	}
	cr, err := codec.NewReader(br)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to open snapshot payload")
	}
	defer cr.Close()

	idx := NewIndex(m.Name, opts...)
	sr := &snapshotReader{r: bufio.NewReaderSize(cr, 64*1024)}
	count := sr.length()
	for i := 0; i < count && sr.err == nil; i++ {
		key := sr.str()
		entries := sr.length()
		var col *Column
		if i == 0 {
			if key != path.RowIDKey && sr.err == nil {
				sr.err = errors.New(errors.ErrorTypeStorage, "snapshot does not start with the row-id column")
				break
			}
			col = idx.rowIDs
		} else {
			p := path.FromKey(key)
			col = newColumn(p, key)
			idx.columns[key] = col
			idx.keys = append(idx.keys, key)
		}
		col.entries = make([]Entry, 0, entries)
		var prev RowID
		for j := 0; j < entries && sr.err == nil; j++ {
			id := prev + RowID(sr.uvarint())
			cell := sr.cell()
			if j > 0 && id <= prev && sr.err == nil {
				sr.err = errors.New(errors.ErrorTypeStorage, "snapshot rows out of order").WithDetail("column", key)
			}
			col.entries = append(col.entries, Entry{RowID: id, Cell: cell})
			col.bytes += cell.MemoryUsage()
			prev = id
		}
	}
	if sr.err != nil {
		return nil, nil, errors.Wrap(sr.err, errors.ErrorTypeStorage, "failed to read snapshot")
	}
	for i := 1; i < len(idx.keys); i++ {
		if idx.keys[i-1] >= idx.keys[i] {
			return nil, nil, errors.New(errors.ErrorTypeStorage, "snapshot columns out of order")
		}
	}

	idx.logger.Info("column store snapshot loaded",
		zap.Int("rows", idx.rowIDs.Len()),
		zap.Int("columns", len(idx.keys)))
	return idx, m, nil
}

type snapshotWriter struct {
	w   *bufio.Writer
	buf [binary.MaxVarintLen64]byte
	err error
}

func (s *snapshotWriter) uvarint(x uint64) {
	if s.err != nil {
		return
	}
	n := binary.PutUvarint(s.buf[:], x)
	_, s.err = s.w.Write(s.buf[:n])
}

func (s *snapshotWriter) bytes(b []byte) {
	s.uvarint(uint64(len(b)))
	if s.err != nil {
		return
	}
	_, s.err = s.w.Write(b)
}

func (s *snapshotWriter) column(c *Column) {
	s.bytes([]byte(c.key))
	s.uvarint(uint64(len(c.entries)))
	var prev RowID
	for _, e := range c.entries {
		s.uvarint(uint64(e.RowID - prev))
		prev = e.RowID
		s.bytes(e.Cell.Shape)
		s.uvarint(uint64(len(e.Cell.Values)))
		for _, v := range e.Cell.Values {
			if s.err == nil {
				s.err = s.w.WriteByte(byte(v.Type))
			}
			s.bytes(v.Value)
		}
	}
}

type snapshotReader struct {
	r   *bufio.Reader
	err error
}

func (s *snapshotReader) uvarint() uint64 {
	if s.err != nil {
		return 0
	}
	x, err := binary.ReadUvarint(s.r)
	if err != nil {
		s.err = err
	}
	return x
}

func (s *snapshotReader) length() int {
	n := s.uvarint()
	if n > maxSnapshotLength && s.err == nil {
		s.err = errors.New(errors.ErrorTypeStorage, "snapshot length out of range")
		return 0
	}
	return int(n)
}

func (s *snapshotReader) raw() []byte {
	n := s.length()
	if s.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(s.r, b); err != nil {
		s.err = err
		return nil
	}
	return b
}

func (s *snapshotReader) str() string {
	return string(s.raw())
}

func (s *snapshotReader) cell() Cell {
	shape := s.raw()
	n := s.length()
	if s.err != nil {
		return Cell{}
	}
	var values []bson.RawValue
	if n > 0 {
		values = make([]bson.RawValue, 0, n)
	}
	for i := 0; i < n && s.err == nil; i++ {
		t, err := s.r.ReadByte()
		if err != nil {
			s.err = err
			break
		}
		rv := bson.RawValue{Type: bsontype.Type(t), Value: s.raw()}
		if s.err == nil && rv.Type != bsontype.Null {
			if err := rv.Validate(); err != nil {
				s.err = err
			}
		}
		values = append(values, rv)
	}
	if len(shape) == 0 {
		shape = nil
	}
	return Cell{Shape: shape, Values: values}
}
