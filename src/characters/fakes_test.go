package characters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/opencompanion/companion/src/assets"
	"github.com/opencompanion/companion/src/models"
)

// An in-memory stand-in for the asset and character tables. It understands only
// the statements this package and assets issue. Writes made through a
// transaction are held until Commit.
type fakeDB struct {
	assets     map[uuid.UUID]*models.Asset
	characters []*models.Character

	// Every statement executed, in order.
	statements []string
	// Arguments of each character INSERT.
	characterInserts [][]any

	commits   int
	rollbacks int
}

func newFakeDB() *fakeDB {
	return &fakeDB{assets: map[uuid.UUID]*models.Asset{}}
}

func (f *fakeDB) character(id uuid.UUID) *models.Character {
	for _, c := range f.characters {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (f *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{db: f}, nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return f.query(nil, sql, args)
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("QueryRow is not used")
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return f.exec(nil, sql, args)
}

func (f *fakeDB) query(tx *fakeTx, sql string, args []any) (pgx.Rows, error) {
	f.statements = append(f.statements, strings.TrimSpace(sql))

	switch {
	case strings.Contains(sql, "INSERT INTO asset"):
		asset := &models.Asset{
			ID:        args[0].(uuid.UUID),
			S3Key:     args[1].(string),
			Filename:  args[2].(string),
			Size:      args[3].(int),
			MimeType:  args[4].(string),
			Sha1Sum:   args[5].(string),
			Width:     args[6].(int),
			Height:    args[7].(int),
			CreatedAt: time.Now(),
		}
		f.apply(tx, func() { f.assets[asset.ID] = asset })
		return rowsOf(asset), nil
	case strings.Contains(sql, "INSERT INTO character"):
		f.characterInserts = append(f.characterInserts, args)
		char := &models.Character{
			ID:            args[0].(uuid.UUID),
			Name:          args[1].(string),
			Tagline:       args[2].(string),
			Definition:    json.RawMessage(args[3].(string)),
			Source:        args[4].(models.CharacterSource),
			AvatarAssetID: args[5].(*uuid.UUID),
			CardAssetID:   args[6].(*uuid.UUID),
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		}
		f.apply(tx, func() { f.characters = append(f.characters, char) })
		return rowsOf(char), nil
	case strings.Contains(sql, "FROM asset"):
		if asset, ok := f.assets[args[0].(uuid.UUID)]; ok {
			return rowsOf(asset), nil
		}
		return rowsOf(), nil
	case strings.Contains(sql, "card_asset_id IS NULL"):
		var missing []any
		for _, c := range f.characters {
			if c.CardAssetID == nil && len(missing) < args[0].(int) {
				missing = append(missing, c)
			}
		}
		return rowsOf(missing...), nil
	}
	return nil, fmt.Errorf("fake db does not understand %q", sql)
}

func (f *fakeDB) apply(tx *fakeTx, write func()) {
	if tx == nil {
		write()
	} else {
		tx.pending = append(tx.pending, write)
	}
}

func (f *fakeDB) exec(tx *fakeTx, sql string, args []any) (pgconn.CommandTag, error) {
	f.statements = append(f.statements, strings.TrimSpace(sql))

	if strings.Contains(sql, "UPDATE character") {
		char := f.character(args[0].(uuid.UUID))
		if char == nil {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		assetID := args[1].(uuid.UUID)
		f.apply(tx, func() { char.CardAssetID = &assetID })
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("fake db does not understand %q", sql)
}

type fakeTx struct {
	pgx.Tx // anything not overridden panics

	db       *fakeDB
	pending  []func()
	finished bool
}

func (tx *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("nested transactions are not supported")
}

func (tx *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return tx.db.query(tx, sql, args)
}

func (tx *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("QueryRow is not used")
}

func (tx *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return tx.db.exec(tx, sql, args)
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	if tx.finished {
		return pgx.ErrTxClosed
	}
	tx.finished = true
	for _, apply := range tx.pending {
		apply()
	}
	tx.db.commits++
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error {
	if tx.finished {
		return pgx.ErrTxClosed
	}
	tx.finished = true
	tx.db.rollbacks++
	return nil
}

// Result rows holding the db-tagged fields of each struct, in field order, which
// is the order $columns expands to.
type fakeRows struct {
	pgx.Rows

	rows [][]any
	i    int
}

func rowsOf(structs ...any) *fakeRows {
	var rows [][]any
	for _, s := range structs {
		v := reflect.ValueOf(s).Elem()
		var row []any
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).Tag.Get("db") != "" {
				row = append(row, v.Field(i).Interface())
			}
		}
		rows = append(rows, row)
	}
	return &fakeRows{rows: rows}
}

func (r *fakeRows) Next() bool {
	r.i++
	return r.i <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.i-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scanning %d columns into %d targets", len(row), len(dest))
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(row[i]))
	}
	return nil
}

func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Close()     {}

type forbiddenError struct{}

func (forbiddenError) Error() string       { return "access denied" }
func (forbiddenError) HTTPStatusCode() int { return 403 }

type fakeStore struct {
	objects map[string][]byte
	putErr  error
	puts    int
	onPut   func()
}

func newFakeStore() *fakeStore {
	s := &fakeStore{objects: map[string][]byte{}}
	assets.SetStore(s)
	return s
}

func (s *fakeStore) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	s.puts++
	if s.onPut != nil {
		s.onPut()
	}
	if s.putErr != nil {
		return nil, s.putErr
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	s.objects[*params.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (s *fakeStore) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := s.objects[*params.Key]
	if !ok {
		return nil, fmt.Errorf("no such key %s", *params.Key)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (s *fakeStore) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	return &s3.CreateBucketOutput{}, nil
}
